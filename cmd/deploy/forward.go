package deploy

import (
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/rpc"
)

// postOutcome 服务器对完成的运行返回200，对拒绝的运行返回400/409，响应体都是DeploymentOutcome
func postOutcome(client rpc.HTTPClient, path string, body interface{}) (*models.DeploymentOutcome, error) {
	resp, err := client.Post(path, body)
	if err != nil {
		return nil, fmt.Errorf("call deploy-keeper server: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadRequest, http.StatusConflict:
		var out models.DeploymentOutcome
		if err := resp.Decode(&out); err == nil && out.RunID != "" {
			return &out, nil
		}
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("deploy-keeper server: %s", resp.Error)
	}
	return nil, fmt.Errorf("deploy-keeper server: unexpected status %d", resp.StatusCode)
}

/**
 * Forward a deployment to a running server, one request per target
 * @param {[]string} names - Target names, resolved by the server
 * @param {models.DeploymentPlan} plan - Plan sent as the request body
 * @returns {[]*models.DeploymentOutcome} Outcomes in target order, targets whose request failed are left out
 * @returns {error} The first request error, the other targets still run to completion
 * @description
 * - All targets are sent concurrently, the server runs each request to completion
 */
func forwardDeploy(names []string, plan models.DeploymentPlan) ([]*models.DeploymentOutcome, error) {
	client := rpc.NewHTTPClient(rpc.ConfigFromServer(config.Get().Server))
	defer client.Close()

	results := make([]*models.DeploymentOutcome, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			out, err := postOutcome(client, fmt.Sprintf("/deploy-keeper/api/v1/targets/%s/deploy", name), plan)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			results[i] = out
			return nil
		})
	}
	err := g.Wait()

	outcomes := make([]*models.DeploymentOutcome, 0, len(results))
	for _, out := range results {
		if out != nil {
			outcomes = append(outcomes, out)
		}
	}
	return outcomes, err
}

func forwardRollback(name string, req models.RollbackRequest) (*models.DeploymentOutcome, error) {
	client := rpc.NewHTTPClient(rpc.ConfigFromServer(config.Get().Server))
	defer client.Close()
	return postOutcome(client, fmt.Sprintf("/deploy-keeper/api/v1/targets/%s/rollback", name), req)
}
