package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/config"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/rpc"
	"deploy-keeper/services"
)

/**
 * Try to control a service via a running deploy-keeper server
 * @param {string} name - Target name
 * @param {string} component - backend/frontend
 * @param {string} op - start/stop/restart
 * @returns {*models.ServiceDetail} Detail reported by the server, nil when the server was not reachable
 * @returns {error} Error reported by the server
 * @description
 * - A server holds target locks in memory, going through it keeps manual operations
 *   serialized with the deployments it runs
 */
func controlViaServer(name, component, op string) (*models.ServiceDetail, error) {
	cfg := rpc.ConfigFromServer(config.Get().Server)
	cfg.Timeout = 2 * time.Minute
	client := rpc.NewHTTPClient(cfg)
	defer client.Close()

	resp, err := client.Post(fmt.Sprintf("/deploy-keeper/api/v1/targets/%s/services/%s/%s", name, component, op), nil)
	if err != nil {
		logger.Debugf("deploy-keeper server not reachable: %v", err)
		return nil, nil
	}
	if !resp.OK() {
		return nil, fmt.Errorf("deploy-keeper server returned error(%d): %s", resp.StatusCode, resp.Error)
	}
	var detail models.ServiceDetail
	if err := resp.Decode(&detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// controlService 优先通过服务器执行，服务器不可用时在本地执行
func controlService(ctx context.Context, name, component, op string) int {
	detail, err := controlViaServer(name, component, op)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if detail == nil {
		target, err := root.Target(name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		d, err := services.GetOrchestrator().ControlService(ctx, target, component, op)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s on %s failed: %v\n", op, component, name, err)
			return 1
		}
		detail = &d
	}
	fmt.Printf("Service %s on %s: %s\n", detail.Name, name, detail.State)
	return 0
}
