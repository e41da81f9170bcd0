package history

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/config"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/rpc"
	"deploy-keeper/services"
)

var (
	optTarget string
	optLimit  int
	optJSON   bool
	optServer bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded deployments and rollbacks",
	Long: `List recorded runs, newest first, or print one run in full.
Runs are recorded when history.path is configured.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			root.Exit(showRun(cmd, args[0]))
		}
		root.Exit(listRuns(cmd))
	},
}

// fetchRuns 从服务器或本地历史库读取运行记录
func fetchRuns(cmd *cobra.Command) ([]models.DeploymentOutcome, error) {
	if optServer {
		client := rpc.NewHTTPClient(rpc.ConfigFromServer(config.Get().Server))
		defer client.Close()
		resp, err := client.Get("/deploy-keeper/api/v1/history", map[string]interface{}{"target": optTarget, "limit": optLimit})
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, fmt.Errorf("deploy-keeper server returned error(%d): %s", resp.StatusCode, resp.Error)
		}
		var runs []models.DeploymentOutcome
		return runs, resp.Decode(&runs)
	}
	store := services.GetHistory()
	if store == nil {
		return nil, fmt.Errorf("history is disabled, set history.path in the configuration")
	}
	return store.List(cmd.Context(), optTarget, optLimit)
}

func listRuns(cmd *cobra.Command) int {
	runs, err := fetchRuns(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if optJSON {
		root.PrintJSON(runs)
		return 0
	}
	t := root.NewTable("Run", "Target", "Operation", "Status", "Started", "Duration", "Snapshot")
	for _, r := range runs {
		snap := r.BackupSnapshot
		if r.RollbackSnapshot != "" {
			snap = r.RollbackSnapshot
		}
		t.AppendRow(table.Row{r.RunID, r.Target, r.Operation, r.Status, humanize.Time(r.StartedAt), r.FinishedAt.Sub(r.StartedAt).Round(time.Second), snap})
	}
	t.Render()
	return 0
}

func showRun(cmd *cobra.Command, runID string) int {
	var out *models.DeploymentOutcome
	var err error
	if optServer {
		client := rpc.NewHTTPClient(rpc.ConfigFromServer(config.Get().Server))
		defer client.Close()
		var resp *rpc.HTTPResponse
		if resp, err = client.Get("/deploy-keeper/api/v1/history/"+runID, nil); err == nil {
			if resp.OK() {
				out = &models.DeploymentOutcome{}
				err = resp.Decode(out)
			} else {
				err = fmt.Errorf("deploy-keeper server returned error(%d): %s", resp.StatusCode, resp.Error)
			}
		}
	} else if store := services.GetHistory(); store == nil {
		err = fmt.Errorf("history is disabled, set history.path in the configuration")
	} else {
		out, err = store.Get(cmd.Context(), runID)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if optJSON {
		root.PrintJSON(out)
	} else {
		root.PrintOutcome(out)
	}
	return 0
}

func init() {
	root.RootCmd.AddCommand(historyCmd)
	flags := historyCmd.Flags()
	flags.StringVarP(&optTarget, "target", "t", "", "Only runs of this target")
	flags.IntVarP(&optLimit, "limit", "n", 20, "Maximum runs")
	flags.BoolVar(&optJSON, "json", false, "Print as JSON")
	flags.BoolVar(&optServer, "server", false, "Read history from a running deploy-keeper server")
}
