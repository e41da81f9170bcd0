package deploy

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

var optComponents []string

var rollbackCmd = &cobra.Command{
	Use:   "rollback <target> [snapshot-id|latest]",
	Short: "Restore a target to a snapshot",
	Long: `Restore a snapshot (default: the newest backup) into the deployment root.
The current state is snapshotted first, so the rollback itself can be undone
by rolling back to the safety snapshot it reports.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		root.Exit(runRollback(cmd, args))
	},
}

const rollbackExample = `  # restore the newest backup
  deploy-keeper rollback web-1

  # restore a specific snapshot, restarting the backend only
  deploy-keeper rollback web-1 20240101T100000.000000Z --component backend`

func runRollback(cmd *cobra.Command, args []string) int {
	req := models.RollbackRequest{Components: optComponents}
	if len(args) > 1 {
		req.Snapshot = args[1]
	}

	var out *models.DeploymentOutcome
	if optServer {
		var err error
		if out, err = forwardRollback(args[0], req); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	} else {
		target, err := root.Target(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		out = services.GetOrchestrator().RollbackTo(cmd.Context(), target, req.Snapshot, req.Components)
	}
	return report([]*models.DeploymentOutcome{out})
}

func init() {
	root.RootCmd.AddCommand(rollbackCmd)
	rollbackCmd.Example = rollbackExample

	flags := rollbackCmd.Flags()
	flags.SortFlags = false
	flags.StringSliceVar(&optComponents, "component", nil, "Components to restart (default every configured one)")
	flags.BoolVar(&optJSON, "json", false, "Print the outcome as JSON")
	flags.BoolVar(&optServer, "server", false, "Forward the request to a running deploy-keeper server")
}
