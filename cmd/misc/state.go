package misc

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/config"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/rpc"
)

var optStateJSON bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the state of a running server",
	Long:  `Connect to the deploy-keeper server and show uptime, targets, locks and the last observed service states`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		root.Exit(showServerState())
	},
}

/**
 * Query server state via RPC
 * @returns {int} Exit code, 1 when the server is not reachable
 * @description
 * - Calls GET /deploy-keeper/api/v1/state
 * - Locks shown are the ones held by runs of the server process
 */
func showServerState() int {
	rpcClient := rpc.NewHTTPClient(rpc.ConfigFromServer(config.Get().Server))
	defer rpcClient.Close()

	resp, err := rpcClient.Get("/deploy-keeper/api/v1/state", nil)
	if err != nil {
		fmt.Printf("Failed to call deploy-keeper API: %v\n", err)
		return 1
	}
	if !resp.OK() {
		fmt.Printf("deploy-keeper API returned error(%d): %s\n", resp.StatusCode, resp.Error)
		return 1
	}
	var state models.ServerState
	if err := resp.Decode(&state); err != nil {
		fmt.Println(err)
		return 1
	}
	if optStateJSON {
		root.PrintJSON(state)
		return 0
	}

	fmt.Printf("Version: %s\n", state.Version)
	fmt.Printf("Started: %s\n", state.StartTime.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Config: %s\n", state.ConfigFile)
	t := root.NewTable("Target", "Transport", "Root", "Lock", "Services")
	for _, ts := range state.Targets {
		lock := "-"
		if ts.Locked {
			lock = ts.LockOwner
		}
		var svcs []string
		for _, s := range ts.Services {
			svcs = append(svcs, fmt.Sprintf("%s=%s", s.Name, s.State))
		}
		t.AppendRow(table.Row{ts.Name, ts.Transport, ts.Root, lock, strings.Join(svcs, " ")})
	}
	t.Render()
	return 0
}

func init() {
	stateCmd.Flags().BoolVar(&optStateJSON, "json", false, "Print as JSON")
	root.RootCmd.AddCommand(stateCmd)
}
