package misc

import (
	"fmt"

	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/config"
	"deploy-keeper/internal/rpc"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload server configuration",
	Long:  `Ask a running deploy-keeper server to re-read its configuration and credentials. Runs in progress keep their configuration.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		root.Exit(reloadServerConfig())
	},
}

/**
 * Reload server configuration via RPC connection to deploy-keeper server
 * @returns {int} Exit code
 * @description
 * - Calls POST /deploy-keeper/api/v1/reload
 * - A configuration the server cannot parse is reported and the old one stays active
 */
func reloadServerConfig() int {
	rpcClient := rpc.NewHTTPClient(rpc.ConfigFromServer(config.Get().Server))
	defer rpcClient.Close()

	resp, err := rpcClient.Post("/deploy-keeper/api/v1/reload", nil)
	if err != nil {
		fmt.Printf("Failed to call deploy-keeper API: %v\n", err)
		return 1
	}
	if !resp.OK() {
		fmt.Printf("deploy-keeper API returned error(%d): %s\n", resp.StatusCode, resp.Error)
		return 1
	}
	fmt.Printf("Successfully reloaded server configuration, status code: %d\n", resp.StatusCode)
	return 0
}

func init() {
	root.RootCmd.AddCommand(reloadCmd)
}
