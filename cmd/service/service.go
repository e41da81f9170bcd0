package service

import (
	"deploy-keeper/cmd/root"

	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Service operations (start/stop/restart/status)",
	Long: `Drive the configured backend/frontend services of a target by hand.
start/stop/restart take the target lock and fail while a deployment holds it.`,
}

const serviceExample = `  # restart the backend of web-1
  deploy-keeper service restart web-1 backend

  # show every service of web-1
  deploy-keeper service status web-1`

func init() {
	root.RootCmd.AddCommand(serviceCmd)

	serviceCmd.Example = serviceExample
}
