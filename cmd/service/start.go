package service

import (
	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/services"
)

var startCmd = &cobra.Command{
	Use:   "start <target> <backend|frontend>",
	Short: "Start a service on a target",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		root.Exit(controlService(cmd.Context(), args[0], args[1], services.ServiceOpStart))
	},
}

func init() {
	serviceCmd.AddCommand(startCmd)
}
