package service

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

var statusCmd = &cobra.Command{
	Use:   "status <target> [backend|frontend]",
	Short: "查看服务状态",
	Long:  "查询目标上服务的运行状态，未指定组件时查询所有已配置的组件",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		root.Exit(showStatus(cmd, args))
	},
}

/**
 * Query and print service states of a target
 * @param {*cobra.Command} cmd - status command
 * @param {[]string} args - Target name and optional component
 * @returns {int} Exit code, 1 when any queried service is not running
 * @description
 * - Runs the status command of each service, no lock is taken
 * - A failing query shows as unknown, it never changes what is running
 */
func showStatus(cmd *cobra.Command, args []string) int {
	target, err := root.Target(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	orch := services.GetOrchestrator()
	components := []string{models.ComponentBackend, models.ComponentFrontend}
	if len(args) > 1 {
		components = args[1:]
	}

	code := 0
	t := root.NewTable("Component", "Service", "State", "Checked")
	for _, component := range components {
		if len(args) == 1 {
			if _, err := orch.Config().Component(component); err != nil {
				continue
			}
		}
		detail, err := orch.ControlService(cmd.Context(), target, component, services.ServiceOpStatus)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if detail.State != models.StateRunning {
			code = 1
		}
		t.AppendRow(table.Row{component, detail.Name, detail.State, detail.UpdatedAt.Local().Format("15:04:05")})
	}
	t.Render()
	return code
}

func init() {
	serviceCmd.AddCommand(statusCmd)
}
