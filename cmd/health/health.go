package health

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/services"
)

var optJSON bool

var healthCmd = &cobra.Command{
	Use:   "health <target> [backend|frontend]...",
	Short: "Run the health checks of a target",
	Long: `Probe components with the configured health checks and retry policy.
Services are not touched. Exit code is 1 when any component is not healthy.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target, err := root.Target(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			root.Exit(1)
		}
		verdicts, err := services.GetOrchestrator().CheckHealth(cmd.Context(), target, args[1:])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			root.Exit(1)
		}
		if optJSON {
			root.PrintJSON(verdicts)
		} else {
			root.PrintVerdicts(verdicts)
		}
		for _, v := range verdicts {
			if !v.IsHealthy() {
				root.Exit(1)
			}
		}
		root.Exit(0)
	},
}

func init() {
	root.RootCmd.AddCommand(healthCmd)
	healthCmd.Example = `  deploy-keeper health web-1
  deploy-keeper health web-1 backend --json`
	healthCmd.Flags().BoolVar(&optJSON, "json", false, "Print verdicts as JSON")
}
