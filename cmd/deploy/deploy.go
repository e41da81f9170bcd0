package deploy

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/config"
	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

var (
	optBackendOnly     bool
	optFrontendOnly    bool
	optSkipBackup      bool
	optSkipHealthCheck bool
	optHealthAttempts  int
	optHealthDelay     time.Duration
	optHealthTimeout   time.Duration
	optBackoff         string
	optLabel           string
	optRetention       int
	optJSON            bool
	optServer          bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy <target>...",
	Short: "Deploy artifacts to one or more targets",
	Long: `Back up the deployment root, sync new artifacts, restart services and verify health.
A failed verification restores the backup taken by the same run.
Targets are deployed concurrently, also when forwarded with --server.
Exit code is 0 when every target succeeded, 1 otherwise.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root.Exit(runDeploy(cmd, args))
	},
}

const deployExample = `  # deploy both components to web-1
  deploy-keeper deploy web-1 --label $(git rev-parse --short HEAD)

  # backend only, to two targets concurrently
  deploy-keeper deploy web-1 web-2 --backend-only

  # let the running server do the work
  deploy-keeper deploy web-1 --server`

/**
 * Build the plan from configured defaults and the flags the user set
 * @param {*cobra.Command} cmd - deploy command, used to tell set flags from defaults
 * @returns {models.DeploymentPlan} Plan, validated later by the orchestrator
 */
func buildPlan(cmd *cobra.Command) models.DeploymentPlan {
	plan := *config.Get().Plan()
	plan.BackendOnly = optBackendOnly
	plan.FrontendOnly = optFrontendOnly
	plan.SkipBackup = optSkipBackup
	plan.SkipHealthCheck = optSkipHealthCheck
	plan.Label = optLabel
	flags := cmd.Flags()
	if flags.Changed("health-attempts") {
		plan.MaxHealthAttempts = optHealthAttempts
	}
	if flags.Changed("health-delay") {
		plan.Backoff.Delay = optHealthDelay
	}
	if flags.Changed("health-timeout") {
		plan.HealthTimeout = optHealthTimeout
	}
	if flags.Changed("backoff") {
		plan.Backoff.Kind = optBackoff
	}
	if flags.Changed("retention") {
		plan.Retention = optRetention
	}
	return plan
}

func runDeploy(cmd *cobra.Command, names []string) int {
	plan := buildPlan(cmd)

	var outcomes []*models.DeploymentOutcome
	if optServer {
		var err error
		if outcomes, err = forwardDeploy(names, plan); err != nil {
			fmt.Fprintln(os.Stderr, err)
			if len(outcomes) > 0 {
				report(outcomes)
			}
			return 1
		}
	} else {
		targets, err := config.Get().ResolveTargets(names)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		outcomes = services.GetOrchestrator().DeployMany(cmd.Context(), targets, plan)
	}
	return report(outcomes)
}

// report 输出结果并返回退出码，任何一个目标失败即为1
func report(outcomes []*models.DeploymentOutcome) int {
	code := 0
	if optJSON {
		if len(outcomes) == 1 {
			root.PrintJSON(outcomes[0])
		} else {
			root.PrintJSON(outcomes)
		}
	}
	for _, out := range outcomes {
		if !optJSON {
			root.PrintOutcome(out)
		}
		if out.ExitCode() != 0 {
			code = 1
		}
	}
	return code
}

func init() {
	root.RootCmd.AddCommand(deployCmd)
	deployCmd.Example = deployExample

	flags := deployCmd.Flags()
	flags.SortFlags = false
	flags.BoolVar(&optBackendOnly, "backend-only", false, "Deploy the backend only")
	flags.BoolVar(&optFrontendOnly, "frontend-only", false, "Deploy the frontend only")
	flags.BoolVar(&optSkipBackup, "skip-backup", false, "Do not snapshot before syncing (no rollback possible)")
	flags.BoolVar(&optSkipHealthCheck, "skip-health-check", false, "Treat the deployment as healthy without probing")
	flags.IntVar(&optHealthAttempts, "health-attempts", 0, "Health attempts per component (default from config)")
	flags.DurationVar(&optHealthDelay, "health-delay", 0, "Base delay between health attempts (default from config)")
	flags.DurationVar(&optHealthTimeout, "health-timeout", 0, "Timeout of one health attempt (default from config)")
	flags.StringVar(&optBackoff, "backoff", "", "Delay growth between attempts: fixed/linear/exponential")
	flags.StringVarP(&optLabel, "label", "l", "", "Label stored with the backup snapshot, e.g. a git revision")
	flags.IntVar(&optRetention, "retention", 0, "Snapshots kept per target (default from config)")
	flags.BoolVar(&optJSON, "json", false, "Print the outcome as JSON")
	flags.BoolVar(&optServer, "server", false, "Forward the request to a running deploy-keeper server")
}
