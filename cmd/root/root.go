package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

var (
	optConfig   string
	optLogLevel string
)

var RootCmd = &cobra.Command{
	Use:   "deploy-keeper",
	Short: "部署编排工具",
	Long:  `deploy-keeper把前后端制品部署到远程目标，部署前备份，部署后做健康检查，失败时自动回滚`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	SilenceUsage: true,
}

/**
 * Load configuration and credentials, then initialize logging
 * @param {*cobra.Command} cmd - Command being executed
 * @returns {error} Returns error if the configuration cannot be loaded
 * @description
 * - `server` logs to the console as well as the log file
 * - --log-level overrides log.level
 */
func setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(optConfig)
	if err != nil {
		return err
	}
	if optLogLevel != "" {
		cfg.Log.Level = optLogLevel
	}
	logger.InitLoggerWithMode(&cfg.Log, cmd.Name() == "server")
	if err := config.LoadCredentials(); err != nil {
		logger.Warnf("load credentials failed: %v", err)
	}
	return nil
}

// Target resolves a configured target by name
func Target(name string) (*models.Target, error) {
	return config.Get().Target(name)
}

/**
 * Finish a CLI run with the given exit code
 * @param {int} code - Process exit code
 * @description
 * - Closes SSH connections and the history database
 * - Pushes the run's metrics when metrics.pushgateway is configured
 */
func Exit(code int) {
	if err := services.PushMetrics(config.Get().Metrics.Pushgateway, "deploy-keeper"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if err := services.Shutdown(); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	os.Exit(code)
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&optConfig, "config", "c", "", "Config file (default ./config.yaml or ~/.deploy-keeper/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&optLogLevel, "log-level", "", "Log level: debug/info/warn/error")
}
