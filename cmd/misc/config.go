package misc

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/config"
	"deploy-keeper/internal/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long:  `Show the configuration file in use and the resolved targets. Credentials are never printed.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		root.Exit(showConfigs())
	},
}

const configExample = `  # Show targets and defaults
  deploy-keeper config`

func authOf(keyFile, password string) string {
	switch {
	case keyFile != "":
		return "key " + keyFile
	case password != "":
		return "password"
	}
	return "-"
}

func showConfigs() int {
	cfg := config.Get()
	file := config.ConfigFile()
	if file == "" {
		file = "(none, built-in defaults)"
	}
	fmt.Printf("Config file: %s\n", file)
	fmt.Printf("Credentials: %s\n", config.CredentialsFile())
	fmt.Printf("History: %s\n", cfg.History.Path)
	fmt.Printf("Server: %s, socket %s\n", cfg.Server.Address, cfg.Server.Socket)

	plan := cfg.Plan()
	fmt.Printf("Plan defaults: components=%s health=%d x %s (%s), retention=%d\n",
		plan.Components, plan.MaxHealthAttempts, plan.Backoff.Delay, plan.Backoff.Kind, plan.Retention)

	code := 0
	t := root.NewTable("Target", "Transport", "Address", "Auth", "Root", "Backups")
	for _, name := range cfg.TargetNames() {
		target, err := cfg.Target(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			code = 1
			continue
		}
		address := "-"
		if target.Transport != models.TransportLocal {
			address = target.Address()
		}
		t.AppendRow(table.Row{target.Name, target.Transport, address, authOf(target.KeyFile, target.Password), target.Root, target.BackupRoot})
	}
	t.Render()
	return code
}

func init() {
	root.RootCmd.AddCommand(configCmd)
	configCmd.Example = configExample
}
