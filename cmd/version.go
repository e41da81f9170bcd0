package cmd

import (
	"fmt"
	"runtime"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/env"

	"github.com/spf13/cobra"
)

// 由 -ldflags "-X deploy-keeper/cmd.SoftwareVer=..." 注入
var SoftwareVer = ""
var BuildTime = ""
var BuildTag = ""
var BuildCommitId = ""

func PrintVersions() {
	fmt.Printf("deploy-keeper %s (%s/%s, %s)\n", env.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	if BuildTime != "" {
		fmt.Printf("Build Time: %s\n", BuildTime)
	}
	if BuildTag != "" {
		fmt.Printf("Build Tag: %s\n", BuildTag)
	}
	if BuildCommitId != "" {
		fmt.Printf("Build Commit ID: %s\n", BuildCommitId)
	}
	fmt.Printf("Data Dir: %s\n", env.KeeperDir)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `The 'version' command shows the version, the commit it was built from and the data directory in use`,

	Run: func(cmd *cobra.Command, args []string) {
		PrintVersions()
	},
}

func init() {
	if SoftwareVer != "" {
		env.Version = SoftwareVer
	}
	root.RootCmd.AddCommand(versionCmd)

	versionCmd.Example = `  deploy-keeper version`
}
