package logs

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/config"
	"deploy-keeper/internal/logger"
	"deploy-keeper/services"
)

var (
	optLines  int
	optLevel  string
	optTarget string
	optFollow bool
)

func init() {
	root.RootCmd.AddCommand(Cmd)
	Cmd.Flags().SortFlags = false
	Cmd.Flags().IntVarP(&optLines, "lines", "n", 100, "Number of last lines to show")
	Cmd.Flags().StringVarP(&optLevel, "level", "l", "", "Only lines of this level (debug/info/warn/error)")
	Cmd.Flags().StringVarP(&optTarget, "target", "t", "", "Only lines mentioning this target")
	Cmd.Flags().BoolVarP(&optFollow, "follow", "f", false, "Keep printing new lines until interrupted")
}

var Cmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the deploy-keeper log",
	Run: func(cmd *cobra.Command, args []string) {
		path := logger.LogPath(&config.Get().Log)
		if path == "" {
			fmt.Println("log.path is 'console', nothing is written to a file")
			root.Exit(1)
		}
		logService := services.NewLogService(path)

		lines, err := logService.Tail(optLines, optLevel, optTarget)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read log: %v\n", err)
			root.Exit(1)
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		if optFollow {
			if err := logService.Follow(cmd.Context(), os.Stdout, optLevel); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to follow log: %v\n", err)
				root.Exit(1)
			}
		}
		root.Exit(0)
	},
}
