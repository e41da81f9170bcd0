package snapshot

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/config"
	"deploy-keeper/services"
)

var optKeep int

var pruneCmd = &cobra.Command{
	Use:   "prune <target>",
	Short: "Delete old snapshots beyond the retention count",
	Long: `Keep the newest --keep snapshots and delete the rest.
Snapshots used by a run in progress are skipped. Exit code is 1 when a deletion failed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target, err := root.Target(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			root.Exit(1)
		}
		keep := optKeep
		if !cmd.Flags().Changed("keep") {
			keep = config.Get().Plan().Retention
		}
		report, err := services.GetOrchestrator().PruneSnapshots(cmd.Context(), target, keep)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prune snapshots: %v\n", err)
			root.Exit(1)
		}
		if optJSON {
			root.PrintJSON(report)
		} else {
			fmt.Printf("Kept: %d, deleted: %d\n", len(report.Kept), len(report.Deleted))
			if len(report.Deleted) > 0 {
				fmt.Printf("Deleted: %s\n", strings.Join(report.Deleted, ", "))
			}
			if len(report.Skipped) > 0 {
				fmt.Printf("Skipped (in use): %s\n", strings.Join(report.Skipped, ", "))
			}
			for id, reason := range report.Failed {
				fmt.Printf("Failed %s: %s\n", id, reason)
			}
		}
		if len(report.Failed) > 0 {
			root.Exit(1)
		}
		root.Exit(0)
	},
}

func init() {
	snapshotCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().IntVarP(&optKeep, "keep", "k", 0, "Snapshots to keep (default plan.retention)")
	pruneCmd.Flags().BoolVar(&optJSON, "json", false, "Print as JSON")
}
