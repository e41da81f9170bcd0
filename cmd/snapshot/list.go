package snapshot

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/services"
)

var (
	optAfter string
	optLimit int
	optJSON  bool
)

var listCmd = &cobra.Command{
	Use:   "list <target>",
	Short: "List snapshots of a target, newest first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root.Exit(listSnapshots(cmd, args[0]))
	},
}

/**
 * Print one page of snapshots
 * @param {*cobra.Command} cmd - list command
 * @param {string} name - Target name
 * @returns {int} Exit code
 * @description
 * - --after continues from the id printed as "Next" by the previous page
 * - --limit 0 prints every snapshot
 */
func listSnapshots(cmd *cobra.Command, name string) int {
	target, err := root.Target(name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	page, err := services.GetOrchestrator().SnapshotPage(cmd.Context(), target, optAfter, optLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list snapshots: %v\n", err)
		return 1
	}
	if optJSON {
		root.PrintJSON(page)
		return 0
	}
	if len(page.Snapshots) == 0 {
		fmt.Println("No snapshots")
		return 0
	}
	t := root.NewTable("ID", "Kind", "Label", "Size", "Created")
	for _, s := range page.Snapshots {
		t.AppendRow(table.Row{s.ID, s.Kind, s.Label, humanize.Bytes(uint64(s.Size)), humanize.Time(s.CreatedAt)})
	}
	t.Render()
	if page.Next != "" {
		fmt.Printf("Next: --after %s\n", page.Next)
	}
	return 0
}

func init() {
	snapshotCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&optAfter, "after", "", "Start after this snapshot id")
	listCmd.Flags().IntVarP(&optLimit, "limit", "n", 20, "Snapshots per page, 0 for all")
	listCmd.Flags().BoolVar(&optJSON, "json", false, "Print as JSON")
}
