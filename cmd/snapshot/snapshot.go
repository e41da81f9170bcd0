package snapshot

import (
	"deploy-keeper/cmd/root"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Snapshot operations (list/create/prune)",
	Long:  `Snapshot operations (list/create/prune)`,
}

const snapshotExample = `  # list snapshots of web-1, newest first
  deploy-keeper snapshot list web-1

  # keep only the three newest snapshots
  deploy-keeper snapshot prune web-1 --keep 3`

func init() {
	root.RootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Example = snapshotExample
}
