package snapshot

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/services"
)

var optLabel string

var createCmd = &cobra.Command{
	Use:   "create <target>",
	Short: "Snapshot the deployment root of a target",
	Long:  `Take a backup snapshot of the deployment root without deploying. It counts toward retention like any backup.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target, err := root.Target(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			root.Exit(1)
		}
		snap, err := services.GetOrchestrator().CreateSnapshot(cmd.Context(), target, optLabel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create snapshot: %v\n", err)
			root.Exit(1)
		}
		if optJSON {
			root.PrintJSON(snap)
		} else {
			fmt.Printf("Snapshot %s created (%d bytes)\n", snap.ID, snap.Size)
		}
		root.Exit(0)
	},
}

func init() {
	snapshotCmd.AddCommand(createCmd)
	createCmd.Flags().StringVarP(&optLabel, "label", "l", "", "Label stored with the snapshot")
	createCmd.Flags().BoolVar(&optJSON, "json", false, "Print as JSON")
}
