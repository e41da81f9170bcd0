package misc

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deploy-keeper/cmd/root"
	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <target>",
	Short: "Remove a stale deployment lock from a target",
	Long: `Remove the lock directory a crashed run left on the target.
Refuses while a run of this process holds the lock. Check that no other
deploy-keeper is deploying to the target before using it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target, err := root.Target(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			root.Exit(1)
		}
		if err := services.GetOrchestrator().Unlock(cmd.Context(), target); err != nil {
			if errors.Is(err, models.ErrAlreadyInProgress) {
				fmt.Fprintf(os.Stderr, "%s is locked by a running operation: %v\n", target.Name, err)
			} else {
				fmt.Fprintf(os.Stderr, "unlock %s: %v\n", target.Name, err)
			}
			root.Exit(1)
		}
		fmt.Printf("Lock on %s removed\n", target.Name)
		root.Exit(0)
	},
}

func init() {
	root.RootCmd.AddCommand(unlockCmd)
}
