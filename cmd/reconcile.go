package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"stocksync/feature/inventory/reconcile"

	"github.com/spf13/cobra"
)

var (
	reconcileMode     string
	reconcileStore    string
	reconcileDryRun   bool
	reconcileMaxItems int
)

// reconcileCmd triggers a reconciliation pass from the command line.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile local inventory against the marketplace",
	Long: `Fetches remote inventory truth for one or all stores and reconciles it
against local rows under each store's truth policy. Prints the per-store
results as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logg, _, feature, err := bootstrap()
		if err != nil {
			return err
		}
		defer logg.Sync()

		result, err := feature.Service().Reconcile(context.Background(), reconcile.Request{
			Mode:     reconcileMode,
			StoreKey: reconcileStore,
			DryRun:   reconcileDryRun,
			MaxItems: reconcileMaxItems,
		})
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileMode, "mode", "full", "reconciliation mode (full, drift_only, missing_only)")
	reconcileCmd.Flags().StringVar(&reconcileStore, "store", "", "limit to one store key (default: all stores)")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "compare and count only, write nothing")
	reconcileCmd.Flags().IntVar(&reconcileMaxItems, "max-items", 0, "override the paginated fetch cap")
	RootCmd.AddCommand(reconcileCmd)
}
