package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"stocksync/feature/inventory/push"

	"github.com/spf13/cobra"
)

var (
	pushStore        string
	pushSKU          string
	pushLocation     string
	pushValidateOnly bool
)

// pushCmd pushes one SKU's quantities from the command line.
var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push one SKU's absolute quantities to its store",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logg, _, feature, err := bootstrap()
		if err != nil {
			return err
		}
		defer logg.Sync()

		result, err := feature.Service().Push(context.Background(), push.Request{
			StoreKey:     pushStore,
			SKU:          pushSKU,
			LocationGID:  pushLocation,
			ValidateOnly: pushValidateOnly,
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
	pushCmd.Flags().StringVar(&pushStore, "store", "", "store key (required)")
	pushCmd.Flags().StringVar(&pushSKU, "sku", "", "sku to push (required)")
	pushCmd.Flags().StringVar(&pushLocation, "location", "", "restrict to one remote location gid")
	pushCmd.Flags().BoolVar(&pushValidateOnly, "validate-only", false, "resolve and persist readiness without remote mutation")
	_ = pushCmd.MarkFlagRequired("store")
	_ = pushCmd.MarkFlagRequired("sku")
	RootCmd.AddCommand(pushCmd)
}
