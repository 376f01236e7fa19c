package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// reapCmd sweeps runs left behind by crashed processes.
var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail reconciliation runs stuck past their maximum age",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logg, _, feature, err := bootstrap()
		if err != nil {
			return err
		}
		defer logg.Sync()

		reaped, err := feature.Service().ReapStaleRuns()
		if err != nil {
			return err
		}
		logg.Info("Reap finished", zap.Int64("runs_reaped", reaped))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(reapCmd)
}
