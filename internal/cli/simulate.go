package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"card-price-sync/internal/app"
	"card-price-sync/internal/storage"
)

var (
	simulateCard     string
	simulateFinish   string
	simulatePrevious string
	simulateLatest   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Simulate a price move and raise the resulting alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrevious == "" || simulateLatest == "" {
			return errors.New("--previous and --latest are required")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			CardID:   simulateCard,
			Finish:   storage.Finish(simulateFinish),
			Previous: simulatePrevious,
			Latest:   simulateLatest,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCard, "card", "", "card id (default simulated-card)")
	simulateCmd.Flags().StringVar(&simulateFinish, "finish", string(storage.FinishNormal), "normal, foil or etched")
	simulateCmd.Flags().StringVar(&simulatePrevious, "previous", "", "previous price, e.g. 1.00")
	simulateCmd.Flags().StringVar(&simulateLatest, "latest", "", "latest price, e.g. 1.30")
}
