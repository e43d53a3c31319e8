package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"card-price-sync/internal/app"
)

var (
	showCardID string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a card's recent price observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showCardID == "" {
			return fmt.Errorf("--card is required")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			CardID: showCardID,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showCardID, "card", "", "Card id")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of observations to display")
}
