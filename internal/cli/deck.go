package cli

import (
	"github.com/spf13/cobra"
)

var deckValueCmd = &cobra.Command{
	Use:   "deck-value DECK",
	Short: "Value a published decklist (id or URL) at current prices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().DeckValue(cmd.Context(), args[0])
		return err
	},
}
