package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"card-price-sync/internal/fetcher"
)

var syncCardID string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh prices now, for the whole working set or one card",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		out := cmd.OutOrStdout()

		if syncCardID != "" {
			obs, err := a.SyncCard(cmd.Context(), syncCardID)
			if err != nil {
				return err
			}
			if obs == nil {
				fmt.Fprintf(out, "card %s not found\n", syncCardID)
				return nil
			}
			fmt.Fprintf(out, "%s normal=%s foil=%s etched=%s\n",
				obs.CardID,
				fetcher.FormatMinorUnits(obs.BaseMinor),
				fetcher.FormatMinorUnits(obs.FoilMinor),
				fetcher.FormatMinorUnits(obs.EtchedMinor),
			)
			return nil
		}

		summary, err := a.Sync(cmd.Context())
		if summary.LockSkipped {
			fmt.Fprintln(out, "another sync holds the lock; skipped")
			return nil
		}
		fmt.Fprintf(out, "updated %d, not found %d, failed %d, already done %d\n",
			summary.Updated, summary.NotFound, summary.Failed, summary.AlreadyDone)
		return err
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncCardID, "card", "", "Sync a single card id, ignoring the same-day filter")
}
