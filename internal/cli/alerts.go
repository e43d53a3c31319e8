package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"card-price-sync/internal/app"
)

var (
	alertsOwner int64
	alertsLimit int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and dismiss price alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context(), app.AlertListOptions{
			OwnerID: alertsOwner,
			Limit:   alertsLimit,
		})
	},
}

var alertsDismissCmd = &cobra.Command{
	Use:   "dismiss ID",
	Short: "Mark an alert dismissed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid alert id %q", args[0])
		}
		return getApp().DismissAlert(cmd.Context(), id)
	},
}

func init() {
	alertsListCmd.Flags().Int64Var(&alertsOwner, "owner", 0, "Only alerts for this owner (0 lists all)")
	alertsListCmd.Flags().IntVar(&alertsLimit, "limit", 50, "Maximum alerts to list")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsDismissCmd)
}
