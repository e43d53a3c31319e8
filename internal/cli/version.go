package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"card-price-sync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	// needs no configuration
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "version: %s\ncommit: %s\nbuilt: %s\n", version.Version, version.Commit, version.BuildDate)
		fmt.Fprintf(out, "go: %s\nuser-agent: %s\n", runtime.Version(), version.UserAgent())
	},
}
