package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"run"},
		{"sync"},
		{"show"},
		{"alerts", "list"},
		{"alerts", "dismiss"},
		{"export"},
		{"deck-value"},
		{"simulate-alert"},
		{"migrate"},
		{"version"},
	} {
		cmd, rest, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestFlagsRegistered(t *testing.T) {
	assert.NotNil(t, syncCmd.Flags().Lookup("card"))
	assert.NotNil(t, exportCmd.Flags().Lookup("card"))
	assert.NotNil(t, exportCmd.Flags().Lookup("png"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("env-file"))
}

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "user-agent: cardsync/")
	assert.Nil(t, appHandle)
}

func TestSimulateRequiresBothPrices(t *testing.T) {
	simulatePrevious, simulateLatest = "1.00", ""
	t.Cleanup(func() { simulatePrevious, simulateLatest = "", "" })

	err := simulateCmd.RunE(simulateCmd, nil)
	require.EqualError(t, err, "--previous and --latest are required")
	assert.Equal(t, "previous price, e.g. 1.00", simulateCmd.Flags().Lookup("previous").Usage)
}
