package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdo-go/depot/pkg/elog"
)

func TestFormatThenStatsRoundTrips(t *testing.T) {
	log = &elog.CLI{DisableTTY: true}

	path := filepath.Join(t.TempDir(), "depot.img")
	flagConfig = ""
	flagSlabCount = 2

	rootCmd.SetArgs([]string{"format", path})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"stats", path})
	require.NoError(t, rootCmd.Execute())
}

func TestRepairOnFreshlyFormattedDepotReplaysNothing(t *testing.T) {
	log = &elog.CLI{DisableTTY: true}

	path := filepath.Join(t.TempDir(), "depot.img")
	flagConfig = ""
	flagSlabCount = 1

	rootCmd.SetArgs([]string{"format", path})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"repair", path})
	err := rootCmd.Execute()
	assert.NoError(t, err, "a freshly formatted depot has an empty recovery journal")
}

func TestScrubZeroesSlabJournals(t *testing.T) {
	log = &elog.CLI{DisableTTY: true}

	path := filepath.Join(t.TempDir(), "depot.img")
	flagConfig = ""
	flagSlabCount = 1

	rootCmd.SetArgs([]string{"format", path})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"scrub", path})
	assert.NoError(t, rootCmd.Execute())
}
