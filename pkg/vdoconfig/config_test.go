package vdoconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, defaults(), cfg)
}

func TestLoadReadsExplicitConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("zone-count: 4\nrelease-version: 9\n"), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.ZoneCount)
	assert.EqualValues(t, 9, cfg.ReleaseVersion)
	assert.Equal(t, defaults().SlabBlocks, cfg.SlabBlocks, "keys absent from the file keep the pre-populated default")
}

func TestSlabConfigProjectsAndValidates(t *testing.T) {
	cfg := defaults()
	sc, err := cfg.SlabConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg.SlabBlocks, sc.SlabBlocks)

	cfg.SlabBlocks = 3
	_, err = cfg.SlabConfig()
	assert.Error(t, err, "3 is not a power of two")
}
