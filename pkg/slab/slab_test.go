package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		SlabBlocks:         2048,
		DataBlocks:         2040,
		RefCountBlocks:      4,
		JournalBlocks:      4,
		FlushingThreshold:  2,
		BlockingThreshold:  3,
		ScrubbingThreshold: 4,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())
}

func TestConfigValidateRejectsNonPowerOfTwo(t *testing.T) {
	cfg := testConfig()
	cfg.SlabBlocks = 2047
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsBadSum(t *testing.T) {
	cfg := testConfig()
	cfg.DataBlocks--
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsOutOfOrderThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.FlushingThreshold = cfg.BlockingThreshold + 1
	assert.Error(t, cfg.Validate())
}

func TestNewSlabStartsRequiringScrubbing(t *testing.T) {
	cfg := testConfig()
	s := New(7, 1000, cfg, 1, 42, nil)

	assert.Equal(t, uint64(7), s.Number)
	assert.Equal(t, PBN(1000), s.StartPBN)
	assert.Equal(t, PBN(1000+int64(cfg.SlabBlocks)), s.EndPBN)
	assert.Equal(t, StatusRequiresScrubbing, s.Status)
	assert.True(t, s.IsUnrecovered())
	assert.EqualValues(t, cfg.DataBlocks, s.FreeBlockCount())
}

func TestSlabOpenMarksRebuilt(t *testing.T) {
	s := New(0, 0, testConfig(), 0, 1, nil)
	s.Open()
	assert.Equal(t, StatusRebuilt, s.Status)
	assert.False(t, s.IsUnrecovered())
}

func TestSlabJournalOriginAfterDataAndRefCounts(t *testing.T) {
	cfg := testConfig()
	s := New(0, 500, cfg, 0, 1, nil)
	assert.Equal(t, PBN(500+int64(cfg.DataBlocks+cfg.RefCountBlocks)), s.JournalOrigin)
}

func TestAdminStateStringsAndPredicates(t *testing.T) {
	assert.Equal(t, "normal", AdminNormal.String())
	assert.True(t, AdminRecovering.IsDraining())
	assert.False(t, AdminNormal.IsDraining())
	assert.True(t, AdminSuspendedOperation.IsQuiescent())
	assert.False(t, AdminNormal.IsQuiescent())
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "rebuilt", StatusRebuilt.String())
	assert.Equal(t, "requires-scrubbing", StatusRequiresScrubbing.String())
	assert.Equal(t, "requires-high-priority-scrubbing", StatusRequiresHighPriorityScrubbing.String())
}
