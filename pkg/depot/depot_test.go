package depot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdo-go/depot/pkg/slab"
	"github.com/vdo-go/depot/pkg/vdoerr"
)

func testConfig() slab.Config {
	return slab.Config{
		SlabBlocks:         16,
		DataBlocks:         8,
		RefCountBlocks:     4,
		JournalBlocks:      4,
		FlushingThreshold:  2,
		BlockingThreshold:  3,
		ScrubbingThreshold: 4,
	}
}

func TestAddSlabsAssignsZonesByModulo(t *testing.T) {
	d := New(testConfig(), 2, 0, 7, nil)
	require.NoError(t, d.AddSlabs(4))

	require.Len(t, d.Slabs, 4)
	for _, s := range d.Slabs {
		want := d.Allocators[s.Number%2]
		assert.Contains(t, want.Slabs(), s)
	}
}

func TestAddSlabsAdvancesLastBlock(t *testing.T) {
	d := New(testConfig(), 1, 100, 1, nil)
	require.NoError(t, d.AddSlabs(3))
	assert.EqualValues(t, 100+3*16, d.LastBlock)
	assert.EqualValues(t, 100, d.Slabs[0].StartPBN)
	assert.EqualValues(t, 100+16, d.Slabs[1].StartPBN)
}

func TestPrepareToGrowRejectsTooSmallIncrement(t *testing.T) {
	d := New(testConfig(), 1, 0, 1, nil)
	require.NoError(t, d.AddSlabs(2))

	_, err := d.PrepareToGrow(2)
	assert.ErrorIs(t, err, vdoerr.ErrIncrementTooSmall)
	_, err = d.PrepareToGrow(1)
	assert.ErrorIs(t, err, vdoerr.ErrIncrementTooSmall)
}

func TestGrowthCommitInstallsStagedSlabsAtomically(t *testing.T) {
	d := New(testConfig(), 1, 0, 1, nil)
	require.NoError(t, d.AddSlabs(2))

	g, err := d.PrepareToGrow(5)
	require.NoError(t, err)
	assert.Len(t, d.Slabs, 2, "staging must not install until Commit")

	g.Commit()
	assert.Len(t, d.Slabs, 5)
	assert.EqualValues(t, 5*16, d.LastBlock)
}

func TestPrepareToAllocateEnqueuesCleanSlabsAndScrubsTheRest(t *testing.T) {
	d := New(testConfig(), 1, 0, 1, nil)
	require.NoError(t, d.AddSlabs(2))

	d.Slabs[0].Open() // pretend already rebuilt
	d.Slabs[1].Status = slab.StatusRequiresScrubbing

	require.NoError(t, d.PrepareToAllocate(0))

	for _, s := range d.Slabs {
		assert.Equal(t, slab.StatusRebuilt, s.Status, "scrubbing without a reader trusts in-memory state and rebuilds immediately")
	}
}

func TestDepotAllocatedAndFreeBlocksAggregateAcrossZones(t *testing.T) {
	d := New(testConfig(), 2, 0, 1, nil)
	require.NoError(t, d.AddSlabs(4))

	for _, s := range d.Slabs {
		s.Open()
	}
	for z := range d.Allocators {
		require.NoError(t, d.PrepareToAllocate(z))
	}

	_, err := d.Allocators[0].Allocate()
	require.NoError(t, err)

	assert.EqualValues(t, 1, d.AllocatedBlocks())
	assert.EqualValues(t, 8*4-1, d.FreeBlocks())
}

func TestDrainAndResumeAcrossAllZones(t *testing.T) {
	d := New(testConfig(), 2, 0, 1, nil)
	require.NoError(t, d.AddSlabs(2))

	flushedZones := map[int]bool{}
	for !d.Drain(slab.AdminSuspending, func(z int) { flushedZones[z] = true }) {
	}
	assert.Len(t, flushedZones, 2)

	for !d.Resume() {
	}
	for _, a := range d.Allocators {
		assert.Equal(t, slab.AdminNormal, a.AdminState())
	}
}

func TestReleaseTailBlockLocksAdvancesActiveRequest(t *testing.T) {
	d := New(testConfig(), 1, 0, 1, nil)
	require.NoError(t, d.AddSlabs(1))

	d.NewReleaseRequest = 42
	d.ReleaseTailBlockLocks()
	assert.EqualValues(t, 42, d.ActiveReleaseRequest)
}

func TestStatsReflectsSlabCount(t *testing.T) {
	d := New(testConfig(), 2, 0, 1, nil)
	require.NoError(t, d.AddSlabs(3))
	s := d.Stats()
	assert.Equal(t, 3, s.SlabCount)
	assert.EqualValues(t, 2, s.ZoneCount)
}

func TestVDOStateTransitionsToDirtyOnlyAfterEveryZoneFinishesScrubbing(t *testing.T) {
	d := New(testConfig(), 2, 0, 1, nil)
	require.NoError(t, d.AddSlabs(2))
	for _, s := range d.Slabs {
		s.Status = slab.StatusRequiresScrubbing
	}

	assert.Equal(t, VDOStateRecovering, d.VDOState())

	require.NoError(t, d.PrepareToAllocate(0))
	assert.Equal(t, VDOStateRecovering, d.VDOState(), "one zone finishing scrubbing must not flip the state alone")

	require.NoError(t, d.PrepareToAllocate(1))
	assert.Equal(t, VDOStateDirty, d.VDOState(), "the last zone to finish scrubbing flips RECOVERING -> DIRTY")
}

func TestMarkRecoveryCompleteIsOnlyWonOnce(t *testing.T) {
	d := New(testConfig(), 1, 0, 1, nil)
	assert.True(t, d.MarkRecoveryComplete())
	assert.False(t, d.MarkRecoveryComplete(), "a second compare-exchange once already DIRTY must lose")
}
