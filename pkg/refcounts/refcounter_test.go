package refcounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdo-go/depot/pkg/vdoerr"
)

func TestProvisionallyReferenceThenConfirm(t *testing.T) {
	c := New(10)
	require.NoError(t, c.ProvisionallyReference(0))
	v, _ := c.Get(0)
	assert.Equal(t, Provisional, v)

	err := c.ProvisionallyReference(0)
	assert.ErrorIs(t, err, vdoerr.ErrRefCountInvalid)

	require.NoError(t, c.Adjust(0, Increment, JournalPoint{Sequence: 1, EntryCount: 0}))
	v, _ = c.Get(0)
	assert.EqualValues(t, 1, v)
}

func TestAllocateUnreferencedBlockExhaustsAndReturnsNoSpace(t *testing.T) {
	c := New(2)
	_, err := c.AllocateUnreferencedBlock()
	require.NoError(t, err)
	_, err = c.AllocateUnreferencedBlock()
	require.NoError(t, err)
	_, err = c.AllocateUnreferencedBlock()
	assert.ErrorIs(t, err, vdoerr.ErrNoSpace)
}

func TestIncrementPastMaxSharedFails(t *testing.T) {
	c := New(1)
	require.NoError(t, c.Adjust(0, Increment, JournalPoint{Sequence: 1}))
	for v := byte(1); v < MaxShared; v++ {
		require.NoError(t, c.Adjust(0, Increment, JournalPoint{Sequence: uint64(v) + 1}))
	}
	got, _ := c.Get(0)
	require.Equal(t, MaxShared, got)

	err := c.Adjust(0, Increment, JournalPoint{Sequence: 1000})
	assert.ErrorIs(t, err, vdoerr.ErrRefCountInvalid)
}

func TestDecrementEmptyFails(t *testing.T) {
	c := New(1)
	err := c.Adjust(0, Decrement, JournalPoint{Sequence: 1})
	assert.ErrorIs(t, err, vdoerr.ErrRefCountInvalid)
}

func TestBlockMapIncrementNeverStartsFromEmptyOrSingle(t *testing.T) {
	c := New(1)
	err := c.BlockMapIncrement(0)
	assert.ErrorIs(t, err, vdoerr.ErrRefCountInvalid)

	require.NoError(t, c.Adjust(0, Increment, JournalPoint{Sequence: 1}))
	err = c.BlockMapIncrement(0)
	assert.ErrorIs(t, err, vdoerr.ErrRefCountInvalid)
}

func TestBlockMapIncrementFromProvisionalBecomesShared(t *testing.T) {
	c := New(1)
	require.NoError(t, c.ProvisionallyReference(0))
	require.NoError(t, c.BlockMapIncrement(0))
	v, _ := c.Get(0)
	assert.EqualValues(t, 2, v)
}

// TestScenarioCReplayIdempotence reproduces spec §8 Scenario C: a counter
// starting EMPTY receives inc(11,42), inc(11,43), is committed, then the
// same two increments plus a decrement are replayed; the final value is
// 1, and replaying the first increment again changes nothing.
func TestScenarioCReplayIdempotence(t *testing.T) {
	c := New(1)

	require.NoError(t, c.Adjust(0, Increment, JournalPoint{Sequence: 11, EntryCount: 42}))
	require.NoError(t, c.Adjust(0, Increment, JournalPoint{Sequence: 11, EntryCount: 43}))

	require.NoError(t, c.ReplayChange(0, Increment, JournalPoint{Sequence: 11, EntryCount: 42}))
	require.NoError(t, c.ReplayChange(0, Increment, JournalPoint{Sequence: 11, EntryCount: 43}))
	require.NoError(t, c.ReplayChange(0, Decrement, JournalPoint{Sequence: 11, EntryCount: 44}))

	v, _ := c.Get(0)
	assert.EqualValues(t, 1, v)

	require.NoError(t, c.ReplayChange(0, Increment, JournalPoint{Sequence: 11, EntryCount: 42}))
	v, _ = c.Get(0)
	assert.EqualValues(t, 1, v, "replaying an already-applied point must be a no-op")
}

func TestLoadClearsProvisionalCounters(t *testing.T) {
	c := New(4)
	c.Load([]byte{Empty, Provisional, 3, Provisional})

	for sbn := int64(0); sbn < 4; sbn++ {
		v, _ := c.Get(sbn)
		assert.NotEqual(t, Provisional, v)
	}
	assert.EqualValues(t, 3, c.FreeBlocks())
}

func TestOutOfRangeReturnsErrOutOfRange(t *testing.T) {
	c := New(4)
	_, err := c.Get(4)
	assert.ErrorIs(t, err, vdoerr.ErrOutOfRange)
}

func TestDirtyBlockIndicesOldestFirst(t *testing.T) {
	c := New(CountsPerBlock*2 + 1)
	require.NoError(t, c.Adjust(CountsPerBlock, Increment, JournalPoint{Sequence: 5}))
	require.NoError(t, c.Adjust(0, Increment, JournalPoint{Sequence: 2}))

	dirty := c.DirtyBlockIndices()
	require.Len(t, dirty, 2)
	assert.Equal(t, 0, dirty[0])
	assert.Equal(t, 1, dirty[1])
}
