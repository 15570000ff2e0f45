package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := Entry{TailBlockOffset: 200, FullnessHint: 17, LoadRefCounts: true, IsDirty: true}
	assert.Equal(t, e, Decode(e.Encode()))
}

func TestEncodeClampsFullnessHintTo6Bits(t *testing.T) {
	e := Entry{FullnessHint: 0xFF}
	b := e.Encode()
	assert.LessOrEqual(t, b[1]&0xC0, byte(0xC0)) // flags live in top 2 bits only
	got := Decode(b)
	assert.Equal(t, uint8(0x3F), got.FullnessHint)
}

func TestNewTableStartsEmpty(t *testing.T) {
	s := New(0, 4, nil)
	assert.True(t, s.IsClean(0))
	assert.False(t, s.HasPending())
}

func TestUpdateMarksDirtyImmediatelyButWaiterFiresOnlyAfterFlush(t *testing.T) {
	s := New(0, 4, nil)
	notified := false
	s.UpdateSlabSummaryEntry(2, 5, true, true, 3, waiterFunc(func(error) { notified = true }))

	assert.False(t, s.IsClean(2))
	assert.True(t, s.HasPending())
	assert.False(t, notified)

	require.NoError(t, s.Flush())
	assert.True(t, notified)
	assert.False(t, s.HasPending())
}

func TestFlushBatchesMultipleUpdatesToSameSlab(t *testing.T) {
	var written map[uint64]Entry
	s := New(0, 4, func(zone uint32, updates map[uint64]Entry) error {
		written = updates
		return nil
	})

	s.UpdateSlabSummaryEntry(1, 1, false, true, 0, nil)
	s.UpdateSlabSummaryEntry(1, 9, false, false, 2, nil)

	require.NoError(t, s.Flush())
	require.Len(t, written, 1)
	assert.Equal(t, uint8(9), written[1].TailBlockOffset)
	assert.False(t, written[1].IsDirty)
}

func TestFlushPropagatesWriteErrorToWaiters(t *testing.T) {
	s := New(0, 2, func(uint32, map[uint64]Entry) error { return assert.AnError })

	var gotErr error
	s.UpdateSlabSummaryEntry(0, 0, false, true, 0, waiterFunc(func(e error) { gotErr = e }))
	err := s.Flush()
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, gotErr, assert.AnError)
}

func TestSnapshotAndLoadRoundTrip(t *testing.T) {
	s := New(0, 2, nil)
	s.UpdateSlabSummaryEntry(1, 7, true, false, 4, nil)

	snap := s.Snapshot()
	s2 := New(0, 2, nil)
	s2.Load(snap)
	assert.Equal(t, s.Get(1), s2.Get(1))
}

type waiterFunc func(error)

func (f waiterFunc) Notify(err error) { f(err) }
