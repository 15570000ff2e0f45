package sjournal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdo-go/depot/pkg/refcounts"
	"github.com/vdo-go/depot/pkg/vdoerr"
)

func TestBlankJournalHasZeroHeadAndTail(t *testing.T) {
	j := New(1, 8, 4, 6, nil)
	assert.True(t, j.IsBlank())
	assert.Zero(t, j.Head())
	assert.Zero(t, j.Tail())
}

func TestAddEntryOpensFirstBlockAtSequenceOne(t *testing.T) {
	j := New(1, 8, 4, 6, nil)
	err := j.AddEntry(Entry{SlabBlockNumber: 1, Operation: refcounts.Increment}, RecoveryPoint{Sequence: 1}, nil)
	require.NoError(t, err)
	assert.False(t, j.IsBlank())
	assert.EqualValues(t, 1, j.Tail())
	assert.EqualValues(t, 1, j.Head())
}

func TestCrossingFlushingThresholdTriggersCommit(t *testing.T) {
	var committed []uint64
	var j *Journal
	j = New(1, 8, 2, 6, func(seq uint64) {
		committed = append(committed, seq)
		_ = j.Committed(seq)
	})

	j.openNewTailBlock() // sequence 1, head=tail=1
	j.openNewTailBlock() // sequence 2, used()==1
	j.openNewTailBlock() // sequence 3, used()==2, at the flushing threshold

	require.NoError(t, j.AddEntry(Entry{SlabBlockNumber: 0, Operation: refcounts.Increment}, RecoveryPoint{Sequence: 1}, nil))

	assert.NotEmpty(t, committed)
}

func TestCrossingBlockingThresholdRejectsAndQueuesWaiter(t *testing.T) {
	j := New(1, 8, 10, 1, nil)
	require.NoError(t, j.AddEntry(Entry{SlabBlockNumber: 0, Operation: refcounts.Increment}, RecoveryPoint{Sequence: 1}, nil))
	j.openNewTailBlock() // used() now 1, at the blocking threshold

	notified := false
	err := j.AddEntry(Entry{SlabBlockNumber: 1, Operation: refcounts.Increment}, RecoveryPoint{Sequence: 99},
		waiterFunc(func(e error) { notified = true; assert.NoError(t, e) }))
	assert.ErrorIs(t, err, vdoerr.ErrNoSpace)
	assert.False(t, notified)

	// free up space by committing the oldest block, which should wake the waiter
	require.NoError(t, j.Committed(j.Head()))
	assert.True(t, notified)
}

func TestReopenClearsInMemoryTails(t *testing.T) {
	j := New(1, 8, 4, 6, nil)
	require.NoError(t, j.AddEntry(Entry{SlabBlockNumber: 1, Operation: refcounts.Increment}, RecoveryPoint{Sequence: 1}, nil))
	require.False(t, j.IsBlank())

	j.Reopen(0, 0)
	assert.True(t, j.IsBlank())
}

type waiterFunc func(error)

func (f waiterFunc) Notify(err error) { f(err) }

func TestFlushCommitsEveryDirtyBlockRegardlessOfThreshold(t *testing.T) {
	var committed []uint64
	var j *Journal
	j = New(1, 8, 100, 100, func(seq uint64) {
		committed = append(committed, seq)
		_ = j.Committed(seq)
	})

	require.NoError(t, j.AddEntry(Entry{SlabBlockNumber: 0, Operation: refcounts.Increment}, RecoveryPoint{Sequence: 1}, nil))
	j.openNewTailBlock()
	require.NoError(t, j.AddEntry(Entry{SlabBlockNumber: 1, Operation: refcounts.Increment}, RecoveryPoint{Sequence: 2}, nil))

	assert.Empty(t, committed, "thresholds set high enough that nothing should have auto-committed yet")
	j.Flush()
	assert.ElementsMatch(t, []uint64{1, 2}, committed)
}
