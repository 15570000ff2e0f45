package ptable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDequeueReturnsHighestPriorityFirst(t *testing.T) {
	table := New(MaxEntries)
	table.Enqueue(3, "low")
	table.Enqueue(10, "high")
	table.Enqueue(7, "mid")

	v, ok := table.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "high", v)

	v, ok = table.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "mid", v)

	v, ok = table.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "low", v)
}

func TestFIFOWithinSamePriority(t *testing.T) {
	table := New(MaxEntries)
	table.Enqueue(5, "a")
	table.Enqueue(5, "b")
	table.Enqueue(5, "c")

	var order []interface{}
	for {
		v, ok := table.Dequeue()
		if !ok {
			break
		}
		order = append(order, v)
	}
	assert.Equal(t, []interface{}{"a", "b", "c"}, order)
}

func TestIsEmptyMatchesBitmap(t *testing.T) {
	table := New(MaxEntries)
	assert.True(t, table.IsEmpty())

	h := table.Enqueue(1, "x")
	assert.False(t, table.IsEmpty())

	table.Remove(h)
	assert.True(t, table.IsEmpty())
}

func TestRemoveArbitraryEntry(t *testing.T) {
	table := New(MaxEntries)
	table.Enqueue(4, "a")
	h := table.Enqueue(4, "b")
	table.Enqueue(4, "c")

	table.Remove(h)

	var order []interface{}
	for {
		v, ok := table.Dequeue()
		if !ok {
			break
		}
		order = append(order, v)
	}
	assert.Equal(t, []interface{}{"a", "c"}, order)
}

func TestRemoveAlreadyRemovedIsNoop(t *testing.T) {
	table := New(MaxEntries)
	h := table.Enqueue(2, "a")
	table.Remove(h)
	assert.NotPanics(t, func() {
		table.Remove(h)
	})
	assert.True(t, table.IsEmpty())
}
