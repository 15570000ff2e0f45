package pst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segsOf(lengths ...int64) []Segment {
	segs := make([]Segment, len(lengths))
	for i, l := range lengths {
		segs[i] = Segment{Length: l, Payload: i}
	}
	return segs
}

func TestSearchCoversEveryOffset(t *testing.T) {
	lengths := []int64{5, 3, 9, 1, 7, 2}
	tree := Build(segsOf(lengths...))

	var offset int64
	for i, l := range lengths {
		for o := offset; o < offset+l; o++ {
			payload, found := tree.Search(o)
			require.True(t, found, "offset %d should be covered", o)
			assert.Equal(t, i, payload, "offset %d should resolve to segment %d", o, i)
		}
		offset += l
	}

	_, found := tree.Search(offset)
	assert.False(t, found, "offset past the end of the tree should not resolve")
}

func TestSearchNegativeOffset(t *testing.T) {
	tree := Build(segsOf(5, 5))
	_, found := tree.Search(-1)
	assert.False(t, found)
}

func TestPruneRemovesSegmentButKeepsSiblingsCorrect(t *testing.T) {
	lengths := []int64{5, 3, 9, 1, 7, 2}
	tree := Build(segsOf(lengths...))

	removed, err := tree.Prune(6) // offset 6 is within segment 1 ([5,8))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// pruning closes the gap: segment 2 moves down from [8,17) to [5,14)
	payload, found := tree.Search(6)
	require.True(t, found)
	assert.Equal(t, 2, payload, "pruned segment must no longer resolve")

	// every other segment must still resolve, at offsets closed up over
	// the pruned one
	var offset int64
	for i, l := range lengths {
		if i != 1 {
			mid := offset + l/2
			payload, found := tree.Search(mid)
			require.True(t, found)
			assert.Equal(t, i, payload)
			offset += l
		}
	}
}

func TestPruneUnknownOffset(t *testing.T) {
	tree := Build(segsOf(5, 5))
	_, err := tree.Prune(100)
	assert.Error(t, err)
}

func TestEmptyTree(t *testing.T) {
	tree := Build(nil)
	_, found := tree.Search(0)
	assert.False(t, found)
}
