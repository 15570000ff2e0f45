package maxheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type intRecords []int

func (r intRecords) Len() int           { return len(r) }
func (r intRecords) Less(i, j int) bool { return r[i] < r[j] }
func (r intRecords) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }

func TestHeapifyRootIsMax(t *testing.T) {
	r := intRecords{3, 1, 9, 4, 1, 5, 2, 6}
	Heapify(r)
	assert.Equal(t, 9, r[0])
}

func TestSortIsAscending(t *testing.T) {
	r := intRecords{5, 3, 8, 1, 9, 2, 7}
	Sort(r)
	assert.True(t, sortedAscending(r))
}

func sortedAscending(r intRecords) bool {
	for i := 1; i < len(r); i++ {
		if r[i-1] > r[i] {
			return false
		}
	}
	return true
}

func TestPopExtractsMaxToEnd(t *testing.T) {
	r := intRecords{3, 1, 9, 4, 1, 5, 2, 6}
	Heapify(r)
	idx := Pop(r)
	assert.Equal(t, len(r)-1, idx)
	assert.Equal(t, 9, r[idx])
	remaining := r[:idx]
	Heapify(remaining)
	assert.Equal(t, 6, remaining[0])
}
