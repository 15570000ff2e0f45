package allocator

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculatePriorityZeroFreeIsZero(t *testing.T) {
	assert.Equal(t, 0, CalculatePriority(0, false))
	assert.Equal(t, 0, CalculatePriority(0, true))
}

func TestCalculatePriorityBlankJournalIsReservedSlot(t *testing.T) {
	assert.Equal(t, UnopenedSlabPriority, CalculatePriority(1, true))
	assert.Equal(t, UnopenedSlabPriority, CalculatePriority(1<<20, true))
}

// TestScrubbedSlabPriorityMatchesLogFormula directly encodes the scenario
// from spec §8 invariant 7: scrubbing completes slab X as REBUILT with
// free=k, and calculate_priority(X) must equal 1+floor(log2(k)), shifted
// past UnopenedSlabPriority if it would otherwise collide with it.
func TestScrubbedSlabPriorityMatchesLogFormula(t *testing.T) {
	cases := []int64{1, 2, 3, 4, 1000, 1 << 31}
	for _, free := range cases {
		want := bits.Len64(uint64(free))
		if want >= UnopenedSlabPriority {
			want++
		}
		if want >= MaxPriority {
			want = MaxPriority - 1
		}
		got := CalculatePriority(free, false)
		assert.Equal(t, want, got, "free=%d", free)
	}
}

func TestCalculatePriorityNeverCollidesWithUnopenedSlot(t *testing.T) {
	for free := int64(1); free < 1<<20; free *= 2 {
		p := CalculatePriority(free, false)
		assert.NotEqual(t, UnopenedSlabPriority, p, "free=%d produced the reserved unopened priority", free)
	}
}

func TestCalculatePriorityNeverReachesMaxPriority(t *testing.T) {
	assert.Less(t, CalculatePriority(1<<62, false), MaxPriority)
}

func TestCalculatePriorityMonotonicInFreeBlocks(t *testing.T) {
	prev := CalculatePriority(1, false)
	for free := int64(2); free <= 1<<16; free *= 2 {
		cur := CalculatePriority(free, false)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}
