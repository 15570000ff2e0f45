package allocator

import "math/bits"

// MaxPriority bounds the priority table used to rank slabs for allocation
// (spec §4.6). Kept in sync with pkg/ptable.MaxEntries.
const MaxPriority = 64

// UnopenedSlabPriority is the reserved priority slot for a slab whose
// journal is still blank (spec §4.6: "a reserved slot slightly above half
// of maximum"). Preferring previously-written slabs over virgin ones is
// friendlier to thinly provisioned backing storage.
const UnopenedSlabPriority = MaxPriority/2 + 1

// CalculatePriority implements the slab priority function from spec §4.6:
//
//	free == 0                -> priority 0 (never preferred)
//	journal blank (unopened)  -> UnopenedSlabPriority
//	otherwise                 -> 1 + floor(log2(free)), shifted past
//	                             UnopenedSlabPriority if it would collide
func CalculatePriority(freeBlocks int64, journalBlank bool) int {
	if freeBlocks == 0 {
		return 0
	}
	if journalBlank {
		return UnopenedSlabPriority
	}

	// bits.Len64(x) == floor(log2(x)) + 1, so this already is
	// "1 + floor(log2(free))".
	priority := bits.Len64(uint64(freeBlocks))
	if priority >= UnopenedSlabPriority {
		priority++
	}
	if priority >= MaxPriority {
		priority = MaxPriority - 1
	}
	return priority
}
