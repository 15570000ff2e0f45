// Package refcounts implements the per-slab Reference Counter (spec §4.3):
// a dense array of one-byte counters grouped into on-disk "reference
// blocks", with provisional references, journaled adjustments, replay
// idempotence, and priority-ordered dirty writeback.
package refcounts

import (
	"github.com/pkg/errors"

	"github.com/vdo-go/depot/pkg/vdoerr"
)

// Reserved counter values (spec §3, §4.3).
const (
	Empty       byte = 0
	MaxShared   byte = 254
	Provisional byte = 0xFF
)

// CountsPerBlock is the number of counters packed into one on-disk
// reference block.
const CountsPerBlock = 4096

// JournalPoint identifies a specific journal-entry application: a
// (sequence, entry_count) pair in strict lexicographic order (spec §3,
// GLOSSARY).
type JournalPoint struct {
	Sequence   uint64
	EntryCount uint16
}

// Compare returns -1, 0, or 1 as p sorts before, equal to, or after o.
func (p JournalPoint) Compare(o JournalPoint) int {
	switch {
	case p.Sequence != o.Sequence:
		if p.Sequence < o.Sequence {
			return -1
		}
		return 1
	case p.EntryCount != o.EntryCount:
		if p.EntryCount < o.EntryCount {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// After reports whether p is strictly later than o.
func (p JournalPoint) After(o JournalPoint) bool { return p.Compare(o) > 0 }

// referenceBlock tracks the on-disk state of one CountsPerBlock-sized
// section of the counter array.
type referenceBlock struct {
	allocatedCount int64
	dirty          bool
	// sectorCommitPoint is the highest JournalPoint already applied to
	// this block, the idempotence anchor for ReplayChange.
	sectorCommitPoint JournalPoint
}

// Counter is the reference-counter state for a single slab.
type Counter struct {
	dataBlocks int64
	counts     []byte
	blocks     []referenceBlock
	freeCount  int64
	// searchCursor rotates across the counts array so repeated
	// AllocateUnreferencedBlock calls don't always restart at index 0.
	searchCursor int64
}

// New allocates a reference counter for a slab with the given number of
// data blocks.
func New(dataBlocks int64) *Counter {
	nBlocks := (dataBlocks + CountsPerBlock - 1) / CountsPerBlock
	if nBlocks == 0 {
		nBlocks = 1
	}
	return &Counter{
		dataBlocks: dataBlocks,
		counts:     make([]byte, dataBlocks),
		blocks:     make([]referenceBlock, nBlocks),
		freeCount:  dataBlocks,
	}
}

func (c *Counter) blockOf(sbn int64) *referenceBlock {
	return &c.blocks[sbn/CountsPerBlock]
}

func (c *Counter) checkRange(sbn int64) error {
	if sbn < 0 || sbn >= c.dataBlocks {
		return errors.Wrapf(vdoerr.ErrOutOfRange, "slab block number %d out of range [0,%d)", sbn, c.dataBlocks)
	}
	return nil
}

// FreeBlocks returns the number of EMPTY counters.
func (c *Counter) FreeBlocks() int64 { return c.freeCount }

// DataBlocks returns the total number of counters this Counter tracks.
func (c *Counter) DataBlocks() int64 { return c.dataBlocks }

// Get returns the current raw counter value for sbn.
func (c *Counter) Get(sbn int64) (byte, error) {
	if err := c.checkRange(sbn); err != nil {
		return 0, err
	}
	return c.counts[sbn], nil
}

// ProvisionallyReference marks an EMPTY counter PROVISIONAL, for a block
// the allocator has handed out but the caller has not yet confirmed with
// a journaled increment. Fails with ErrRefCountInvalid if the counter is
// already referenced.
func (c *Counter) ProvisionallyReference(sbn int64) error {
	if err := c.checkRange(sbn); err != nil {
		return err
	}
	if c.counts[sbn] != Empty {
		return errors.Wrapf(vdoerr.ErrRefCountInvalid, "block %d is not empty", sbn)
	}
	c.counts[sbn] = Provisional
	c.blockOf(sbn).allocatedCount++
	c.blockOf(sbn).dirty = true
	c.freeCount--
	return nil
}

// AllocateUnreferencedBlock performs a linear search from a rotating
// cursor for the first EMPTY counter, marks it PROVISIONAL, and returns
// its slab block number. Returns ErrNoSpace if every counter is
// referenced.
func (c *Counter) AllocateUnreferencedBlock() (int64, error) {
	if c.freeCount == 0 {
		return 0, vdoerr.ErrNoSpace
	}
	n := c.dataBlocks
	for i := int64(0); i < n; i++ {
		sbn := (c.searchCursor + i) % n
		if c.counts[sbn] == Empty {
			c.counts[sbn] = Provisional
			c.blockOf(sbn).allocatedCount++
			c.blockOf(sbn).dirty = true
			c.freeCount--
			c.searchCursor = (sbn + 1) % n
			return sbn, nil
		}
	}
	return 0, vdoerr.ErrNoSpace
}

// Operation selects the kind of adjustment Adjust applies.
type Operation int

const (
	Increment Operation = iota
	Decrement
)

// Adjust applies a journaled increment or decrement to sbn's counter,
// observing the transitions from spec §4.3:
//
//	EMPTY --inc--> SINGLE
//	PROVISIONAL --inc--> SINGLE (first confirmed increment)
//	SINGLE --inc--> SHARED
//	SHARED --inc--> SHARED, up to MaxShared; incrementing at MaxShared fails
//	SINGLE --dec--> EMPTY
//	SHARED --dec--> SHARED or SINGLE
//	EMPTY --dec--> fails
func (c *Counter) Adjust(sbn int64, op Operation, point JournalPoint) error {
	if err := c.checkRange(sbn); err != nil {
		return err
	}

	cur := c.counts[sbn]
	var next byte

	switch op {
	case Increment:
		switch {
		case cur == Empty:
			next = 1
		case cur == Provisional:
			next = 1
		case cur == MaxShared:
			return errors.Wrapf(vdoerr.ErrRefCountInvalid, "block %d already at maximum reference count", sbn)
		default:
			next = cur + 1
		}
	case Decrement:
		switch cur {
		case Empty:
			return errors.Wrapf(vdoerr.ErrRefCountInvalid, "cannot decrement unreferenced block %d", sbn)
		case Provisional:
			return errors.Wrapf(vdoerr.ErrRefCountInvalid, "cannot decrement provisional block %d", sbn)
		default:
			next = cur - 1
		}
	}

	b := c.blockOf(sbn)
	if cur == Empty && next != Empty {
		c.freeCount--
	}
	if cur != Empty && next == Empty {
		c.freeCount++
	}
	c.counts[sbn] = next
	b.dirty = true
	if point.Compare(b.sectorCommitPoint) > 0 {
		b.sectorCommitPoint = point
	}
	return nil
}

// BlockMapIncrement increments a provisional or shared counter into
// SHARED, never starting from EMPTY or SINGLE (spec §4.3). It is
// idempotent with respect to the block's allocated_count when starting
// from PROVISIONAL, since a provisional counter already incremented
// allocated_count once, at provisioning time.
func (c *Counter) BlockMapIncrement(sbn int64) error {
	if err := c.checkRange(sbn); err != nil {
		return err
	}
	cur := c.counts[sbn]
	switch cur {
	case Empty:
		return errors.Wrapf(vdoerr.ErrRefCountInvalid, "block-map increment on empty block %d", sbn)
	case 1:
		return errors.Wrapf(vdoerr.ErrRefCountInvalid, "block-map increment on singly-referenced block %d", sbn)
	case MaxShared:
		return errors.Wrapf(vdoerr.ErrRefCountInvalid, "block %d already at maximum reference count", sbn)
	case Provisional:
		c.counts[sbn] = 2 // SHARED: provisional becomes its first real share
	default:
		c.counts[sbn] = cur + 1
	}
	c.blockOf(sbn).dirty = true
	return nil
}

// ReplayChange applies a journal entry during recovery only if point is
// strictly later than the counter's containing block's recorded commit
// point. This idempotence is the correctness foundation for recovery
// (spec §4.3, §8 invariant 4): replaying the same entry twice, at the
// same journal point, never changes the result a second time.
func (c *Counter) ReplayChange(sbn int64, op Operation, point JournalPoint) error {
	if err := c.checkRange(sbn); err != nil {
		return err
	}
	b := c.blockOf(sbn)
	if !point.After(b.sectorCommitPoint) {
		return nil
	}
	return c.Adjust(sbn, op, point)
}

// Load resets every PROVISIONAL counter to EMPTY, as required after a
// restart (spec §4.3: "provisional references never survive restart") and
// verified by invariant §8.9.
func (c *Counter) Load(counts []byte) {
	copy(c.counts, counts)
	c.freeCount = 0
	for i, v := range c.counts {
		if v == Provisional {
			v = Empty
			c.counts[i] = Empty
		}
		if v == Empty {
			c.freeCount++
		}
	}
}

// DirtyBlockIndices returns the indices of reference blocks with unsaved
// changes, oldest-first by sector commit point, the order Save writes
// them back in (spec §4.3).
func (c *Counter) DirtyBlockIndices() []int {
	var dirty []int
	for i := range c.blocks {
		if c.blocks[i].dirty {
			dirty = append(dirty, i)
		}
	}
	for i := 0; i < len(dirty); i++ {
		for j := i + 1; j < len(dirty); j++ {
			a, b := dirty[i], dirty[j]
			if c.blocks[b].sectorCommitPoint.Compare(c.blocks[a].sectorCommitPoint) < 0 {
				dirty[i], dirty[j] = dirty[j], dirty[i]
			}
		}
	}
	return dirty
}

// ClearDirty marks the reference block at blockIndex clean after its
// counters have been written back.
func (c *Counter) ClearDirty(blockIndex int) {
	c.blocks[blockIndex].dirty = false
}

// Snapshot returns a copy of the full counter array, e.g. for encoding a
// reference block to disk.
func (c *Counter) Snapshot() []byte {
	out := make([]byte, len(c.counts))
	copy(out, c.counts)
	return out
}

// MarkAllDirty marks every reference block dirty, regardless of its
// current state. A slab opened for the first time (blank journal) has
// all-empty counters that have never been written back; this forces
// them onto the dirty-writeback queue so the initial all-empty state
// gets persisted at least once (spec §4.6 step 2).
func (c *Counter) MarkAllDirty() {
	for i := range c.blocks {
		c.blocks[i].dirty = true
	}
}
