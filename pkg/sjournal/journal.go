// Package sjournal implements the per-slab Slab Journal (spec §4.4): a
// circular log of blocks living inside the slab itself, each carrying
// increments/decrements against the slab's reference counts, optionally
// tagged as block-map increments.
package sjournal

import (
	"github.com/pkg/errors"

	"github.com/vdo-go/depot/pkg/refcounts"
	"github.com/vdo-go/depot/pkg/vdoerr"
	"github.com/vdo-go/depot/pkg/waiter"
)

// EntriesPerBlock bounds how many entries a single slab-journal block can
// carry. The on-disk format has two entry forms (spec §3): "full" entries
// (slab block number + operation + block-map-increment flag) and a denser
// "data-only" form omitting the block-map flag when a block has none of
// those entries. EntriesPerBlock here is the full-form capacity; callers
// packing a block choose the form per-block based on HasBlockMapIncrements.
const EntriesPerBlock = 311

// RecoveryPoint identifies a position in the recovery journal at
// byte-level granularity (spec §3, GLOSSARY): (sequence, sector,
// entry-in-sector), in strict total order.
type RecoveryPoint struct {
	Sequence      uint64
	Sector        uint8 // 1..SectorsPerBlock-1
	EntryInSector uint8
}

// SectorsPerBlock is the number of addressable sectors within one
// recovery-journal block (spec §6: 4 KiB block / 512-byte sector).
const SectorsPerBlock = 8

// Compare returns -1, 0, or 1 as p sorts before, equal to, or after o.
func (p RecoveryPoint) Compare(o RecoveryPoint) int {
	switch {
	case p.Sequence != o.Sequence:
		if p.Sequence < o.Sequence {
			return -1
		}
		return 1
	case p.Sector != o.Sector:
		if p.Sector < o.Sector {
			return -1
		}
		return 1
	case p.EntryInSector != o.EntryInSector:
		if p.EntryInSector < o.EntryInSector {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Entry is one slab-journal entry: an adjustment against a single slab
// block number.
type Entry struct {
	SlabBlockNumber     int64
	Operation           refcounts.Operation
	IsBlockMapIncrement bool
}

// BlockHeader is the packed header of one on-disk slab-journal block
// (spec §3).
type BlockHeader struct {
	Head                  uint64
	Sequence              uint64
	Nonce                 uint64
	MetadataType          uint8
	HasBlockMapIncrements bool
	EntryCount            uint16
	RecoveryPoint         RecoveryPoint
}

// block is one in-memory slab-journal block: its header plus the entries
// accumulated in it so far, not yet necessarily committed to disk.
type block struct {
	header  BlockHeader
	entries []Entry
	dirty   bool
}

// Journal is the in-memory state of one slab's journal.
type Journal struct {
	nonce             uint64
	totalBlocks        int
	flushingThreshold int
	blockingThreshold int

	blocks []block // ring of totalBlocks blocks
	head   uint64  // sequence number of the oldest unflushed block
	tail   uint64  // sequence number of the currently-open block

	recoveryPoint RecoveryPoint

	additionWaiters waiter.Queue
	blocked         bool

	commit func(seq uint64) // hook invoked to flush the oldest dirty block
}

// New creates a slab journal with the given ring size and thresholds
// (spec §3: flushing <= blocking <= scrubbing <= journal_blocks; only the
// first two bound in-memory admission control, scrubbing is the
// allocator's concern). commit is called (synchronously, in this
// single-threaded model) whenever the flushing threshold is crossed, and
// should arrange for the oldest dirty block's bytes to be written out and
// then call Journal.Committed once durable.
func New(nonce uint64, totalBlocks, flushingThreshold, blockingThreshold int, commit func(seq uint64)) *Journal {
	return &Journal{
		nonce:             nonce,
		totalBlocks:        totalBlocks,
		flushingThreshold: flushingThreshold,
		blockingThreshold: blockingThreshold,
		blocks:            make([]block, totalBlocks),
		commit:            commit,
	}
}

// IsBlank reports whether the journal has never been opened: head and
// tail are both zero (spec §4.4).
func (j *Journal) IsBlank() bool {
	return j.head == 0 && j.tail == 0
}

// Head returns the sequence number of the oldest block not yet flushed.
func (j *Journal) Head() uint64 { return j.head }

// Tail returns the sequence number of the currently open block.
func (j *Journal) Tail() uint64 { return j.tail }

// RecoveryPoint returns the journal's most recently applied recovery
// point.
func (j *Journal) RecoveryPoint() RecoveryPoint { return j.recoveryPoint }

// Reopen clears in-memory tail state after scrubbing has brought the
// on-disk journal's blocks up to date, per spec §4.4 ("Reopening a
// journal (after scrubbing) clears in-memory tails").
func (j *Journal) Reopen(head, tail uint64) {
	j.head = head
	j.tail = tail
	j.blocks = make([]block, j.totalBlocks)
	j.blocked = false
}

func (j *Journal) openBlockIndex() int {
	return int(j.tail % uint64(j.totalBlocks))
}

func (j *Journal) used() int {
	return int(j.tail - j.head)
}

// AddEntry reserves space for entry in the currently open tail block,
// updating recoveryPoint. If the tail block is full a new block is
// opened. If the blocking threshold has been crossed, the entry is
// rejected with ErrNoSpace and w (if non-nil) is queued to be notified
// once space frees up, mirroring the spec's "crossing blocking threshold
// blocks new entries".
func (j *Journal) AddEntry(e Entry, recoveryPoint RecoveryPoint, w waiter.Waiter) error {
	if j.blocked || j.used() >= j.blockingThreshold {
		j.blocked = true
		if w != nil {
			j.additionWaiters.Enqueue(w)
		}
		return vdoerr.ErrNoSpace
	}

	idx := j.openBlockIndex()
	b := &j.blocks[idx]
	// tail == 0 is the blank-journal sentinel (spec §4.4): no block has
	// been opened yet, so sequence numbers start at 1.
	if j.tail == 0 || b.header.Sequence != j.tail || len(b.entries) >= EntriesPerBlock {
		j.openNewTailBlock()
		idx = j.openBlockIndex()
		b = &j.blocks[idx]
	}

	b.entries = append(b.entries, e)
	b.dirty = true
	if e.IsBlockMapIncrement {
		b.header.HasBlockMapIncrements = true
	}
	b.header.EntryCount = uint16(len(b.entries))
	b.header.RecoveryPoint = recoveryPoint
	j.recoveryPoint = recoveryPoint

	if j.used() >= j.flushingThreshold {
		j.commitOldestDirty()
	}

	return nil
}

func (j *Journal) openNewTailBlock() {
	j.tail++
	if j.head == 0 {
		// first block ever opened: it is also the oldest outstanding one.
		j.head = j.tail
	}
	idx := j.openBlockIndex()
	j.blocks[idx] = block{
		header: BlockHeader{
			Head:     j.head,
			Sequence: j.tail,
			Nonce:    j.nonce,
		},
	}
}

func (j *Journal) commitOldestDirty() {
	if j.commit == nil {
		return
	}
	for seq := j.head; seq <= j.tail; seq++ {
		idx := int(seq % uint64(j.totalBlocks))
		if j.blocks[idx].dirty && j.blocks[idx].header.Sequence == seq {
			j.commit(seq)
			return
		}
	}
}

// Committed marks the block at sequence seq as durable, advancing head
// past it if it was the oldest outstanding block, and releases addition
// waiters if the blocking threshold is no longer crossed.
func (j *Journal) Committed(seq uint64) error {
	idx := int(seq % uint64(j.totalBlocks))
	b := &j.blocks[idx]
	if b.header.Sequence != seq {
		return errors.Wrapf(vdoerr.ErrCorruptJournal, "commit for sequence %d does not match resident block (has %d)", seq, b.header.Sequence)
	}
	b.dirty = false

	for j.head < j.tail && !j.blocks[int(j.head%uint64(j.totalBlocks))].dirty && j.blocks[int(j.head%uint64(j.totalBlocks))].header.Sequence == j.head {
		j.head++
	}

	if j.blocked && j.used() < j.blockingThreshold {
		j.blocked = false
		j.additionWaiters.NotifyAll(nil)
	}
	return nil
}

// Flush forces a commit of every dirty resident block regardless of the
// flushing threshold, used when an external release request (spec §4.7,
// "release tail-block locks") needs this journal's lock on the recovery
// journal to advance immediately rather than waiting for the next
// threshold crossing.
func (j *Journal) Flush() {
	if j.commit == nil || j.tail == 0 {
		return
	}
	for seq := j.head; seq <= j.tail; seq++ {
		idx := int(seq % uint64(j.totalBlocks))
		if j.blocks[idx].dirty && j.blocks[idx].header.Sequence == seq {
			j.commit(seq)
		}
	}
}

// Blocks returns the headers and entries for every resident block, for
// writeback or diagnostics, ordered from head to tail.
func (j *Journal) Blocks() []BlockHeader {
	var out []BlockHeader
	for seq := j.head; seq <= j.tail && j.tail > 0; seq++ {
		idx := int(seq % uint64(j.totalBlocks))
		if j.blocks[idx].header.Sequence == seq {
			out = append(out, j.blocks[idx].header)
		}
		if seq == j.tail {
			break
		}
	}
	return out
}

// AbortWaiters fails every queued AddEntry waiter with err, used when the
// depot enters read-only mode (spec §4.6, "Read-only notifications abort
// all slab-journal waiters across the allocator's slabs").
func (j *Journal) AbortWaiters(err error) {
	j.additionWaiters.NotifyAll(err)
}
