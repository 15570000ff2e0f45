// Package allocator implements the per-physical-zone Block Allocator
// (spec §4.6): it owns a stripe of slabs, allocates blocks from them,
// scrubs unrecovered slabs after a crash, and drives the allocator's
// admin-state machine.
package allocator

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vdo-go/depot/pkg/ptable"
	"github.com/vdo-go/depot/pkg/slab"
	"github.com/vdo-go/depot/pkg/tracer"
	"github.com/vdo-go/depot/pkg/vdoerr"
	"github.com/vdo-go/depot/pkg/vio"
	"github.com/vdo-go/depot/pkg/waiter"
)

// Drain steps, run sequentially (spec §4.6): SCRUBBER -> SLABS -> SUMMARY
// -> FINISHED. Resume runs them in reverse. Each step is idempotent.
type DrainStep int

const (
	DrainScrubber DrainStep = iota
	DrainSlabs
	DrainSummary
	DrainFinished
)

// Allocator owns a subset of slabs on one physical zone (spec §3: "an
// allocator touches only slabs whose slab_number mod zone_count ==
// zone").
type Allocator struct {
	Zone      uint32
	ZoneCount uint32
	ThreadID  uint32

	log logrus.FieldLogger

	slabs          []*slab.Slab
	lastSlab       *slab.Slab
	openSlab       *slab.Slab
	prioritized    *ptable.Table
	dirtyJournals  map[uint64]*slab.Slab

	scrubber *Scrubber
	vioPool  *vio.Pool

	adminState slab.AdminState
	drainStep  DrainStep

	slabsOpened   uint64
	slabsReopened uint64
	allocated     int64 // running total of blocks allocated across owned slabs

	readOnly bool
}

// New constructs an allocator for physical zone `zone` of `zoneCount`, with
// a VIO pool of the given capacity sized to one block.
func New(zone, zoneCount uint32, blockSize, vioPoolCapacity int, log logrus.FieldLogger) *Allocator {
	a := &Allocator{
		Zone:          zone,
		ZoneCount:     zoneCount,
		prioritized:   ptable.New(MaxPriority),
		dirtyJournals: make(map[uint64]*slab.Slab),
		vioPool:       vio.NewPool(vioPoolCapacity, blockSize),
		log:           log,
	}
	a.scrubber = newScrubber(a)
	return a
}

// AddSlab registers a slab with this allocator. The caller (the depot) is
// responsible for ensuring slab.Number%zoneCount == zone (spec §8
// invariant 2).
func (a *Allocator) AddSlab(s *slab.Slab) {
	a.slabs = append(a.slabs, s)
	a.lastSlab = s
}

// Slabs returns every slab owned by this allocator.
func (a *Allocator) Slabs() []*slab.Slab { return a.slabs }

// EnqueueForAllocation makes a REBUILT slab available for allocation by
// putting it in the priority table, keyed by its calculated priority.
func (a *Allocator) EnqueueForAllocation(s *slab.Slab) {
	s.Priority = CalculatePriority(s.FreeBlockCount(), s.Journal.IsBlank())
	a.prioritized.Enqueue(s.Priority, s)
}

// RegisterSlabForScrubbing moves s onto the scrubber's high-priority or
// ordinary FIFO (spec §4.6).
func (a *Allocator) RegisterSlabForScrubbing(s *slab.Slab, highPriority bool) {
	a.scrubber.register(s, highPriority)
}

// Allocate hands out one free block with a provisional reference,
// following the allocation algorithm from spec §4.6:
//
//  1. try the open slab;
//  2. on ErrNoSpace, drop it as the open slab and pop the next one,
//     opening it (the full slab is not put back in the priority table);
//  3. retry until a slab yields a block or none are available.
//
// The caller must either confirm (Adjust with a journal point) or
// release (decrement) the returned block within one journal transaction.
func (a *Allocator) Allocate() (slab.PBN, error) {
	if a.readOnly {
		return slab.UnmappedPBN, vdoerr.ErrReadOnly
	}

	for {
		if a.openSlab == nil {
			if !a.openNextSlab() {
				return slab.UnmappedPBN, vdoerr.ErrNoSpace
			}
		}

		sbn, err := a.openSlab.ReferenceCounts.AllocateUnreferencedBlock()
		if err == nil {
			a.allocated++
			return a.openSlab.StartPBN + slab.PBN(sbn), nil
		}
		if !errors.Is(err, vdoerr.ErrNoSpace) {
			return slab.UnmappedPBN, err
		}

		// this slab is full: record its priority (0, since free==0), stop
		// using it as the open slab, and try the next one. It is not
		// re-enqueued in the priority table here.
		a.openSlab.Priority = CalculatePriority(a.openSlab.FreeBlockCount(), a.openSlab.Journal.IsBlank())
		a.openSlab = nil
	}
}

// openNextSlab pops the highest-priority slab from the table and opens
// it: marks every reference block
// dirty if the journal is blank (so a virgin slab's all-empty counters get
// persisted at least once), and bumps the opened/reopened counters. The
// slab's allocation search cursor is not reset: AllocateUnreferencedBlock
// continues from wherever it last stopped in that slab.
func (a *Allocator) openNextSlab() bool {
	v, ok := a.prioritized.Dequeue()
	if !ok {
		return false
	}
	s := v.(*slab.Slab)

	wasBlank := s.Journal.IsBlank()
	s.Open()
	if wasBlank {
		s.ReferenceCounts.MarkAllDirty()
	}
	a.openSlab = s

	if wasBlank {
		a.slabsOpened++
	} else {
		a.slabsReopened++
	}

	return true
}

// EnqueueCleanSlabWaiter queues w to be notified once a clean (REBUILT)
// slab becomes available. It fails immediately with ErrNoSpace if the
// scrubber is quiescent and has nothing left to scrub (spec §7).
func (a *Allocator) EnqueueCleanSlabWaiter(w waiter.Waiter) error {
	if a.scrubber.isQuiescent() && !a.scrubber.hasWork() {
		return vdoerr.ErrNoSpace
	}
	a.scrubber.enqueueCleanSlabWaiter(w)
	return nil
}

// FreeBlocks sums free blocks across every owned slab.
func (a *Allocator) FreeBlocks() int64 {
	var total int64
	for _, s := range a.slabs {
		total += s.FreeBlockCount()
	}
	return total
}

// AllocatedBlocks returns the number of blocks this allocator has handed
// out (confirmed or provisional), contributing to depot invariant 1
// (spec §8): sum over slabs of (data_blocks - free_blocks).
func (a *Allocator) AllocatedBlocks() int64 {
	var total int64
	for _, s := range a.slabs {
		total += s.ReferenceCounts.DataBlocks() - s.FreeBlockCount()
	}
	return total
}

// EnterReadOnly trips the sticky read-only latch for this allocator:
// outstanding slab-journal waiters are aborted and further allocation
// fails (spec §4.6, §7).
func (a *Allocator) EnterReadOnly(cause error) {
	if a.readOnly {
		return
	}
	a.readOnly = true
	for _, s := range a.slabs {
		s.Journal.AbortWaiters(vdoerr.ErrReadOnly)
	}
	a.scrubber.abortWaiters(vdoerr.ErrReadOnly)
	if a.log != nil {
		a.log.WithError(cause).Error("allocator entering read-only mode")
	}
}

// IsReadOnly reports whether this allocator's read-only latch has
// tripped.
func (a *Allocator) IsReadOnly() bool { return a.readOnly }

// VIOPool exposes the allocator's VIO pool to the scrubber and depot
// action manager.
func (a *Allocator) VIOPool() *vio.Pool { return a.vioPool }

// ScrubNext recovers the next unrecovered slab, if any are queued and the
// scrubber is not quiescent. It is the public entry point the depot's
// prepare-to-allocate and scrub-all-unrecovered actions drive.
func (a *Allocator) ScrubNext() (bool, error) {
	return a.scrubber.ScrubNext()
}

// SetJournalReader wires the backing-store reader the scrubber uses to
// pull a slab's on-disk journal blocks.
func (a *Allocator) SetJournalReader(r JournalReader) {
	a.scrubber.SetJournalReader(r)
}

// SetSummaryChecker wires the slab-summary clean-bit lookup the scrubber
// uses to skip I/O for already-flushed slabs.
func (a *Allocator) SetSummaryChecker(c SummaryChecker) {
	a.scrubber.SetSummaryChecker(c)
}

// SetOnAllRecovered installs the callback the scrubber fires the moment
// this zone's scrubbing fully drains (spec §4.6: feeds the depot-wide
// RECOVERING -> DIRTY compare-exchange once every zone has finished).
func (a *Allocator) SetOnAllRecovered(f func()) {
	a.scrubber.SetOnAllRecovered(f)
}

// SetScrubProgress wires a progress-bar handle the scrubber increments
// once per slab it finishes recovering.
func (a *Allocator) SetScrubProgress(p tracer.Progress) {
	a.scrubber.SetProgress(p)
}

// AdminState returns the allocator's current lifecycle state.
func (a *Allocator) AdminState() slab.AdminState { return a.adminState }

// StartDrain begins the sequential drain described in spec §4.6:
// SCRUBBER -> SLABS -> SUMMARY -> FINISHED. It records op as the admin
// state and resets the drain to its first step; AdvanceDrain then runs
// the steps one call at a time.
func (a *Allocator) StartDrain(op slab.AdminState) {
	a.adminState = op
	a.drainStep = DrainScrubber
}

// AdvanceDrain runs the current drain step and advances to the next one.
// summaryFlush is invoked once, when the SUMMARY step runs, to flush any
// pending slab-summary writes. Returns true once FINISHED is reached.
func (a *Allocator) AdvanceDrain(summaryFlush func()) bool {
	switch a.drainStep {
	case DrainScrubber:
		a.scrubber.stop()
		a.drainStep = DrainSlabs
	case DrainSlabs:
		// nothing further to quiesce once the scrubber has stopped
		// issuing new reads; outstanding journal commits drain via
		// their own waiters.
		a.drainStep = DrainSummary
	case DrainSummary:
		if summaryFlush != nil {
			summaryFlush()
		}
		a.drainStep = DrainFinished
	case DrainFinished:
		return true
	}
	return a.drainStep == DrainFinished
}

// Resume reverses the drain steps, idempotently, returning true once the
// allocator is back to normal operation.
func (a *Allocator) Resume() bool {
	switch a.drainStep {
	case DrainFinished:
		a.drainStep = DrainSummary
	case DrainSummary:
		a.drainStep = DrainSlabs
	case DrainSlabs:
		a.drainStep = DrainScrubber
	case DrainScrubber:
		a.scrubber.resume()
		a.adminState = slab.AdminNormal
		return true
	}
	return false
}
