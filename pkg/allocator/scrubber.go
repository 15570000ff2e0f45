package allocator

import (
	"github.com/pkg/errors"

	"github.com/vdo-go/depot/pkg/refcounts"
	"github.com/vdo-go/depot/pkg/sjournal"
	"github.com/vdo-go/depot/pkg/slab"
	"github.com/vdo-go/depot/pkg/tracer"
	"github.com/vdo-go/depot/pkg/vio"
	"github.com/vdo-go/depot/pkg/waiter"
)

// DecodedBlock is one slab-journal block read back off disk during
// scrubbing, decoded into the entries it carries.
type DecodedBlock struct {
	Sequence uint64
	Entries  []sjournal.Entry
}

// JournalReader reads and decodes a slab's on-disk journal blocks from
// Journal.Head() through Journal.Tail(), using v as scratch space for the
// I/O. It is supplied by whatever owns the backing store; the scrubber
// itself only knows how to replay the decoded entries.
type JournalReader interface {
	ReadSlabJournal(s *slab.Slab, v *vio.VIO) ([]DecodedBlock, error)
}

// SummaryChecker reports whether a slab summary entry already marks a
// slab's journal as clean (tail block offset == 0), letting the scrubber
// skip the I/O entirely and rebuild it immediately (spec §4.6: "if the
// journal is clean per the summary, mark the slab REBUILT immediately").
type SummaryChecker interface {
	IsClean(slabNumber uint64) bool
}

// Scrubber drives one allocator's recovery of its unrecovered slabs (spec
// §4.6): two FIFOs (high-priority first), reading each slab's journal with
// a pooled VIO, replaying its entries into the slab's reference counts,
// and handing the slab back to the allocator once REBUILT.
type Scrubber struct {
	allocator *Allocator

	highPriority []*slab.Slab
	normal       []*slab.Slab

	reader  JournalReader
	summary SummaryChecker

	cleanSlabWaiters waiter.Queue

	progress tracer.Progress

	stopped   bool
	scrubbing bool

	// onAllRecovered fires exactly once, the moment both FIFOs drain and
	// no scrub is outstanding, so the depot can perform its
	// RECOVERING -> DIRTY compare-exchange on the VDO superblock state
	// once every allocator's zone has finished (spec §4.6, §4.8).
	onAllRecovered func()
	signaledDone   bool
}

func newScrubber(a *Allocator) *Scrubber {
	return &Scrubber{allocator: a}
}

// SetJournalReader wires the backing-store reader used to pull a slab's
// on-disk journal blocks during scrubbing. Left nil, scrub_next_slab
// falls back to trusting the SummaryChecker (or, absent one too, assumes
// the slab's in-memory journal is already authoritative — the case for
// slabs scrubbed purely from state reconstructed during full rebuild).
func (s *Scrubber) SetJournalReader(r JournalReader) { s.reader = r }

// SetSummaryChecker wires the slab summary lookup used to skip scrubbing
// a slab whose journal is already known to be clean.
func (s *Scrubber) SetSummaryChecker(c SummaryChecker) { s.summary = c }

// SetOnAllRecovered installs the callback invoked once scrubbing has
// fully drained.
func (s *Scrubber) SetOnAllRecovered(f func()) { s.onAllRecovered = f }

// SetProgress wires a progress-bar handle incremented once per slab
// ScrubNext finishes recovering. Left nil, scrubbing reports nothing.
func (s *Scrubber) SetProgress(p tracer.Progress) { s.progress = p }

// register places slab on the appropriate FIFO, per spec §4.6's
// register_slab_for_scrubbing: high-priority slabs (those a waiter is
// actively blocked on) jump ahead of ordinary ones.
func (s *Scrubber) register(sl *slab.Slab, highPriority bool) {
	s.signaledDone = false
	if highPriority {
		sl.Status = slab.StatusRequiresHighPriorityScrubbing
		s.highPriority = append(s.highPriority, sl)
	} else {
		sl.Status = slab.StatusRequiresScrubbing
		s.normal = append(s.normal, sl)
	}
}

// hasWork reports whether any slab is queued or currently being scrubbed.
func (s *Scrubber) hasWork() bool {
	return len(s.highPriority) > 0 || len(s.normal) > 0 || s.scrubbing
}

func (s *Scrubber) isQuiescent() bool { return s.stopped }

// enqueueCleanSlabWaiter queues w to be notified (with nil error) the next
// time any slab finishes scrubbing.
func (s *Scrubber) enqueueCleanSlabWaiter(w waiter.Waiter) {
	s.cleanSlabWaiters.Enqueue(w)
}

// abortWaiters fails every waiter blocked on a clean slab becoming
// available, used when the allocator enters read-only mode.
func (s *Scrubber) abortWaiters(err error) {
	s.cleanSlabWaiters.NotifyAll(err)
}

// stop marks the scrubber quiescent: no further slabs will be popped from
// the FIFOs until resume is called. Already-registered slabs remain
// queued.
func (s *Scrubber) stop() { s.stopped = true }

// resume clears the quiescent latch so ScrubNext can make progress again.
func (s *Scrubber) resume() { s.stopped = false }

func (s *Scrubber) popNext() (*slab.Slab, bool) {
	if len(s.highPriority) > 0 {
		sl := s.highPriority[0]
		s.highPriority = s.highPriority[1:]
		return sl, true
	}
	if len(s.normal) > 0 {
		sl := s.normal[0]
		s.normal = s.normal[1:]
		return sl, true
	}
	return nil, false
}

// ScrubNext pops the next unrecovered slab (high-priority FIFO first) and
// recovers it, either by trusting the slab summary's clean bit or by
// reading and replaying its on-disk journal entries, implementing spec
// §4.6's scrub_next_slab. It is a no-op returning (false, nil) if the
// scrubber is stopped or has nothing queued.
func (s *Scrubber) ScrubNext() (bool, error) {
	if s.stopped {
		return false, nil
	}
	sl, ok := s.popNext()
	if !ok {
		s.signalDoneIfDrained()
		return false, nil
	}

	s.scrubbing = true
	defer func() { s.scrubbing = false }()

	if s.summary != nil && s.summary.IsClean(sl.Number) {
		s.finishSlab(sl)
		return true, nil
	}

	if s.reader == nil {
		// No backing store wired (e.g. a full-rebuild pass already
		// reconstructed this slab's counters from the block map):
		// trust the in-memory state as-is.
		s.finishSlab(sl)
		return true, nil
	}

	v, acquired := s.allocator.vioPool.Acquire(waiter.Func(func(err error) {
		// retried from Release's synchronous hand-off below; nothing
		// to do here, ScrubNext itself drives the retry loop.
	}))
	if !acquired {
		// put the slab back at the front of its queue and wait for a
		// VIO to free up; the allocator's caller is expected to retry
		// ScrubNext once woken.
		s.requeueFront(sl)
		s.scrubbing = false
		return false, nil
	}
	defer s.allocator.vioPool.Release(v)

	blocks, err := s.reader.ReadSlabJournal(sl, v)
	if err != nil {
		s.allocator.EnterReadOnly(errors.Wrapf(err, "scrubbing slab %d", sl.Number))
		return false, err
	}

	for _, b := range blocks {
		for i, e := range b.Entries {
			point := refcounts.JournalPoint{Sequence: b.Sequence, EntryCount: uint16(i + 1)}
			if rerr := sl.ReferenceCounts.ReplayChange(e.SlabBlockNumber, e.Operation, point); rerr != nil {
				s.allocator.EnterReadOnly(errors.Wrapf(rerr, "replaying slab %d journal", sl.Number))
				return false, rerr
			}
		}
	}

	s.finishSlab(sl)
	return true, nil
}

func (s *Scrubber) requeueFront(sl *slab.Slab) {
	if sl.Status == slab.StatusRequiresHighPriorityScrubbing {
		s.highPriority = append([]*slab.Slab{sl}, s.highPriority...)
	} else {
		s.normal = append([]*slab.Slab{sl}, s.normal...)
	}
}

func (s *Scrubber) finishSlab(sl *slab.Slab) {
	sl.Status = slab.StatusRebuilt
	s.allocator.EnqueueForAllocation(sl)
	s.cleanSlabWaiters.NotifyNext(nil)
	if s.progress != nil {
		s.progress.Increment(1)
	}
	s.signalDoneIfDrained()
}

func (s *Scrubber) signalDoneIfDrained() {
	if s.signaledDone || s.hasWork() {
		return
	}
	s.signaledDone = true
	if s.onAllRecovered != nil {
		s.onAllRecovered()
	}
}
