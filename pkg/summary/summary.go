// Package summary implements the per-zone Slab Summary (spec §4.5): a
// small in-memory table, one entry per slab, recording enough state for
// the allocator to skip scrubbing slabs whose journal is already clean
// after a restart.
package summary

import (
	"github.com/vdo-go/depot/pkg/waiter"
)

// Entry is one slab's summary record (spec §3, GLOSSARY: "2 bytes:
// tail_block_offset:8, fullness_hint:6, load_ref_counts:1, is_dirty:1").
type Entry struct {
	TailBlockOffset uint8
	FullnessHint    uint8 // 6 bits: [0,64)
	LoadRefCounts   bool
	IsDirty         bool
}

// Encode packs e into the 2-byte on-disk representation.
func (e Entry) Encode() [2]byte {
	var b [2]byte
	b[0] = e.TailBlockOffset
	b[1] = e.FullnessHint & 0x3F
	if e.LoadRefCounts {
		b[1] |= 1 << 6
	}
	if e.IsDirty {
		b[1] |= 1 << 7
	}
	return b
}

// Decode unpacks the 2-byte on-disk representation into an Entry.
func Decode(b [2]byte) Entry {
	return Entry{
		TailBlockOffset: b[0],
		FullnessHint:    b[1] & 0x3F,
		LoadRefCounts:   b[1]&(1<<6) != 0,
		IsDirty:         b[1]&(1<<7) != 0,
	}
}

// pendingUpdate is one batched update awaiting a durability flush.
type pendingUpdate struct {
	slabNumber uint64
	entry      Entry
	w          waiter.Waiter
}

// Summary is the in-memory table of every slab's summary entry for one
// physical zone, batching writes and notifying callers once durable
// (spec §4.5).
type Summary struct {
	zone    uint32
	entries []Entry
	pending []pendingUpdate

	// write persists the batched pending updates; nil in tests that don't
	// care about the write path and just want in-memory batching/waiter
	// semantics exercised.
	write func(zone uint32, updates map[uint64]Entry) error
}

// New creates a summary table for nSlabs slabs on the given zone.
// write, if non-nil, is invoked by Flush to persist the batched pending
// updates to the summary partition.
func New(zone uint32, nSlabs int, write func(zone uint32, updates map[uint64]Entry) error) *Summary {
	return &Summary{
		zone:    zone,
		entries: make([]Entry, nSlabs),
		write:   write,
	}
}

// Get returns the current (possibly not-yet-durable) entry for slabNumber.
func (s *Summary) Get(slabNumber uint64) Entry {
	return s.entries[slabNumber]
}

// IsClean reports whether slabNumber's journal is, per the summary,
// already flushed and clean (tail_block_offset == 0, not dirty) — the
// condition the scrubber uses to skip I/O entirely (spec §4.6).
func (s *Summary) IsClean(slabNumber uint64) bool {
	e := s.entries[slabNumber]
	return !e.IsDirty && e.TailBlockOffset == 0
}

// UpdateSlabSummaryEntry batches a change to slabNumber's entry and
// queues w (if non-nil) to be notified once the change is durable,
// implementing spec §4.5's update_slab_summary_entry. The in-memory
// table is updated immediately so IsClean/Get reflect the new value
// right away; w only fires once Flush has run.
func (s *Summary) UpdateSlabSummaryEntry(slabNumber uint64, tailOffset uint8, loadRefCounts, isDirty bool, fullnessHint uint8, w waiter.Waiter) {
	e := Entry{
		TailBlockOffset: tailOffset,
		FullnessHint:    fullnessHint & 0x3F,
		LoadRefCounts:   loadRefCounts,
		IsDirty:         isDirty,
	}
	s.entries[slabNumber] = e
	s.pending = append(s.pending, pendingUpdate{slabNumber: slabNumber, entry: e, w: w})
}

// HasPending reports whether any batched update is awaiting a flush.
func (s *Summary) HasPending() bool { return len(s.pending) > 0 }

// Flush persists every pending update in one batch via the configured
// write function (or, if nil, treats the batch as immediately durable),
// then notifies every waiter queued since the last flush, in FIFO order.
func (s *Summary) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}

	batch := make(map[uint64]Entry, len(s.pending))
	for _, u := range s.pending {
		batch[u.slabNumber] = u.entry
	}

	var err error
	if s.write != nil {
		err = s.write(s.zone, batch)
	}

	pending := s.pending
	s.pending = nil
	for _, u := range pending {
		if u.w != nil {
			u.w.Notify(err)
		}
	}
	return err
}

// Load replaces the whole table, e.g. after reading the summary
// partition back from disk at depot load time.
func (s *Summary) Load(entries []Entry) {
	s.entries = entries
}

// Snapshot returns a copy of every entry, for encoding the summary back
// out to its partition.
func (s *Summary) Snapshot() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
