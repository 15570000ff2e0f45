package slab

import (
	"github.com/vdo-go/depot/pkg/refcounts"
	"github.com/vdo-go/depot/pkg/sjournal"
)

// Slab is the in-memory state of one slab (spec §3): a contiguous range of
// PBNs with an associated reference counter and slab journal.
type Slab struct {
	Number        uint64
	StartPBN      PBN
	EndPBN        PBN
	JournalOrigin PBN
	Priority      int
	Status        Status
	AllocatorZone uint32
	AdminState    AdminState

	Journal          *sjournal.Journal
	ReferenceCounts  *refcounts.Counter
}

// New constructs slab number number covering [startPBN,
// startPBN+cfg.SlabBlocks), owned by the allocator of physical zone zone.
func New(number uint64, startPBN PBN, cfg Config, zone uint32, nonce uint64, commit func(seq uint64)) *Slab {
	return &Slab{
		Number:          number,
		StartPBN:        startPBN,
		EndPBN:          startPBN + PBN(cfg.SlabBlocks),
		JournalOrigin:   startPBN + PBN(cfg.DataBlocks+cfg.RefCountBlocks),
		Status:          StatusRequiresScrubbing,
		AllocatorZone:   zone,
		Journal:         sjournal.New(nonce, int(cfg.JournalBlocks), int(cfg.FlushingThreshold), int(cfg.BlockingThreshold), commit),
		ReferenceCounts: refcounts.New(int64(cfg.DataBlocks)),
	}
}

// FreeBlockCount returns the number of unreferenced data blocks in the
// slab. Invariant (spec §3): this never exceeds the configured
// DataBlocks.
func (s *Slab) FreeBlockCount() int64 {
	return s.ReferenceCounts.FreeBlocks()
}

// IsUnrecovered reports whether the slab still needs scrubbing (or
// rebuilding/replaying) before it can serve allocations.
func (s *Slab) IsUnrecovered() bool {
	return s.Status != StatusRebuilt
}

// Open transitions a scrubbed slab into the REBUILT status so it can
// become the open slab, resetting nothing about its counters: the caller
// (the allocator) is responsible for resetting the search cursor and any
// dirtying-all-reference-blocks behavior described in spec §4.6.
func (s *Slab) Open() {
	s.Status = StatusRebuilt
}
