// Package slab holds the data-model types shared by the reference
// counter, slab journal, allocator, and depot packages: the slab
// configuration, the PBN type, and the slab's own lifecycle state
// (spec §3).
package slab

import (
	"github.com/pkg/errors"

	"github.com/vdo-go/depot/pkg/vdoerr"
)

// PBN is a physical block number. Zero is reserved to mean
// "unmapped/zero" (spec §3).
type PBN uint64

// UnmappedPBN is the reserved sentinel value for "no mapping".
const UnmappedPBN PBN = 0

// Config describes the fixed geometry of every slab in a depot (spec §3,
// "Slab Configuration").
type Config struct {
	SlabBlocks        uint64
	DataBlocks        uint64
	RefCountBlocks    uint64
	JournalBlocks     uint64
	FlushingThreshold uint64
	BlockingThreshold uint64
	ScrubbingThreshold uint64
}

// Validate checks the invariants spec §3 places on a slab configuration:
// SlabBlocks is a power of two, it exactly partitions into data/refcount/
// journal blocks, and the three journal thresholds are non-decreasing and
// bounded by JournalBlocks.
func (c Config) Validate() error {
	if c.SlabBlocks == 0 || c.SlabBlocks&(c.SlabBlocks-1) != 0 {
		return errors.Wrapf(vdoerr.ErrBadConfiguration, "slab_blocks %d is not a power of two", c.SlabBlocks)
	}
	if c.DataBlocks+c.RefCountBlocks+c.JournalBlocks != c.SlabBlocks {
		return errors.Wrapf(vdoerr.ErrBadConfiguration,
			"data_blocks(%d) + ref_count_blocks(%d) + journal_blocks(%d) != slab_blocks(%d)",
			c.DataBlocks, c.RefCountBlocks, c.JournalBlocks, c.SlabBlocks)
	}
	if !(c.FlushingThreshold <= c.BlockingThreshold && c.BlockingThreshold <= c.ScrubbingThreshold && c.ScrubbingThreshold <= c.JournalBlocks) {
		return errors.Wrapf(vdoerr.ErrBadConfiguration,
			"thresholds out of order: flushing(%d) <= blocking(%d) <= scrubbing(%d) <= journal_blocks(%d) required",
			c.FlushingThreshold, c.BlockingThreshold, c.ScrubbingThreshold, c.JournalBlocks)
	}
	return nil
}

// Status is the recovery status of a single slab (spec §3).
type Status int

const (
	StatusRebuilt Status = iota
	StatusRequiresScrubbing
	StatusRequiresHighPriorityScrubbing
	StatusRebuilding
	StatusReplaying
)

func (s Status) String() string {
	switch s {
	case StatusRebuilt:
		return "rebuilt"
	case StatusRequiresScrubbing:
		return "requires-scrubbing"
	case StatusRequiresHighPriorityScrubbing:
		return "requires-high-priority-scrubbing"
	case StatusRebuilding:
		return "rebuilding"
	case StatusReplaying:
		return "replaying"
	default:
		return "unknown"
	}
}

// AdminState is the lifecycle state of a resource (allocator, depot, or
// zone) per the GLOSSARY and spec §6.
type AdminState int

const (
	AdminNormal AdminState = iota
	AdminLoading
	AdminLoadingForRecovery
	AdminLoadingForRebuild
	AdminFlushing
	AdminSaving
	AdminSuspending
	AdminRecovering
	AdminRebuilding
	AdminResuming
	AdminSuspendedOperation
)

func (a AdminState) String() string {
	switch a {
	case AdminNormal:
		return "normal"
	case AdminLoading:
		return "loading"
	case AdminLoadingForRecovery:
		return "loading-for-recovery"
	case AdminLoadingForRebuild:
		return "loading-for-rebuild"
	case AdminFlushing:
		return "flushing"
	case AdminSaving:
		return "saving"
	case AdminSuspending:
		return "suspending"
	case AdminRecovering:
		return "recovering"
	case AdminRebuilding:
		return "rebuilding"
	case AdminResuming:
		return "resuming"
	case AdminSuspendedOperation:
		return "suspended"
	default:
		return "unknown"
	}
}

// IsDraining reports whether a is one of the drain operations (spec §6:
// FLUSH, SAVING, SUSPENDING, RECOVERING, REBUILDING).
func (a AdminState) IsDraining() bool {
	switch a {
	case AdminFlushing, AdminSaving, AdminSuspending, AdminRecovering, AdminRebuilding:
		return true
	default:
		return false
	}
}

// IsQuiescent reports whether the resource has finished draining and is
// not actively loading or resuming.
func (a AdminState) IsQuiescent() bool {
	return a == AdminSuspendedOperation
}
