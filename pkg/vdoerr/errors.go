// Package vdoerr defines the sentinel error kinds shared across the slab
// depot and recovery pipeline (see spec §7, "Error Handling Design").
//
// These are kinds, not types: callers compare with errors.Is and wrap with
// github.com/pkg/errors to attach context, the same way pkg/ext4 declares
// sentinel failures with errors.New and lets callers wrap them.
package vdoerr

import "errors"

var (
	// ErrNoSpace is returned when a slab (or the whole depot) has no free
	// block available right now. It is not necessarily permanent: a
	// waiter enqueued via EnqueueCleanSlabWaiter may still succeed once a
	// slab finishes scrubbing.
	ErrNoSpace = errors.New("vdo: no space")

	// ErrOutOfRange is returned when a PBN falls outside the configured
	// data range of its slab.
	ErrOutOfRange = errors.New("vdo: block number out of range")

	// ErrRefCountInvalid is returned for illegal reference-count
	// transitions: decrementing an already-empty counter, incrementing a
	// shared counter past MaxShared, or a block-map increment applied
	// to a free or singly-referenced counter.
	ErrRefCountInvalid = errors.New("vdo: invalid reference count adjustment")

	// ErrCorruptJournal marks structural damage found while scanning a
	// recovery-journal or slab-journal block: a bad nonce, an
	// out-of-sequence block, an unrecognized operation code, or an entry
	// slot outside its block's bounds.
	ErrCorruptJournal = errors.New("vdo: corrupt journal")

	// ErrChecksumMismatch is returned when a super-block's or geometry
	// block's checksum does not match its encoded payload.
	ErrChecksumMismatch = errors.New("vdo: checksum mismatch")

	// ErrUnsupportedVersion is returned when a decoded record's version
	// is one this build does not know how to read.
	ErrUnsupportedVersion = errors.New("vdo: unsupported version")

	// ErrIncorrectComponent is returned when a decoded header's id does
	// not match the component being decoded.
	ErrIncorrectComponent = errors.New("vdo: incorrect component id")

	// ErrBadConfiguration is returned for a slab (or depot) configuration
	// that violates its invariants: non-power-of-two slab size, a
	// journal that does not fit within the slab, thresholds out of
	// order.
	ErrBadConfiguration = errors.New("vdo: bad configuration")

	// ErrIncrementTooSmall is returned when a requested depot growth
	// would add less than one whole slab.
	ErrIncrementTooSmall = errors.New("vdo: growth increment too small")

	// ErrReadOnly is returned once the process-wide read-only latch has
	// been tripped: all subsequent writes, and every waiter outstanding
	// at the time of the transition, fail with this error.
	ErrReadOnly = errors.New("vdo: read-only")

	// ErrParameterMismatch is returned when caller-supplied geometry
	// disagrees with the geometry recorded on disk.
	ErrParameterMismatch = errors.New("vdo: parameter mismatch")
)
