// Package ptable implements the Priority Table from spec §4.2: a fixed
// maximum priority, one FIFO list per priority level, and a bitmap
// tracking which priority levels are non-empty so dequeue can find the
// highest set bit without scanning every level.
package ptable

import "math/bits"

// MaxEntries bounds the table's priority range: priorities run
// [0, MaxEntries). A ring entry's identity is caller-defined (the slab
// depot keys entries by slab number); the table only needs to move opaque
// values between its own FIFO lists.
const MaxEntries = 64

type entry struct {
	value interface{}
	prev  *entry
	next  *entry
}

// Table is a priority queue of opaque values, O(1) on both enqueue and
// dequeue-highest.
type Table struct {
	maxPriority int
	buckets     []bucket
	bitmap      uint64
	// Remove locates an entry through the Handle returned by Enqueue,
	// first walking that priority's list to check it is still linked.
}

type bucket struct {
	head *entry
	tail *entry
}

// Handle identifies a previously enqueued value, returned by Enqueue and
// consumed by Remove.
type Handle struct {
	priority int
	e        *entry
}

// New returns a table supporting priorities in [0, maxPriority).
// maxPriority must be <= 64 (the bitmap's width).
func New(maxPriority int) *Table {
	if maxPriority > 64 {
		maxPriority = 64
	}
	return &Table{
		maxPriority: maxPriority,
		buckets:     make([]bucket, maxPriority),
	}
}

// IsEmpty reports whether the table holds no entries at any priority.
// Invariant (spec §8.7): IsEmpty() <=> bitmap == 0.
func (t *Table) IsEmpty() bool {
	return t.bitmap == 0
}

// Enqueue appends value to the FIFO list for priority and returns a handle
// that can later be passed to Remove. priority must be in
// [0, maxPriority); out-of-range priorities are clamped into range so a
// caller's slightly-miscalculated priority never panics or silently drops
// the entry.
func (t *Table) Enqueue(priority int, value interface{}) Handle {
	priority = t.clamp(priority)

	e := &entry{value: value}
	b := &t.buckets[priority]
	if b.tail == nil {
		b.head = e
		b.tail = e
	} else {
		e.prev = b.tail
		b.tail.next = e
		b.tail = e
	}
	t.bitmap |= 1 << uint(priority)

	return Handle{priority: priority, e: e}
}

func (t *Table) clamp(priority int) int {
	if priority < 0 {
		return 0
	}
	if priority >= t.maxPriority {
		return t.maxPriority - 1
	}
	return priority
}

// Dequeue removes and returns the value at the head of the highest
// non-empty priority's FIFO list. ok is false if the table is empty.
func (t *Table) Dequeue() (value interface{}, ok bool) {
	if t.bitmap == 0 {
		return nil, false
	}
	priority := bits.Len64(t.bitmap) - 1
	b := &t.buckets[priority]
	e := b.head
	t.unlink(priority, e)
	return e.value, true
}

// Remove removes an arbitrary, previously enqueued entry identified by h.
// It is a no-op if the entry has already been removed.
func (t *Table) Remove(h Handle) {
	b := &t.buckets[h.priority]
	// validate the entry is still linked into this bucket
	found := false
	for e := b.head; e != nil; e = e.next {
		if e == h.e {
			found = true
			break
		}
	}
	if !found {
		return
	}
	t.unlink(h.priority, h.e)
}

func (t *Table) unlink(priority int, e *entry) {
	b := &t.buckets[priority]

	if e.prev != nil {
		e.prev.next = e.next
	} else {
		b.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		b.tail = e.prev
	}
	e.prev = nil
	e.next = nil

	if b.head == nil {
		t.bitmap &^= 1 << uint(priority)
	}
}
