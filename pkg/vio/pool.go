// Package vio provides the "VIO pool" shared resource described in spec
// §5: a bounded set of preallocated scratch buffers an allocator hands out
// to whatever needs to read or write one block's worth of metadata (a
// slab-journal block during scrubbing, a reference block during
// writeback). Acquire blocks on a waiter.Queue when the pool is exhausted;
// Release hands the freed buffer straight to the next waiter or returns it
// to the free list.
//
// Per spec §5, "All acquire/release must occur on the pool's owning
// thread" — this package does no locking of its own, the same way
// pkg/ptable and pkg/waiter don't; callers on different threads must not
// share a Pool.
package vio

import (
	"io"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio"

	"github.com/vdo-go/depot/pkg/waiter"
)

// VIO is one pooled scratch buffer, sized to hold exactly one block. It
// wraps a djherbis/nio.Buffer so a reader draining a block already written
// by a prior I/O can start consuming bytes before later writes land,
// mirroring how the teacher streams package content through the same pair
// of packages in pkg/vpkg.
type VIO struct {
	pool      *Pool
	blockSize int
	rw        nio.ReadWriter
}

// Bytes reads the VIO's full contents into a freshly-allocated slice of
// length BlockSize, for callers (like the slab journal codec) that want a
// plain []byte to decode.
func (v *VIO) Bytes() ([]byte, error) {
	buf := make([]byte, v.blockSize)
	_, err := io.ReadFull(v.rw, buf)
	return buf, err
}

// Write implements io.Writer against the VIO's backing buffer.
func (v *VIO) Write(p []byte) (int, error) {
	return v.rw.Write(p)
}

// Read implements io.Reader against the VIO's backing buffer.
func (v *VIO) Read(p []byte) (int, error) {
	return v.rw.Read(p)
}

// Reset clears any data in the VIO's backing buffer so it can be reused
// for an unrelated block without leaking the previous block's contents.
func (v *VIO) Reset() {
	v.rw = nio.NewBuffer(buffer.New(int64(v.blockSize)))
}

// Pool is a bounded pool of VIOs, one per physical allocator (spec §5,
// "VIO pool per allocator").
type Pool struct {
	blockSize int
	capacity  int
	free      []*VIO
	waiters   waiter.Queue
	// issued counts VIOs currently checked out, for diagnostics.
	issued int
}

// NewPool preallocates capacity VIOs of blockSize bytes each.
func NewPool(capacity, blockSize int) *Pool {
	p := &Pool{blockSize: blockSize, capacity: capacity}
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, p.newVIO())
	}
	return p
}

func (p *Pool) newVIO() *VIO {
	return &VIO{
		pool:      p,
		blockSize: p.blockSize,
		rw:        nio.NewBuffer(buffer.New(int64(p.blockSize))),
	}
}

// Capacity returns the total number of VIOs owned by the pool.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Outstanding returns the number of VIOs currently checked out.
func (p *Pool) Outstanding() int {
	return p.issued
}

// Acquire hands out a free VIO synchronously if one is available. If the
// pool is exhausted, w is enqueued and will be notified (via
// waiter.Waiter.Notify) once a VIO is released; Acquire itself returns
// (nil, false) in that case and the caller must retry acquisition from
// within its Notify callback.
func (p *Pool) Acquire(w waiter.Waiter) (*VIO, bool) {
	if len(p.free) == 0 {
		p.waiters.Enqueue(w)
		return nil, false
	}
	v := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.issued++
	return v, true
}

// Release returns v to the pool. If a waiter is queued, the VIO is handed
// directly to it (via a synthetic re-acquire) instead of going back onto
// the free list, so FIFO order among waiters is preserved.
func (p *Pool) Release(v *VIO) {
	v.Reset()
	p.issued--

	if p.waiters.IsEmpty() {
		p.free = append(p.free, v)
		return
	}

	// Hand the VIO straight to the next waiter: put it back on the free
	// list just long enough for the synchronous Acquire inside Notify to
	// pick it back up in FIFO order.
	p.free = append(p.free, v)
	p.waiters.NotifyNext(nil)
}
