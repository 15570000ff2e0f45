// Package pagecache defines the narrow BlockMapPageCache collaborator
// the recovery pipeline uses to fetch block-map pages during missing-
// decref synthesis and rebuild (spec §4.8 steps 5 and the Rebuild path).
// The full writeback/eviction machinery is out of scope (spec §1); this
// package specifies the minimal surface plus a reference in-memory
// implementation good enough to exercise and test against.
package pagecache

import (
	"github.com/pkg/errors"

	"github.com/vdo-go/depot/pkg/blockmap"
	"github.com/vdo-go/depot/pkg/slab"
	"github.com/vdo-go/depot/pkg/vdoerr"
	"github.com/vdo-go/depot/pkg/waiter"
)

// BlockMapPageCache is the collaborator the recovery pipeline depends on
// to read and write block-map pages by physical block number.
type BlockMapPageCache interface {
	GetPage(pbn slab.PBN) (*blockmap.Page, error)
	PutPage(pbn slab.PBN, p *blockmap.Page) error
}

// Memory is a BlockMapPageCache backed entirely by an in-memory map: the
// reference implementation for tests and for backing stores (like
// backingstore.QCOW2's write-back cache) that have no separate on-disk
// page-cache layer of their own.
type Memory struct {
	pages map[slab.PBN]*blockmap.Page

	// pending holds waiters suspended on a page not yet present, per
	// spec §5's "waiting on the block-map page cache" suspension point.
	pending map[slab.PBN]*waiter.Queue
}

// NewMemory returns an empty page cache.
func NewMemory() *Memory {
	return &Memory{
		pages:   make(map[slab.PBN]*blockmap.Page),
		pending: make(map[slab.PBN]*waiter.Queue),
	}
}

// GetPage implements BlockMapPageCache. It returns ErrOutOfRange if pbn
// has never been written, mirroring a cache miss on a page no loader has
// fetched yet rather than silently fabricating one.
func (m *Memory) GetPage(pbn slab.PBN) (*blockmap.Page, error) {
	p, ok := m.pages[pbn]
	if !ok {
		return nil, errors.Wrapf(vdoerr.ErrOutOfRange, "block-map page %d not resident", pbn)
	}
	return p, nil
}

// PutPage implements BlockMapPageCache, installing p at pbn and waking
// any waiter suspended on that page's arrival.
func (m *Memory) PutPage(pbn slab.PBN, p *blockmap.Page) error {
	m.pages[pbn] = p
	if q, ok := m.pending[pbn]; ok {
		q.NotifyAll(nil)
		delete(m.pending, pbn)
	}
	return nil
}

// EnqueueWaiterForPage suspends w until PutPage installs a page at pbn.
// If the page is already resident, w is notified immediately.
func (m *Memory) EnqueueWaiterForPage(pbn slab.PBN, w waiter.Waiter) {
	if _, ok := m.pages[pbn]; ok {
		w.Notify(nil)
		return
	}
	q, ok := m.pending[pbn]
	if !ok {
		q = &waiter.Queue{}
		m.pending[pbn] = q
	}
	q.Enqueue(w)
}
