// Package waiter implements the FIFO "Waiter Queue" component from the
// spec's system overview: a queue of suspended callers, woken one at a
// time or all at once.
//
// Per the design notes (spec §9), the source's callbacks-as-completions
// control flow is not reproduced here as goroutines blocked on channels;
// instead a Waiter is just a callback invoked by whichever single-threaded
// resource owner later calls Notify/NotifyAll. This keeps every resource
// (a slab, an allocator, a zone) single-threaded per spec §5: the queue
// itself does no synchronization of its own, matching "touched only by the
// owning thread".
package waiter

// Waiter is a suspended caller. Notify is invoked exactly once, by the
// owning thread, when the caller's request can proceed or has failed.
type Waiter interface {
	Notify(err error)
}

// Func adapts a plain function to the Waiter interface.
type Func func(err error)

// Notify implements Waiter.
func (f Func) Notify(err error) { f(err) }

// Queue is a FIFO of waiters. The zero value is an empty, ready-to-use
// queue.
type Queue struct {
	items []Waiter
}

// Enqueue appends w to the tail of the queue.
func (q *Queue) Enqueue(w Waiter) {
	q.items = append(q.items, w)
}

// Len reports the number of suspended waiters.
func (q *Queue) Len() int {
	return len(q.items)
}

// IsEmpty reports whether the queue currently holds no waiters.
func (q *Queue) IsEmpty() bool {
	return len(q.items) == 0
}

// NotifyNext pops the head of the queue and notifies it with err,
// returning false if the queue was empty.
func (q *Queue) NotifyNext(err error) bool {
	if q.IsEmpty() {
		return false
	}
	w := q.items[0]
	q.items = q.items[1:]
	w.Notify(err)
	return true
}

// NotifyAll drains the entire queue, notifying every waiter with err, in
// FIFO order. Used for read-only transitions (spec §4.6, "Read-only
// notifications abort all slab-journal waiters across the allocator's
// slabs"), for releasing slab-journal addition waiters once the blocking
// threshold clears, and for waking every waiter on a page that has just
// become resident in pkg/pagecache.
func (q *Queue) NotifyAll(err error) {
	items := q.items
	q.items = nil
	for _, w := range items {
		w.Notify(err)
	}
}
