// Package maxheap implements an in-place max-heap over fixed-size records,
// driven by caller-supplied comparator and swapper callbacks rather than a
// fixed element type. This mirrors the spec's "Max-Heap over fixed-size
// records" component (system overview), used by the slab depot to order
// slabs by (clean, empty-hint) before prepare-to-allocate (§4.7).
package maxheap

// Interface is implemented by the caller's backing storage. Less reports
// whether the record at i should sort below the record at j (i.e. j is
// "greater" and should end up closer to the root); Swap exchanges the two
// records in place.
type Interface interface {
	Len() int
	Less(i, j int) bool
	Swap(i, j int)
}

// Heapify arranges h into max-heap order in place, in O(n).
func Heapify(h Interface) {
	n := h.Len()
	for i := n/2 - 1; i >= 0; i-- {
		siftDown(h, i, n)
	}
}

// Sort heap-sorts h in place in ascending order (by repeatedly extracting
// the maximum to the tail). Sort always builds the heap itself first, so h
// need not be heap-ordered beforehand.
func Sort(h Interface) {
	Heapify(h)
	n := h.Len()
	for end := n - 1; end > 0; end-- {
		h.Swap(0, end)
		siftDown(h, 0, end)
	}
}

// Push restores heap order after a new record has been appended at index
// n-1 (i.e. h.Len() now includes it).
func Push(h Interface) {
	siftUp(h, h.Len()-1)
}

// Pop swaps the root (the maximum) with the last element and restores heap
// order over the remaining n-1 elements; the caller is responsible for
// actually shrinking the backing storage afterward. Returns the index the
// former maximum now occupies (always n-1).
func Pop(h Interface) int {
	n := h.Len()
	last := n - 1
	h.Swap(0, last)
	siftDown(h, 0, last)
	return last
}

func siftDown(h Interface, root, n int) {
	for {
		child := 2*root + 1
		if child >= n {
			return
		}
		if right := child + 1; right < n && h.Less(child, right) {
			child = right
		}
		if !h.Less(root, child) {
			return
		}
		h.Swap(root, child)
		root = child
	}
}

func siftUp(h Interface, i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.Less(parent, i) {
			return
		}
		h.Swap(parent, i)
		i = parent
	}
}
