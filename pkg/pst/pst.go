// Package pst implements the prunable segment tree described in spec §4.1:
// a balanced BST built once over a sorted array of variable-length
// segments, supporting offset lookup and O(depth) pruning without
// reshaping the tree.
//
// Node offsets are stored relative to the start of the node's own
// subtree coverage (root-relative at the root itself), the same "keep the shape,
// adjust the keys" trick the teacher's ext4 planner uses for block-group
// layout math (pkg/ext4/layout.go): never rebuild, only recompute the
// small amount of state pruning invalidates.
package pst

import "fmt"

// Segment is one entry of the array the tree is built from.
type Segment struct {
	Length  int64
	Payload interface{}
}

type node struct {
	// nodeOffset is this node's segment start, relative to the start of
	// the range its subtree covers (at the root, absolute zero); it is
	// the total length of the left subtree.
	nodeOffset int64
	length     int64
	payload    interface{}
	left       *node
	right      *node
	parent     *node
	pruned     bool
}

// Tree is a prunable segment tree built once from a sorted, contiguous
// array of segments.
type Tree struct {
	root  *node
	total int64 // sum of original (pre-prune) lengths, for bounds checks
}

// Build constructs a tree over segs, which must be given in the order the
// segments appear along the covered range (segs[0] starts at offset 0).
func Build(segs []Segment) *Tree {
	t := &Tree{}
	for _, s := range segs {
		t.total += s.Length
	}
	if len(segs) == 0 {
		return t
	}
	t.root = build(segs, 0, nil)
	return t
}

// build recursively places the segment straddling the midpoint of
// [lo, hi) at the current node, then recurses left and right. segs is the
// full segment slice; lo/hi are indices into it.
func build(segs []Segment, lo int, parent *node) *node {
	return buildRange(segs, lo, len(segs), parent, 0)
}

// buildRange builds the subtree covering segs[lo:hi], where those segments
// begin at absolute offset base.
func buildRange(segs []Segment, lo, hi int, parent *node, base int64) *node {
	if lo >= hi {
		return nil
	}

	// locate the offset range covered by segs[lo:hi]
	var start int64
	for i := 0; i < lo; i++ {
		start += segs[i].Length
	}
	var span int64
	for i := lo; i < hi; i++ {
		span += segs[i].Length
	}
	mid := start + span/2

	// find the segment straddling mid
	cursor := start
	idx := lo
	for idx < hi-1 && cursor+segs[idx].Length <= mid {
		cursor += segs[idx].Length
		idx++
	}

	n := &node{
		nodeOffset: cursor - start,
		length:     segs[idx].Length,
		payload:    segs[idx].Payload,
		parent:     parent,
	}

	n.left = buildRange(segs, lo, idx, n, start)
	n.right = buildRange(segs, idx+1, hi, n, cursor+segs[idx].Length)

	return n
}

// leftCoverageEnd returns the absolute end offset of the left subtree's
// coverage (segs[lo:idx]), i.e. the point nodeOffset is relative to.
func leftCoverageEnd(segs []Segment, lo, idx int) int64 {
	var start int64
	for i := 0; i < lo; i++ {
		start += segs[i].Length
	}
	for i := lo; i < idx; i++ {
		start += segs[i].Length
	}
	return start
}

// Search returns the segment covering the given absolute offset, i.e. the
// segment i such that sum(lengths[0:i]) <= offset < sum(lengths[0:i+1]),
// where a pruned segment counts with length zero: after a Prune, every
// later segment resolves at offsets lowered by the pruned length, and the
// pruned segment itself is never returned.
func (t *Tree) Search(offset int64) (payload interface{}, found bool) {
	if offset < 0 || (t.root == nil) {
		return nil, false
	}

	n := t.root
	rel := offset
	var leftBase int64 // absolute offset that nodeOffset is relative to, accumulated while descending

	for n != nil {
		nodeStart := leftBase + n.nodeOffset
		nodeEnd := nodeStart + n.length

		switch {
		case !n.pruned && rel >= nodeStart && rel < nodeEnd:
			return n.payload, true
		case rel < nodeStart:
			n = n.left
			// leftBase unchanged: left subtree's coverage ends at nodeStart's
			// base, which left children's own nodeOffset is relative to.
		default:
			leftBase = nodeEnd
			n = n.right
		}
	}

	return nil, false
}

// absoluteOffset walks the located node to the root, starting from the
// node's own nodeOffset and adding each ancestor's nodeOffset and length
// when coming up from the right, to recompute the current absolute start
// of a node found via Search. Kept for diagnostics of the offset
// bookkeeping invariant.
func (t *Tree) absoluteOffset(n *node) int64 {
	off := n.nodeOffset
	cur := n
	for cur.parent != nil {
		p := cur.parent
		if p.right == cur {
			off += p.nodeOffset + p.length
		}
		cur = p
	}
	return off
}

// Prune removes the segment covering offset from future Search results by
// zeroing its length and subtracting that length from every left-ancestor
// still keyed relative to it, in O(depth). The removed payload is
// returned.
func (t *Tree) Prune(offset int64) (payload interface{}, ok error) {
	n, target := t.find(offset)
	if n == nil {
		return nil, fmt.Errorf("pst: no segment covers offset %d", offset)
	}
	_ = target

	removed := n.length
	n.pruned = true
	n.length = 0

	cur := n
	for cur.parent != nil {
		p := cur.parent
		if p.left == cur {
			p.nodeOffset -= removed
		}
		cur = p
	}

	return n.payload, nil
}

// find locates the node covering offset, ignoring already-pruned status,
// returning both the node and its (pre-prune) absolute start.
func (t *Tree) find(offset int64) (*node, int64) {
	n := t.root
	leftBase := int64(0)
	for n != nil {
		nodeStart := leftBase + n.nodeOffset
		nodeEnd := nodeStart + n.length
		switch {
		case !n.pruned && offset >= nodeStart && offset < nodeEnd:
			return n, nodeStart
		case offset < nodeStart:
			n = n.left
		default:
			leftBase = nodeEnd
			n = n.right
		}
	}
	return nil, 0
}
