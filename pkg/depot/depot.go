// Package depot implements the Slab Depot (spec §4.7): the composition
// of all of a VDO instance's block allocators, slab summary, and the
// fleet-wide action manager that drives load, drain, resume, and growth
// across every physical zone.
package depot

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vdo-go/depot/pkg/allocator"
	"github.com/vdo-go/depot/pkg/maxheap"
	"github.com/vdo-go/depot/pkg/slab"
	"github.com/vdo-go/depot/pkg/summary"
	"github.com/vdo-go/depot/pkg/tracer"
	"github.com/vdo-go/depot/pkg/vdoerr"
)

// Depot is the top-level composition described in spec §3: zone_count,
// slab_size_shift, first_block, last_block, the slab array, the
// allocator array, the summary, the action manager, and the two
// release-request counters used to gate tail-block-lock release.
type Depot struct {
	Config     slab.Config
	ZoneCount  uint32
	FirstBlock slab.PBN
	LastBlock  slab.PBN

	Slabs      []*slab.Slab
	Allocators []*allocator.Allocator
	Summaries  []*summary.Summary // one per zone

	actions *ActionManager

	NewReleaseRequest    uint64
	ActiveReleaseRequest uint64

	nonce        uint64
	log          logrus.FieldLogger
	view         tracer.Tracer
	vdoState     int32 // accessed only via VDOState/MarkRecoveryComplete
	zonesPending int32 // count of zones not yet reporting scrubbed, see zoneRecovered
}

// New constructs an empty depot spanning [firstBlock, firstBlock) —
// AddSlabs grows it — with one allocator and one summary table per
// zone.
func New(cfg slab.Config, zoneCount uint32, firstBlock slab.PBN, nonce uint64, log logrus.FieldLogger) *Depot {
	d := &Depot{
		Config:       cfg,
		ZoneCount:    zoneCount,
		FirstBlock:   firstBlock,
		LastBlock:    firstBlock,
		nonce:        nonce,
		log:          log,
		actions:      NewActionManager(int(zoneCount)),
		zonesPending: int32(zoneCount),
	}
	for z := uint32(0); z < zoneCount; z++ {
		al := allocator.New(z, zoneCount, 4096, 2, log)
		al.SetOnAllRecovered(d.zoneRecovered)
		d.Allocators = append(d.Allocators, al)
		d.Summaries = append(d.Summaries, summary.New(z, 0, nil))
	}
	return d
}

// Actions exposes the depot's action manager, e.g. so a test can step
// through scheduled actions directly.
func (d *Depot) Actions() *ActionManager { return d.actions }

// SetTracer wires the logging/progress collaborator used to report scrub
// and rebuild progress (spec's ambient "progress reporting during
// rebuild's block-map traversal and the scrubber's per-zone pass"). Left
// unset, scrubbing and growth proceed silently.
func (d *Depot) SetTracer(v tracer.Tracer) { d.view = v }

// zoneFor returns the physical zone a slab number belongs to (spec §3
// invariant 2: slab.allocator == allocators[slab.number mod zone_count]).
func (d *Depot) zoneFor(slabNumber uint64) uint32 {
	return uint32(slabNumber % uint64(d.ZoneCount))
}

// AddSlabs appends count new slabs to the depot, each assigned to the
// allocator owning its number mod zone_count, and grows every zone's
// summary table to match. New slabs start REQUIRES_SCRUBBING.
func (d *Depot) AddSlabs(count uint64) error {
	if count == 0 {
		return nil
	}

	slabBlocks := slab.PBN(d.Config.SlabBlocks)
	start := uint64(len(d.Slabs))

	for i := uint64(0); i < count; i++ {
		number := start + i
		startPBN := d.LastBlock
		commit := func(seq uint64) {} // no-op: slab-journal commits are not reported anywhere
		s := slab.New(number, startPBN, d.Config, d.zoneFor(number), d.nonce, commit)
		d.Slabs = append(d.Slabs, s)
		d.Allocators[d.zoneFor(number)].AddSlab(s)
		d.LastBlock += slabBlocks
	}

	for _, sm := range d.Summaries {
		sm.Load(append(sm.Snapshot(), make([]summary.Entry, count)...))
	}

	return nil
}

// PrepareToGrow stages a two-phase growth to newSlabCount total slabs
// (spec §4.7, "prepare_to_grow_slab_depot"). It returns the staged slabs
// without installing them; Commit installs them in one step. Fails with
// ErrIncrementTooSmall if newSlabCount would not add at least one slab.
type Growth struct {
	depot       *Depot
	staged      []*slab.Slab
	newLastBlk  slab.PBN
}

func (d *Depot) PrepareToGrow(newSlabCount uint64) (*Growth, error) {
	if newSlabCount <= uint64(len(d.Slabs)) {
		return nil, errors.Wrapf(vdoerr.ErrIncrementTooSmall,
			"requested slab count %d does not exceed current count %d", newSlabCount, len(d.Slabs))
	}

	slabBlocks := slab.PBN(d.Config.SlabBlocks)
	g := &Growth{depot: d, newLastBlk: d.LastBlock}
	for number := uint64(len(d.Slabs)); number < newSlabCount; number++ {
		s := slab.New(number, g.newLastBlk, d.Config, d.zoneFor(number), d.nonce, func(seq uint64) {})
		g.staged = append(g.staged, s)
		g.newLastBlk += slabBlocks
	}
	return g, nil
}

// Commit installs the staged slabs in a single step: renaming
// `new_slabs -> slabs` per spec §4.7.
func (g *Growth) Commit() {
	d := g.depot
	for _, s := range g.staged {
		d.Slabs = append(d.Slabs, s)
		d.Allocators[d.zoneFor(s.Number)].AddSlab(s)
	}
	for _, sm := range d.Summaries {
		sm.Load(append(sm.Snapshot(), make([]summary.Entry, len(g.staged))...))
	}
	d.LastBlock = g.newLastBlk
}

// ReleaseTailBlockLocks implements spec §4.7's "release tail-block
// locks" action: advance active_release_request to new_release_request,
// then force every slab journal whose lock (its last-applied recovery
// point) is at or behind the released recovery-journal block to flush,
// so the recovery journal can reclaim that block.
func (d *Depot) ReleaseTailBlockLocks() {
	d.ActiveReleaseRequest = d.NewReleaseRequest
	for _, s := range d.Slabs {
		if s.Journal.RecoveryPoint().Sequence <= d.ActiveReleaseRequest {
			s.Journal.Flush()
		}
	}
}

// AllocatedBlocks sums allocated blocks across every allocator,
// the left side of invariant 1 (spec §8): Σ_slab(data_blocks-free_blocks)
// == depot.allocated_blocks.
func (d *Depot) AllocatedBlocks() int64 {
	var total int64
	for _, a := range d.Allocators {
		total += a.AllocatedBlocks()
	}
	return total
}

// FreeBlocks sums free blocks across every allocator.
func (d *Depot) FreeBlocks() int64 {
	var total int64
	for _, a := range d.Allocators {
		total += a.FreeBlocks()
	}
	return total
}

// Stats is a point-in-time snapshot of depot-wide accounting, exposed to
// the CLI's `stats` command.
type Stats struct {
	SlabCount       int
	ZoneCount       uint32
	AllocatedBlocks int64
	FreeBlocks      int64
}

// Stats returns a snapshot of the depot's current accounting.
func (d *Depot) Stats() Stats {
	return Stats{
		SlabCount:       len(d.Slabs),
		ZoneCount:       d.ZoneCount,
		AllocatedBlocks: d.AllocatedBlocks(),
		FreeBlocks:      d.FreeBlocks(),
	}
}

// slabSortRecord adapts a slab into the maxheap.Interface contract for
// PrepareToAllocate's clean/empty-hint sort (spec §4.7: "sort all owned
// slabs by (clean, empty-hint) using the max-heap").
type slabSortRecord struct {
	slabs []*slab.Slab
}

func (r slabSortRecord) Len() int { return len(r.slabs) }

// Less ranks a clean (REBUILT) slab with a higher empty-hint (more free
// blocks) ahead of a dirtier or fuller one — this is a max-heap, so
// "more preferred" must compare greater.
func (r slabSortRecord) Less(i, j int) bool {
	a, b := r.slabs[i], r.slabs[j]
	aClean, bClean := a.Status == slab.StatusRebuilt, b.Status == slab.StatusRebuilt
	if aClean != bClean {
		return bClean
	}
	return a.FreeBlockCount() < b.FreeBlockCount()
}

func (r slabSortRecord) Swap(i, j int) { r.slabs[i], r.slabs[j] = r.slabs[j], r.slabs[i] }

// PrepareToAllocate implements spec §4.7's per-zone prepare-to-allocate
// step: sort the zone's slabs by (clean, empty-hint), enqueue the clean
// ones to the priority table, register the rest for scrubbing, then kick
// the scrubber by running one scrub immediately so a fully-clean zone
// doesn't sit idle waiting for an external trigger.
func (d *Depot) PrepareToAllocate(zone int) error {
	a := d.Allocators[zone]
	slabs := append([]*slab.Slab(nil), a.Slabs()...)

	rec := slabSortRecord{slabs: slabs}
	maxheap.Sort(rec)

	var toScrub int64
	for _, s := range slabs {
		if s.Status == slab.StatusRebuilt {
			a.EnqueueForAllocation(s)
		} else {
			highPriority := s.Status == slab.StatusRequiresHighPriorityScrubbing
			a.RegisterSlabForScrubbing(s, highPriority)
			toScrub++
		}
	}

	progress := d.startScrubProgress(zone, a, toScrub)
	for {
		scrubbed, err := a.ScrubNext()
		if err != nil {
			finishProgress(progress, false)
			return err
		}
		if !scrubbed {
			break
		}
	}
	finishProgress(progress, true)
	return nil
}

// startScrubProgress creates and wires a progress bar for a zone's scrub
// pass, or returns nil if no tracer is set or nothing needs scrubbing.
func (d *Depot) startScrubProgress(zone int, a *allocator.Allocator, count int64) tracer.Progress {
	if d.view == nil || count == 0 {
		return nil
	}
	p := d.view.NewProgress(fmt.Sprintf("scrubbing zone %d", zone), "", count)
	a.SetScrubProgress(p)
	return p
}

func finishProgress(p tracer.Progress, success bool) {
	if p != nil {
		p.Finish(success)
	}
}

// ScrubAllUnrecovered implements spec §4.7's "scrub-all-unrecovered":
// per-zone scrub launch with a NULL parent (non-high-priority), used
// e.g. after a normal-mode load to recover every slab still marked
// REQUIRES_SCRUBBING.
func (d *Depot) ScrubAllUnrecovered(zone int) error {
	a := d.Allocators[zone]
	var toScrub int64
	for _, s := range a.Slabs() {
		if s.IsUnrecovered() && s.Status != slab.StatusRequiresHighPriorityScrubbing {
			a.RegisterSlabForScrubbing(s, false)
			toScrub++
		}
	}
	progress := d.startScrubProgress(zone, a, toScrub)
	for {
		scrubbed, err := a.ScrubNext()
		if err != nil {
			finishProgress(progress, false)
			return err
		}
		if !scrubbed {
			break
		}
	}
	finishProgress(progress, true)
	return nil
}

// Drain advances every allocator's drain state machine by one step,
// returning true once every zone has reached FINISHED (spec §4.7,
// "drain with the allocator steps above").
func (d *Depot) Drain(op slab.AdminState, summaryFlush func(zone int)) bool {
	allDone := true
	for z, a := range d.Allocators {
		if a.AdminState() != op {
			a.StartDrain(op)
		}
		z := z
		if !a.AdvanceDrain(func() {
			if summaryFlush != nil {
				summaryFlush(z)
			}
		}) {
			allDone = false
		}
	}
	return allDone
}

// Resume reverses Drain across every allocator, returning true once
// every zone is back to normal.
func (d *Depot) Resume() bool {
	allDone := true
	for _, a := range d.Allocators {
		if !a.Resume() {
			allDone = false
		}
	}
	return allDone
}

// SortedSlabNumbers returns every slab number in ascending order, a
// small diagnostic helper mirroring the teacher's habit of exposing a
// stable iteration order for CLI output.
func (d *Depot) SortedSlabNumbers() []uint64 {
	out := make([]uint64, len(d.Slabs))
	for i, s := range d.Slabs {
		out[i] = s.Number
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
