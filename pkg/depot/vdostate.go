package depot

import "sync/atomic"

// VDOState is the single depot-wide lifecycle cell spec §9 singles out
// as the one place an atomic compare-exchange is warranted: every
// zone's scrubber races to be the one that observes "last zone
// recovered" and flips it from RECOVERING to DIRTY (spec §4.6, §5).
type VDOState int32

const (
	VDOStateRecovering VDOState = iota
	VDOStateDirty
)

func (s VDOState) String() string {
	switch s {
	case VDOStateRecovering:
		return "recovering"
	case VDOStateDirty:
		return "dirty"
	default:
		return "unknown"
	}
}

// VDOState returns the depot's current global lifecycle state.
func (d *Depot) VDOState() VDOState {
	return VDOState(atomic.LoadInt32(&d.vdoState))
}

// MarkRecoveryComplete performs the RECOVERING -> DIRTY compare-exchange
// from spec §4.6. It is exposed directly for recovery's journal-replay
// path, which has its own "recovery complete" event independent of any
// zone's scrubber. Returns whether this call was the one that won.
func (d *Depot) MarkRecoveryComplete() bool {
	return atomic.CompareAndSwapInt32(&d.vdoState, int32(VDOStateRecovering), int32(VDOStateDirty))
}

// zoneRecovered implements spec §4.6/§9's "last zone to finish
// scrubbing" check: zonesPending starts at zone_count and each zone's
// scrubber decrements it exactly once, when that zone's onAllRecovered
// fires. Only the zone whose decrement reaches zero was the last one,
// so only it attempts the RECOVERING -> DIRTY compare-exchange.
func (d *Depot) zoneRecovered() {
	if atomic.AddInt32(&d.zonesPending, -1) != 0 {
		return
	}
	if d.MarkRecoveryComplete() && d.log != nil {
		d.log.Info("recovery complete: depot state RECOVERING -> DIRTY")
	}
}
