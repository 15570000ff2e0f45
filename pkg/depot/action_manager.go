package depot

// Action is one fleet-wide operation the depot can schedule (spec §9,
// "action manager (preamble -> per-zone action -> conclusion)"): an
// optional preamble runs once, then PerZone runs once per physical zone
// in order, then an optional conclusion runs once more. Any stage
// returning an error aborts the remaining stages.
type Action struct {
	Name       string
	Preamble   func() error
	PerZone    func(zone int) error
	Conclusion func() error
}

// ActionManager serializes depot-wide actions, running each one to
// completion (preamble, every zone, conclusion) before starting the
// next, mirroring the single-threaded cooperative model of spec §5: the
// admin thread drives one action at a time rather than overlapping them.
type ActionManager struct {
	zoneCount int
	scheduled []Action
}

// NewActionManager returns a manager that runs PerZone once per zone in
// [0, zoneCount).
func NewActionManager(zoneCount int) *ActionManager {
	return &ActionManager{zoneCount: zoneCount}
}

// Schedule enqueues an action. ScheduleDefaultAction is the gated variant
// release-request actions should use instead.
func (am *ActionManager) Schedule(a Action) {
	am.scheduled = append(am.scheduled, a)
}

// ScheduleDefaultAction enqueues a, but only if newRequest is strictly
// ahead of activeRequest — the gate described in spec §9 ("the 'schedule
// default action' is a gate comparing new_release_request vs
// active_release_request"). Returns whether it was actually scheduled.
func (am *ActionManager) ScheduleDefaultAction(a Action, newRequest, activeRequest uint64) bool {
	if newRequest <= activeRequest {
		return false
	}
	am.Schedule(a)
	return true
}

// Pending reports how many actions are queued.
func (am *ActionManager) Pending() int { return len(am.scheduled) }

// RunNext runs the oldest scheduled action to completion and removes it
// from the queue. Returns (false, nil) if nothing was queued.
func (am *ActionManager) RunNext() (bool, error) {
	if len(am.scheduled) == 0 {
		return false, nil
	}
	a := am.scheduled[0]
	am.scheduled = am.scheduled[1:]

	if a.Preamble != nil {
		if err := a.Preamble(); err != nil {
			return true, err
		}
	}
	if a.PerZone != nil {
		for z := 0; z < am.zoneCount; z++ {
			if err := a.PerZone(z); err != nil {
				return true, err
			}
		}
	}
	if a.Conclusion != nil {
		if err := a.Conclusion(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// RunAll drains the queue, running every scheduled action in order,
// stopping at the first error.
func (am *ActionManager) RunAll() error {
	for {
		ran, err := am.RunNext()
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}
