package fixation

import "math"

// Tracker is the bounded dwell tracking and eviction engine.
//
// It is not safe for concurrent use.
type Tracker struct {
	cfg        Config
	thresholds ThresholdTable
	bounds     Bounds

	// dwell holds every unit ever observed. Evicted units keep their key
	// with value 0 until pruned.
	dwell map[TextUnitID]float64

	// active is ordered by admission; len(active) <= cfg.Capacity.
	active []TextUnitID

	sincePrune float64
	stats      Stats
}

// New creates a Tracker. Invalid config values fall back to the defaults;
// a nil thresholds table disables every unit and nil bounds accept any
// non-negative index.
func New(cfg Config, thresholds ThresholdTable, bounds Bounds) *Tracker {
	def := DefaultConfig()
	if cfg.Capacity < 1 {
		cfg.Capacity = def.Capacity
	}
	if cfg.DecayRate < 0 || math.IsNaN(cfg.DecayRate) {
		cfg.DecayRate = def.DecayRate
	}
	if !(cfg.MaxDwell > 0) {
		cfg.MaxDwell = def.MaxDwell
	}
	if !(cfg.PruneInterval > 0) {
		cfg.PruneInterval = 0
	}
	return &Tracker{
		cfg:        cfg,
		thresholds: thresholds,
		bounds:     bounds,
		dwell:      make(map[TextUnitID]float64),
		active:     make([]TextUnitID, 0, cfg.Capacity),
	}
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config {
	return t.cfg
}

// SetDocument swaps the threshold table and bounds for a newly loaded
// document and clears all tracking state.
func (t *Tracker) SetDocument(thresholds ThresholdTable, bounds Bounds) {
	t.thresholds = thresholds
	t.bounds = bounds
	t.Reset()
}

// Reset clears the active set, every dwell record and the stats.
func (t *Tracker) Reset() {
	clear(t.dwell)
	t.active = t.active[:0]
	t.sincePrune = 0
	t.stats = Stats{}
}

// Observe advances the tracker by one frame of length dt seconds with the
// given gaze target (nil when nothing is under the gaze). It returns a
// trigger event and true when the target's dwell is above its threshold.
//
// Tracked units decay on every call, whatever the target. A missing or
// out-of-range target only decays; it is never an error. Repeated calls on a
// unit above threshold trigger again every frame.
func (t *Tracker) Observe(target *TextUnitID, dt float64) (TriggerEvent, bool) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		// Negative, NaN and infinite deltas advance nothing.
		dt = 0
	}

	t.maybePrune(dt)
	t.decay(dt)

	if target == nil || !t.inRange(*target) {
		t.stats.Ignored++
		return TriggerEvent{}, false
	}
	id := *target
	t.stats.Observations++

	t.accumulate(id, dt)
	admitted := t.admit(id)

	if t.cfg.RestrictToActive && !admitted {
		return TriggerEvent{}, false
	}
	return t.evaluate(id)
}

// decay lowers the dwell of every active unit by DecayRate*dt, floored at 0.
func (t *Tracker) decay(dt float64) {
	step := t.cfg.DecayRate * dt
	if step == 0 {
		return
	}
	for _, id := range t.active {
		t.dwell[id] = math.Max(0, t.dwell[id]-step)
	}
}

func (t *Tracker) inRange(id TextUnitID) bool {
	if id.Sentence < 0 || id.Word < 0 {
		return false
	}
	if t.bounds == nil {
		return true
	}
	if id.Sentence >= t.bounds.SentenceCount() {
		return false
	}
	return id.Word < t.bounds.WordCount(id.Sentence)
}

func (t *Tracker) accumulate(id TextUnitID, dt float64) {
	cur, ok := t.dwell[id]
	if !ok {
		t.dwell[id] = math.Min(dt, t.cfg.MaxDwell)
		return
	}
	t.dwell[id] = math.Min(cur+dt, t.cfg.MaxDwell)
}

// admit applies the admission policy and reports whether id is in the
// active set afterwards.
func (t *Tracker) admit(id TextUnitID) bool {
	if t.indexOf(id) >= 0 {
		return true
	}
	if len(t.active) < t.cfg.Capacity {
		t.active = append(t.active, id)
		t.stats.Admissions++
		return true
	}

	minIdx := 0
	minDwell := t.dwell[t.active[0]]
	for i := 1; i < len(t.active); i++ {
		// Strict comparison keeps the first member on ties.
		if d := t.dwell[t.active[i]]; d < minDwell {
			minIdx, minDwell = i, d
		}
	}
	if !(t.dwell[id] > minDwell) {
		t.stats.Rejections++
		return false
	}

	evicted := t.active[minIdx]
	t.dwell[evicted] = 0
	t.active = append(t.active[:minIdx], t.active[minIdx+1:]...)
	t.active = append(t.active, id)
	t.stats.Evictions++
	t.stats.Admissions++
	return true
}

func (t *Tracker) evaluate(id TextUnitID) (TriggerEvent, bool) {
	if t.thresholds == nil {
		return TriggerEvent{}, false
	}
	threshold, ok := t.thresholds.Threshold(id)
	if !ok || threshold == Disabled || math.IsNaN(threshold) {
		return TriggerEvent{}, false
	}
	d := t.dwell[id]
	if !(d > threshold) {
		return TriggerEvent{}, false
	}
	t.stats.Triggers++
	return TriggerEvent{Unit: id, Dwell: d, Threshold: threshold}, true
}

func (t *Tracker) maybePrune(dt float64) {
	if t.cfg.PruneInterval <= 0 {
		return
	}
	t.sincePrune += dt
	if t.sincePrune < t.cfg.PruneInterval {
		return
	}
	t.sincePrune = 0
	t.Prune()
}

// Prune deletes zero-valued records of units outside the active set and
// returns how many were removed.
func (t *Tracker) Prune() int {
	n := 0
	for id, d := range t.dwell {
		if d == 0 && t.indexOf(id) < 0 {
			delete(t.dwell, id)
			n++
		}
	}
	t.stats.Pruned += uint64(n)
	return n
}

func (t *Tracker) indexOf(id TextUnitID) int {
	for i, a := range t.active {
		if a == id {
			return i
		}
	}
	return -1
}

// Dwell returns the recorded dwell of id.
func (t *Tracker) Dwell(id TextUnitID) (float64, bool) {
	d, ok := t.dwell[id]
	return d, ok
}

// Active returns a copy of the active set in admission order.
func (t *Tracker) Active() []TextUnitID {
	out := make([]TextUnitID, len(t.active))
	copy(out, t.active)
	return out
}

// IsActive reports whether id is under active tracking.
func (t *Tracker) IsActive(id TextUnitID) bool {
	return t.indexOf(id) >= 0
}

// Len returns the size of the active set.
func (t *Tracker) Len() int {
	return len(t.active)
}

// Records returns the number of dwell records held, including stale zeros.
func (t *Tracker) Records() int {
	return len(t.dwell)
}

// Stats returns decision counters.
func (t *Tracker) Stats() Stats {
	return t.stats
}
