// Package fixation turns a per-frame stream of gaze targets into read-aloud
// trigger events.
//
// A Tracker keeps a small, fixed-capacity set of text units under active
// tracking. Every frame it decays the dwell of tracked units, accumulates dwell
// on the unit currently looked at, decides admission and eviction when the set
// is full, and reports a trigger whenever the observed unit's dwell is above
// its threshold.
//
// The tracker is driven entirely by the caller-supplied frame delta. It reads
// no clock, performs no I/O and takes no locks: it must be owned by a single
// goroutine (the frame loop).
package fixation

import "fmt"

// Disabled is the threshold sentinel for units that must never trigger.
const Disabled = -1.0

// Defaults.
const (
	DefaultCapacity  = 5
	DefaultDecayRate = 0.1
	DefaultMaxDwell  = 1.0
)

// TextUnitID identifies one word of the loaded document.
type TextUnitID struct {
	Sentence int `json:"sentence" yaml:"sentence"`
	Word     int `json:"word" yaml:"word"`
}

// Unit is a convenience constructor for a TextUnitID.
func Unit(sentence, word int) TextUnitID {
	return TextUnitID{Sentence: sentence, Word: word}
}

// Ptr returns a pointer to a copy of id, for passing to Observe.
func (id TextUnitID) Ptr() *TextUnitID {
	return &id
}

func (id TextUnitID) String() string {
	return fmt.Sprintf("(%d,%d)", id.Sentence, id.Word)
}

// TriggerEvent reports that a unit's dwell exceeded its threshold on this frame.
type TriggerEvent struct {
	Unit TextUnitID

	// Dwell and Threshold are the values compared when the event fired.
	Dwell     float64
	Threshold float64
}

// TriggerSink consumes trigger events on the frame goroutine. Sinks must
// tolerate the same unit being delivered on consecutive frames.
type TriggerSink interface {
	HandleTrigger(ev TriggerEvent)
}

// SinkFunc adapts a function to TriggerSink.
type SinkFunc func(ev TriggerEvent)

// HandleTrigger implements TriggerSink.
func (f SinkFunc) HandleTrigger(ev TriggerEvent) {
	f(ev)
}

// ThresholdTable maps a unit to its trigger threshold in seconds.
// A missing entry is treated as Disabled.
type ThresholdTable interface {
	Threshold(id TextUnitID) (float64, bool)
}

// ThresholdFunc adapts a function to ThresholdTable.
type ThresholdFunc func(id TextUnitID) (float64, bool)

// Threshold implements ThresholdTable.
func (f ThresholdFunc) Threshold(id TextUnitID) (float64, bool) {
	return f(id)
}

// ThresholdMap is a map-backed ThresholdTable.
type ThresholdMap map[TextUnitID]float64

// Threshold implements ThresholdTable.
func (m ThresholdMap) Threshold(id TextUnitID) (float64, bool) {
	v, ok := m[id]
	return v, ok
}

// Bounds describes the valid index range of the loaded document.
type Bounds interface {
	SentenceCount() int
	WordCount(sentence int) int
}

// Config configures a Tracker.
type Config struct {
	// Capacity is the maximum number of units under active tracking (K).
	Capacity int `toml:"capacity" json:"capacity" yaml:"capacity"`

	// DecayRate is the dwell lost per second by every unit in the active
	// set, the current target included.
	DecayRate float64 `toml:"decay_rate" json:"decay_rate" yaml:"decay_rate"`

	// MaxDwell caps the accumulated dwell of any unit, in seconds.
	MaxDwell float64 `toml:"max_dwell" json:"max_dwell" yaml:"max_dwell"`

	// RestrictToActive limits trigger evaluation to members of the active
	// set. Off by default: a unit refused admission can still trigger.
	RestrictToActive bool `toml:"restrict_to_active" json:"restrict_to_active" yaml:"restrict_to_active"`

	// PruneInterval, in seconds of accumulated frame time, between sweeps
	// that drop zero-valued records outside the active set. 0 disables.
	PruneInterval float64 `toml:"prune_interval" json:"prune_interval" yaml:"prune_interval"`
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:  DefaultCapacity,
		DecayRate: DefaultDecayRate,
		MaxDwell:  DefaultMaxDwell,
	}
}

// Validate reports configuration values the tracker cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Capacity < 1:
		return fmt.Errorf("fixation: capacity must be at least 1, got %d", c.Capacity)
	case c.DecayRate < 0:
		return fmt.Errorf("fixation: decay rate must be non-negative, got %g", c.DecayRate)
	case c.MaxDwell <= 0:
		return fmt.Errorf("fixation: max dwell must be positive, got %g", c.MaxDwell)
	case c.PruneInterval < 0:
		return fmt.Errorf("fixation: prune interval must be non-negative, got %g", c.PruneInterval)
	}
	return nil
}

// Stats counts tracker decisions since construction or the last Reset.
type Stats struct {
	Observations uint64 `json:"observations"`
	Ignored      uint64 `json:"ignored"`
	Admissions   uint64 `json:"admissions"`
	Evictions    uint64 `json:"evictions"`
	Rejections   uint64 `json:"rejections"`
	Triggers     uint64 `json:"triggers"`
	Pruned       uint64 `json:"pruned"`
}
