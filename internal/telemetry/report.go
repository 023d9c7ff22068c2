package telemetry

import "gazeread/internal/fixation"

// GazeReport summarises the most recently looked-at word.
type GazeReport struct {
	Sentence     int     `json:"sentence"`
	Word         int     `json:"word"`
	Duration     float64 `json:"duration"`
	SentenceText string  `json:"sentence_text"`
}

// Reporter decides when a gaze report is due. Mark records the unit
// currently looked at; Advance returns it once per interval of frame time.
type Reporter struct {
	interval float64
	elapsed  float64
	last     fixation.TextUnitID
	hasLast  bool
}

// NewReporter creates a reporter emitting every interval seconds.
func NewReporter(interval float64) *Reporter {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Reporter{interval: interval}
}

// Mark sets the unit the next report describes.
func (r *Reporter) Mark(id fixation.TextUnitID) {
	r.last = id
	r.hasLast = true
}

// Advance accumulates frame time. When the interval has elapsed and a unit
// has been marked it returns that unit and true.
func (r *Reporter) Advance(dt float64) (fixation.TextUnitID, bool) {
	if dt > 0 {
		r.elapsed += dt
	}
	if r.elapsed < r.interval {
		return fixation.TextUnitID{}, false
	}
	r.elapsed = 0
	return r.last, r.hasLast
}

// Reset forgets the marked unit and elapsed time.
func (r *Reporter) Reset() {
	r.elapsed = 0
	r.last = fixation.TextUnitID{}
	r.hasLast = false
}
