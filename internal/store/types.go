package store

import (
	"time"

	"gazeread/internal/fixation"
)

// Session is one reading session over a document.
type Session struct {
	ID          string
	Document    string
	Fingerprint string
	UserID      int
	StartedNs   int64
	EndedNs     *int64
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedNs == nil
}

// Duration returns the session length, or 0 while it is active.
func (s *Session) Duration() time.Duration {
	if s.EndedNs == nil {
		return 0
	}
	return time.Duration(*s.EndedNs - s.StartedNs)
}

// TriggerRecord is a persisted trigger event.
type TriggerRecord struct {
	ID        int64
	SessionID string
	Unit      fixation.TextUnitID
	Dwell     float64
	Threshold float64
	AtNs      int64
}

// GazeRecord is a persisted periodic gaze report.
type GazeRecord struct {
	ID        int64
	SessionID string
	Sentence  int
	Word      int
	Duration  float64
	AtNs      int64
}

// UnitCount is the number of triggers recorded for one unit.
type UnitCount struct {
	Unit  fixation.TextUnitID
	Count int
}
