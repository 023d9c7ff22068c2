// Package telemetry records per-frame gaze data to CSV and produces the
// periodic gaze reports sent to the processing backend.
//
// Both the CSV flush and the report cadence are driven by the frame delta
// passed to Advance; nothing here reads a wall clock except FileName.
package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultFlushInterval is the frame time between CSV flushes and gaze reports.
const DefaultFlushInterval = 0.5

// ErrNotLogging is returned by Record when no log file is open.
var ErrNotLogging = errors.New("telemetry: not logging")

// Header is the gaze log column set.
var Header = []string{
	"Timestamp",
	"Convergence distance",
	"Convergence distance validity",
	"Gaze origin X", "Gaze origin Y", "Gaze origin Z",
	"Gaze direction X", "Gaze direction Y", "Gaze direction Z",
	"Left eye blink", "Right eye blink",
	"Sentence Index", "Line Index", "Word Index",
	"Word",
	"Word X", "Word Y", "Word Z",
	"Gaze target X", "Gaze target Y", "Gaze target Z",
	"Duration",
}

// Vec3 is a position or direction.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Row is one gaze log line.
type Row struct {
	Timestamp           float64
	ConvergenceDistance float64
	ConvergenceValid    bool
	GazeOrigin          Vec3
	GazeDirection       Vec3
	LeftBlink           bool
	RightBlink          bool

	Sentence int
	Line     int
	Word     int
	Token    string

	// WordPos and TargetPos are screen positions of the word centre and the
	// gaze hit point.
	WordPos   Vec3
	TargetPos Vec3

	// Duration is the current dwell of the hit unit.
	Duration float64
}

func (r Row) record() []string {
	rec := make([]string, 0, len(Header))
	rec = append(rec,
		fmtFloat(r.Timestamp),
		fmtFloat(r.ConvergenceDistance),
		strconv.FormatBool(r.ConvergenceValid),
	)
	rec = appendVec(rec, r.GazeOrigin)
	rec = appendVec(rec, r.GazeDirection)
	rec = append(rec,
		strconv.FormatBool(r.LeftBlink),
		strconv.FormatBool(r.RightBlink),
		strconv.Itoa(r.Sentence),
		strconv.Itoa(r.Line),
		strconv.Itoa(r.Word),
		r.Token,
	)
	rec = appendVec(rec, r.WordPos)
	rec = appendVec(rec, r.TargetPos)
	return append(rec, fmtFloat(r.Duration))
}

func appendVec(rec []string, v Vec3) []string {
	return append(rec, fmtFloat(v.X), fmtFloat(v.Y), fmtFloat(v.Z))
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FileName returns the gaze log name for a document, user and start time:
// <doc>_<user:04d>_<yyyyMMddHHmmss>.csv.
func FileName(doc string, userID int, t time.Time) string {
	return fmt.Sprintf("%s_%04d_%s.csv", doc, userID, t.Format("20060102150405"))
}

// Logger writes gaze rows to a CSV file. It is owned by the frame goroutine.
type Logger struct {
	interval float64

	file    *os.File
	w       *csv.Writer
	path    string
	pending float64
	rows    uint64
}

// NewLogger creates a stopped logger that flushes every interval seconds of
// frame time.
func NewLogger(interval float64) *Logger {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Logger{interval: interval}
}

// Start opens dir/name for appending and writes the header to a new file.
// Starting an active logger is a no-op that returns the current path.
func (l *Logger) Start(dir, name string) (string, error) {
	if l.file != nil {
		return l.path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create gaze data directory: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open gaze log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return "", fmt.Errorf("stat gaze log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			f.Close()
			return "", fmt.Errorf("write gaze log header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return "", fmt.Errorf("write gaze log header: %w", err)
		}
	}

	l.file = f
	l.w = w
	l.path = path
	l.pending = 0
	l.rows = 0
	return path, nil
}

// Active reports whether a log file is open.
func (l *Logger) Active() bool {
	return l.file != nil
}

// Path returns the open log path, or "" when stopped.
func (l *Logger) Path() string {
	return l.path
}

// Rows returns the number of rows recorded since Start.
func (l *Logger) Rows() uint64 {
	return l.rows
}

// Record buffers one row.
func (l *Logger) Record(r Row) error {
	if l.file == nil {
		return ErrNotLogging
	}
	if err := l.w.Write(r.record()); err != nil {
		return fmt.Errorf("write gaze row: %w", err)
	}
	l.rows++
	return nil
}

// Advance accumulates frame time and flushes once the interval has elapsed.
// It reports whether a flush happened.
func (l *Logger) Advance(dt float64) (bool, error) {
	if l.file == nil {
		return false, nil
	}
	if dt > 0 {
		l.pending += dt
	}
	if l.pending < l.interval {
		return false, nil
	}
	l.pending = 0
	return true, l.Flush()
}

// Flush writes buffered rows to the file.
func (l *Logger) Flush() error {
	if l.file == nil {
		return nil
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flush gaze log: %w", err)
	}
	return nil
}

// Stop flushes and closes the log. Stopping a stopped logger is a no-op.
func (l *Logger) Stop() error {
	if l.file == nil {
		return nil
	}
	flushErr := l.Flush()
	closeErr := l.file.Close()
	l.file = nil
	l.w = nil
	l.path = ""
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("close gaze log: %w", closeErr)
	}
	return nil
}
