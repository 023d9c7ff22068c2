// Package store persists reading sessions, trigger events and gaze reports
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"gazeread/internal/fixation"
	"gazeread/internal/telemetry"
)

// DefaultBusyTimeout is the SQLite busy timeout used by Open.
const DefaultBusyTimeout = 5 * time.Second

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("store: session not found")

// Options configures OpenWith.
type Options struct {
	BusyTimeout time.Duration
}

// Store is the SQLite session store. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	return OpenWith(path, Options{})
}

// OpenWith is Open with explicit options.
func OpenWith(path string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession records the start of a session and returns its id.
func (s *Store) CreateSession(document, fingerprint string, userID int, started time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, document, fingerprint, user_id, started_ns)
		VALUES (?, ?, ?, ?, ?)`,
		id, document, fingerprint, userID, started.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// EndSession stamps the end time of a session.
func (s *Store) EndSession(id string, ended time.Time) error {
	result, err := s.db.Exec(`UPDATE sessions SET ended_ns = ? WHERE id = ?`, ended.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("end session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// GetSession retrieves a session by id. It returns nil when none exists.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(`
		SELECT id, document, fingerprint, user_id, started_ns, ended_ns
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Document, &sess.Fingerprint, &sess.UserID, &sess.StartedNs, &sess.EndedNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns the most recent sessions first. A limit of 0 or
// less returns all of them.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, document, fingerprint, user_id, started_ns, ended_ns
		FROM sessions
		ORDER BY started_ns DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Document, &sess.Fingerprint, &sess.UserID, &sess.StartedNs, &sess.EndedNs); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// InsertTrigger records a trigger event and returns its row id.
func (s *Store) InsertTrigger(sessionID string, ev fixation.TriggerEvent, at time.Time) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO triggers (session_id, sentence, word, dwell, threshold, at_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, ev.Unit.Sentence, ev.Unit.Word, ev.Dwell, ev.Threshold, at.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert trigger: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// InsertTriggers records a batch of trigger events in one transaction.
func (s *Store) InsertTriggers(sessionID string, events []fixation.TriggerEvent, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO triggers (session_id, sentence, word, dwell, threshold, at_ns)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(sessionID, ev.Unit.Sentence, ev.Unit.Word, ev.Dwell, ev.Threshold, at.UnixNano()); err != nil {
			return fmt.Errorf("insert trigger: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TriggersForSession returns a session's triggers in recording order.
func (s *Store) TriggersForSession(sessionID string) ([]TriggerRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, sentence, word, dwell, threshold, at_ns
		FROM triggers
		WHERE session_id = ?
		ORDER BY at_ns ASC, id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var records []TriggerRecord
	for rows.Next() {
		var r TriggerRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Unit.Sentence, &r.Unit.Word, &r.Dwell, &r.Threshold, &r.AtNs); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triggers: %w", err)
	}
	return records, nil
}

// TriggerCounts returns the number of triggers per unit for a session,
// most triggered first.
func (s *Store) TriggerCounts(sessionID string) ([]UnitCount, error) {
	rows, err := s.db.Query(`
		SELECT sentence, word, COUNT(*) AS n
		FROM triggers
		WHERE session_id = ?
		GROUP BY sentence, word
		ORDER BY n DESC, sentence ASC, word ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query trigger counts: %w", err)
	}
	defer rows.Close()

	var counts []UnitCount
	for rows.Next() {
		var c UnitCount
		if err := rows.Scan(&c.Unit.Sentence, &c.Unit.Word, &c.Count); err != nil {
			return nil, fmt.Errorf("scan trigger count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trigger counts: %w", err)
	}
	return counts, nil
}

// InsertGazeReport records a periodic gaze report.
func (s *Store) InsertGazeReport(sessionID string, r telemetry.GazeReport, at time.Time) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO gaze_reports (session_id, sentence, word, duration, at_ns)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, r.Sentence, r.Word, r.Duration, at.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert gaze report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// GazeReportsForSession returns a session's gaze reports in order.
func (s *Store) GazeReportsForSession(sessionID string) ([]GazeRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, sentence, word, duration, at_ns
		FROM gaze_reports
		WHERE session_id = ?
		ORDER BY at_ns ASC, id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query gaze reports: %w", err)
	}
	defer rows.Close()

	var records []GazeRecord
	for rows.Next() {
		var r GazeRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Sentence, &r.Word, &r.Duration, &r.AtNs); err != nil {
			return nil, fmt.Errorf("scan gaze report: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gaze reports: %w", err)
	}
	return records, nil
}
