package store

import (
	"fmt"
)

// Problem is one consistency issue found by Verify.
type Problem struct {
	SessionID string
	Message   string
}

func (p Problem) String() string {
	if p.SessionID == "" {
		return p.Message
	}
	return fmt.Sprintf("session %s: %s", p.SessionID, p.Message)
}

// Verify checks database integrity and the consistency of recorded
// sessions. It returns the problems found; an error means the check itself
// could not run.
func (s *Store) Verify() ([]Problem, error) {
	var problems []Problem

	var result string
	if err := s.db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		problems = append(problems, Problem{Message: "integrity check: " + result})
	}

	if err := ValidateSchema(s.db); err != nil {
		problems = append(problems, Problem{Message: err.Error()})
	}

	rows, err := s.db.Query(`
		SELECT id, started_ns, ended_ns FROM sessions
		WHERE ended_ns IS NOT NULL AND ended_ns < started_ns`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var started, ended int64
		if err := rows.Scan(&id, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		problems = append(problems, Problem{SessionID: id, Message: "ended before it started"})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	// Triggers and reports must fall inside their session's lifetime.
	for _, table := range []string{"triggers", "gaze_reports"} {
		var n int
		err := s.db.QueryRow(`
			SELECT COUNT(*) FROM `+table+` t JOIN sessions s ON s.id = t.session_id
			WHERE t.at_ns < s.started_ns OR (s.ended_ns IS NOT NULL AND t.at_ns > s.ended_ns)`,
		).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", table, err)
		}
		if n > 0 {
			problems = append(problems, Problem{Message: fmt.Sprintf("%d %s outside their session", n, table)})
		}
	}

	return problems, nil
}
