package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazeread/internal/fixation"
	"gazeread/internal/telemetry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "subdir", "nested", "test.db"))
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestPing(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ping.db"))
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))

	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)

	status, err := GetMigrationStatus(s.db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), status.CurrentVersion)
	assert.Empty(t, status.Pending)
	assert.NoError(t, ValidateSchema(s.db))

	// Reapplying is a no-op.
	require.NoError(t, MigrateDB(s.db))
}

func TestRollbackMigration(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, RollbackMigration(s.db))
	status, err := GetMigrationStatus(s.db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations)-1, status.CurrentVersion)
	assert.Error(t, ValidateSchema(s.db))

	require.NoError(t, MigrateDB(s.db))
	assert.NoError(t, ValidateSchema(s.db))
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	start := time.Unix(1700000000, 0)

	id, err := s.CreateSession("story", "abc123", 7, start)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	sess, err := s.GetSession(id)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "story", sess.Document)
	assert.Equal(t, "abc123", sess.Fingerprint)
	assert.Equal(t, 7, sess.UserID)
	assert.True(t, sess.Active())
	assert.Zero(t, sess.Duration())

	require.NoError(t, s.EndSession(id, start.Add(90*time.Second)))
	sess, err = s.GetSession(id)
	require.NoError(t, err)
	assert.False(t, sess.Active())
	assert.Equal(t, 90*time.Second, sess.Duration())
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.GetSession("missing")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestEndSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.EndSession("missing", time.Now())
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestListSessions(t *testing.T) {
	s := openTestStore(t)
	base := time.Unix(1700000000, 0)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.CreateSession("doc", "fp", 1, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.ListSessions(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")

	limited, err := s.ListSessions(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTriggers(t *testing.T) {
	s := openTestStore(t)
	start := time.Unix(1700000000, 0)
	id, err := s.CreateSession("doc", "fp", 1, start)
	require.NoError(t, err)

	a := fixation.TriggerEvent{Unit: fixation.Unit(0, 1), Dwell: 0.57, Threshold: 0.5}
	b := fixation.TriggerEvent{Unit: fixation.Unit(2, 0), Dwell: 0.31, Threshold: 0.3}

	_, err = s.InsertTrigger(id, a, start.Add(time.Second))
	require.NoError(t, err)
	_, err = s.InsertTrigger(id, b, start.Add(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, s.InsertTriggers(id, []fixation.TriggerEvent{a, a}, start.Add(3*time.Second)))

	records, err := s.TriggersForSession(id)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, a.Unit, records[0].Unit)
	assert.InDelta(t, 0.57, records[0].Dwell, 1e-9)
	assert.Equal(t, b.Unit, records[1].Unit)

	counts, err := s.TriggerCounts(id)
	require.NoError(t, err)
	assert.Equal(t, []UnitCount{
		{Unit: a.Unit, Count: 3},
		{Unit: b.Unit, Count: 1},
	}, counts)
}

func TestTriggerRequiresSession(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertTrigger("missing", fixation.TriggerEvent{}, time.Now())
	assert.Error(t, err, "foreign key should reject unknown session")
}

func TestGazeReports(t *testing.T) {
	s := openTestStore(t)
	start := time.Unix(1700000000, 0)
	id, err := s.CreateSession("doc", "fp", 1, start)
	require.NoError(t, err)

	_, err = s.InsertGazeReport(id, telemetry.GazeReport{Sentence: 3, Word: 1, Duration: 0.25}, start.Add(500*time.Millisecond))
	require.NoError(t, err)

	records, err := s.GazeReportsForSession(id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].Sentence)
	assert.Equal(t, 1, records[0].Word)
	assert.InDelta(t, 0.25, records[0].Duration, 1e-9)
}

func TestVerify(t *testing.T) {
	s := openTestStore(t)
	start := time.Unix(1700000000, 0)
	id, err := s.CreateSession("doc", "fp", 1, start)
	require.NoError(t, err)
	_, err = s.InsertTrigger(id, fixation.TriggerEvent{Unit: fixation.Unit(0, 0)}, start.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, s.EndSession(id, start.Add(time.Minute)))

	problems, err := s.Verify()
	require.NoError(t, err)
	assert.Empty(t, problems)

	_, err = s.InsertTrigger(id, fixation.TriggerEvent{Unit: fixation.Unit(0, 0)}, start.Add(time.Hour))
	require.NoError(t, err)
	problems, err = s.Verify()
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0].String(), "1 triggers outside their session")
}

func BenchmarkInsertTrigger(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()
	id, err := s.CreateSession("doc", "fp", 1, time.Now())
	if err != nil {
		b.Fatal(err)
	}
	ev := fixation.TriggerEvent{Unit: fixation.Unit(1, 2), Dwell: 0.6, Threshold: 0.5}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.InsertTrigger(id, ev, time.Now())
	}
}
