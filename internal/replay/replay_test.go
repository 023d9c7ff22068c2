package replay

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazeread/internal/config"
	"gazeread/internal/fixation"
	"gazeread/internal/session"
)

func newSession(t *testing.T, script *Script, mutate func(*config.Config)) *session.Session {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Document.TextDir = t.TempDir()
	cfg.Document.GazeDataDir = t.TempDir()
	cfg.Document.WriteSidecar = false
	cfg.Audio.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	sess, err := session.New(cfg, session.Deps{
		Resolver: script.Resolver(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestParseJSON(t *testing.T) {
	script, err := Parse([]byte(`{
		"document": "a.txt",
		"audio_manifest": "a_audio.txt",
		"frames": [{"line": 1, "word": 2, "dt": 0.016, "repeat": 3}, {"none": true, "dt": 0.5}]
	}`), "json")
	require.NoError(t, err)

	assert.Equal(t, "a.txt", script.Document)
	assert.Equal(t, "a_audio.txt", script.AudioManifest)
	require.Len(t, script.Frames, 2)
	assert.Equal(t, Frame{Line: 1, Word: 2, DT: 0.016, Repeat: 3}, script.Frames[0])
	assert.True(t, script.Frames[1].None)
	assert.Equal(t, 4, script.FrameCount())
}

func TestParseYAML(t *testing.T) {
	script, err := Parse([]byte("document: b.txt\npage_start: 4\nframes:\n  - {line: 0, word: 1, dt: 0.1, page: 2}\n"), "yml")
	require.NoError(t, err)

	assert.Equal(t, 4, script.PageStart)
	require.Len(t, script.Frames, 1)
	require.NotNil(t, script.Frames[0].Page)
	assert.Equal(t, 2, *script.Frames[0].Page)
}

func TestParseRejectsInvalidScripts(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing document", `{"frames": []}`},
		{"missing frames", `{"document": "a.txt"}`},
		{"negative dt", `{"document": "a.txt", "frames": [{"dt": -0.1}]}`},
		{"missing dt", `{"document": "a.txt", "frames": [{"line": 1}]}`},
		{"unknown field", `{"document": "a.txt", "frames": [], "speed": 2}`},
		{"zero repeat", `{"document": "a.txt", "frames": [{"dt": 0.1, "repeat": 0}]}`},
		{"not json", `{document`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "json")
			assert.ErrorIs(t, err, ErrInvalidScript)
		})
	}

	_, err := Parse([]byte(`{}`), "xml")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidScript)
}

func TestLoadSetsBaseDir(t *testing.T) {
	script, err := Load(filepath.Join("testdata", "scenario.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "testdata", script.BaseDir)
	assert.Equal(t, filepath.Join("testdata", "story.txt"), script.path(script.Document))

	_, err = Load(filepath.Join("testdata", "missing.json"))
	assert.Error(t, err)
}

func TestRunCapacityTwoScenario(t *testing.T) {
	script, err := Load(filepath.Join("testdata", "scenario.yaml"))
	require.NoError(t, err)

	sess := newSession(t, script, func(cfg *config.Config) {
		cfg.Fixation.Capacity = 2
		cfg.Fixation.DecayRate = 0.1
		cfg.Fixation.MaxDwell = 1.0
	})

	res, err := Run(context.Background(), sess, script)
	require.NoError(t, err)

	assert.Equal(t, "story", res.Document)
	assert.Equal(t, 4, res.Frames)
	assert.InDelta(t, 0.9, res.Elapsed, 1e-9)

	// Only "hello" crosses its threshold, on the second frame after decay.
	require.Len(t, res.Triggers, 1)
	trig := res.Triggers[0]
	assert.Equal(t, 1, trig.Frame)
	assert.Equal(t, fixation.Unit(0, 0), trig.Unit)
	assert.InDelta(t, 0.57, trig.Dwell, 1e-9)
	assert.InDelta(t, 0.5, trig.Threshold, 1e-9)

	// "x" cannot displace either member.
	assert.Equal(t, []fixation.TextUnitID{fixation.Unit(0, 0), fixation.Unit(0, 1)}, res.Active)
	assert.Equal(t, uint64(1), res.Stats.Rejections)
	assert.Equal(t, uint64(0), res.Stats.Evictions)

	tr := sess.Tracker()
	a, _ := tr.Dwell(fixation.Unit(0, 0))
	b, _ := tr.Dwell(fixation.Unit(0, 1))
	assert.InDelta(t, 0.54, a, 1e-9)
	assert.InDelta(t, 0.19, b, 1e-9)
}

func TestRunPagesAndLogging(t *testing.T) {
	script, err := Load(filepath.Join("testdata", "reading.json"))
	require.NoError(t, err)

	sess := newSession(t, script, nil)
	res, err := Run(context.Background(), sess, script)
	require.NoError(t, err)
	assert.Equal(t, 13, res.Frames)

	// Line 0 of the page starting at sentence 1 is "the quick brown fox";
	// "quick" needs 0.5s and gets there on the sixth frame.
	require.NotEmpty(t, res.Triggers)
	assert.Equal(t, fixation.Unit(1, 1), res.Triggers[0].Unit)
	assert.Equal(t, 5, res.Triggers[0].Frame)
	for _, trig := range res.Triggers {
		assert.Equal(t, fixation.Unit(1, 1), trig.Unit)
	}
	assert.Equal(t, uint64(2), res.Stats.Ignored)

	// The last three frames look at "hello" after turning back to page 0.
	_, tracked := sess.Tracker().Dwell(fixation.Unit(0, 0))
	assert.True(t, tracked)
	assert.Equal(t, 0, sess.PageStart())

	require.NotEmpty(t, res.LogPath)
	assert.False(t, sess.IsLogging())
	data, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "quick")
}

func TestRunStopsOnCancel(t *testing.T) {
	script, err := Parse([]byte(`{"document": "story.txt", "frames": [{"line": 0, "word": 0, "dt": 0.1, "repeat": 50}]}`), "json")
	require.NoError(t, err)
	script.BaseDir = "testdata"

	sess := newSession(t, script, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sess.OnTrigger(func(fixation.TriggerEvent) { cancel() })

	res, err := Run(ctx, sess, script)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, res.Frames, 50)
	assert.Len(t, res.Triggers, 1)
}

func TestRunMissingDocument(t *testing.T) {
	script := &Script{Document: "nope.txt", BaseDir: t.TempDir(), Frames: []Frame{{DT: 0.1}}}
	sess := newSession(t, script, nil)

	_, err := Run(context.Background(), sess, script)
	assert.Error(t, err)
	_, err = Run(context.Background(), sess, nil)
	assert.ErrorIs(t, err, ErrInvalidScript)
}
