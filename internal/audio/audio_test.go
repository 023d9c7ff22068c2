package audio

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gazeread/internal/fixation"
)

func writeSound(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseManifest(t *testing.T) {
	dir := t.TempDir()
	abs := writeSound(t, dir, "a.wav")
	writeSound(t, dir, "b.wav")

	input := strings.Join([]string{
		"0,0," + abs,
		"0,1,b.wav",
		"",
		"garbage",
		"1,x,b.wav",
		"2,0,missing.wav",
		"0,0,b.wav",
		"-1,0,b.wav",
	}, "\n")

	m, skipped, err := ParseManifest(strings.NewReader(input), dir, nil)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("expected 2 sounds, got %d: %v", len(m), m)
	}
	if skipped != 5 {
		t.Errorf("expected 5 skipped lines, got %d", skipped)
	}
	if m[fixation.Unit(0, 0)] != abs {
		t.Errorf("first entry should win, got %q", m[fixation.Unit(0, 0)])
	}
	if m[fixation.Unit(0, 1)] != filepath.Join(dir, "b.wav") {
		t.Errorf("relative path not resolved: %q", m[fixation.Unit(0, 1)])
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeSound(t, dir, "s.wav")
	path := filepath.Join(dir, "doc_audio.txt")
	if err := os.WriteFile(path, []byte("3,4,s.wav\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path, nil)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if _, ok := m[fixation.Unit(3, 4)]; !ok {
		t.Errorf("expected sound for (3,4), got %v", m)
	}

	if _, err := LoadManifest(filepath.Join(dir, "nope.txt"), nil); err == nil {
		t.Error("expected error for missing manifest")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyIgnore, false},
		{"ignore", PolicyIgnore, false},
		{"interrupt", PolicyInterrupt, false},
		{"queue", PolicyIgnore, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func trigger(s, w int) fixation.TriggerEvent {
	return fixation.TriggerEvent{Unit: fixation.Unit(s, w), Dwell: 0.6, Threshold: 0.5}
}

func TestManagerIgnoresWhileBusy(t *testing.T) {
	backend := &NullBackend{Frames: 2}
	m := NewManager(backend, PolicyIgnore, nil)
	m.SetManifest(Manifest{
		fixation.Unit(0, 0): "a.wav",
		fixation.Unit(0, 1): "b.wav",
	})

	var started, ended []fixation.TextUnitID
	m.OnPlaybackStart = func(id fixation.TextUnitID) { started = append(started, id) }
	m.OnPlaybackEnd = func(id fixation.TextUnitID) { ended = append(ended, id) }

	if got := m.Offer(trigger(0, 0)); got != Started {
		t.Fatalf("expected Started, got %v", got)
	}
	if got := m.Offer(trigger(0, 0)); got != Busy {
		t.Errorf("repeat trigger while playing should be Busy, got %v", got)
	}
	if got := m.Offer(trigger(0, 1)); got != Busy {
		t.Errorf("other trigger while playing should be Busy, got %v", got)
	}

	// Two polls report not done, the third completes.
	if m.Tick() || m.Tick() {
		t.Fatal("playback ended early")
	}
	if !m.Tick() {
		t.Fatal("playback should have ended")
	}
	if m.Playing() {
		t.Error("manager should be idle")
	}

	if got := m.Offer(trigger(0, 1)); got != Started {
		t.Errorf("expected Started after idle, got %v", got)
	}
	if len(started) != 2 || len(ended) != 1 || ended[0] != fixation.Unit(0, 0) {
		t.Errorf("unexpected callbacks: started=%v ended=%v", started, ended)
	}
	if plays := backend.Plays(); len(plays) != 2 || plays[0] != "a.wav" || plays[1] != "b.wav" {
		t.Errorf("unexpected plays: %v", plays)
	}
}

func TestManagerInterrupt(t *testing.T) {
	backend := &NullBackend{Frames: 10}
	m := NewManager(backend, PolicyInterrupt, nil)
	m.SetManifest(Manifest{
		fixation.Unit(0, 0): "a.wav",
		fixation.Unit(1, 0): "b.wav",
	})
	var ended []fixation.TextUnitID
	m.OnPlaybackEnd = func(id fixation.TextUnitID) { ended = append(ended, id) }

	m.Offer(trigger(0, 0))
	if got := m.Offer(trigger(1, 0)); got != Started {
		t.Fatalf("interrupt policy should start new sound, got %v", got)
	}
	if len(ended) != 1 || ended[0] != fixation.Unit(0, 0) {
		t.Errorf("interrupted sound should end, got %v", ended)
	}
	if len(backend.Plays()) != 2 {
		t.Errorf("expected 2 plays, got %v", backend.Plays())
	}
}

func TestManagerNoSound(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(nil, PolicyIgnore, slog.New(slog.NewTextHandler(&buf, nil)))
	for i := 0; i < 3; i++ {
		if got := m.Offer(trigger(5, 5)); got != NoSound {
			t.Errorf("expected NoSound, got %v", got)
		}
	}
	if m.Playing() {
		t.Error("should not be playing")
	}
	if n := strings.Count(buf.String(), "sound not found"); n != 1 {
		t.Errorf("expected one warning for a repeated unit, got %d: %s", n, buf.String())
	}

	m.SetManifest(Manifest{fixation.Unit(0, 0): "a.wav"})
	m.Offer(trigger(5, 5))
	if n := strings.Count(buf.String(), "sound not found"); n != 2 {
		t.Errorf("new manifest should warn again, got %d", n)
	}
}

func TestManagerBusyBeforeManifestLookup(t *testing.T) {
	backend := &NullBackend{Frames: 5}
	m := NewManager(backend, PolicyIgnore, nil)
	m.SetManifest(Manifest{fixation.Unit(0, 0): "a.wav"})
	if got := m.Offer(trigger(0, 0)); got != Started {
		t.Fatalf("expected Started, got %v", got)
	}
	if got := m.Offer(trigger(9, 9)); got != Busy {
		t.Errorf("unknown unit while playing should be Busy, got %v", got)
	}
}

func TestManagerInterruptKeepsPlayingWithoutSound(t *testing.T) {
	backend := &NullBackend{Frames: 5}
	m := NewManager(backend, PolicyInterrupt, nil)
	m.SetManifest(Manifest{fixation.Unit(0, 0): "a.wav"})
	m.Offer(trigger(0, 0))
	if got := m.Offer(trigger(9, 9)); got != NoSound {
		t.Errorf("expected NoSound, got %v", got)
	}
	if !m.Playing() {
		t.Error("a missing sound should not stop the current one")
	}
}

type failingBackend struct{}

func (failingBackend) Play(string) (Playback, error) {
	return nil, errors.New("device busy")
}

func TestManagerBackendFailure(t *testing.T) {
	m := NewManager(failingBackend{}, PolicyIgnore, nil)
	m.SetManifest(Manifest{fixation.Unit(0, 0): "a.wav"})
	if got := m.Offer(trigger(0, 0)); got != Failed {
		t.Errorf("expected Failed, got %v", got)
	}
	if m.Playing() {
		t.Error("failed playback must not leave manager busy")
	}
}

func TestManagerAsSink(t *testing.T) {
	backend := &NullBackend{}
	m := NewManager(backend, PolicyIgnore, nil)
	m.SetManifest(Manifest{fixation.Unit(2, 3): "x.wav"})

	var sink fixation.TriggerSink = m
	sink.HandleTrigger(trigger(2, 3))
	if len(backend.Plays()) != 1 {
		t.Errorf("expected one play, got %v", backend.Plays())
	}
}

func TestManagerStop(t *testing.T) {
	m := NewManager(&NullBackend{Frames: 100}, PolicyIgnore, nil)
	m.SetManifest(Manifest{fixation.Unit(0, 0): "a.wav"})
	m.Offer(trigger(0, 0))
	m.Stop()
	if m.Playing() {
		t.Error("Stop should clear busy state")
	}
	m.Stop()
}

func TestCommandBackendRequiresCommand(t *testing.T) {
	if _, err := (CommandBackend{}).Play("a.wav"); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestManagerSetPolicy(t *testing.T) {
	m := NewManager(&NullBackend{Frames: 10}, PolicyIgnore, nil)
	m.SetManifest(Manifest{fixation.Unit(0, 0): "a.wav", fixation.Unit(1, 0): "b.wav"})

	m.Offer(trigger(0, 0))
	if got := m.Offer(trigger(1, 0)); got != Busy {
		t.Fatalf("expected Busy under ignore, got %v", got)
	}
	m.SetPolicy(PolicyInterrupt)
	if m.Policy() != PolicyInterrupt {
		t.Fatal("policy not changed")
	}
	if got := m.Offer(trigger(1, 0)); got != Started {
		t.Errorf("expected Started after switching to interrupt, got %v", got)
	}
}
