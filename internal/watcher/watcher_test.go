package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"gazeread/internal/dispatch"
)

func TestListDocuments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.TXT", "notes.md", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "folder.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	docs, err := ListDocuments(dir)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	want := []string{"a.TXT", "b.txt", "c.txt"}
	if !slices.Equal(docs, want) {
		t.Errorf("ListDocuments = %v, want %v", docs, want)
	}
}

func TestListDocumentsMissingDir(t *testing.T) {
	if _, err := ListDocuments(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestIsDocument(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"story.txt", true},
		{"/a/b/STORY.Txt", true},
		{"story.txt.swp", false},
		{"story", false},
		{"audio.csv", false},
	}
	for _, tt := range tests {
		if got := IsDocument(tt.name); got != tt.want {
			t.Errorf("IsDocument(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewRequiresQueueAndHandler(t *testing.T) {
	if _, err := New(t.TempDir(), 0, nil, func(Update) {}, nil); err == nil {
		t.Error("expected error without queue")
	}
	if _, err := New(t.TempDir(), 0, dispatch.New(1, nil), nil, nil); err == nil {
		t.Error("expected error without handler")
	}
}

func TestStartRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	os.WriteFile(path, []byte("x"), 0o600)

	w, err := New(path, 0, dispatch.New(1, nil), func(Update) {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Start(); err == nil {
		t.Error("expected error watching a file")
	}
}

func TestWatcherDeliversThroughQueue(t *testing.T) {
	dir := t.TempDir()
	queue := dispatch.New(8, nil)

	var updates []Update
	w, err := New(dir, 20*time.Millisecond, queue, func(u Update) { updates = append(updates, u) }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ignored"), 0o600)
	os.WriteFile(filepath.Join(dir, "story.txt"), []byte("Hello world."), 0o600)

	deadline := time.Now().Add(5 * time.Second)
	for len(updates) == 0 && time.Now().Before(deadline) {
		// Handlers only run on the draining goroutine.
		queue.Drain()
		time.Sleep(10 * time.Millisecond)
	}
	if len(updates) == 0 {
		t.Fatal("timed out waiting for inbox update")
	}

	u := updates[0]
	if !slices.Equal(u.Changed, []string{"story.txt"}) {
		t.Errorf("Changed = %v", u.Changed)
	}
	if !slices.Equal(u.Documents, []string{"story.txt"}) {
		t.Errorf("Documents = %v", u.Documents)
	}
}

type fullQueue struct{}

func (fullQueue) Enqueue(dispatch.Task) error { return dispatch.ErrQueueFull }

func TestFlushSettledRetriesWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, time.Second, fullQueue{}, func(Update) {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	now := time.Now()
	w.state[filepath.Join(dir, "a.txt")] = now.Add(-2 * time.Second)
	w.state[filepath.Join(dir, "b.txt")] = now

	w.flushSettled(now)

	if w.Pending() != 2 {
		t.Errorf("expected both changes kept pending, got %d", w.Pending())
	}
	select {
	case err := <-w.Errors():
		if !errors.Is(err, dispatch.ErrQueueFull) {
			t.Errorf("unexpected error %v", err)
		}
	default:
		t.Error("expected queue full error")
	}
}
