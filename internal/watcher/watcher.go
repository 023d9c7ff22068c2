// Package watcher monitors the document inbox and reports changes to the
// frame loop through the dispatch queue.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gazeread/internal/dispatch"
)

// DefaultDebounce is used when no debounce is configured.
const DefaultDebounce = 500 * time.Millisecond

// DocumentExt is the extension of documents in the inbox.
const DocumentExt = ".txt"

// Enqueuer schedules a task on the frame loop.
type Enqueuer interface {
	Enqueue(task dispatch.Task) error
}

// Update describes a settled burst of inbox changes.
type Update struct {
	// Documents is the inbox listing after the changes.
	Documents []string

	// Changed holds the document names that were touched, sorted.
	Changed []string
}

// Handler receives updates on the frame loop.
type Handler func(Update)

// Watcher monitors one inbox directory, non-recursively.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	debounce  time.Duration
	queue     Enqueuer
	handler   Handler
	logger    *slog.Logger
	now       func() time.Time

	// path -> time of last event
	state   map[string]time.Time
	stateMu sync.Mutex

	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates an inbox watcher. Updates are delivered by enqueueing a task
// that calls handler.
func New(dir string, debounce time.Duration, queue Enqueuer, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if queue == nil || handler == nil {
		return nil, errors.New("watcher: queue and handler are required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		dir:       dir,
		debounce:  debounce,
		queue:     queue,
		handler:   handler,
		logger:    logger,
		now:       time.Now,
		state:     make(map[string]time.Time),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start begins watching the inbox.
func (w *Watcher) Start() error {
	absPath, err := filepath.Abs(w.dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("watcher: %s is not a directory", absPath)
	}
	if err := w.fsWatcher.Add(absPath); err != nil {
		return fmt.Errorf("watch %s: %w", absPath, err)
	}
	w.dir = absPath

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	w.logger.Debug("watching inbox", "dir", absPath, "debounce", w.debounce)
	return nil
}

// Stop shuts the watcher down. Updates already enqueued still run on the
// next drain.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

// Pending returns the number of changed documents not yet reported.
func (w *Watcher) Pending() int {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return len(w.state)
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !IsDocument(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					continue
				}
			}

			w.stateMu.Lock()
			w.state[event.Name] = w.now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	interval := max(w.debounce/2, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flushSettled(w.now())
		}
	}
}

// flushSettled reports documents that have been quiet for the debounce
// interval.
func (w *Watcher) flushSettled(now time.Time) {
	threshold := now.Add(-w.debounce)

	w.stateMu.Lock()
	var changed []string
	for path, last := range w.state {
		if last.Before(threshold) {
			changed = append(changed, path)
		}
	}
	for _, path := range changed {
		delete(w.state, path)
	}
	w.stateMu.Unlock()

	if len(changed) == 0 {
		return
	}

	docs, err := ListDocuments(w.dir)
	if err != nil {
		w.report(err)
		return
	}

	names := make([]string, len(changed))
	for i, path := range changed {
		names[i] = filepath.Base(path)
	}
	slices.Sort(names)

	update := Update{Documents: docs, Changed: names}
	if err := w.queue.Enqueue(func() { w.handler(update) }); err != nil {
		// Put the changes back so the next tick retries.
		w.stateMu.Lock()
		for _, path := range changed {
			if _, ok := w.state[path]; !ok {
				w.state[path] = threshold
			}
		}
		w.stateMu.Unlock()
		w.report(fmt.Errorf("enqueue inbox update: %w", err))
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("inbox watcher error dropped", "error", err)
	}
}

// IsDocument reports whether name has the document extension.
func IsDocument(name string) bool {
	return strings.EqualFold(filepath.Ext(name), DocumentExt)
}

// ListDocuments returns the sorted names of the documents in dir.
func ListDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var docs []string
	for _, entry := range entries {
		if entry.IsDir() || !IsDocument(entry.Name()) {
			continue
		}
		docs = append(docs, entry.Name())
	}
	slices.Sort(docs)
	return docs, nil
}
