// Package session ties a loaded document to the fixation tracker and the
// collaborators around it: audio playback, the gaze log, the processing
// server and the session store.
//
// A Session is owned by the frame goroutine. Background producers reach it
// only through its dispatch queue, which Frame drains at the start of every
// tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"gazeread/internal/audio"
	"gazeread/internal/config"
	"gazeread/internal/dispatch"
	"gazeread/internal/document"
	"gazeread/internal/fixation"
	"gazeread/internal/metrics"
	"gazeread/internal/telemetry"
	"gazeread/internal/watcher"
)

// MaxUserID is the largest participant number; NextUserID wraps past it.
const MaxUserID = 9999

var (
	// ErrNoDocument is returned by operations that need a loaded document.
	ErrNoDocument = errors.New("session: no document loaded")

	// ErrBadUserID is returned for participant numbers outside 1..MaxUserID.
	ErrBadUserID = errors.New("session: user id out of range")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// Sample is one frame of eye-tracker input.
type Sample struct {
	Timestamp           float64
	ConvergenceDistance float64
	ConvergenceValid    bool
	GazeOrigin          telemetry.Vec3
	GazeDirection       telemetry.Vec3
	LeftBlink           bool
	RightBlink          bool

	// Point is the gaze hit point in screen space.
	Point telemetry.Vec3
}

// TextUnitResolver maps a sample to the line and word under the gaze on the
// current page.
type TextUnitResolver interface {
	Resolve(s Sample) (line, word int, ok bool)
}

// WordPositioner is optionally implemented by resolvers that know where a
// word is drawn. The position is written to the gaze log.
type WordPositioner interface {
	WordPosition(line, word int) telemetry.Vec3
}

// ResolverFunc adapts a function to TextUnitResolver.
type ResolverFunc func(s Sample) (line, word int, ok bool)

// Resolve implements TextUnitResolver.
func (f ResolverFunc) Resolve(s Sample) (int, int, bool) {
	return f(s)
}

// GazeSender delivers gaze reports to the processing server.
type GazeSender interface {
	SendGaze(ctx context.Context, r telemetry.GazeReport) (audioPath string, ok bool, err error)
}

// Recorder persists sessions, triggers and gaze reports.
type Recorder interface {
	CreateSession(document, fingerprint string, userID int, started time.Time) (string, error)
	EndSession(id string, ended time.Time) error
	InsertTrigger(sessionID string, ev fixation.TriggerEvent, at time.Time) (int64, error)
	InsertGazeReport(sessionID string, r telemetry.GazeReport, at time.Time) (int64, error)
}

// Deps are the collaborators of a Session. Nil fields disable the
// corresponding feature, except Metrics, Logger, Queue and Clock which get
// defaults.
type Deps struct {
	Resolver TextUnitResolver
	Backend  GazeSender
	Store    Recorder
	Player   audio.Backend
	Metrics  *metrics.GazeMetrics
	Logger   *slog.Logger
	Queue    *dispatch.Queue
	Clock    func() time.Time
}

// Status is a snapshot of session state.
type Status struct {
	Document  string
	SessionID string
	UserID    int
	PageStart int
	Logging   bool
	LogPath   string
	Playing   bool
	Sounds    int
	Active    []fixation.TextUnitID
	Inbox     []string
}

// Session is one reader working through documents.
type Session struct {
	cfg     *config.Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.GazeMetrics
	queue   *dispatch.Queue
	now     func() time.Time

	tracker  *fixation.Tracker
	audio    *audio.Manager
	gazeLog  *telemetry.Logger
	reporter *telemetry.Reporter
	inbox    *watcher.Watcher

	doc        *document.Document
	thresholds fixation.ThresholdMap
	sessionID  string
	userID     int
	pageStart  int
	documents  []string

	listeners      []func(fixation.TriggerEvent)
	inboxListeners []func(watcher.Update)

	// held is the unit that fired on the previous frame. Only the first
	// frame of an unbroken run of triggers is stored.
	held    fixation.TextUnitID
	holding bool

	// async tracks report and store goroutines.
	async  sync.WaitGroup
	closed bool
}

// New creates a session from cfg. No document is loaded.
func New(cfg *config.Config, deps Deps) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Fixation.Validate(); err != nil {
		return nil, err
	}
	policy, err := audio.ParsePolicy(cfg.Audio.Policy)
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry.UserID < 1 || cfg.Telemetry.UserID > MaxUserID {
		return nil, fmt.Errorf("%w: %d", ErrBadUserID, cfg.Telemetry.UserID)
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewGazeMetrics(nil)
	}
	if deps.Queue == nil {
		deps.Queue = dispatch.New(cfg.Dispatch.QueueSize, deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	player := deps.Player
	if !cfg.Audio.Enabled || player == nil {
		player = &audio.NullBackend{}
	}
	logger := deps.Logger.With("component", "session")

	s := &Session{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		metrics:  deps.Metrics,
		queue:    deps.Queue,
		now:      deps.Clock,
		tracker:  fixation.New(cfg.Fixation, nil, nil),
		audio:    audio.NewManager(player, policy, logger.With("component", "audio")),
		gazeLog:  telemetry.NewLogger(cfg.Telemetry.FlushIntervalSec),
		reporter: telemetry.NewReporter(cfg.Telemetry.FlushIntervalSec),
		userID:   cfg.Telemetry.UserID,
	}
	s.audio.OnPlaybackStart = func(fixation.TextUnitID) { s.metrics.PlaybackStartedTotal.Inc() }
	return s, nil
}

// Queue returns the dispatch queue drained by Frame.
func (s *Session) Queue() *dispatch.Queue {
	return s.queue
}

// Enqueue schedules task to run on the frame goroutine.
func (s *Session) Enqueue(task dispatch.Task) error {
	return s.queue.Enqueue(task)
}

// Tracker returns the underlying tracker.
func (s *Session) Tracker() *fixation.Tracker {
	return s.tracker
}

// Audio returns the audio manager.
func (s *Session) Audio() *audio.Manager {
	return s.audio
}

// Metrics returns the session metrics.
func (s *Session) Metrics() *metrics.GazeMetrics {
	return s.metrics
}

// Document returns the loaded document, or nil.
func (s *Session) Document() *document.Document {
	return s.doc
}

// Thresholds returns the threshold table of the loaded document.
func (s *Session) Thresholds() fixation.ThresholdMap {
	return s.thresholds
}

// SessionID returns the store id of the current session, or "".
func (s *Session) SessionID() string {
	return s.sessionID
}

// OnTrigger registers a listener called on the frame goroutine for every
// trigger.
func (s *Session) OnTrigger(fn func(fixation.TriggerEvent)) {
	if fn != nil {
		s.listeners = append(s.listeners, fn)
	}
}

// OnInbox registers a listener for inbox updates.
func (s *Session) OnInbox(fn func(watcher.Update)) {
	if fn != nil {
		s.inboxListeners = append(s.inboxListeners, fn)
	}
}

// LoadDocument reads the document at path, derives its thresholds, writes
// the threshold sidecar and starts a new session over it. Tracking state,
// sounds and the gaze report cursor are reset. An active gaze log is
// restarted under the new document's name.
func (s *Session) LoadDocument(path string) error {
	if s.closed {
		return ErrClosed
	}
	doc, err := document.Load(path)
	if err != nil {
		return err
	}
	thresholds := document.Thresholds(doc, document.LengthRule(s.cfg.Document.CharsPerSecond))

	if s.cfg.Document.WriteSidecar {
		if sidecar, err := document.SaveSidecar(s.cfg.Document.GazeDataDir, doc, thresholds); err != nil {
			s.logger.Warn("threshold sidecar not written", "document", doc.Name, "error", err)
			s.metrics.ErrorsTotal.Inc()
		} else {
			s.logger.Debug("threshold sidecar written", "path", sidecar)
		}
	}

	wasLogging := s.gazeLog.Active()
	if wasLogging {
		if err := s.gazeLog.Stop(); err != nil {
			s.logger.Warn("gaze log close failed", "error", err)
		}
	}
	s.endStoredSession()

	s.doc = doc
	s.thresholds = thresholds
	s.pageStart = 0
	s.tracker.SetDocument(thresholds, doc)
	s.holding = false
	s.reporter.Reset()
	s.audio.Stop()
	s.audio.SetManifest(nil)
	s.metrics.ResetBaseline()
	s.metrics.DocumentsTotal.Inc()

	if s.deps.Store != nil {
		id, err := s.deps.Store.CreateSession(doc.Name, doc.Fingerprint, s.userID, s.now())
		if err != nil {
			s.logger.Error("session not recorded", "document", doc.Name, "error", err)
			s.metrics.ErrorsTotal.Inc()
		} else {
			s.sessionID = id
		}
	}

	s.logger.Info("document loaded",
		"document", doc.Name,
		"sentences", doc.SentenceCount(),
		"words", doc.WordTotal(),
		"fingerprint", doc.Fingerprint,
		"session_id", s.sessionID,
	)

	if wasLogging {
		if _, err := s.StartLogging(); err != nil {
			return fmt.Errorf("restart gaze log: %w", err)
		}
	}
	return nil
}

// ApplyAudio loads the audio manifest for the current document. An empty
// path selects <doc>_audio.txt next to the document. It returns the number
// of sounds available.
func (s *Session) ApplyAudio(manifestPath string) (int, error) {
	if s.doc == nil {
		return 0, ErrNoDocument
	}
	if manifestPath == "" {
		dir := s.cfg.Document.TextDir
		if s.doc.Path != "" {
			dir = filepath.Dir(s.doc.Path)
		}
		manifestPath = filepath.Join(dir, s.doc.AudioManifestName())
	}
	manifest, err := audio.LoadManifest(manifestPath, s.logger)
	if err != nil {
		return 0, err
	}
	s.audio.SetManifest(manifest)
	s.logger.Info("audio applied", "manifest", manifestPath, "sounds", len(manifest))
	return len(manifest), nil
}

// Frame advances the session by one frame of dt seconds. It returns the
// trigger raised on this frame, if any. Collaborator failures are logged and
// counted, never returned.
func (s *Session) Frame(sample Sample, dt float64) (fixation.TriggerEvent, bool) {
	s.queue.Drain()
	if s.closed {
		return fixation.TriggerEvent{}, false
	}

	var (
		target     *fixation.TextUnitID
		line, word int
		ok         bool
	)
	if s.doc != nil && s.deps.Resolver != nil {
		line, word, ok = s.deps.Resolver.Resolve(sample)
		if ok {
			id := fixation.Unit(line+s.pageStart, word)
			target = &id
		}
	}

	ev, fired := s.tracker.Observe(target, dt)
	s.metrics.ObserveFrame(dt)

	if fired {
		s.metrics.ObserveTrigger(ev)
		switch s.audio.Offer(ev) {
		case audio.Busy:
			s.metrics.PlaybackIgnoredTotal.Inc()
		case audio.Failed:
			s.metrics.ErrorsTotal.Inc()
		}
		for _, fn := range s.listeners {
			fn(ev)
		}
		if !s.holding || s.held != ev.Unit {
			s.storeTrigger(ev)
		}
		s.held, s.holding = ev.Unit, true
	} else {
		s.holding = false
	}
	s.audio.Tick()

	if target != nil {
		s.recordRow(sample, *target, line)
		s.reporter.Mark(*target)
	}
	if s.gazeLog.Active() {
		if _, err := s.gazeLog.Advance(dt); err != nil {
			s.logger.Warn("gaze log flush failed", "error", err)
			s.metrics.ErrorsTotal.Inc()
		}
	}
	if id, due := s.reporter.Advance(dt); due {
		s.report(id)
	}

	s.metrics.SyncTracker(s.tracker.Stats(), s.tracker.Len(), s.tracker.Records())
	return ev, fired
}

func (s *Session) recordRow(sample Sample, id fixation.TextUnitID, line int) {
	if !s.gazeLog.Active() {
		return
	}
	token, _ := s.doc.Word(id.Sentence, id.Word)
	dwell, _ := s.tracker.Dwell(id)
	row := telemetry.Row{
		Timestamp:           sample.Timestamp,
		ConvergenceDistance: sample.ConvergenceDistance,
		ConvergenceValid:    sample.ConvergenceValid,
		GazeOrigin:          sample.GazeOrigin,
		GazeDirection:       sample.GazeDirection,
		LeftBlink:           sample.LeftBlink,
		RightBlink:          sample.RightBlink,
		Sentence:            id.Sentence,
		Line:                line,
		Word:                id.Word,
		Token:               token,
		TargetPos:           sample.Point,
		Duration:            dwell,
	}
	if wp, ok := s.deps.Resolver.(WordPositioner); ok {
		row.WordPos = wp.WordPosition(line, id.Word)
	}
	if err := s.gazeLog.Record(row); err != nil {
		s.logger.Warn("gaze row not recorded", "error", err)
		s.metrics.ErrorsTotal.Inc()
	}
}

// report sends the gaze report for id off the frame goroutine.
func (s *Session) report(id fixation.TextUnitID) {
	dwell, _ := s.tracker.Dwell(id)
	r := telemetry.GazeReport{
		Sentence:     id.Sentence,
		Word:         id.Word,
		Duration:     dwell,
		SentenceText: s.doc.Sentence(id.Sentence),
	}
	sender := s.deps.Backend
	if !s.cfg.Backend.SendGaze {
		sender = nil
	}
	store, sessionID, at := s.deps.Store, s.sessionID, s.now()
	if sender == nil && (store == nil || sessionID == "") {
		return
	}

	timeout := s.cfg.BackendTimeout()
	s.goAsync(func() {
		if sender != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			path, ok, err := sender.SendGaze(ctx, r)
			cancel()
			switch {
			case err != nil:
				s.logger.Warn("gaze report not sent", "unit", id.String(), "error", err)
				s.metrics.ErrorsTotal.Inc()
			case ok:
				s.logger.Info("server returned audio", "unit", id.String(), "path", path)
			}
		}
		if store != nil && sessionID != "" {
			if _, err := store.InsertGazeReport(sessionID, r, at); err != nil {
				s.logger.Warn("gaze report not stored", "unit", id.String(), "error", err)
				s.metrics.ErrorsTotal.Inc()
			}
		}
	})
}

func (s *Session) storeTrigger(ev fixation.TriggerEvent) {
	store, sessionID, at := s.deps.Store, s.sessionID, s.now()
	if store == nil || sessionID == "" {
		return
	}
	s.goAsync(func() {
		if _, err := store.InsertTrigger(sessionID, ev, at); err != nil {
			s.logger.Warn("trigger not stored", "unit", ev.Unit.String(), "error", err)
			s.metrics.ErrorsTotal.Inc()
		}
	})
}

func (s *Session) goAsync(fn func()) {
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		fn()
	}()
}

// Wait blocks until background reports and store writes have finished.
func (s *Session) Wait() {
	s.async.Wait()
}

// StartLogging opens a gaze log for the current document and user and
// returns its path. Starting while logging returns the current path.
func (s *Session) StartLogging() (string, error) {
	if s.doc == nil {
		return "", ErrNoDocument
	}
	if s.gazeLog.Active() {
		return s.gazeLog.Path(), nil
	}
	name := telemetry.FileName(s.doc.Name, s.userID, s.now())
	path, err := s.gazeLog.Start(s.cfg.Document.GazeDataDir, name)
	if err != nil {
		return "", err
	}
	s.logger.Info("gaze logging started", "path", path)
	return path, nil
}

// StopLogging flushes and closes the gaze log.
func (s *Session) StopLogging() error {
	if !s.gazeLog.Active() {
		return nil
	}
	path, rows := s.gazeLog.Path(), s.gazeLog.Rows()
	if err := s.gazeLog.Stop(); err != nil {
		return err
	}
	s.logger.Info("gaze logging stopped", "path", path, "rows", rows)
	return nil
}

// IsLogging reports whether the gaze log is open.
func (s *Session) IsLogging() bool {
	return s.gazeLog.Active()
}

// UserID returns the participant number.
func (s *Session) UserID() int {
	return s.userID
}

// SetUserID sets the participant number used for new gaze logs.
func (s *Session) SetUserID(id int) error {
	if id < 1 || id > MaxUserID {
		return fmt.Errorf("%w: %d", ErrBadUserID, id)
	}
	s.userID = id
	return nil
}

// NextUserID advances the participant number, wrapping after MaxUserID,
// and returns it.
func (s *Session) NextUserID() int {
	s.userID++
	if s.userID > MaxUserID {
		s.userID = 1
	}
	return s.userID
}

// SetPageStart sets the sentence index of the first line on screen.
func (s *Session) SetPageStart(sentence int) {
	s.pageStart = max(sentence, 0)
}

// PageStart returns the sentence index of the first line on screen.
func (s *Session) PageStart() int {
	return s.pageStart
}

// ApplyConfig takes the settings that can change while running from cfg:
// audio policy and gaze report sending. Other fields need a new session.
func (s *Session) ApplyConfig(cfg *config.Config) error {
	policy, err := audio.ParsePolicy(cfg.Audio.Policy)
	if err != nil {
		return err
	}
	s.audio.SetPolicy(policy)
	s.cfg.Audio.Policy = cfg.Audio.Policy
	s.cfg.Backend.SendGaze = cfg.Backend.SendGaze
	s.cfg.Backend.TimeoutMs = cfg.Backend.TimeoutMs
	s.logger.Info("configuration applied", "audio_policy", policy.String(), "send_gaze", cfg.Backend.SendGaze)
	return nil
}

// WatchInbox starts watching the configured inbox. Updates are delivered on
// the frame goroutine through the dispatch queue.
func (s *Session) WatchInbox() error {
	if s.closed {
		return ErrClosed
	}
	if s.inbox != nil {
		return nil
	}
	dir := s.cfg.InboxDir()
	docs, err := watcher.ListDocuments(dir)
	if err != nil {
		return err
	}
	s.documents = docs

	w, err := watcher.New(dir, s.cfg.Debounce(), s.queue, s.handleInbox, s.logger.With("component", "watcher"))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	s.inbox = w
	return nil
}

func (s *Session) handleInbox(u watcher.Update) {
	s.documents = u.Documents
	s.logger.Info("inbox changed", "changed", u.Changed, "documents", len(u.Documents))
	for _, fn := range s.inboxListeners {
		fn(u)
	}
}

// Documents returns the last known inbox listing.
func (s *Session) Documents() []string {
	return append([]string(nil), s.documents...)
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	st := Status{
		SessionID: s.sessionID,
		UserID:    s.userID,
		PageStart: s.pageStart,
		Logging:   s.gazeLog.Active(),
		LogPath:   s.gazeLog.Path(),
		Playing:   s.audio.Playing(),
		Sounds:    s.audio.SoundCount(),
		Active:    s.tracker.Active(),
		Inbox:     s.Documents(),
	}
	if s.doc != nil {
		st.Document = s.doc.Name
	}
	return st
}

// Close stops the inbox watcher, audio and gaze log, waits for background
// writes and ends the stored session.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.inbox != nil {
		if err := s.inbox.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop inbox watcher: %w", err))
		}
		s.inbox = nil
	}
	s.audio.Stop()
	if err := s.StopLogging(); err != nil {
		errs = append(errs, fmt.Errorf("stop gaze log: %w", err))
	}
	s.async.Wait()
	s.endStoredSession()
	return errors.Join(errs...)
}

func (s *Session) endStoredSession() {
	if s.deps.Store == nil || s.sessionID == "" {
		return
	}
	// Pending writes reference the session row.
	s.async.Wait()
	if err := s.deps.Store.EndSession(s.sessionID, s.now()); err != nil {
		s.logger.Warn("session end not recorded", "session_id", s.sessionID, "error", err)
		s.metrics.ErrorsTotal.Inc()
	}
	s.sessionID = ""
}
