package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"gazeread/internal/audio"
	"gazeread/internal/backend"
	"gazeread/internal/config"
	"gazeread/internal/document"
	"gazeread/internal/health"
	"gazeread/internal/metrics"
	"gazeread/internal/replay"
	"gazeread/internal/session"
	"gazeread/internal/store"
	"gazeread/internal/watcher"
)

func cmdThresholds(args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("thresholds", stdout)
	outDir := fs.String("o", "", "Output directory (default: gaze data dir)")
	cps := fs.Float64("cps", 0, "Characters per second (default: from config)")
	toStdout := fs.Bool("print", false, "Print the table instead of writing it")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errUsage
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *cps <= 0 {
		*cps = cfg.Document.CharsPerSecond
	}
	if *outDir == "" {
		*outDir = cfg.Document.GazeDataDir
	}

	doc, err := document.Load(pos[0])
	if err != nil {
		return err
	}
	table := document.Thresholds(doc, document.LengthRule(*cps))

	if *toStdout {
		return document.WriteSidecar(stdout, doc, table)
	}
	path, err := document.SaveSidecar(*outDir, doc, table)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d sentences, %d words\n", doc.Name, doc.SentenceCount(), doc.WordTotal())
	fmt.Fprintf(stdout, "Thresholds written to %s\n", path)
	return nil
}

func cmdReplay(args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("replay", stdout)
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	showMetrics := fs.Bool("metrics", false, "Print metrics after the replay (JSON with -json)")
	noStore := fs.Bool("no-store", false, "Do not record the session")
	userID := fs.Int("user", 0, "Participant number (default: from config)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errUsage
	}

	script, err := replay.Load(pos[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *userID > 0 {
		cfg.Telemetry.UserID = *userID
	}
	if *noStore {
		cfg.Storage.Enabled = false
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := setupLogger(cfg, "gazeread")
	if err != nil {
		return err
	}
	defer logger.Close()

	gm := metrics.NewGazeMetrics(nil)
	deps := session.Deps{
		Resolver: script.Resolver(),
		Player:   playerFor(cfg),
		Metrics:  gm,
		Logger:   logger.Logger,
	}
	if cfg.Backend.Enabled {
		deps.Backend = backend.NewClient(backend.Config{Address: cfg.Backend.Address, Timeout: cfg.BackendTimeout()})
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		deps.Store = st
	}

	sess, err := session.New(cfg, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := replay.Run(ctx, sess, script)
	sessionID := sess.SessionID()
	if err := sess.Close(); err != nil {
		logger.Warn("session close failed", "error", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if sessionID != "" {
		logger.WithSession(sessionID).Info("replay finished",
			"document", res.Document, "frames", res.Frames, "triggers", len(res.Triggers))
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printReplay(stdout, res, sessionID)
	}
	if !*showMetrics {
		return nil
	}
	// With -json the metrics follow the result as a second JSON document.
	if *asJSON {
		return gm.Registry().WriteJSON(stdout)
	}
	return gm.Registry().WritePrometheus(stdout)
}

func printReplay(w io.Writer, res replay.Result, sessionID string) {
	fmt.Fprintf(w, "Document: %s\n", res.Document)
	if sessionID != "" {
		fmt.Fprintf(w, "Session: %s\n", sessionID)
	}
	fmt.Fprintf(w, "Frames: %d (%.3fs)\n", res.Frames, res.Elapsed)
	fmt.Fprintf(w, "Admissions: %d  Evictions: %d  Rejections: %d\n",
		res.Stats.Admissions, res.Stats.Evictions, res.Stats.Rejections)
	if res.LogPath != "" {
		fmt.Fprintf(w, "Gaze log: %s\n", res.LogPath)
	}
	fmt.Fprintf(w, "Triggers: %d\n", len(res.Triggers))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range res.Triggers {
		fmt.Fprintf(tw, "  frame %d\t%s\tdwell %.3f\tthreshold %.3f\n", t.Frame, t.Unit, t.Dwell, t.Threshold)
	}
	tw.Flush()

	active := make([]string, len(res.Active))
	for i, id := range res.Active {
		active[i] = id.String()
	}
	fmt.Fprintf(w, "Active: %s\n", strings.Join(active, " "))
}

func playerFor(cfg *config.Config) audio.Backend {
	if !cfg.Audio.Enabled || cfg.Audio.PlayerCommand == "" {
		return nil
	}
	return audio.CommandBackend{Command: cfg.Audio.PlayerCommand, Args: cfg.Audio.PlayerArgs}
}

func cmdInbox(args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("inbox", stdout)
	dir := fs.String("dir", "", "Directory to watch (default: watch.inbox_dir or the text dir)")
	load := fs.Bool("load", false, "Load each new document as it arrives")
	runFor := fs.Duration("for", 0, "Stop after this long (default: until interrupted)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return errUsage
	}

	path := *cfgPath
	if path == "" {
		path = config.ConfigPath()
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *dir != "" {
		cfg.Watch.InboxDir = *dir
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := setupLogger(cfg, "gazeread")
	if err != nil {
		return err
	}
	defer logger.Close()

	gm := metrics.NewGazeMetrics(nil)
	deps := session.Deps{Player: playerFor(cfg), Metrics: gm, Logger: logger.Logger}
	if cfg.Backend.Enabled {
		deps.Backend = backend.NewClient(backend.Config{Address: cfg.Backend.Address, Timeout: cfg.BackendTimeout()})
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		deps.Store = st
	}

	sess, err := session.New(cfg, deps)
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, err := os.Stat(path); err == nil {
		loader.OnChange(func(c *config.Config) {
			if err := sess.Enqueue(func() {
				if err := sess.ApplyConfig(c); err != nil {
					logger.Warn("reloaded configuration rejected", "error", err)
				}
			}); err != nil {
				logger.Warn("configuration reload dropped", "error", err)
			}
		})
		if err := loader.Watch(); err != nil {
			logger.Warn("config watch failed", "path", path, "error", err)
		}
		defer loader.Close()
	}

	inbox := cfg.InboxDir()
	sess.OnInbox(func(u watcher.Update) {
		for _, p := range u.Changed {
			fmt.Fprintf(stdout, "changed: %s\n", filepath.Base(p))
		}
		if !*load || len(u.Changed) == 0 {
			return
		}
		latest := u.Changed[len(u.Changed)-1]
		if !isListed(u.Documents, latest) {
			return
		}
		if err := sess.LoadDocument(latest); err != nil {
			logger.Warn("document not loaded", "path", latest, "error", err)
			return
		}
		n, err := sess.ApplyAudio("")
		if err != nil {
			logger.Info("no audio for document", "path", latest, "error", err)
		}
		fmt.Fprintf(stdout, "loaded: %s (%d sounds)\n", sess.Document().Name, n)
	})
	if err := sess.WatchInbox(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Watching %s (%d documents)\n", inbox, len(sess.Documents()))

	var srv *http.Server
	if cfg.Metrics.Enabled {
		checker := newChecker(cfg, st)
		checker.RegisterFunc("queue", false, health.QueueCheck(sess.Queue()))
		srv = serveMetrics(cfg, gm.Registry(), checker, logger.Logger.Warn)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *runFor)
		defer cancel()
	}

	// Without a tracker feeding samples the frame loop only drains queued
	// work: inbox updates and configuration reloads.
	const frameInterval = 16 * time.Millisecond
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout, "Stopped.")
			return nil
		case err := <-loader.Errors():
			logger.Warn("config reload failed", "error", err)
		case now := <-ticker.C:
			sess.Frame(session.Sample{}, now.Sub(last).Seconds())
			last = now
		}
	}
}

func isListed(docs []string, path string) bool {
	for _, d := range docs {
		if d == path {
			return true
		}
	}
	return false
}

// newChecker registers the checks every station has. st may be nil.
func newChecker(cfg *config.Config, st *store.Store) *health.Checker {
	checker := health.NewChecker()
	checker.RegisterFunc("inbox", true, health.DirCheck(cfg.InboxDir()))
	if st != nil {
		checker.RegisterFunc("store", true, health.StoreCheck(st))
	}
	if cfg.Backend.Enabled {
		checker.RegisterFunc("backend", false, health.BackendCheck(cfg.Backend.Address))
	}
	return checker
}

func serveMetrics(cfg *config.Config, registry *metrics.Registry, checker *health.Checker, warn func(string, ...any)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, registry.HTTPHandler())
	mux.Handle("/healthz", checker.Handler())
	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			warn("metrics listener stopped", "addr", cfg.Metrics.Listen, "error", err)
		}
	}()
	return srv
}

func cmdHistory(args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("history", stdout)
	limit := fs.Int("n", 20, "Number of sessions to list (0 for all)")
	sessionID := fs.String("session", "", "Show the triggers of one session")
	verify := fs.Bool("verify", false, "Check the store for consistency")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return errUsage
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if !cfg.Storage.Enabled {
		return errors.New("storage is disabled")
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if *verify {
		problems, err := st.Verify()
		if err != nil {
			return err
		}
		if len(problems) == 0 {
			fmt.Fprintln(stdout, "Store OK")
			return nil
		}
		for _, p := range problems {
			fmt.Fprintf(stdout, "  %s\n", p)
		}
		return fmt.Errorf("%d problems found", len(problems))
	}

	if *sessionID != "" {
		return printSession(stdout, st, *sessionID)
	}

	sessions, err := st.ListSessions(*limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No sessions recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOCUMENT\tUSER\tSTARTED\tDURATION")
	for _, s := range sessions {
		dur := "active"
		if !s.Active() {
			dur = s.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%04d\t%s\t%s\n", s.ID, s.Document, s.UserID,
			time.Unix(0, s.StartedNs).Format(time.DateTime), dur)
	}
	return tw.Flush()
}

func printSession(w io.Writer, st *store.Store, id string) error {
	s, err := st.GetSession(id)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%w: %s", store.ErrSessionNotFound, id)
	}
	fmt.Fprintf(w, "Session: %s\n", s.ID)
	fmt.Fprintf(w, "Document: %s (%s)\n", s.Document, shortFingerprint(s.Fingerprint))
	fmt.Fprintf(w, "User: %04d\n", s.UserID)

	triggers, err := st.TriggersForSession(id)
	if err != nil {
		return err
	}
	counts, err := st.TriggerCounts(id)
	if err != nil {
		return err
	}
	reports, err := st.GazeReportsForSession(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Triggers: %d  Gaze reports: %d\n", len(triggers), len(reports))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range counts {
		fmt.Fprintf(tw, "  %s\t%d\n", c.Unit, c.Count)
	}
	return tw.Flush()
}

func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16] + "..."
	}
	return fp
}

func cmdFetch(args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("fetch", stdout)
	generate := fs.Bool("generate", false, "Ask the server to generate audio instead")
	addr := fs.String("addr", "", "Server address (default: from config)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errUsage
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *addr == "" {
		*addr = cfg.Backend.Address
	}
	client := backend.NewClient(backend.Config{Address: *addr, Timeout: cfg.BackendTimeout()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reply string
	if *generate {
		reply, err = client.GenerateAudio(ctx, pos[0])
	} else {
		reply, err = client.RequestText(ctx, pos[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, reply)
	return nil
}

func cmdConfig(args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("config", stdout)
	initFile := fs.Bool("init", false, "Write a default configuration if none exists")
	format := fs.String("format", "toml", "Output format: toml, json or yaml")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return errUsage
	}

	if *initFile {
		path := *cfgPath
		if path == "" {
			path = config.ConfigPath()
		}
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(stdout, "Created %s\n", path)
		} else {
			fmt.Fprintf(stdout, "%s already exists\n", path)
		}
		return nil
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	return config.Encode(stdout, cfg, *format)
}

func cmdStatus(args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("status", stdout)
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return errUsage
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, "=== gazeread Status ===")
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "Text directory: %s\n", cfg.Document.TextDir)
	fmt.Fprintf(stdout, "Gaze data: %s\n", cfg.Document.GazeDataDir)
	fmt.Fprintf(stdout, "Tracker: K=%d decay=%g/s max dwell=%gs\n",
		cfg.Fixation.Capacity, cfg.Fixation.DecayRate, cfg.Fixation.MaxDwell)
	fmt.Fprintf(stdout, "Audio: policy=%s player=%q\n", cfg.Audio.Policy, cfg.Audio.PlayerCommand)

	if docs, err := watcher.ListDocuments(cfg.InboxDir()); err == nil {
		fmt.Fprintf(stdout, "Documents: %d in %s\n", len(docs), cfg.InboxDir())
	} else {
		fmt.Fprintf(stdout, "Documents: inbox not readable (%v)\n", err)
	}

	var st *store.Store
	switch _, statErr := os.Stat(cfg.Storage.Path); {
	case !cfg.Storage.Enabled:
		fmt.Fprintln(stdout, "Storage: disabled")
	case statErr != nil:
		fmt.Fprintln(stdout, "Storage: no sessions recorded")
	default:
		st, err = openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		sessions, err := st.ListSessions(0)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Storage: %s (%d sessions)\n", cfg.Storage.Path, len(sessions))
	}

	checker := newChecker(cfg, st)
	report := checker.Report(context.Background())
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "Health: %s\n", report.Status)
	for _, name := range checker.Names() {
		r := report.Components[name]
		line := fmt.Sprintf("  %-8s %s", name, r.Status)
		if r.Error != "" {
			line += " (" + r.Error + ")"
		} else if r.Message != "" {
			line += " (" + r.Message + ")"
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}
