package metrics

import "gazeread/internal/fixation"

// GazeMetrics holds the reading session metrics.
type GazeMetrics struct {
	registry *Registry

	// Counters
	FramesTotal          *Counter
	TriggersTotal        *Counter
	AdmissionsTotal      *Counter
	EvictionsTotal       *Counter
	RejectionsTotal      *Counter
	PlaybackStartedTotal *Counter
	PlaybackIgnoredTotal *Counter
	DocumentsTotal       *Counter
	ErrorsTotal          *Counter

	// Gauges
	ActiveUnits  *Gauge
	DwellRecords *Gauge

	// Histograms
	TriggerDwell *Histogram
	FrameDelta   *Histogram

	last fixation.Stats
}

// NewGazeMetrics registers the gaze metrics on registry, or on a fresh
// "gazeread" registry when nil.
func NewGazeMetrics(registry *Registry) *GazeMetrics {
	if registry == nil {
		registry = NewRegistry("gazeread", "")
	}

	return &GazeMetrics{
		registry: registry,

		FramesTotal:          registry.RegisterCounter("frames_total", "Frames observed", nil),
		TriggersTotal:        registry.RegisterCounter("triggers_total", "Trigger events emitted", nil),
		AdmissionsTotal:      registry.RegisterCounter("admissions_total", "Units admitted to the active set", nil),
		EvictionsTotal:       registry.RegisterCounter("evictions_total", "Units evicted from the active set", nil),
		RejectionsTotal:      registry.RegisterCounter("rejections_total", "Admissions refused against a full active set", nil),
		PlaybackStartedTotal: registry.RegisterCounter("playback_started_total", "Sounds started", nil),
		PlaybackIgnoredTotal: registry.RegisterCounter("playback_ignored_total", "Triggers dropped while a sound was playing", nil),
		DocumentsTotal:       registry.RegisterCounter("documents_loaded_total", "Documents loaded", nil),
		ErrorsTotal:          registry.RegisterCounter("errors_total", "Collaborator failures on the frame path", nil),

		ActiveUnits:  registry.RegisterGauge("active_units", "Units in the active set", nil),
		DwellRecords: registry.RegisterGauge("dwell_records", "Units with a dwell record", nil),

		TriggerDwell: registry.RegisterHistogram("trigger_dwell_seconds", "Dwell at trigger time", nil, DwellBuckets),
		FrameDelta:   registry.RegisterHistogram("frame_dt_seconds", "Frame delta", nil, FrameBuckets),
	}
}

// Registry returns the backing registry.
func (m *GazeMetrics) Registry() *Registry {
	return m.registry
}

// ObserveFrame records one frame's delta.
func (m *GazeMetrics) ObserveFrame(dt float64) {
	m.FramesTotal.Inc()
	m.FrameDelta.Observe(dt)
}

// ObserveTrigger records a trigger.
func (m *GazeMetrics) ObserveTrigger(ev fixation.TriggerEvent) {
	m.TriggersTotal.Inc()
	m.TriggerDwell.Observe(ev.Dwell)
}

// SyncTracker folds tracker counters accumulated since the last call into
// the metrics and updates the gauges. Tracker resets are detected and the
// baseline restarted.
func (m *GazeMetrics) SyncTracker(stats fixation.Stats, active, records int) {
	if stats.Observations < m.last.Observations {
		m.last = fixation.Stats{}
	}
	m.AdmissionsTotal.Add(stats.Admissions - m.last.Admissions)
	m.EvictionsTotal.Add(stats.Evictions - m.last.Evictions)
	m.RejectionsTotal.Add(stats.Rejections - m.last.Rejections)
	m.last = stats

	m.ActiveUnits.Set(int64(active))
	m.DwellRecords.Set(int64(records))
}

// ResetBaseline forgets the tracker counters seen so far. Call it when the
// tracker is reset.
func (m *GazeMetrics) ResetBaseline() {
	m.last = fixation.Stats{}
}

// Snapshot returns key metrics for status output.
func (m *GazeMetrics) Snapshot() map[string]any {
	return map[string]any{
		"frames_total":           m.FramesTotal.Value(),
		"triggers_total":         m.TriggersTotal.Value(),
		"admissions_total":       m.AdmissionsTotal.Value(),
		"evictions_total":        m.EvictionsTotal.Value(),
		"rejections_total":       m.RejectionsTotal.Value(),
		"playback_started_total": m.PlaybackStartedTotal.Value(),
		"playback_ignored_total": m.PlaybackIgnoredTotal.Value(),
		"errors_total":           m.ErrorsTotal.Value(),
		"active_units":           m.ActiveUnits.Value(),
		"dwell_records":          m.DwellRecords.Value(),
		"trigger_dwell_mean":     m.TriggerDwell.Mean(),
	}
}
