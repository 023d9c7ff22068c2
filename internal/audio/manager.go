package audio

import (
	"fmt"
	"log/slog"

	"gazeread/internal/fixation"
)

// Policy decides what happens to a trigger that arrives while a sound is
// playing.
type Policy int

const (
	// PolicyIgnore drops triggers while busy.
	PolicyIgnore Policy = iota
	// PolicyInterrupt stops the current sound and plays the new one.
	PolicyInterrupt
)

// ParsePolicy parses "ignore" or "interrupt".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "ignore":
		return PolicyIgnore, nil
	case "interrupt":
		return PolicyInterrupt, nil
	}
	return PolicyIgnore, fmt.Errorf("audio: unknown policy %q", s)
}

func (p Policy) String() string {
	if p == PolicyInterrupt {
		return "interrupt"
	}
	return "ignore"
}

// Outcome is the result of offering a trigger to the Manager.
type Outcome int

const (
	Started Outcome = iota
	Busy
	NoSound
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case Busy:
		return "busy"
	case NoSound:
		return "no_sound"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Manager plays manifest sounds in response to triggers, one at a time.
// Like the tracker it is owned by the frame goroutine.
type Manager struct {
	backend  Backend
	policy   Policy
	logger   *slog.Logger
	manifest Manifest
	// missing holds units already warned about since the last SetManifest.
	missing map[fixation.TextUnitID]struct{}

	current     Playback
	currentUnit fixation.TextUnitID

	// OnPlaybackStart and OnPlaybackEnd are called on the frame goroutine.
	OnPlaybackStart func(id fixation.TextUnitID)
	OnPlaybackEnd   func(id fixation.TextUnitID)
}

// NewManager creates a Manager. A nil backend plays nothing.
func NewManager(backend Backend, policy Policy, logger *slog.Logger) *Manager {
	if backend == nil {
		backend = &NullBackend{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:  backend,
		policy:   policy,
		logger:   logger,
		manifest: Manifest{},
		missing:  make(map[fixation.TextUnitID]struct{}),
	}
}

// SetManifest replaces the sound table. A playing sound is left alone.
func (m *Manager) SetManifest(manifest Manifest) {
	if manifest == nil {
		manifest = Manifest{}
	}
	m.manifest = manifest
	clear(m.missing)
}

// Policy returns the busy policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// SetPolicy changes the busy policy for subsequent triggers.
func (m *Manager) SetPolicy(p Policy) {
	m.policy = p
}

// SoundCount returns the number of units with a sound.
func (m *Manager) SoundCount() int {
	return len(m.manifest)
}

// HasSound reports whether id has a sound.
func (m *Manager) HasSound(id fixation.TextUnitID) bool {
	_, ok := m.manifest[id]
	return ok
}

// Playing reports whether a sound is in flight. It does not poll the backend.
func (m *Manager) Playing() bool {
	return m.current != nil
}

// HandleTrigger implements fixation.TriggerSink.
func (m *Manager) HandleTrigger(ev fixation.TriggerEvent) {
	m.Offer(ev)
}

// Offer tries to play the sound for ev.Unit and reports what happened.
// A busy manager under PolicyIgnore answers Busy before the manifest is
// consulted. A missing sound is warned about once per unit.
func (m *Manager) Offer(ev fixation.TriggerEvent) Outcome {
	if m.current != nil && m.policy == PolicyIgnore {
		return Busy
	}
	path, ok := m.manifest[ev.Unit]
	if !ok {
		if _, seen := m.missing[ev.Unit]; !seen {
			m.missing[ev.Unit] = struct{}{}
			m.logger.Warn("sound not found", "unit", ev.Unit.String())
		}
		return NoSound
	}
	if m.current != nil {
		m.stopCurrent()
	}

	p, err := m.backend.Play(path)
	if err != nil {
		m.logger.Error("audio playback failed", "unit", ev.Unit.String(), "path", path, "error", err)
		return Failed
	}
	m.current = p
	m.currentUnit = ev.Unit
	m.logger.Debug("audio playback started", "unit", ev.Unit.String(), "path", path, "dwell", ev.Dwell)
	if m.OnPlaybackStart != nil {
		m.OnPlaybackStart(ev.Unit)
	}
	return Started
}

// Tick polls the in-flight sound and clears the busy state once it ends.
// It reports whether a sound finished on this call.
func (m *Manager) Tick() bool {
	if m.current == nil || !m.current.Done() {
		return false
	}
	m.finish()
	return true
}

// Stop stops any in-flight sound.
func (m *Manager) Stop() {
	if m.current != nil {
		m.stopCurrent()
	}
}

func (m *Manager) stopCurrent() {
	if err := m.current.Stop(); err != nil {
		m.logger.Warn("audio stop failed", "unit", m.currentUnit.String(), "error", err)
	}
	m.finish()
}

func (m *Manager) finish() {
	id := m.currentUnit
	m.current = nil
	m.currentUnit = fixation.TextUnitID{}
	if m.OnPlaybackEnd != nil {
		m.OnPlaybackEnd(id)
	}
}
