package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"gazeread/internal/audio"
)

// ErrInvalidConfig is wrapped by Load when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Fields returns the names of the offending fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateConfig validates every section and returns all problems found.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs.add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	validateFixation(c, &errs)
	validateDocument(c, &errs)
	validateAudio(c, &errs)
	validateTelemetry(c, &errs)
	validateBackend(c, &errs)
	validateWatch(c, &errs)

	if c.Dispatch.QueueSize < 1 {
		errs.add("dispatch.queue_size", "queue size must be at least 1")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		errs.add("storage.path", "path is required when storage is enabled")
	}
	if c.Storage.BusyTimeoutMs < 0 {
		errs.add("storage.busy_timeout_ms", "busy timeout cannot be negative")
	}

	validateLogging(c, &errs)
	validateMetrics(c, &errs)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateFixation(c *Config, errs *ValidationErrors) {
	f := c.Fixation
	if f.Capacity < 1 || f.Capacity > 64 {
		errs.add("fixation.capacity", "capacity must be between 1 and 64, got %d", f.Capacity)
	}
	if f.DecayRate < 0 {
		errs.add("fixation.decay_rate", "decay rate cannot be negative")
	}
	if f.MaxDwell <= 0 {
		errs.add("fixation.max_dwell", "max dwell must be positive")
	}
	if f.PruneInterval < 0 {
		errs.add("fixation.prune_interval", "prune interval cannot be negative")
	}
}

func validateDocument(c *Config, errs *ValidationErrors) {
	if c.Document.TextDir == "" {
		errs.add("document.text_dir", "text directory is required")
	}
	if c.Document.GazeDataDir == "" {
		errs.add("document.gaze_data_dir", "gaze data directory is required")
	}
	if c.Document.CharsPerSecond <= 0 {
		errs.add("document.chars_per_second", "chars per second must be positive")
	}
}

func validateAudio(c *Config, errs *ValidationErrors) {
	if _, err := audio.ParsePolicy(c.Audio.Policy); err != nil {
		errs.add("audio.policy", "invalid policy: %s (valid: ignore, interrupt)", c.Audio.Policy)
	}
}

func validateTelemetry(c *Config, errs *ValidationErrors) {
	if c.Telemetry.FlushIntervalSec <= 0 {
		errs.add("telemetry.flush_interval_sec", "flush interval must be positive")
	}
	if c.Telemetry.UserID < 1 || c.Telemetry.UserID > 9999 {
		errs.add("telemetry.user_id", "user id must be between 1 and 9999, got %d", c.Telemetry.UserID)
	}
}

func validateBackend(c *Config, errs *ValidationErrors) {
	if !c.Backend.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(c.Backend.Address); err != nil {
		errs.add("backend.address", "invalid host:port %q", c.Backend.Address)
	}
	if c.Backend.TimeoutMs < 1 {
		errs.add("backend.timeout_ms", "timeout must be at least 1ms")
	}
}

func validateWatch(c *Config, errs *ValidationErrors) {
	if !c.Watch.Enabled {
		return
	}
	if c.Watch.DebounceMs < 10 || c.Watch.DebounceMs > 60000 {
		errs.add("watch.debounce_ms", "debounce must be between 10 and 60000ms")
	}
	if c.InboxDir() == "" {
		errs.add("watch.inbox_dir", "inbox directory is required when watching")
	}
}

func validateLogging(c *Config, errs *ValidationErrors) {
	l := c.Logging
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.add("logging.level", "invalid log level: %s (valid: debug, info, warn, error)", l.Level)
	}

	switch l.Format {
	case "text", "json":
	default:
		errs.add("logging.format", "invalid log format: %s (valid: text, json)", l.Format)
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs.add("logging.file_path", "file path is required when output is %q", l.Output)
		}
	default:
		errs.add("logging.output", "invalid output: %s (valid: stdout, stderr, file, both)", l.Output)
	}

	if l.MaxSizeMB < 1 {
		errs.add("logging.max_size_mb", "max size must be at least 1 MB")
	}
	if l.MaxBackups < 0 {
		errs.add("logging.max_backups", "max backups cannot be negative")
	}
	if l.MaxAgeDays < 0 {
		errs.add("logging.max_age_days", "max age cannot be negative")
	}
}

func validateMetrics(c *Config, errs *ValidationErrors) {
	if !c.Metrics.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
		errs.add("metrics.listen", "invalid listen address %q", c.Metrics.Listen)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		errs.add("metrics.path", "path must start with /")
	}
}
