// Package config handles configuration loading, validation, and management
// for gazeread.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gazeread/internal/fixation"
	"gazeread/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete application configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Fixation configures the dwell tracker.
	Fixation fixation.Config `toml:"fixation" json:"fixation" yaml:"fixation"`

	// Document configures text loading and threshold derivation.
	Document DocumentConfig `toml:"document" json:"document" yaml:"document"`

	// Audio configures read-aloud playback.
	Audio AudioConfig `toml:"audio" json:"audio" yaml:"audio"`

	// Telemetry configures the per-frame gaze log.
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry" yaml:"telemetry"`

	// Backend configures the processing server client.
	Backend BackendConfig `toml:"backend" json:"backend" yaml:"backend"`

	// Watch configures the document inbox watcher.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	// Dispatch configures the frame loop task queue.
	Dispatch DispatchConfig `toml:"dispatch" json:"dispatch" yaml:"dispatch"`

	// Storage configures session persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configures metric exposition.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// DocumentConfig holds text loading configuration.
type DocumentConfig struct {
	// TextDir is where documents and their audio manifests live.
	TextDir string `toml:"text_dir" json:"text_dir" yaml:"text_dir"`

	// GazeDataDir receives threshold sidecars and gaze logs.
	GazeDataDir string `toml:"gaze_data_dir" json:"gaze_data_dir" yaml:"gaze_data_dir"`

	// CharsPerSecond converts token length to a threshold in seconds.
	CharsPerSecond float64 `toml:"chars_per_second" json:"chars_per_second" yaml:"chars_per_second"`

	// WriteSidecar writes <doc>_threshold.csv on load.
	WriteSidecar bool `toml:"write_sidecar" json:"write_sidecar" yaml:"write_sidecar"`
}

// AudioConfig holds playback configuration.
type AudioConfig struct {
	// Enabled turns playback on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Policy is "ignore" or "interrupt" for triggers arriving mid-playback.
	Policy string `toml:"policy" json:"policy" yaml:"policy"`

	// PlayerCommand plays one file, e.g. "aplay". Empty plays nothing.
	PlayerCommand string `toml:"player_command" json:"player_command" yaml:"player_command"`

	// PlayerArgs precede the file path.
	PlayerArgs []string `toml:"player_args" json:"player_args" yaml:"player_args"`
}

// TelemetryConfig holds gaze log configuration.
type TelemetryConfig struct {
	// Enabled starts the gaze log with each session.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// FlushIntervalSec is the frame time between flushes and gaze reports.
	FlushIntervalSec float64 `toml:"flush_interval_sec" json:"flush_interval_sec" yaml:"flush_interval_sec"`

	// UserID is the participant number written into log names.
	UserID int `toml:"user_id" json:"user_id" yaml:"user_id"`
}

// BackendConfig holds processing server configuration.
type BackendConfig struct {
	// Enabled turns the client on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Address is host:port of the server.
	Address string `toml:"address" json:"address" yaml:"address"`

	// TimeoutMs bounds dial, write and read.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// SendGaze reports the current word every flush interval.
	SendGaze bool `toml:"send_gaze" json:"send_gaze" yaml:"send_gaze"`
}

// WatchConfig holds inbox watching configuration.
type WatchConfig struct {
	// Enabled turns the inbox watcher on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// InboxDir is watched for *.txt documents. Defaults to the text dir.
	InboxDir string `toml:"inbox_dir" json:"inbox_dir" yaml:"inbox_dir"`

	// DebounceMs coalesces bursts of file events.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// DispatchConfig holds task queue configuration.
type DispatchConfig struct {
	// QueueSize bounds pending tasks.
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Enabled turns session persistence on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig holds metric exposition configuration.
type MetricsConfig struct {
	// Enabled turns the HTTP listener on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Listen is the HTTP listen address.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`

	// Path is the scrape path.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version:  Version,
		Fixation: fixation.DefaultConfig(),
		Document: DocumentConfig{
			TextDir:        filepath.Join(dir, "texts"),
			GazeDataDir:    filepath.Join(dir, "gaze"),
			CharsPerSecond: 10,
			WriteSidecar:   true,
		},
		Audio: AudioConfig{
			Enabled:       true,
			Policy:        "ignore",
			PlayerCommand: defaultPlayer(),
			PlayerArgs:    []string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:          true,
			FlushIntervalSec: 0.5,
			UserID:           1,
		},
		Backend: BackendConfig{
			Enabled:   false,
			Address:   "127.0.0.1:65432",
			TimeoutMs: 5000,
			SendGaze:  true,
		},
		Watch: WatchConfig{
			Enabled:    false,
			DebounceMs: 500,
		},
		Dispatch: DispatchConfig{
			QueueSize: 256,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "gazeread.db"),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "gazeread.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from path, applies environment overrides and
// validates the result. A missing file yields the defaults. TOML, JSON and
// YAML are selected by extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the application writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Document.TextDir,
		c.Document.GazeDataDir,
		c.InboxDir(),
	}
	if c.Storage.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// InboxDir returns the watched directory, defaulting to the text dir.
func (c *Config) InboxDir() string {
	if c.Watch.InboxDir != "" {
		return c.Watch.InboxDir
	}
	return c.Document.TextDir
}

// BackendTimeout returns the backend timeout as a duration.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutMs) * time.Millisecond
}

// Debounce returns the watcher debounce as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}

// StorageBusyTimeout returns the SQLite busy timeout as a duration.
func (c *Config) StorageBusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMs) * time.Millisecond
}

// LoggingOptions converts the logging section into logging.Config.
func (c *Config) LoggingOptions() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	opts := logging.DefaultConfig()
	opts.Level = level
	opts.Format = format
	opts.Output = c.Logging.Output
	opts.FilePath = c.Logging.FilePath
	opts.MaxSize = int64(c.Logging.MaxSizeMB)
	opts.MaxBackups = c.Logging.MaxBackups
	opts.MaxAge = c.Logging.MaxAgeDays
	opts.Compress = c.Logging.Compress
	return opts, nil
}

// ApplyEnvOverrides applies GAZEREAD_* environment variables. Unparseable
// numeric values are ignored and left for validation to judge the file value.
func (c *Config) ApplyEnvOverrides() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flt := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	num("GAZEREAD_CAPACITY", &c.Fixation.Capacity)
	flt("GAZEREAD_DECAY_RATE", &c.Fixation.DecayRate)
	flt("GAZEREAD_MAX_DWELL", &c.Fixation.MaxDwell)

	str("GAZEREAD_TEXT_DIR", &c.Document.TextDir)
	str("GAZEREAD_GAZE_DIR", &c.Document.GazeDataDir)

	str("GAZEREAD_AUDIO_POLICY", &c.Audio.Policy)
	str("GAZEREAD_PLAYER", &c.Audio.PlayerCommand)

	num("GAZEREAD_USER_ID", &c.Telemetry.UserID)

	flag("GAZEREAD_BACKEND_ENABLED", &c.Backend.Enabled)
	str("GAZEREAD_BACKEND_ADDR", &c.Backend.Address)

	str("GAZEREAD_INBOX_DIR", &c.Watch.InboxDir)

	str("GAZEREAD_DB_PATH", &c.Storage.Path)

	str("GAZEREAD_LOG_LEVEL", &c.Logging.Level)
	str("GAZEREAD_LOG_PATH", &c.Logging.FilePath)

	str("GAZEREAD_METRICS_LISTEN", &c.Metrics.Listen)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Audio.PlayerArgs = append([]string{}, c.Audio.PlayerArgs...)
	return &clone
}
