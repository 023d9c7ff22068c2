package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error"} {
		level, err := ParseLevel(name)
		if err != nil {
			t.Fatal(err)
		}
		if got := LevelString(level); got != name {
			t.Errorf("LevelString(%v) = %q, want %q", level, got, name)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat('') = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.Component != "gazeread" {
		t.Errorf("expected component gazeread, got %s", cfg.Component)
	}
	if !strings.HasSuffix(cfg.FilePath, "gazeread.log") {
		t.Errorf("unexpected default path %s", cfg.FilePath)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Format: FormatJSON, Component: "tracker", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.WithSession("abc").Info("trigger", "token", "hello", "api_key", "k-123")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if rec["component"] != "tracker" || rec["session_id"] != "abc" {
		t.Errorf("missing attributes: %v", rec)
	}
	if rec["token"] != "hello" {
		t.Errorf("word token must not be redacted: %v", rec["token"])
	}
	if rec["api_key"] != "[REDACTED]" {
		t.Errorf("api_key not redacted: %v", rec["api_key"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelWarn, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"PASSWORD", true},
		{"secret", true},
		{"api_key", true},
		{"auth_header", true},
		{"credential", true},
		{"token", false},
		{"session_id", false},
		{"sentence", false},
		{"path", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			if got := shouldRedact(test.key); got != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, got, test.expected)
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	if err := l.Close(); err != nil {
		t.Error(err)
	}
}

func TestFileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = filepath.Join(t.TempDir(), "logs", "gazeread.log")

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("frame", "n", 1)
	if err := logger.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "msg=frame") {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestFileRotatorSizeRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 3})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rotator.now = func() time.Time { return clock }
	rotator.opened = clock
	rotator.maxBytes = 16

	line := []byte("0123456789\n")
	for i := 0; i < 2; i++ {
		if _, err := rotator.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		clock = clock.Add(time.Second)
	}

	files, err := rotator.Rotated()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one rotated file, got %v", files)
	}
	if !strings.HasSuffix(files[0], "test-20240501-100001.log") {
		t.Errorf("unexpected rotated name %s", files[0])
	}
	data, _ := os.ReadFile(logPath)
	if string(data) != string(line) {
		t.Errorf("current file should hold only the last write, got %q", data)
	}
}

func TestFileRotatorDailyRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "day.log")
	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer rotator.Close()

	clock := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	rotator.now = func() time.Time { return clock }
	rotator.opened = clock

	rotator.Write([]byte("a\n"))
	clock = clock.Add(2 * time.Minute)
	rotator.Write([]byte("b\n"))

	files, _ := rotator.Rotated()
	if len(files) != 1 {
		t.Errorf("expected rotation at midnight, got %v", files)
	}
}
