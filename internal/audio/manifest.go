// Package audio plays the generated narration for triggered words.
//
// The Manager is the application's trigger sink: it maps a triggered unit
// to a sound from the document's audio manifest and starts playback through a
// Backend, ignoring (or interrupting, by policy) triggers that arrive while a
// sound is still playing. Completion is polled once per frame with Tick.
package audio

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gazeread/internal/fixation"
)

// Manifest maps units to audio file paths.
type Manifest map[fixation.TextUnitID]string

// ParseManifest reads manifest lines of the form "sentence,word,path".
// Relative paths are resolved against baseDir. Lines that do not parse, point
// at missing files, or repeat a unit are skipped and counted in skipped.
func ParseManifest(r io.Reader, baseDir string, logger *slog.Logger) (m Manifest, skipped int, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	m = make(Manifest)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, path, ok := parseManifestLine(line)
		if !ok {
			logger.Warn("invalid audio manifest line", "line", lineNo, "text", line)
			skipped++
			continue
		}
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			logger.Warn("audio file not found", "line", lineNo, "path", path)
			skipped++
			continue
		}
		if _, dup := m[id]; dup {
			logger.Warn("sound already exists for unit", "sentence", id.Sentence, "word", id.Word)
			skipped++
			continue
		}
		m[id] = path
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scan audio manifest: %w", err)
	}
	return m, skipped, nil
}

// LoadManifest reads the manifest at path.
func LoadManifest(path string, logger *slog.Logger) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio manifest: %w", err)
	}
	defer f.Close()

	m, skipped, err := ParseManifest(f, filepath.Dir(path), logger)
	if err != nil {
		return nil, err
	}
	if logger != nil && skipped > 0 {
		logger.Info("audio manifest loaded with skipped lines", "path", path, "sounds", len(m), "skipped", skipped)
	}
	return m, nil
}

func parseManifestLine(line string) (fixation.TextUnitID, string, bool) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return fixation.TextUnitID{}, "", false
	}
	s, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || s < 0 {
		return fixation.TextUnitID{}, "", false
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || w < 0 {
		return fixation.TextUnitID{}, "", false
	}
	path := strings.TrimSpace(parts[2])
	if path == "" {
		return fixation.TextUnitID{}, "", false
	}
	return fixation.Unit(s, w), path, true
}
