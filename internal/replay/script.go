// Package replay drives a session from a recorded or hand-written frame
// script, for tests, demos and threshold tuning.
package replay

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScript is wrapped by every validation failure.
var ErrInvalidScript = errors.New("replay: invalid script")

const schemaURL = "https://gazeread.local/schema/replay-script-v1.json"

//go:embed script.schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func scriptSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Frame is one scripted frame.
type Frame struct {
	Line int     `json:"line" yaml:"line"`
	Word int     `json:"word" yaml:"word"`
	DT   float64 `json:"dt" yaml:"dt"`

	// None means nothing is under the gaze.
	None bool `json:"none,omitempty" yaml:"none,omitempty"`

	// Page, when set, turns to the page starting at that sentence before
	// the frame runs.
	Page *int `json:"page,omitempty" yaml:"page,omitempty"`

	// Repeat runs the frame this many times. 0 and 1 both mean once.
	Repeat int `json:"repeat,omitempty" yaml:"repeat,omitempty"`
}

// Script is a replay script.
type Script struct {
	// Document is the text file, relative to the script's directory.
	Document string `json:"document" yaml:"document"`

	// AudioManifest is loaded after the document when set.
	AudioManifest string `json:"audio_manifest,omitempty" yaml:"audio_manifest,omitempty"`

	PageStart int  `json:"page_start,omitempty" yaml:"page_start,omitempty"`
	Log       bool `json:"log,omitempty" yaml:"log,omitempty"`

	Frames []Frame `json:"frames" yaml:"frames"`

	// BaseDir resolves relative paths. Load sets it to the script's
	// directory.
	BaseDir string `json:"-" yaml:"-"`

	resolver *ScriptResolver
}

// Resolver returns the resolver Run steps through the script. Pass it to
// the session as its TextUnitResolver.
func (s *Script) Resolver() *ScriptResolver {
	if s.resolver == nil {
		s.resolver = &ScriptResolver{}
	}
	return s.resolver
}

// FrameCount returns the number of frames after repeats are expanded.
func (s *Script) FrameCount() int {
	n := 0
	for _, f := range s.Frames {
		n += max(f.Repeat, 1)
	}
	return n
}

func (s *Script) path(p string) string {
	if p == "" || filepath.IsAbs(p) || s.BaseDir == "" {
		return p
	}
	return filepath.Join(s.BaseDir, p)
}

// Parse decodes and validates a script. format is "json" or "yaml"; YAML
// is converted to JSON first so both pass the same schema.
func Parse(data []byte, format string) (*Script, error) {
	var generic any
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("%w: decode JSON: %v", ErrInvalidScript, err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("%w: decode YAML: %v", ErrInvalidScript, err)
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("%w: convert YAML: %v", ErrInvalidScript, err)
		}
		data = converted
		generic = nil
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("%w: convert YAML: %v", ErrInvalidScript, err)
		}
	default:
		return nil, fmt.Errorf("replay: unsupported script format %q", format)
	}

	schema, err := scriptSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}

	var script Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	return &script, nil
}

// Load reads the script at path, choosing the format by extension.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	script, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	script.BaseDir = filepath.Dir(path)
	return script, nil
}
