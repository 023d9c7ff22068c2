// Package document loads reading material and derives the per-word trigger
// thresholds consumed by the fixation tracker.
//
// A document is a plain text file with one sentence per line. Words are the
// single-space separated tokens of a sentence, so a unit (sentence, word)
// addresses the same token the threshold sidecar lists.
package document

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ErrEmptyName is returned when a document path has no file name.
var ErrEmptyName = errors.New("document: empty file name")

// Document is a loaded text split into sentences and words.
type Document struct {
	// Name is the file name without extension; it prefixes every artifact
	// derived from the document (sidecar, audio manifest, gaze logs).
	Name string

	// Path is the absolute source path, empty for documents built in memory.
	Path string

	// Fingerprint is the hex BLAKE2b-256 digest of the source bytes.
	Fingerprint string

	sentences []string
	words     [][]string
}

// Load reads the document at path.
func Load(path string) (*Document, error) {
	name := NameOf(path)
	if name == "" {
		return nil, ErrEmptyName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	doc, err := Parse(name, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		doc.Path = abs
	} else {
		doc.Path = path
	}
	return doc, nil
}

// Parse builds a document from r, one sentence per line.
func Parse(name string, r io.Reader) (*Document, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("init fingerprint: %w", err)
	}
	doc := &Document{Name: name}

	sc := bufio.NewScanner(io.TeeReader(r, h))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		doc.sentences = append(doc.sentences, line)
		doc.words = append(doc.words, strings.Split(line, " "))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.Fingerprint = hex.EncodeToString(h.Sum(nil))
	return doc, nil
}

// NameOf returns the base file name of path without its extension.
func NameOf(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SentenceCount implements fixation.Bounds.
func (d *Document) SentenceCount() int {
	return len(d.sentences)
}

// WordCount implements fixation.Bounds.
func (d *Document) WordCount(sentence int) int {
	if sentence < 0 || sentence >= len(d.words) {
		return 0
	}
	return len(d.words[sentence])
}

// Sentence returns the text of sentence i, or "" when out of range.
func (d *Document) Sentence(i int) string {
	if i < 0 || i >= len(d.sentences) {
		return ""
	}
	return d.sentences[i]
}

// Word returns the token at (sentence, word).
func (d *Document) Word(sentence, word int) (string, bool) {
	if sentence < 0 || sentence >= len(d.words) {
		return "", false
	}
	ws := d.words[sentence]
	if word < 0 || word >= len(ws) {
		return "", false
	}
	return ws[word], true
}

// WordTotal returns the number of addressable words in the document.
func (d *Document) WordTotal() int {
	n := 0
	for _, ws := range d.words {
		n += len(ws)
	}
	return n
}

// SidecarName returns the threshold sidecar file name for the document.
func (d *Document) SidecarName() string {
	return d.Name + "_threshold.csv"
}

// AudioManifestName returns the audio manifest file name for the document.
func (d *Document) AudioManifestName() string {
	return d.Name + "_audio.txt"
}
