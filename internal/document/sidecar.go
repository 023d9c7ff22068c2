package document

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gazeread/internal/fixation"
)

// sidecarHeader is the first row of every threshold sidecar.
var sidecarHeader = []string{"SentenceIndex", "WordIndex", "Token", "Threshold"}

// ErrBadSidecarHeader is returned when a sidecar does not start with the
// expected header row.
var ErrBadSidecarHeader = errors.New("document: bad threshold sidecar header")

// SidecarRow is one line of a threshold sidecar.
type SidecarRow struct {
	Unit      fixation.TextUnitID
	Token     string
	Threshold float64
}

// WriteSidecar writes the threshold sidecar for doc to w in sentence/word
// order. Units missing from table are written as disabled.
func WriteSidecar(w io.Writer, doc *Document, table fixation.ThresholdTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sidecarHeader); err != nil {
		return fmt.Errorf("write sidecar header: %w", err)
	}
	for s, ws := range doc.words {
		for i, token := range ws {
			th, ok := table.Threshold(fixation.Unit(s, i))
			if !ok {
				th = fixation.Disabled
			}
			row := []string{
				strconv.Itoa(s),
				strconv.Itoa(i),
				token,
				strconv.FormatFloat(th, 'g', -1, 64),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write sidecar row %d,%d: %w", s, i, err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveSidecar writes the sidecar for doc into dir and returns its path.
func SaveSidecar(dir string, doc *Document, table fixation.ThresholdTable) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sidecar directory: %w", err)
	}
	path := filepath.Join(dir, doc.SidecarName())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create sidecar: %w", err)
	}
	if err := WriteSidecar(f, doc, table); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close sidecar: %w", err)
	}
	return path, nil
}

// ReadSidecar parses a threshold sidecar.
func ReadSidecar(r io.Reader) ([]SidecarRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(sidecarHeader)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrBadSidecarHeader
		}
		return nil, fmt.Errorf("read sidecar header: %w", err)
	}
	for i, col := range sidecarHeader {
		if header[i] != col {
			return nil, fmt.Errorf("%w: column %d is %q", ErrBadSidecarHeader, i, header[i])
		}
	}

	var rows []SidecarRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sidecar: %w", err)
		}
		line, _ := cr.FieldPos(0)
		s, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("sidecar line %d: sentence index: %w", line, err)
		}
		w, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("sidecar line %d: word index: %w", line, err)
		}
		th, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("sidecar line %d: threshold: %w", line, err)
		}
		rows = append(rows, SidecarRow{Unit: fixation.Unit(s, w), Token: rec[2], Threshold: th})
	}
	return rows, nil
}

// LoadSidecar reads the sidecar at path into a threshold table.
func LoadSidecar(path string) (fixation.ThresholdMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sidecar: %w", err)
	}
	defer f.Close()

	rows, err := ReadSidecar(f)
	if err != nil {
		return nil, err
	}
	table := make(fixation.ThresholdMap, len(rows))
	for _, r := range rows {
		table[r.Unit] = r.Threshold
	}
	return table, nil
}
