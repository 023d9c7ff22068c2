package replay

import (
	"context"
	"fmt"

	"gazeread/internal/fixation"
	"gazeread/internal/session"
)

// ScriptResolver resolves every sample to the unit named by the frame Run
// is currently replaying.
type ScriptResolver struct {
	frame Frame
	set   bool
}

// Resolve implements session.TextUnitResolver.
func (r *ScriptResolver) Resolve(session.Sample) (int, int, bool) {
	if !r.set || r.frame.None {
		return 0, 0, false
	}
	return r.frame.Line, r.frame.Word, true
}

func (r *ScriptResolver) load(f Frame) {
	r.frame = f
	r.set = true
}

// Trigger is a trigger raised during a replay.
type Trigger struct {
	// Frame is the zero-based index after repeats are expanded.
	Frame     int                 `json:"frame"`
	Unit      fixation.TextUnitID `json:"unit"`
	Dwell     float64             `json:"dwell"`
	Threshold float64             `json:"threshold"`
}

// Result summarises a replay.
type Result struct {
	Document string                `json:"document"`
	Frames   int                   `json:"frames"`
	Elapsed  float64               `json:"elapsed"`
	Triggers []Trigger             `json:"triggers"`
	Active   []fixation.TextUnitID `json:"active"`
	Stats    fixation.Stats        `json:"stats"`
	LogPath  string                `json:"log_path,omitempty"`
}

// Run replays script through sess. The session must have been built with
// script.Resolver() as its resolver. The document is loaded first, then the
// audio manifest, page start and gaze log the script asks for. Run stops
// early with ctx's error when ctx is cancelled, returning what was replayed.
func Run(ctx context.Context, sess *session.Session, script *Script) (Result, error) {
	var res Result
	if script == nil {
		return res, fmt.Errorf("%w: nil script", ErrInvalidScript)
	}
	resolver := script.Resolver()

	if err := sess.LoadDocument(script.path(script.Document)); err != nil {
		return res, fmt.Errorf("load document: %w", err)
	}
	res.Document = sess.Document().Name

	if script.AudioManifest != "" {
		if _, err := sess.ApplyAudio(script.path(script.AudioManifest)); err != nil {
			return res, fmt.Errorf("apply audio: %w", err)
		}
	}
	sess.SetPageStart(script.PageStart)

	if script.Log {
		path, err := sess.StartLogging()
		if err != nil {
			return res, fmt.Errorf("start gaze log: %w", err)
		}
		res.LogPath = path
		defer sess.StopLogging()
	}

	var runErr error
frames:
	for _, f := range script.Frames {
		for range max(f.Repeat, 1) {
			if err := ctx.Err(); err != nil {
				runErr = err
				break frames
			}
			if f.Page != nil {
				sess.SetPageStart(*f.Page)
			}
			resolver.load(f)

			sample := session.Sample{Timestamp: res.Elapsed}
			if ev, fired := sess.Frame(sample, f.DT); fired {
				res.Triggers = append(res.Triggers, Trigger{
					Frame:     res.Frames,
					Unit:      ev.Unit,
					Dwell:     ev.Dwell,
					Threshold: ev.Threshold,
				})
			}
			res.Frames++
			res.Elapsed += max(f.DT, 0)
		}
	}

	sess.Wait()
	res.Active = sess.Tracker().Active()
	res.Stats = sess.Tracker().Stats()
	return res, runErr
}
