package audio

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
)

// Backend starts playback of an audio file.
type Backend interface {
	Play(path string) (Playback, error)
}

// Playback is an in-flight sound. Done must not block.
type Playback interface {
	Done() bool
	Stop() error
}

// CommandBackend plays files with an external player command, for example
// "aplay" or "afplay". The file path is appended as the last argument.
type CommandBackend struct {
	Command string
	Args    []string
}

// Play implements Backend.
func (b CommandBackend) Play(path string) (Playback, error) {
	if b.Command == "" {
		return nil, errors.New("audio: no player command configured")
	}
	args := append(append([]string{}, b.Args...), path)
	cmd := exec.Command(b.Command, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}

	p := &commandPlayback{cmd: cmd}
	go func() {
		_ = cmd.Wait()
		p.done.Store(true)
	}()
	return p, nil
}

type commandPlayback struct {
	cmd  *exec.Cmd
	done atomic.Bool
}

func (p *commandPlayback) Done() bool {
	return p.done.Load()
}

func (p *commandPlayback) Stop() error {
	if p.done.Load() || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !p.done.Load() {
		return fmt.Errorf("stop player: %w", err)
	}
	return nil
}

// NullBackend records play requests without producing sound. Each playback
// reports done after Frames polls of Done, which lets frame-driven tests
// and replays model sound length deterministically.
type NullBackend struct {
	Frames int

	mu    sync.Mutex
	plays []string
}

// Play implements Backend.
func (b *NullBackend) Play(path string) (Playback, error) {
	b.mu.Lock()
	b.plays = append(b.plays, path)
	b.mu.Unlock()
	return &nullPlayback{remaining: b.Frames}, nil
}

// Plays returns the paths played so far.
func (b *NullBackend) Plays() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.plays...)
}

type nullPlayback struct {
	remaining int
	stopped   bool
}

func (p *nullPlayback) Done() bool {
	if p.stopped || p.remaining <= 0 {
		return true
	}
	p.remaining--
	return false
}

func (p *nullPlayback) Stop() error {
	p.stopped = true
	return nil
}
