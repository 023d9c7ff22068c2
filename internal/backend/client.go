// Package backend is the client for the text and audio processing server.
//
// The server speaks a line-less text protocol over TCP: one request per
// connection, UTF-8 payload, and a single reply read of up to 4096 bytes.
//
//	VIEW:<file>                        prepare a text file, reply is a path
//	GENERATE:<file>                    synthesise audio for a text file
//	GAZE:<sentence>,<word>,<dur>,<txt> report gaze, reply may be AUDIO:<path>
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"gazeread/internal/telemetry"
)

// Defaults.
const (
	DefaultAddress = "127.0.0.1:65432"
	DefaultTimeout = 5 * time.Second

	// MaxReply is the size of the single reply read.
	MaxReply = 4096

	audioPrefix = "AUDIO:"
)

// Common errors.
var (
	ErrEmptyFile  = errors.New("backend: empty file name")
	ErrEmptyReply = errors.New("backend: empty reply")
)

// Config configures a Client.
type Config struct {
	Address string
	Timeout time.Duration
}

// Client sends requests to the processing server. It holds no connection and
// is safe for concurrent use.
type Client struct {
	address string
	timeout time.Duration
	dialer  net.Dialer
}

// NewClient creates a client, filling zero values with defaults.
func NewClient(cfg Config) *Client {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{address: cfg.Address, timeout: cfg.Timeout}
}

// Address returns the server address.
func (c *Client) Address() string {
	return c.address
}

// RequestText asks the server to prepare file and returns the reply, which
// is the processed file path.
func (c *Client) RequestText(ctx context.Context, file string) (string, error) {
	if file == "" {
		return "", ErrEmptyFile
	}
	reply, err := c.roundTrip(ctx, "VIEW:"+file)
	if err != nil {
		return "", fmt.Errorf("request text %s: %w", file, err)
	}
	if reply == "" {
		return "", fmt.Errorf("request text %s: %w", file, ErrEmptyReply)
	}
	return reply, nil
}

// GenerateAudio asks the server to synthesise audio for file.
func (c *Client) GenerateAudio(ctx context.Context, file string) (string, error) {
	if file == "" {
		return "", ErrEmptyFile
	}
	reply, err := c.roundTrip(ctx, "GENERATE:"+file)
	if err != nil {
		return "", fmt.Errorf("generate audio %s: %w", file, err)
	}
	return reply, nil
}

// SendGaze reports gaze on a word. When the server answers with an audio
// path it is returned with ok set.
func (c *Client) SendGaze(ctx context.Context, r telemetry.GazeReport) (audioPath string, ok bool, err error) {
	reply, err := c.roundTrip(ctx, FormatGaze(r))
	if err != nil {
		return "", false, fmt.Errorf("send gaze: %w", err)
	}
	if path, found := strings.CutPrefix(reply, audioPrefix); found {
		return strings.TrimSpace(path), true, nil
	}
	return "", false, nil
}

// FormatGaze renders a gaze report request.
func FormatGaze(r telemetry.GazeReport) string {
	return "GAZE:" + strconv.Itoa(r.Sentence) + "," + strconv.Itoa(r.Word) + "," +
		strconv.FormatFloat(r.Duration, 'g', -1, 64) + "," + r.SentenceText
}

func (c *Client) roundTrip(ctx context.Context, request string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", c.address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return "", fmt.Errorf("set deadline: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if _, err := io.WriteString(conn, request); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}

	buf := make([]byte, MaxReply)
	n, err := conn.Read(buf)
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(buf[:n]), nil
}
