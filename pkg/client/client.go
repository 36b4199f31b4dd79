// Package client submits requests to a running scribed daemon and waits
// for the results. It is the programmatic counterpart of the hotkey
// listener: drop a request file in the inbox, poll the outbox for the
// matching response.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"scribed/internal/ipc"
)

// Defaults for response polling.
const (
	DefaultTimeout      = 15 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
)

// statusFreshness mirrors the daemon heartbeat window: an older status
// means the daemon is gone even if its files remain.
const statusFreshness = 60 * time.Second

// ErrTimeout is returned when the daemon does not answer within the
// client's deadline.
var ErrTimeout = errors.New("client: timed out waiting for response")

// Client talks to one daemon instance through its runtime directory.
// Safe for concurrent use; every request gets a fresh identifier.
type Client struct {
	inboxDir   string
	outboxDir  string
	statusPath string

	timeout      time.Duration
	pollInterval time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithTimeout sets how long Submit and Ping wait for a response.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPollInterval sets how often the outbox is checked.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// New returns a client for the daemon whose runtime directory is dir. The
// layout under dir matches what the daemon creates: inbox/, outbox/, and
// status.json.
func New(dir string, opts ...Option) *Client {
	c := &Client{
		inboxDir:     filepath.Join(dir, "inbox"),
		outboxDir:    filepath.Join(dir, "outbox"),
		statusPath:   filepath.Join(dir, "status.json"),
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends the WAV file at audioPath for transcription and blocks
// until the response arrives, the client timeout passes, or ctx is done.
// The response file is consumed on success.
func (c *Client) Submit(ctx context.Context, audioPath string) (ipc.Response, error) {
	abs, err := filepath.Abs(audioPath)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("client: resolve %q: %w", audioPath, err)
	}
	req := ipc.Request{
		ID:        uuid.NewString(),
		Type:      ipc.TypeTranscribe,
		AudioFile: abs,
		Timestamp: ipc.Now(),
	}
	return c.roundTrip(ctx, req)
}

// Ping checks daemon liveness and returns the pong response with its model
// and uptime fields.
func (c *Client) Ping(ctx context.Context) (ipc.Response, error) {
	req := ipc.Request{
		ID:        uuid.NewString(),
		Type:      ipc.TypePing,
		Timestamp: ipc.Now(),
	}
	return c.roundTrip(ctx, req)
}

// Status reads the daemon status file.
func (c *Client) Status() (ipc.Status, error) {
	var st ipc.Status
	if err := ipc.ReadJSONFile(c.statusPath, &st); err != nil {
		return ipc.Status{}, err
	}
	return st, nil
}

// Running reports whether a daemon currently maintains a fresh status
// heartbeat.
func (c *Client) Running() bool {
	st, err := c.Status()
	if err != nil {
		return false
	}
	age := ipc.Now() - st.Timestamp
	return st.Active && age >= 0 && age < statusFreshness.Seconds()
}

// roundTrip delivers req to the inbox and polls the outbox for the
// matching response.
func (c *Client) roundTrip(ctx context.Context, req ipc.Request) (ipc.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqPath := filepath.Join(c.inboxDir, req.ID+".json")
	if err := ipc.WriteJSONAtomic(reqPath, req); err != nil {
		return ipc.Response{}, err
	}
	respPath := ipc.ResponsePath(c.outboxDir, req.ID)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Withdraw the request so a daemon that comes back later
			// does not process stale work.
			os.Remove(reqPath)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ipc.Response{}, fmt.Errorf("%w: request %s", ErrTimeout, req.ID)
			}
			return ipc.Response{}, ctx.Err()
		case <-ticker.C:
			var resp ipc.Response
			if err := ipc.ReadJSONFile(respPath, &resp); err != nil {
				continue
			}
			os.Remove(respPath)
			if resp.Error != "" {
				return resp, fmt.Errorf("client: request %s failed: %s", req.ID, resp.Error)
			}
			return resp, nil
		}
	}
}
