// Package session tracks the lifetime of a warm transcription session:
// when the daemon last did useful work, whether it is mid-request, and
// when the idle timeout has been reached.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the session state, taken under the
// coordinator's lock. It feeds the externally visible status file.
type Snapshot struct {
	Processing   bool
	LastActivity time.Time
	Uptime       time.Duration
	IdleFor      time.Duration
}

// Coordinator serialises session state across the daemon's goroutines.
// Activity timestamps use the monotonic clock, so wall-clock jumps (NTP
// sync, suspend/resume) cannot spuriously expire a session.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	timeout time.Duration
	now     func() time.Time

	mu           sync.Mutex
	started      time.Time
	lastActivity time.Time
	processing   bool
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator returns a coordinator whose session expires after the
// given idle timeout. A non-positive timeout disables expiry.
func NewCoordinator(timeout time.Duration, opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	start := c.now()
	c.started = start
	c.lastActivity = start
	return c
}

// Touch records activity now, resetting the idle clock.
func (c *Coordinator) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = c.now()
}

// SetProcessing flags the start or end of request handling. Both
// transitions count as activity.
func (c *Coordinator) SetProcessing(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = on
	c.lastActivity = c.now()
}

// Processing reports whether a request is being handled right now.
func (c *Coordinator) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// IdleFor returns how long the session has been without activity.
func (c *Coordinator) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastActivity)
}

// Expired reports whether the idle timeout has elapsed. A session that is
// mid-request never counts as expired, whatever the clock says.
func (c *Coordinator) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeout <= 0 || c.processing {
		return false
	}
	return c.now().Sub(c.lastActivity) >= c.timeout
}

// Timeout returns the configured idle timeout.
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// Snapshot returns a consistent copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	return Snapshot{
		Processing:   c.processing,
		LastActivity: c.lastActivity,
		Uptime:       now.Sub(c.started),
		IdleFor:      now.Sub(c.lastActivity),
	}
}

// RunMonitor periodically checks for expiry and invokes onExpiry once per
// idle period. The eviction itself does not count as activity: the monitor
// stays quiet until fresh activity is observed, so last_activity keeps
// reflecting the last real request. Blocks until ctx is done.
func (c *Coordinator) RunMonitor(ctx context.Context, interval time.Duration, onExpiry func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	evicted := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Expired() {
				evicted = false
				continue
			}
			if evicted {
				continue
			}
			evicted = true
			slog.Info("session idle timeout reached",
				"idle_for", c.IdleFor().Round(time.Second),
				"timeout", c.timeout,
			)
			onExpiry()
		}
	}
}
