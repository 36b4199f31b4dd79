// Package resilience guards the daemon against crash loops.
//
// The central type is [FailureTracker], a per-request failure counter. A
// request that keeps failing under the same identifier (a client retrying a
// poisoned audio file, or a bug that crashes the engine deterministically)
// would otherwise crash or wedge the daemon once per retry, forever. When a
// single identifier exceeds its failure budget the tracker reports a trip
// and the daemon performs an emergency shutdown instead of taking the next
// hit.
//
// All types are safe for concurrent use.
package resilience

import (
	"log/slog"
	"sync"
)

// DefaultMaxFailures is the failure budget per request identifier when no
// explicit limit is configured.
const DefaultMaxFailures = 3

// FailureTracker counts failures per request identifier. Counts live in
// memory only; a daemon restart starts every identifier fresh.
type FailureTracker struct {
	maxFailures int

	mu     sync.Mutex
	counts map[string]int
}

// NewFailureTracker creates a tracker that trips once any single identifier
// fails more than maxFailures times. A non-positive limit selects
// [DefaultMaxFailures].
func NewFailureTracker(maxFailures int) *FailureTracker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return &FailureTracker{
		maxFailures: maxFailures,
		counts:      make(map[string]int),
	}
}

// RecordFailure increments the failure count for id and reports whether the
// budget is now exhausted. A true return means the daemon should stop
// accepting work and shut down.
func (ft *FailureTracker) RecordFailure(id string) (tripped bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.counts[id]++
	n := ft.counts[id]
	if n > ft.maxFailures {
		slog.Error("request failure budget exhausted",
			"request_id", id,
			"failures", n,
			"max_failures", ft.maxFailures,
		)
		return true
	}
	if n > 1 {
		slog.Warn("request failed again",
			"request_id", id,
			"failures", n,
			"max_failures", ft.maxFailures,
		)
	}
	return false
}

// RecordSuccess clears the failure count for id. A request that eventually
// succeeds is not held against future submissions of the same identifier.
func (ft *FailureTracker) RecordSuccess(id string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	delete(ft.counts, id)
}

// Failures returns the current failure count for id.
func (ft *FailureTracker) Failures(id string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.counts[id]
}

// MaxFailures returns the configured per-identifier budget.
func (ft *FailureTracker) MaxFailures() int {
	return ft.maxFailures
}
