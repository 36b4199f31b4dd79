package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a settable time source for driving the coordinator through
// idle periods without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (fc *fakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *fakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)
}

func TestCoordinator_ExpiresAfterIdleTimeout(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(5*time.Minute, WithClock(clock.Now))

	if c.Expired() {
		t.Fatal("fresh session reported expired")
	}

	clock.Advance(4 * time.Minute)
	if c.Expired() {
		t.Errorf("session expired after %v with timeout %v", c.IdleFor(), c.Timeout())
	}

	clock.Advance(time.Minute)
	if !c.Expired() {
		t.Errorf("session not expired after %v with timeout %v", c.IdleFor(), c.Timeout())
	}
}

func TestCoordinator_TouchResetsIdleClock(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(5*time.Minute, WithClock(clock.Now))

	clock.Advance(4 * time.Minute)
	c.Touch()
	clock.Advance(4 * time.Minute)

	if c.Expired() {
		t.Error("session expired even though activity occurred within the timeout")
	}
	if got, want := c.IdleFor(), 4*time.Minute; got != want {
		t.Errorf("IdleFor() = %v, want %v", got, want)
	}
}

func TestCoordinator_ProcessingBlocksExpiry(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(time.Minute, WithClock(clock.Now))

	c.SetProcessing(true)
	clock.Advance(10 * time.Minute)
	if c.Expired() {
		t.Error("session expired while a request was in flight")
	}

	c.SetProcessing(false)
	if c.Expired() {
		t.Error("finishing a request should count as activity")
	}

	clock.Advance(2 * time.Minute)
	if !c.Expired() {
		t.Error("session not expired after processing finished and timeout elapsed")
	}
}

func TestCoordinator_ZeroTimeoutNeverExpires(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(0, WithClock(clock.Now))

	clock.Advance(24 * time.Hour)
	if c.Expired() {
		t.Error("session with disabled timeout reported expired")
	}
}

func TestCoordinator_Snapshot(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(5*time.Minute, WithClock(clock.Now))

	clock.Advance(30 * time.Second)
	c.Touch()
	clock.Advance(10 * time.Second)
	c.SetProcessing(true)
	clock.Advance(2 * time.Second)

	snap := c.Snapshot()
	if !snap.Processing {
		t.Error("Snapshot.Processing = false, want true")
	}
	if got, want := snap.Uptime, 42*time.Second; got != want {
		t.Errorf("Snapshot.Uptime = %v, want %v", got, want)
	}
	if got, want := snap.IdleFor, 2*time.Second; got != want {
		t.Errorf("Snapshot.IdleFor = %v, want %v", got, want)
	}
}

func TestRunMonitor_FiresOnExpiry(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(time.Minute, WithClock(clock.Now))
	clock.Advance(2 * time.Minute)

	var fired atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunMonitor(ctx, time.Millisecond, func() {
			fired.Add(1)
			c.Touch()
			cancel()
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not fire within 5s")
	}
	if fired.Load() != 1 {
		t.Errorf("expiry callback fired %d times, want 1", fired.Load())
	}
	if c.Expired() {
		t.Error("session still expired after callback touched the coordinator")
	}
}

func TestRunMonitor_OneEvictionPerIdlePeriod(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(time.Minute, WithClock(clock.Now))
	clock.Advance(2 * time.Minute)

	var fired atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunMonitor(ctx, time.Millisecond, func() { fired.Add(1) })
	}()

	waitForFires := func(want int32) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for fired.Load() < want && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if got := fired.Load(); got != want {
			t.Fatalf("expiry callback fired %d times, want %d", got, want)
		}
	}

	// The callback records no activity, so further ticks over the same
	// idle period must stay quiet.
	waitForFires(1)
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("callback fired %d times during one idle period, want 1", got)
	}

	// Fresh activity re-arms the monitor for the next idle period.
	c.Touch()
	time.Sleep(50 * time.Millisecond)
	clock.Advance(2 * time.Minute)
	waitForFires(2)

	cancel()
	<-done
}

func TestRunMonitor_StopsOnContextCancel(t *testing.T) {
	c := NewCoordinator(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunMonitor(ctx, time.Millisecond, func() {
			t.Error("expiry fired for a fresh session")
		})
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after context cancellation")
	}
}
