package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests step through window boundaries deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestLimiter_MinuteWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerMinute: 2})
	l.now = clock.now

	// t=0s and t=10s allowed.
	if !l.TryAcquire() {
		t.Fatal("first request denied, want allowed")
	}
	clock.advance(10 * time.Second)
	if !l.TryAcquire() {
		t.Fatal("second request at t=10s denied, want allowed")
	}

	// t=20s denied: both timestamps still inside the 60s window.
	clock.advance(10 * time.Second)
	if l.TryAcquire() {
		t.Fatal("third request at t=20s allowed, want denied")
	}

	// t=61s allowed: the t=0s timestamp has aged out.
	clock.advance(41 * time.Second)
	if !l.TryAcquire() {
		t.Fatal("request at t=61s denied, want allowed")
	}
}

func TestLimiter_AllWindowsMustAllow(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{
		BurstLimit:        1,
		RequestsPerMinute: 10,
	})
	l.now = clock.now

	if !l.TryAcquire() {
		t.Fatal("first request denied")
	}
	// Minute window has room, burst window does not.
	if l.TryAcquire() {
		t.Fatal("second request allowed, want denied by burst window")
	}
	clock.advance(DefaultBurstWindow + time.Second)
	if !l.TryAcquire() {
		t.Fatal("request after burst window denied, want allowed")
	}
}

func TestLimiter_WaitTime(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerMinute: 1})
	l.now = clock.now

	if got := l.WaitTime(); got != 0 {
		t.Errorf("WaitTime() on fresh limiter = %v, want 0", got)
	}

	l.RecordRequest()
	clock.advance(20 * time.Second)

	// 40s remain until the single timestamp ages out.
	if got := l.WaitTime(); got != 40*time.Second {
		t.Errorf("WaitTime() = %v, want 40s", got)
	}
}

func TestLimiter_WaitTime_ShortestWindowFirst(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{
		BurstLimit:        1,
		RequestsPerMinute: 1,
	})
	l.now = clock.now

	l.RecordRequest()

	// Both windows saturated; the burst window gives the tighter bound.
	if got := l.WaitTime(); got != DefaultBurstWindow {
		t.Errorf("WaitTime() = %v, want %v", got, DefaultBurstWindow)
	}
}

func TestLimiter_CanMakeRequest_DoesNotRecord(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1})

	for i := 0; i < 5; i++ {
		if !l.CanMakeRequest() {
			t.Fatalf("CanMakeRequest() #%d = false, want true", i+1)
		}
	}
	if !l.TryAcquire() {
		t.Fatal("TryAcquire() denied after checks only")
	}
}

func TestLimiter_NoWindowsAllowsEverything(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.TryAcquire() {
			t.Fatal("unconfigured limiter denied a request")
		}
	}
}

func TestLimiter_ConcurrentAcquire_NoOveradmission(t *testing.T) {
	const limit = 10
	l := New(Config{RequestsPerMinute: limit})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("admitted = %d, want %d", admitted, limit)
	}
}

func TestLimiter_Acquire_ContextCanceled(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1})
	if !l.TryAcquire() {
		t.Fatal("setup acquire failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Acquire() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire() did not return after cancellation")
	}
}

func TestLimiter_Acquire_FailsFastOnShortDeadline(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1})
	if !l.TryAcquire() {
		t.Fatal("setup acquire failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	var rlErr *Error
	if !errors.As(err, &rlErr) {
		t.Fatalf("Acquire() = %v, want *ratelimit.Error", err)
	}
	if rlErr.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", rlErr.RetryAfter)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("Acquire() slept %v before failing, want fail-fast", elapsed)
	}
}

func TestLimiter_Acquire_EventuallySucceeds(t *testing.T) {
	l := New(Config{BurstLimit: 1, BurstWindow: 50 * time.Millisecond})
	if !l.TryAcquire() {
		t.Fatal("setup acquire failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := l.Acquire(ctx); err != nil {
		t.Errorf("Acquire() = %v, want nil after window rollover", err)
	}
}
