// Package ratelimit provides a multi-window sliding rate limiter for
// outbound provider requests.
//
// A Limiter tracks request timestamps in up to four sliding windows
// (burst/minute/hour/day). A request is allowed only when every configured
// window is below its limit. The check-and-record step runs under a single
// mutex so two concurrent callers can never both observe "allowed" for the
// last remaining slot.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultBurstWindow is the window length used for Config.BurstLimit.
const DefaultBurstWindow = 10 * time.Second

// Error is returned when a request is denied by the limiter.
// RetryAfter is the time until the tightest saturated window frees a slot.
type Error struct {
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("ratelimit: limit reached, retry after %s", e.RetryAfter)
}

// Config configures the limiter. Zero-valued limits are not enforced.
type Config struct {
	// RequestsPerDay limits requests in a sliding 24h window.
	RequestsPerDay int `yaml:"requests_per_day"`

	// RequestsPerHour limits requests in a sliding 1h window.
	RequestsPerHour int `yaml:"requests_per_hour"`

	// RequestsPerMinute limits requests in a sliding 60s window.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// BurstLimit limits requests in a short sliding window.
	BurstLimit int `yaml:"burst_limit"`

	// BurstWindow is the window length for BurstLimit.
	// Default: 10 seconds
	BurstWindow time.Duration `yaml:"burst_window"`
}

type window struct {
	length time.Duration
	max    int
	stamps []time.Time
}

// evict drops timestamps older than the window. Timestamps are appended in
// order, so eviction is head-only.
func (w *window) evict(now time.Time) {
	cutoff := now.Add(-w.length)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func (w *window) saturated() bool {
	return len(w.stamps) >= w.max
}

// waitTime is how long until the oldest timestamp ages out.
func (w *window) waitTime(now time.Time) time.Duration {
	if len(w.stamps) == 0 {
		return 0
	}
	return w.length - now.Sub(w.stamps[0])
}

// Limiter is a multi-window sliding rate limiter.
// Safe for concurrent use within one process.
type Limiter struct {
	mu      sync.Mutex
	windows []*window // ordered shortest window first

	now func() time.Time
}

// New creates a limiter from config. A limiter with no configured windows
// allows everything.
func New(cfg Config) *Limiter {
	burstWindow := cfg.BurstWindow
	if burstWindow <= 0 {
		burstWindow = DefaultBurstWindow
	}

	l := &Limiter{now: time.Now}
	add := func(length time.Duration, max int) {
		if max > 0 {
			l.windows = append(l.windows, &window{length: length, max: max})
		}
	}
	// Shortest first so WaitTime finds the tightest bound early.
	add(burstWindow, cfg.BurstLimit)
	add(time.Minute, cfg.RequestsPerMinute)
	add(time.Hour, cfg.RequestsPerHour)
	add(24*time.Hour, cfg.RequestsPerDay)

	return l
}

// CanMakeRequest reports whether a request would currently be allowed.
// It does not record anything; use TryAcquire for the combined step.
func (l *Limiter) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowedLocked(l.now())
}

// RecordRequest records one accepted request in every configured window.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(l.now())
}

// TryAcquire checks every window and records the request as one atomic step.
// Returns false without recording when any window is saturated.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.allowedLocked(now) {
		return false
	}
	l.recordLocked(now)
	return true
}

// WaitTime returns the minimum non-zero wait until some saturated window
// frees a slot, or zero when a request is currently allowed.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, w := range l.windows {
		w.evict(now)
		if !w.saturated() {
			continue
		}
		if wait := w.waitTime(now); wait > 0 {
			return wait
		}
	}
	return 0
}

// Acquire blocks until a slot is acquired or ctx is done. The suspension
// blocks only the calling goroutine and is aborted by cancellation. When the
// caller's deadline cannot cover the wait, Acquire fails fast with *Error
// instead of sleeping toward a guaranteed timeout.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if l.TryAcquire() {
			return nil
		}

		wait := l.WaitTime()
		if wait <= 0 {
			// Lost a race between TryAcquire and WaitTime; retry shortly.
			wait = time.Millisecond
		}
		if deadline, ok := ctx.Deadline(); ok && l.now().Add(wait).After(deadline) {
			return &Error{RetryAfter: wait}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Limiter) allowedLocked(now time.Time) bool {
	for _, w := range l.windows {
		w.evict(now)
		if w.saturated() {
			return false
		}
	}
	return true
}

func (l *Limiter) recordLocked(now time.Time) {
	for _, w := range l.windows {
		w.stamps = append(w.stamps, now)
	}
}
