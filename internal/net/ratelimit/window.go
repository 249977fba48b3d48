package ratelimit

import (
	"context"
	"sync"
	"time"
)

// FixedWindow admits at most limit acquisitions per window. Callers over the
// limit block until the window boundary, then compete for the next window.
// The counter update is the only serialization point; no lock is held while
// sleeping.
type FixedWindow struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windowStart time.Time
	count       int

	now func() time.Time // test seam
}

// Status is a snapshot of the current window.
type Status struct {
	Current   int           `json:"current"`
	Limit     int           `json:"limit"`
	Window    time.Duration `json:"window"`
	ResetTime time.Time     `json:"resetTime"`
}

// NewFixedWindow creates a limiter admitting limit calls per window.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Acquire consumes one admission, blocking to the window boundary when the
// current window is exhausted. Returns early only on context cancellation.
func (l *FixedWindow) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.count = 0
		}
		if l.count < l.limit {
			l.count++
			l.mu.Unlock()
			return nil
		}
		wait := l.windowStart.Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Status reports the live window state.
func (l *FixedWindow) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	current := l.count
	reset := l.windowStart.Add(l.window)
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		current = 0
		reset = now.Add(l.window)
	}
	return Status{
		Current:   current,
		Limit:     l.limit,
		Window:    l.window,
		ResetTime: reset,
	}
}
