// Package ratelimit provides fixed-window request limiting keyed by caller
// identity (IP or account). The in-memory limiter is the default; it is scoped
// to one runtime instance and not shared across instances, a known scaling
// limitation. Deployments that need a shared view swap in the redis backend
// without touching call sites.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // time until the window resets; meaningful when !Allowed
}

// Limiter decides whether a request identified by key may proceed.
// Implementations return an error only for infrastructure failures; callers on
// availability-critical paths treat that as fail-open.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindow is an in-memory fixed-window counter. The count resets to 1 on
// the first request after the window elapses. Stale windows are swept
// opportunistically on Allow rather than by a background goroutine.
type FixedWindow struct {
	windowLen time.Duration
	limit     int

	mu       sync.Mutex
	windows  map[string]*window
	lastGC   time.Time
	nowF     func() time.Time
}

// NewFixedWindow returns a limiter allowing limit requests per key per windowLen.
func NewFixedWindow(limit int, windowLen time.Duration) *FixedWindow {
	return &FixedWindow{
		windowLen: windowLen,
		limit:     limit,
		windows:   make(map[string]*window),
		nowF:      time.Now,
	}
}

// Allow counts one request against key's current window. Never returns an
// error: the in-memory table cannot fail.
func (l *FixedWindow) Allow(_ context.Context, key string) (Decision, error) {
	now := l.nowF()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(now)

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.windowLen)}
		return Decision{Allowed: true}, nil
	}
	w.count++
	if w.count > l.limit {
		return Decision{Allowed: false, RetryAfter: w.resetAt.Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}

// maybeSweep drops expired windows at most once per window length.
// Caller must hold l.mu.
func (l *FixedWindow) maybeSweep(now time.Time) {
	if now.Sub(l.lastGC) < l.windowLen {
		return
	}
	l.lastGC = now
	for k, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, k)
		}
	}
}

// Reset drops key's current window, returning its full budget immediately.
func (l *FixedWindow) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}

// Len returns the number of tracked keys. For tests and metrics.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
