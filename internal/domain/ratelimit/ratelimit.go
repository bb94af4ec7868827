// Package ratelimit implements the sliding-window admission check that guards
// the upstream API quota.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Default window parameters.
const (
	DefaultWindow      = 100 * time.Second
	DefaultMaxRequests = 400
)

// Admitter decides whether one more unit of work may start now.
// Implementations record the admission when they return true.
type Admitter interface {
	TryAdmit(ctx context.Context) (bool, error)
}

// StatsReporter exposes the current fill level of a window.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a point-in-time view of a window.
type Stats struct {
	InWindow int   `json:"inWindow"`
	Max      int   `json:"max"`
	WindowMs int64 `json:"windowMs"`
}

// Window is an in-process sliding-window limiter. State is volatile and
// resets with the process.
type Window struct {
	mu         sync.Mutex
	timestamps []time.Time
	window     time.Duration
	max        int
	now        func() time.Time
}

var (
	_ Admitter      = (*Window)(nil)
	_ StatsReporter = (*Window)(nil)
)

// Option applies a configuration option to the Window.
type Option func(*Window)

// WithWindow sets the trailing interval length.
func WithWindow(d time.Duration) Option {
	return func(w *Window) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithMaxRequests sets how many admissions fit in one window.
func WithMaxRequests(n int) Option {
	return func(w *Window) {
		if n > 0 {
			w.max = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a Window with defaults of 400 admissions per 100s.
func New(opts ...Option) *Window {
	w := &Window{
		window: DefaultWindow,
		max:    DefaultMaxRequests,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TryAdmit purges expired timestamps and admits if fewer than max remain.
// A denied call records nothing. It never returns an error.
func (w *Window) TryAdmit(_ context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.purge(now)
	if len(w.timestamps) >= w.max {
		return false, nil
	}
	w.timestamps = append(w.timestamps, now)
	return true, nil
}

// Stats reports the current in-window count after purging.
func (w *Window) Stats(_ context.Context) (Stats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.purge(w.now())
	return Stats{InWindow: len(w.timestamps), Max: w.max, WindowMs: w.window.Milliseconds()}, nil
}

// purge drops entries with now-ts >= window. Timestamps are appended in
// order, so the expired ones form a prefix.
func (w *Window) purge(now time.Time) {
	i := 0
	for i < len(w.timestamps) && now.Sub(w.timestamps[i]) >= w.window {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(w.timestamps, w.timestamps[i:])
	w.timestamps = w.timestamps[:n]
}
