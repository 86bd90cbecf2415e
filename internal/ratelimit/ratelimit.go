// Package ratelimit implements fixed-window attempt counters for the auth
// endpoints. A Limiter holds the policy (attempts per window); the counters
// live in a Store so a single process can keep them in memory while a
// multi-instance deployment shares them through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Entry is one fixed-window counter. The window ends at ResetTime and is
// never extended by later attempts.
type Entry struct {
	Count     int
	ResetTime time.Time
}

// expired reports whether the window has passed. An entry is still live at
// exactly ResetTime.
func (e Entry) expired(now time.Time) bool {
	return now.After(e.ResetTime)
}

// Store persists counters. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for key. ok is false when none exists.
	Get(ctx context.Context, key string, now time.Time) (entry Entry, ok bool, err error)

	// Increment starts a new window (Count=1, ResetTime=now+window) when no
	// live entry exists, and otherwise adds one to Count.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error)

	// Delete removes the entry for key.
	Delete(ctx context.Context, key string) error
}

// Limiter guards one kind of attempt, e.g. logins by IP.
type Limiter struct {
	name        string
	maxAttempts int
	window      time.Duration
	store       Store
	now         func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Tests use it to move past windows.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter allowing maxAttempts per window. Keys are namespaced
// by name, so limiters can share one Store.
func New(name string, maxAttempts int, window time.Duration, store Store, opts ...Option) *Limiter {
	l := &Limiter{
		name:        name,
		maxAttempts: maxAttempts,
		window:      window,
		store:       store,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the limiter's name, used for metrics and logs.
func (l *Limiter) Name() string { return l.name }

// IsRateLimited reports whether key has used up its attempts in the current
// window. A stale entry is removed on sight.
func (l *Limiter) IsRateLimited(ctx context.Context, key string) (bool, error) {
	k := l.key(key)
	now := l.now()

	entry, ok, err := l.store.Get(ctx, k, now)
	if err != nil {
		return false, fmt.Errorf("reading %s limiter: %w", l.name, err)
	}
	if !ok {
		return false, nil
	}
	if entry.expired(now) {
		if err := l.store.Delete(ctx, k); err != nil {
			return false, fmt.Errorf("clearing %s limiter: %w", l.name, err)
		}
		return false, nil
	}
	return entry.Count >= l.maxAttempts, nil
}

// RecordAttempt counts one attempt against key.
func (l *Limiter) RecordAttempt(ctx context.Context, key string) error {
	if _, err := l.store.Increment(ctx, l.key(key), l.now(), l.window); err != nil {
		return fmt.Errorf("recording %s attempt: %w", l.name, err)
	}
	return nil
}

// Reset clears key, typically after a successful authentication.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, l.key(key)); err != nil {
		return fmt.Errorf("resetting %s limiter: %w", l.name, err)
	}
	return nil
}

// RetryAfter returns how long until key's window resets, rounded up to a
// whole second. Zero when no live window exists.
func (l *Limiter) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	now := l.now()
	entry, ok, err := l.store.Get(ctx, l.key(key), now)
	if err != nil {
		return 0, fmt.Errorf("reading %s limiter: %w", l.name, err)
	}
	if !ok || entry.expired(now) {
		return 0, nil
	}
	remaining := entry.ResetTime.Sub(now)
	return ((remaining + time.Second - 1) / time.Second) * time.Second, nil
}

func (l *Limiter) key(k string) string {
	return l.name + ":" + k
}
