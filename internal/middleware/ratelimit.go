package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/keyxmakerx/trakit/internal/apperror"
	"github.com/keyxmakerx/trakit/internal/metrics"
)

// TokenBucket keeps one token-bucket limiter per key. Unlike the fixed
// window limiters guarding credentials, it smooths bursts on endpoints that
// trigger outbound work.
type TokenBucket struct {
	name  string
	every rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucket allows one event per interval per key, with bursts up to
// burst.
func NewTokenBucket(name string, interval time.Duration, burst int) *TokenBucket {
	return &TokenBucket{
		name:    name,
		every:   rate.Every(interval),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes a token for key. When none is available it returns false and
// the wait until the next one.
func (tb *TokenBucket) Allow(key string) (bool, time.Duration) {
	now := tb.now()

	tb.mu.Lock()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(tb.every, tb.burst)}
		tb.buckets[key] = b
	}
	b.lastSeen = now
	tb.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Sweep drops buckets idle for longer than idle and returns how many were
// removed.
func (tb *TokenBucket) Sweep(idle time.Duration) int {
	cutoff := tb.now().Add(-idle)

	tb.mu.Lock()
	defer tb.mu.Unlock()
	removed := 0
	for key, b := range tb.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(tb.buckets, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (tb *TokenBucket) StartSweeper(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := tb.Sweep(idle); n > 0 {
					slog.Debug("token buckets swept", slog.String("limiter", tb.name), slog.Int("removed", n))
				}
			}
		}
	}()
}

// RateLimit returns middleware that rejects a request with 429 when the
// bucket for key(c) is empty. Requests with an empty key pass through.
func RateLimit(tb *TokenBucket, key func(c echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			k := key(c)
			if k == "" {
				return next(c)
			}
			if ok, wait := tb.Allow(k); !ok {
				metrics.RateLimitExceeded.WithLabelValues(tb.name).Inc()
				retry := ((wait + time.Second - 1) / time.Second) * time.Second
				return apperror.NewTooManyRequests("Too many requests. Please try again later.", retry)
			}
			return next(c)
		}
	}
}
