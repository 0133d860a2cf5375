package pipeline

import (
	"context"
	"sync"
	"time"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
)

const (
	defaultRateLimitMax    = 100
	defaultRateLimitWindow = 60 * time.Second
)

// RateLimiter implements key-based sliding-window rate limiting.
// Bookkeeping is pure computation guarded by a mutex; it never suspends.
type RateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	history map[string][]time.Time
	nowFn   func() time.Time
}

// NewRateLimiter creates a limiter allowing max events per window per key.
// Non-positive arguments fall back to 100 events per 60 seconds.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = defaultRateLimitMax
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		max:     max,
		window:  window,
		history: make(map[string][]time.Time),
		nowFn:   time.Now,
	}
}

// Allow records one occurrence for key and reports whether it fits inside
// the sliding window. Timestamps older than the window are pruned on access.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	cutoff := now.Add(-r.window)

	kept := r.history[key][:0]
	for _, ts := range r.history[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= r.max {
		r.history[key] = kept
		return false
	}

	r.history[key] = append(kept, now)
	return true
}

// RateLimitStage marks events exceeding the per-key window as SkipStorage
// rather than erroring. Over-limit events short-circuit the rest of the
// chain the same way a filter rejection does.
//
// keyFn derives the limit key from the event; a common choice is UserID with
// a fallback to the source. An empty key bypasses limiting.
func RateLimitStage(limiter *RateLimiter, keyFn func(*v1.Event) string) Stage {
	return Stage{
		Name: "rate_limit",
		Handler: func(ctx context.Context, pc *Context, next Next) error {
			key := keyFn(pc.Event)
			if key == "" {
				return next(ctx)
			}
			if !limiter.Allow(key) {
				pc.SkipStorage = true
				return nil
			}
			return next(ctx)
		},
	}
}
