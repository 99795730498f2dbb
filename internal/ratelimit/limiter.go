// Package ratelimit implements an in-process fixed-window rate limiter.
//
// Counters live in a process-local map, so in a horizontally scaled
// deployment each instance counts independently; the redis-backed limiter in
// internal/cache/redis implements the same contract over a shared counter.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoretti/tokenvest/internal/domain"
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter keyed by identifier. All access to the
// window map is serialized, making read-check-increment atomic per key.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Check admits or denies one request for identifier under pol. On the first
// request for an identifier, or after the stored window has expired, a fresh
// window is started with a count of one. The error return exists only to
// satisfy domain.RateLimiter; it is always nil here.
func (l *Limiter) Check(_ context.Context, identifier string, pol domain.RateLimitPolicy) (domain.RateLimitResult, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(pol.Window)}
		l.windows[identifier] = w
		return domain.RateLimitResult{
			Allowed:   true,
			Remaining: pol.MaxRequests - 1,
			ResetAt:   w.resetAt,
		}, nil
	}

	w.count++
	if w.count > pol.MaxRequests {
		return domain.RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   w.resetAt,
		}, nil
	}

	return domain.RateLimitResult{
		Allowed:   true,
		Remaining: pol.MaxRequests - w.count,
		ResetAt:   w.resetAt,
	}, nil
}

// Sweep removes expired windows and returns how many were reclaimed. Expiry
// is already checked on access, so sweeping only bounds memory; it has no
// effect on Check results.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep at the given interval until the context is
// cancelled. It should be called in a goroutine.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logger.Debug("ratelimit: swept expired windows", slog.Int("removed", n))
			}
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*Limiter)(nil)
