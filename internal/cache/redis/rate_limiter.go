package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmoretti/tokenvest/internal/domain"
)

//go:embed scripts/fixed_window.lua
var fixedWindowLua string

// RateLimiter implements domain.RateLimiter using a fixed-window counter in
// Redis. Unlike the in-process limiter, the counter is shared by every
// instance of the service, so the policy holds across a horizontally scaled
// deployment.
type RateLimiter struct {
	rdb         *redis.Client
	fixedWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:         c.Underlying(),
		fixedWindow: redis.NewScript(fixedWindowLua),
	}
}

func rateLimitKey(identifier string) string {
	return "ratelimit:" + identifier
}

// Check admits or denies one request for identifier under pol. The counter
// increment and expiry run as one Lua script, so concurrent checks from any
// number of processes never admit more than pol.MaxRequests per window.
func (rl *RateLimiter) Check(ctx context.Context, identifier string, pol domain.RateLimitPolicy) (domain.RateLimitResult, error) {
	result, err := rl.fixedWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(identifier)},
		pol.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("redis: rate limit check %s: %w", identifier, err)
	}
	if len(result) < 2 {
		return domain.RateLimitResult{}, fmt.Errorf("redis: rate limit check %s: unexpected result length %d", identifier, len(result))
	}

	count := int(result[0])
	resetAt := time.Now().Add(time.Duration(result[1]) * time.Millisecond)

	if count > pol.MaxRequests {
		return domain.RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return domain.RateLimitResult{
		Allowed:   true,
		Remaining: pol.MaxRequests - count,
		ResetAt:   resetAt,
	}, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
