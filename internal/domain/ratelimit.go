package domain

import (
	"context"
	"time"
)

// RateLimitPolicy is a fixed-window admission policy: at most MaxRequests
// per identifier within each Window.
type RateLimitPolicy struct {
	MaxRequests int
	Window      time.Duration
}

// Predefined policies applied by the API layer.
var (
	// PolicySensitiveSubmission guards mutating endpoints such as order
	// verification and holdings sync.
	PolicySensitiveSubmission = RateLimitPolicy{MaxRequests: 5, Window: 24 * time.Hour}

	// PolicyGeneralAPI is the blanket per-client limit for all API traffic.
	PolicyGeneralAPI = RateLimitPolicy{MaxRequests: 100, Window: 15 * time.Minute}

	// PolicyAuthAttempts limits authentication attempts per client.
	PolicyAuthAttempts = RateLimitPolicy{MaxRequests: 5, Window: 15 * time.Minute}
)

// RateLimitResult is the outcome of one admission check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter admits or denies a request for an identifier (user ID or
// client IP) under a fixed-window policy. Implementations must make the
// read-check-increment atomic per identifier.
type RateLimiter interface {
	Check(ctx context.Context, identifier string, pol RateLimitPolicy) (RateLimitResult, error)
}
