package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrChainUnavailable = errors.New("chain unavailable")
	ErrLockHeld         = errors.New("lock already held")
)

// StateTransitionError reports a rejected order state transition. It carries
// the order's current payment status so callers can surface it; the stored
// status is never overwritten once terminal.
type StateTransitionError struct {
	OrderID string
	Current PaymentStatus
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("order %s: payment status is %q, transition requires %q", e.OrderID, e.Current, PaymentPending)
}
