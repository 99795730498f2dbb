package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache caches token prices with a freshness timestamp.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, tokenID string) (decimal.Decimal, time.Time, error)
}

// BusMessage is a message received from a SignalBus subscription. Channel is
// the concrete channel the message was published on, which may differ from
// the subscribed pattern.
type BusMessage struct {
	Channel string
	Data    []byte
}

// SignalBus is a lightweight pub/sub fabric used to push platform events
// (order verified, KYC status changed) to connected clients. Subscribe
// accepts glob patterns such as "user:*".
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
}

// LockManager provides distributed mutual exclusion. Acquire returns
// ErrLockHeld when another party holds the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// UserNotifier delivers a best-effort notification to a user. Failures are
// logged by callers, never propagated as the operation's error.
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID, event, title, message string) error
}
