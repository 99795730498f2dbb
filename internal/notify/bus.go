package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// BusSender publishes notifications on the signal bus so the WebSocket hub
// can push them to the affected user's connected clients. Each notification
// goes to a per-user channel and to the firehose channel.
type BusSender struct {
	bus domain.SignalBus
}

// NewBusSender creates a BusSender over the given signal bus.
func NewBusSender(bus domain.SignalBus) *BusSender {
	return &BusSender{bus: bus}
}

// Send publishes the notification to "user:{id}" and "events".
func (b *BusSender) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("bus: marshal notification: %w", err)
	}

	if err := b.bus.Publish(ctx, "user:"+n.UserID, payload); err != nil {
		return err
	}
	return b.bus.Publish(ctx, "events", payload)
}

// Name returns the sender identifier.
func (b *BusSender) Name() string {
	return "bus"
}
