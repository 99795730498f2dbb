// Package notify delivers best-effort user notifications across multiple
// channels. Delivery failures are reported to the caller but individual
// sender failures never block the remaining senders.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// Notification is one message addressed to a user.
type Notification struct {
	UserID  string `json:"user_id"`
	Event   string `json:"event"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification.
	Send(ctx context.Context, n Notification) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It keeps a set
// of allowed event types; events outside the set are dropped silently. An
// empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders, forwarding
// only the listed event types (all of them when events is empty).
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyUser delivers a notification to all senders if its event type is
// allowed. It implements domain.UserNotifier.
func (n *Notifier) NotifyUser(ctx context.Context, userID, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	return n.dispatch(ctx, Notification{
		UserID:  userID,
		Event:   event,
		Title:   title,
		Message: message,
	})
}

// dispatch fans the notification out to every sender, collecting failures
// into a combined error.
func (n *Notifier) dispatch(ctx context.Context, msg Notification) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Compile-time interface check.
var _ domain.UserNotifier = (*Notifier)(nil)
