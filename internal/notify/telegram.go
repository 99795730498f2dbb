package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TelegramSender delivers notifications to an operator chat via the Telegram
// Bot API. Intended for ops alerting (settlement failures and the like), not
// for end-user delivery.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification to the configured chat using sendMessage.
func (t *TelegramSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s\n(user %s)", n.Title, n.Message, n.UserID),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := "https://api.telegram.org/bot" + t.token + "/sendMessage"
	if err := postJSON(ctx, t.client, url, body, nil); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
