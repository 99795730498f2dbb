package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSender POSTs notifications as JSON to an arbitrary endpoint, e.g. a
// downstream delivery service that fans out email or mobile push.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender creates a WebhookSender for the given endpoint. If secret
// is non-empty it is sent as a bearer token.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers the notification as a JSON POST body.
func (w *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook: marshal notification: %w", err)
	}

	var headers map[string]string
	if w.secret != "" {
		headers = map[string]string{"Authorization": "Bearer " + w.secret}
	}

	if err := postJSON(ctx, w.client, w.url, body, headers); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
