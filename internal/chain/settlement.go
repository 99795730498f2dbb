package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SettlementClient triggers token transfers through the custody service's
// REST API. The custody service owns the signing keys and submits the actual
// transaction; callers only reference the order.
type SettlementClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSettlementClient creates a SettlementClient for the custody service at
// baseURL. Per-attempt deadlines come from the caller's context; the HTTP
// client timeout is a backstop.
func NewSettlementClient(baseURL, apiKey string) *SettlementClient {
	return &SettlementClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type transferRequest struct {
	OrderID string `json:"order_id"`
}

type transferResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash"`
	Error   string `json:"error"`
}

// Transfer requests the token transfer for a verified order and returns the
// transaction hash reported by the custody service.
func (c *SettlementClient) Transfer(ctx context.Context, orderID string) (string, error) {
	body, err := json.Marshal(transferRequest{OrderID: orderID})
	if err != nil {
		return "", fmt.Errorf("chain: marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chain: create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chain: transfer %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chain: transfer %s: unexpected status %d: %s", orderID, resp.StatusCode, string(respBody))
	}

	var tr transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("chain: decode transfer response: %w", err)
	}
	if !tr.Success {
		return "", fmt.Errorf("chain: transfer %s rejected: %s", orderID, tr.Error)
	}

	return tr.TxHash, nil
}
