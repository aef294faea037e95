// Package ledger talks to the external balance ledger. The engine never holds
// balances itself; settlement credits and operational debits go through this
// boundary with an idempotency reference per financial effect.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updown/internal/crypto"
	"github.com/updownlabs/updown/internal/domain"
)

// Client is the signed REST client for the balance ledger API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a ledger Client.
//
// baseURL is the API root, e.g. "https://ledger.internal/v1".
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// entryRequest is the wire form of a credit or debit.
type entryRequest struct {
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	AssetUnit string `json:"asset_unit"`
	Ref       string `json:"ref"`
}

// Credit adds amount to the user's balance. The ledger deduplicates on ref, so
// retrying a failed credit with the same ref never double-applies.
func (c *Client) Credit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error {
	if err := c.post(ctx, "/credits", entryRequest{
		UserID:    userID,
		Amount:    amount.String(),
		AssetUnit: assetUnit,
		Ref:       ref,
	}); err != nil {
		return fmt.Errorf("ledger: credit %s (%s %s): %w", userID, amount, assetUnit, err)
	}
	return nil
}

// Debit removes amount from the user's balance, deduplicated on ref.
func (c *Client) Debit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error {
	if err := c.post(ctx, "/debits", entryRequest{
		UserID:    userID,
		Amount:    amount.String(),
		AssetUnit: assetUnit,
		Ref:       ref,
	}); err != nil {
		return fmt.Errorf("ledger: debit %s (%s %s): %w", userID, amount, assetUnit, err)
	}
	return nil
}

// post builds, signs, and sends a request, treating any non-2xx as an error.
func (c *Client) post(ctx context.Context, path string, reqBody entryRequest) error {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(http.MethodPost, path, string(jsonBody)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Ref already applied; the effect is in place.
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("status %d: %s: %w", resp.StatusCode, truncate(respBody), domain.ErrUnauthorized)
	default:
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody))
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// Compile-time interface check.
var _ domain.BalanceLedger = (*Client)(nil)
