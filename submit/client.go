// Package submit delivers serialized order payloads to the external order
// engine. Failures are always surfaced as retryable errors; the caller keeps
// the draft.
package submit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"condor/wire"
)

// Config defines the HTTP client settings for the order engine.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client performs the single order-creation call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	broker     *SessionBroker
}

// NewClient constructs a client with sane defaults.
func NewClient(cfg Config, broker *SessionBroker) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("order engine base url required")
	}
	if broker == nil {
		return nil, fmt.Errorf("session broker required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		broker: broker,
	}, nil
}

// SubmitOrder posts the payload using a session token exchanged from the
// caller's wallet-auth token. A stale session is re-exchanged once before
// the failure is surfaced.
func (c *Client) SubmitOrder(ctx context.Context, payload wire.Payload, walletToken string) error {
	if c == nil {
		return fmt.Errorf("submit client not configured")
	}
	sessionToken, err := c.broker.Token(ctx, walletToken)
	if err != nil {
		return fmt.Errorf("obtain session: %w", err)
	}
	status, err := c.post(ctx, payload, sessionToken)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.broker.Invalidate(walletToken)
		sessionToken, err = c.broker.Token(ctx, walletToken)
		if err != nil {
			return fmt.Errorf("refresh session: %w", err)
		}
		status, err = c.post(ctx, payload, sessionToken)
		if err != nil {
			return err
		}
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("order engine rejected submission with status %d", status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload wire.Payload, sessionToken string) (int, error) {
	body, err := wire.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/order", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call order engine: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
