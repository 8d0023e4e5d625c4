package submit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SessionBroker exchanges wallet-auth tokens for order-engine session tokens
// and caches them until expiry. The wallet provider may revoke access at any
// time, so every dependent operation re-checks through the broker.
type SessionBroker struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSession
}

type cachedSession struct {
	token     string
	expiresAt time.Time
}

// NewSessionBroker constructs a broker against the order-engine auth API.
func NewSessionBroker(baseURL string, timeout time.Duration) (*SessionBroker, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("auth base url required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SessionBroker{
		baseURL: strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now:   time.Now,
		cache: make(map[string]cachedSession),
	}, nil
}

// Token returns a session token for the supplied wallet-auth token, reusing
// a cached one when it has not expired.
func (b *SessionBroker) Token(ctx context.Context, walletToken string) (string, error) {
	if b == nil {
		return "", fmt.Errorf("session broker not configured")
	}
	trimmed := strings.TrimSpace(walletToken)
	if trimmed == "" {
		return "", fmt.Errorf("wallet auth token required")
	}
	key := cacheKey(trimmed)
	b.mu.Lock()
	cached, ok := b.cache[key]
	b.mu.Unlock()
	if ok && b.now().Before(cached.expiresAt) {
		return cached.token, nil
	}
	return b.exchange(ctx, trimmed, key)
}

// Invalidate drops any cached session for the wallet token, forcing the next
// call to re-exchange.
func (b *SessionBroker) Invalidate(walletToken string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.cache, cacheKey(strings.TrimSpace(walletToken)))
	b.mu.Unlock()
}

func (b *SessionBroker) exchange(ctx context.Context, walletToken, key string) (string, error) {
	body, err := json.Marshal(map[string]string{"token": walletToken})
	if err != nil {
		return "", fmt.Errorf("encode exchange request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/auth/exchange_privy", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange wallet token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("exchange rejected with status %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode exchange response: %w", err)
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		return "", fmt.Errorf("exchange returned an empty token")
	}
	b.mu.Lock()
	b.cache[key] = cachedSession{token: token, expiresAt: b.expiry(token)}
	b.mu.Unlock()
	return token, nil
}

// expiry reads the exp claim without verifying the signature; the order
// engine verifies on its side, the broker only needs a refresh hint.
func (b *SessionBroker) expiry(token string) time.Time {
	fallback := b.now().Add(5 * time.Minute)
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return fallback
	}
	expiresAt, err := parsed.Claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return fallback
	}
	// Refresh a little early so in-flight requests never carry a token that
	// expires mid-call.
	return expiresAt.Time.Add(-30 * time.Second)
}

func cacheKey(walletToken string) string {
	sum := sha256.Sum256([]byte(walletToken))
	return hex.EncodeToString(sum[:])
}
