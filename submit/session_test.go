package submit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// unsignedJWT builds a token whose exp claim can be read without a valid
// signature.
func unsignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims, err := json.Marshal(map[string]any{"exp": exp.Unix()})
	if err != nil {
		t.Fatalf("encode claims: %v", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(claims)
	return header + "." + payload + ".sig"
}

func TestSessionBrokerCachesUntilExpiry(t *testing.T) {
	current := time.Unix(1756700000, 0)
	var exchanges int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/exchange_privy" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Token != "wallet-token" {
			t.Errorf("wallet token = %q", body.Token)
		}
		exchanges++
		token := unsignedJWT(t, current.Add(10*time.Minute))
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
	defer server.Close()

	broker, err := NewSessionBroker(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	broker.now = func() time.Time { return current }

	first, err := broker.Token(context.Background(), "wallet-token")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	second, err := broker.Token(context.Background(), "wallet-token")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if first != second {
		t.Fatal("cached token should be reused")
	}
	if exchanges != 1 {
		t.Fatalf("exchanges = %d, want 1", exchanges)
	}

	// Past the early-refresh margin a fresh exchange happens.
	current = current.Add(10 * time.Minute)
	if _, err := broker.Token(context.Background(), "wallet-token"); err != nil {
		t.Fatalf("token after expiry: %v", err)
	}
	if exchanges != 2 {
		t.Fatalf("exchanges = %d, want 2", exchanges)
	}
}

func TestSessionBrokerInvalidate(t *testing.T) {
	var exchanges int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		token := unsignedJWT(t, time.Now().Add(time.Hour))
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
	defer server.Close()

	broker, err := NewSessionBroker(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	if _, err := broker.Token(context.Background(), "wallet-token"); err != nil {
		t.Fatalf("token: %v", err)
	}
	broker.Invalidate("wallet-token")
	if _, err := broker.Token(context.Background(), "wallet-token"); err != nil {
		t.Fatalf("token: %v", err)
	}
	if exchanges != 2 {
		t.Fatalf("exchanges = %d, want 2", exchanges)
	}
}

func TestSessionBrokerRejectsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	broker, err := NewSessionBroker(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	if _, err := broker.Token(context.Background(), "wallet-token"); err == nil {
		t.Fatal("rejected exchange should fail")
	}
	if _, err := broker.Token(context.Background(), "  "); err == nil {
		t.Fatal("blank wallet token should fail")
	}
}

func TestSessionBrokerFallbackExpiry(t *testing.T) {
	current := time.Unix(1756700000, 0)
	var exchanges int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		// Opaque token, no readable exp claim.
		json.NewEncoder(w).Encode(map[string]string{"token": fmt.Sprintf("opaque-%d", exchanges)})
	}))
	defer server.Close()

	broker, err := NewSessionBroker(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	broker.now = func() time.Time { return current }

	if _, err := broker.Token(context.Background(), "wallet-token"); err != nil {
		t.Fatalf("token: %v", err)
	}
	current = current.Add(time.Minute)
	if _, err := broker.Token(context.Background(), "wallet-token"); err != nil {
		t.Fatalf("token: %v", err)
	}
	if exchanges != 1 {
		t.Fatalf("opaque token should use the fallback window, exchanges = %d", exchanges)
	}
	current = current.Add(5 * time.Minute)
	if _, err := broker.Token(context.Background(), "wallet-token"); err != nil {
		t.Fatalf("token: %v", err)
	}
	if exchanges != 2 {
		t.Fatalf("exchanges = %d, want 2 after fallback expiry", exchanges)
	}
}
