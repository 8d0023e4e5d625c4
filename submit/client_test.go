package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"condor/wire"
)

func testPayload() wire.Payload {
	return wire.Payload{
		Platform: "hyperevm",
		Wallet:   "0xabc",
		SwapData: wire.SwapData{
			InputToken:  "HYPE",
			InputAmount: "10",
			OutputToken: "USDT",
			Outputs:     []wire.Output{{Token: "USDT", Percentage: 100}},
		},
		OrderData: wire.OrderData{Type: "ohlcv_trigger"},
		Time:      1756700000000,
	}
}

// orderEngine fakes the auth and order endpoints on one server.
type orderEngine struct {
	t            *testing.T
	exchanges    int
	orders       int
	rejectFirst  bool
	orderStatus  int
	seenBearer   string
	seenPlatform string
}

func newOrderEngine(t *testing.T) *orderEngine {
	return &orderEngine{t: t, orderStatus: http.StatusOK}
}

func (e *orderEngine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/exchange_privy", func(w http.ResponseWriter, r *http.Request) {
		e.exchanges++
		json.NewEncoder(w).Encode(map[string]string{"token": fmt.Sprintf("session-%d", e.exchanges)})
	})
	mux.HandleFunc("/api/order", func(w http.ResponseWriter, r *http.Request) {
		e.orders++
		e.seenBearer = r.Header.Get("Authorization")
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			e.t.Errorf("decode order payload: %v", err)
		}
		e.seenPlatform, _ = payload["platform"].(string)
		if e.rejectFirst && e.orders == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(e.orderStatus)
	})
	return mux
}

func newTestClient(t *testing.T, engine *orderEngine) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(engine.handler())
	t.Cleanup(server.Close)
	broker, err := NewSessionBroker(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	client, err := NewClient(Config{BaseURL: server.URL, Timeout: time.Second}, broker)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, server
}

func TestSubmitOrder(t *testing.T) {
	engine := newOrderEngine(t)
	client, _ := newTestClient(t, engine)

	if err := client.SubmitOrder(context.Background(), testPayload(), "wallet-token"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if engine.orders != 1 {
		t.Fatalf("orders = %d, want 1", engine.orders)
	}
	if !strings.HasPrefix(engine.seenBearer, "Bearer session-") {
		t.Fatalf("authorization header = %q", engine.seenBearer)
	}
	if engine.seenPlatform != "hyperevm" {
		t.Fatalf("platform on the wire = %q", engine.seenPlatform)
	}
}

func TestSubmitOrderReExchangesOnStaleSession(t *testing.T) {
	engine := newOrderEngine(t)
	engine.rejectFirst = true
	client, _ := newTestClient(t, engine)

	if err := client.SubmitOrder(context.Background(), testPayload(), "wallet-token"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if engine.orders != 2 {
		t.Fatalf("orders = %d, want retry after 401", engine.orders)
	}
	if engine.exchanges != 2 {
		t.Fatalf("exchanges = %d, want re-exchange after 401", engine.exchanges)
	}
	if engine.seenBearer != "Bearer session-2" {
		t.Fatalf("retry used %q, want the fresh session", engine.seenBearer)
	}
}

func TestSubmitOrderSurfacesRejection(t *testing.T) {
	engine := newOrderEngine(t)
	engine.orderStatus = http.StatusBadGateway
	client, _ := newTestClient(t, engine)

	err := client.SubmitOrder(context.Background(), testPayload(), "wallet-token")
	if err == nil {
		t.Fatal("rejected submission should fail")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("error should carry the status, got %v", err)
	}
}
