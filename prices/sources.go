package prices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SourceRegistry constructs price sources from configuration.
type SourceRegistry struct {
	HTTPClient *http.Client
}

// NewSourceRegistry builds a registry with sane defaults.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Build creates a source from the supplied configuration.
func (r *SourceRegistry) Build(name, typ, endpoint string, assets map[string]float64) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "hyperliquid":
		if strings.TrimSpace(endpoint) == "" {
			return nil, fmt.Errorf("hyperliquid source requires an endpoint")
		}
		return &hyperliquidSource{name: label(name, "hyperliquid"), client: r.client(), endpoint: strings.TrimRight(endpoint, "/")}, nil
	case "fixed":
		if len(assets) == 0 {
			return nil, fmt.Errorf("fixed source requires assets")
		}
		return newFixedSource(label(name, "fixed"), assets), nil
	default:
		return nil, fmt.Errorf("unknown price source type %q", typ)
	}
}

func (r *SourceRegistry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}

// hyperliquidSource pulls mark and previous-day prices from the Hyperliquid
// info endpoint in a single request.
type hyperliquidSource struct {
	name     string
	client   *http.Client
	endpoint string
}

func (s *hyperliquidSource) Name() string { return s.name }

func (s *hyperliquidSource) Fetch(ctx context.Context, symbols []string) ([]Quote, error) {
	body, err := json.Marshal(map[string]string{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/info", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call info endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Response is a two-element array: universe metadata, then asset contexts
	// in matching order.
	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(payload) != 2 {
		return nil, fmt.Errorf("malformed info response")
	}
	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(payload[0], &meta); err != nil {
		return nil, fmt.Errorf("decode universe: %w", err)
	}
	var ctxs []struct {
		MarkPx    string `json:"markPx"`
		PrevDayPx string `json:"prevDayPx"`
	}
	if err := json.Unmarshal(payload[1], &ctxs); err != nil {
		return nil, fmt.Errorf("decode asset contexts: %w", err)
	}
	if len(ctxs) != len(meta.Universe) {
		return nil, fmt.Errorf("universe and context length mismatch")
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		wanted[strings.ToUpper(strings.TrimSpace(symbol))] = struct{}{}
	}
	now := time.Now()
	quotes := make([]Quote, 0, len(symbols))
	for i, asset := range meta.Universe {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Name))
		if _, ok := wanted[symbol]; !ok {
			continue
		}
		mark, err := strconv.ParseFloat(strings.TrimSpace(ctxs[i].MarkPx), 64)
		if err != nil || mark <= 0 {
			continue
		}
		var change float64
		if prev, err := strconv.ParseFloat(strings.TrimSpace(ctxs[i].PrevDayPx), 64); err == nil && prev > 0 {
			change = (mark - prev) / prev * 100
		}
		quotes = append(quotes, Quote{Symbol: symbol, Price: mark, Change24h: change, ObservedAt: now})
	}
	return quotes, nil
}

type fixedSource struct {
	name   string
	prices map[string]float64
}

func newFixedSource(name string, assets map[string]float64) *fixedSource {
	prices := make(map[string]float64, len(assets))
	for symbol, price := range assets {
		prices[strings.ToUpper(strings.TrimSpace(symbol))] = price
	}
	return &fixedSource{name: name, prices: prices}
}

func (s *fixedSource) Name() string { return s.name }

func (s *fixedSource) Fetch(ctx context.Context, symbols []string) ([]Quote, error) {
	_ = ctx
	now := time.Now()
	quotes := make([]Quote, 0, len(symbols))
	for _, symbol := range symbols {
		normalized := strings.ToUpper(strings.TrimSpace(symbol))
		price, ok := s.prices[normalized]
		if !ok || price <= 0 {
			continue
		}
		quotes = append(quotes, Quote{Symbol: normalized, Price: price, ObservedAt: now})
	}
	return quotes, nil
}
