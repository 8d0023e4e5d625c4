package prices

import (
	"strings"
	"sync"
	"time"
)

// Quote captures the latest observation for a symbol. Quotes are replaced
// wholesale on refresh; there are no partial updates.
type Quote struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Change24h  float64   `json:"change_24h"`
	ObservedAt time.Time `json:"observed_at"`
}

// Cache is the shared, injectable price store. Writers overwrite per key and
// the last writer for a key wins; readers see last-known-good values until a
// quote ages past MaxAge.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	maxAge time.Duration
	now    func() time.Time

	subMu sync.Mutex
	subs  map[chan []Quote]struct{}
}

// NewCache constructs an empty cache. A non-positive maxAge disables the
// staleness guard on reads.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		quotes: make(map[string]Quote),
		maxAge: maxAge,
		now:    time.Now,
		subs:   make(map[chan []Quote]struct{}),
	}
}

// WithNow overrides the clock, for deterministic tests.
func (c *Cache) WithNow(now func() time.Time) *Cache {
	if now != nil {
		c.now = now
	}
	return c
}

// Put records a batch of quotes and notifies subscribers.
func (c *Cache) Put(quotes []Quote) {
	if c == nil || len(quotes) == 0 {
		return
	}
	stored := make([]Quote, 0, len(quotes))
	c.mu.Lock()
	for _, quote := range quotes {
		symbol := strings.ToUpper(strings.TrimSpace(quote.Symbol))
		if symbol == "" {
			continue
		}
		quote.Symbol = symbol
		if quote.ObservedAt.IsZero() {
			quote.ObservedAt = c.now()
		}
		c.quotes[symbol] = quote
		stored = append(stored, quote)
	}
	c.mu.Unlock()
	if len(stored) > 0 {
		c.notify(stored)
	}
}

// Get returns the cached quote for a symbol. A stale quote is reported as
// missing but retained, so displays degrade to last-known-good explicitly.
func (c *Cache) Get(symbol string) (Quote, bool) {
	if c == nil {
		return Quote{}, false
	}
	c.mu.RLock()
	quote, ok := c.quotes[strings.ToUpper(strings.TrimSpace(symbol))]
	c.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}
	if c.maxAge > 0 && c.now().Sub(quote.ObservedAt) > c.maxAge {
		return quote, false
	}
	return quote, true
}

// Snapshot returns all cached quotes keyed by symbol.
func (c *Cache) Snapshot() map[string]Quote {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Quote, len(c.quotes))
	for symbol, quote := range c.quotes {
		out[symbol] = quote
	}
	return out
}

// Subscribe registers a listener for refresh batches. Slow subscribers drop
// batches rather than block the refresh loop. The returned cancel func must
// be called to release the subscription.
func (c *Cache) Subscribe() (<-chan []Quote, func()) {
	ch := make(chan []Quote, 8)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()
	cancel := func() {
		c.subMu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

func (c *Cache) notify(batch []Quote) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- batch:
		default:
		}
	}
}
