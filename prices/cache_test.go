package prices

import (
	"testing"
	"time"
)

func TestCacheLastWriterWinsPerKey(t *testing.T) {
	cache := NewCache(0)
	cache.Put([]Quote{{Symbol: "hype", Price: 40}})
	cache.Put([]Quote{{Symbol: "HYPE", Price: 41}, {Symbol: "USDT", Price: 1}})

	quote, ok := cache.Get("hype")
	if !ok {
		t.Fatalf("expected HYPE quote")
	}
	if quote.Price != 41 {
		t.Fatalf("expected last write to win, got %v", quote.Price)
	}
	if _, ok := cache.Get("USDT"); !ok {
		t.Fatalf("expected USDT quote")
	}
	if len(cache.Snapshot()) != 2 {
		t.Fatalf("expected 2 cached quotes")
	}
}

func TestCacheStaleReadReportsMissingButRetains(t *testing.T) {
	current := time.Unix(1_000_000, 0)
	cache := NewCache(time.Minute).WithNow(func() time.Time { return current })
	cache.Put([]Quote{{Symbol: "HYPE", Price: 40}})

	current = current.Add(2 * time.Minute)
	quote, ok := cache.Get("HYPE")
	if ok {
		t.Fatalf("expected stale quote to be reported missing")
	}
	if quote.Price != 40 {
		t.Fatalf("expected last-known-good value to be retained, got %v", quote.Price)
	}
}

func TestSubscribeReceivesBatches(t *testing.T) {
	cache := NewCache(0)
	ch, cancel := cache.Subscribe()
	defer cancel()

	cache.Put([]Quote{{Symbol: "HYPE", Price: 40}})
	select {
	case batch := <-ch:
		if len(batch) != 1 || batch[0].Symbol != "HYPE" {
			t.Fatalf("unexpected batch %v", batch)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a batch notification")
	}

	cancel()
	cache.Put([]Quote{{Symbol: "HYPE", Price: 41}})
	if _, open := <-ch; open {
		t.Fatalf("expected channel to close after cancel")
	}
}
