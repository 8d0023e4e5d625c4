package prices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	name   string
	quotes []Quote
	err    error
	calls  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, symbols []string) ([]Quote, error) {
	_ = ctx
	_ = symbols
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

type capturingRecorder struct {
	batches [][]Quote
}

func (c *capturingRecorder) RecordPriceSnapshot(ctx context.Context, quotes []Quote) error {
	_ = ctx
	c.batches = append(c.batches, quotes)
	return nil
}

func TestTickMergesFirstSourceWins(t *testing.T) {
	cache := NewCache(0)
	primary := &fakeSource{name: "primary", quotes: []Quote{{Symbol: "HYPE", Price: 40, Change24h: 2}}}
	secondary := &fakeSource{name: "secondary", quotes: []Quote{
		{Symbol: "HYPE", Price: 99},
		{Symbol: "USDT", Price: 1},
	}}
	recorder := &capturingRecorder{}
	mgr, err := NewManager(cache, []Source{primary, secondary}, []string{"HYPE", "USDT"}, time.Second, WithRecorder(recorder))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	quote, ok := cache.Get("HYPE")
	if !ok {
		t.Fatalf("expected HYPE quote")
	}
	if quote.Price != 40 {
		t.Fatalf("expected primary source to win, got %v", quote.Price)
	}
	if _, ok := cache.Get("USDT"); !ok {
		t.Fatalf("expected USDT filled from secondary source")
	}
	if len(recorder.batches) != 1 {
		t.Fatalf("expected one recorded snapshot, got %d", len(recorder.batches))
	}
}

func TestTickToleratesPartialSourceFailure(t *testing.T) {
	cache := NewCache(0)
	broken := &fakeSource{name: "broken", err: errors.New("boom")}
	healthy := &fakeSource{name: "healthy", quotes: []Quote{{Symbol: "HYPE", Price: 40}}}
	mgr, err := NewManager(cache, []Source{broken, healthy}, []string{"HYPE"}, time.Second)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick should tolerate one failing source: %v", err)
	}
	if _, ok := cache.Get("HYPE"); !ok {
		t.Fatalf("expected quote from healthy source")
	}
}

func TestTickCountsCompletedRefreshes(t *testing.T) {
	cache := NewCache(0)
	src := &fakeSource{name: "src", quotes: []Quote{{Symbol: "HYPE", Price: 40}}}
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "refreshes_total"})
	mgr, err := NewManager(cache, []Source{src}, []string{"HYPE"}, time.Second, WithRefreshCounter(counter))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := testutil.ToFloat64(counter); got != 2 {
		t.Fatalf("refresh counter = %v, want 2", got)
	}

	// A cycle where every source fails does not count as a refresh.
	src.err = errors.New("boom")
	if err := mgr.Tick(context.Background()); err == nil {
		t.Fatal("expected error when every source fails")
	}
	if got := testutil.ToFloat64(counter); got != 2 {
		t.Fatalf("refresh counter after failed cycle = %v, want 2", got)
	}
}

func TestTickFailsWhenAllSourcesFail(t *testing.T) {
	cache := NewCache(0)
	broken := &fakeSource{name: "broken", err: errors.New("boom")}
	mgr, err := NewManager(cache, []Source{broken}, []string{"HYPE"}, time.Second)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err == nil {
		t.Fatalf("expected error when every source fails")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cache := NewCache(0)
	src := &fakeSource{name: "src", quotes: []Quote{{Symbol: "HYPE", Price: 40}}}
	mgr, err := NewManager(cache, []Source{src}, []string{"HYPE"}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := mgr.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if src.calls == 0 {
		t.Fatalf("expected at least one refresh before cancel")
	}
}
