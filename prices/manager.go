package prices

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Source resolves current quotes for a set of symbols in one pull.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbols []string) ([]Quote, error)
}

// Recorder persists refresh snapshots. Implementations must tolerate being
// called on every tick.
type Recorder interface {
	RecordPriceSnapshot(ctx context.Context, quotes []Quote) error
}

// Manager polls the configured sources on a fixed interval and folds results
// into the shared cache. Source failures are logged and skipped; the cache
// keeps serving last-known-good values.
type Manager struct {
	logger    *slog.Logger
	cache     *Cache
	sources   []Source
	symbols   []string
	interval  time.Duration
	recorder  Recorder
	refreshes prometheus.Counter
	once      sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder installs a snapshot recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithRefreshCounter counts completed refresh cycles.
func WithRefreshCounter(counter prometheus.Counter) Option {
	return func(m *Manager) {
		m.refreshes = counter
	}
}

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a poll manager.
func NewManager(cache *Cache, sources []Source, symbols []string, interval time.Duration, opts ...Option) (*Manager, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one price source required")
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol required")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	mgr := &Manager{
		logger:   slog.Default(),
		cache:    cache,
		sources:  append([]Source{}, sources...),
		symbols:  append([]string{}, symbols...),
		interval: interval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, refreshing until the context is cancelled. The first refresh
// happens immediately so the cache is warm before the gateway serves reads.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("price manager started", "sources", len(m.sources), "symbols", len(m.symbols))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("price refresh failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single refresh cycle. The first source that answers for a
// symbol wins; later sources fill only the gaps.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	merged := make(map[string]Quote, len(m.symbols))
	var fetched int
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		quotes, err := src.Fetch(ctx, m.symbols)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("price source failed", "source", src.Name(), "err", err)
			continue
		}
		fetched++
		for _, quote := range quotes {
			if quote.Price <= 0 {
				continue
			}
			if _, seen := merged[quote.Symbol]; seen {
				continue
			}
			merged[quote.Symbol] = quote
		}
	}
	if fetched == 0 {
		return fmt.Errorf("all price sources failed")
	}
	batch := make([]Quote, 0, len(merged))
	for _, quote := range merged {
		batch = append(batch, quote)
	}
	m.cache.Put(batch)
	if m.recorder != nil && len(batch) > 0 {
		if err := m.recorder.RecordPriceSnapshot(ctx, batch); err != nil {
			m.logger.Warn("record price snapshot", "err", err)
		}
	}
	if m.refreshes != nil {
		m.refreshes.Inc()
	}
	return nil
}
