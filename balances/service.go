package balances

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Service keeps per-wallet balance snapshots fresh on an interval and on
// demand. Reads for unknown wallets or tokens default to zero.
type Service struct {
	fetcher  *Fetcher
	logger   *slog.Logger
	interval time.Duration

	mu       sync.RWMutex
	tracked  map[string]struct{}
	snapshot map[string]map[string]string
	updated  map[string]time.Time
}

// NewService wraps a fetcher with caching and interval refresh.
func NewService(fetcher *Fetcher, interval time.Duration, logger *slog.Logger) (*Service, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher required")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetcher:  fetcher,
		logger:   logger,
		interval: interval,
		tracked:  make(map[string]struct{}),
		snapshot: make(map[string]map[string]string),
		updated:  make(map[string]time.Time),
	}, nil
}

// Track registers a wallet for interval refresh. Tracking is idempotent.
func (s *Service) Track(wallet string) {
	normalized := normalizeWallet(wallet)
	if normalized == "" {
		return
	}
	s.mu.Lock()
	s.tracked[normalized] = struct{}{}
	s.mu.Unlock()
}

// Untrack stops refreshing a wallet and drops its snapshot.
func (s *Service) Untrack(wallet string) {
	normalized := normalizeWallet(wallet)
	s.mu.Lock()
	delete(s.tracked, normalized)
	delete(s.snapshot, normalized)
	delete(s.updated, normalized)
	s.mu.Unlock()
}

// Refresh fetches the wallet's balances immediately and caches them. The
// write is skipped when the context is already cancelled, so late results
// never land in discarded state.
func (s *Service) Refresh(ctx context.Context, wallet string) (map[string]string, error) {
	if s == nil {
		return nil, fmt.Errorf("service not configured")
	}
	normalized := normalizeWallet(wallet)
	balances, err := s.fetcher.Fetch(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.Lock()
	s.snapshot[normalized] = balances
	s.updated[normalized] = time.Now()
	s.mu.Unlock()
	return copyBalances(balances), nil
}

// Get returns the cached balance for one token, defaulting to zero when the
// wallet or token is unknown.
func (s *Service) Get(wallet, symbol string) string {
	if s == nil {
		return "0"
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	balances, ok := s.snapshot[normalizeWallet(wallet)]
	if !ok {
		return "0"
	}
	balance, ok := balances[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return "0"
	}
	return balance
}

// Snapshot returns the cached balances for a wallet.
func (s *Service) Snapshot(wallet string) map[string]string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBalances(s.snapshot[normalizeWallet(wallet)])
}

// Run refreshes every tracked wallet on the configured interval until the
// context is cancelled. Wallet failures are logged and retried next tick.
func (s *Service) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("service not configured")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for _, wallet := range s.trackedWallets() {
			if _, err := s.Refresh(ctx, wallet); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("balance refresh failed", "wallet", wallet, "err", err)
			}
		}
	}
}

func (s *Service) trackedWallets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallets := make([]string, 0, len(s.tracked))
	for wallet := range s.tracked {
		wallets = append(wallets, wallet)
	}
	return wallets
}

func normalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

func copyBalances(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for symbol, balance := range in {
		out[symbol] = balance
	}
	return out
}
