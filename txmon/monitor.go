// Package txmon watches dispatched chain transactions until their receipts
// land. It is the sole owner of the pending set; no other component mutates
// transaction state.
package txmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"condor/storage"
)

// Kind classifies the dispatched transaction.
type Kind string

const (
	KindApproval Kind = "approval"
	KindWrap     Kind = "wrap"
	KindSwap     Kind = "swap"
	KindUnwrap   Kind = "unwrap"
)

// ParseKind normalizes a kind string.
func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindApproval:
		return KindApproval, true
	case KindWrap:
		return KindWrap, true
	case KindSwap:
		return KindSwap, true
	case KindUnwrap:
		return KindUnwrap, true
	default:
		return "", false
	}
}

// Status tracks the transaction lifecycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Transaction is one watched chain transaction.
type Transaction struct {
	ID         uuid.UUID  `json:"id"`
	Hash       string     `json:"hash"`
	Kind       Kind       `json:"kind"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ReceiptClient is the subset of the EVM RPC client the monitor polls.
// *ethclient.Client satisfies it.
type ReceiptClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Store persists the watch set across restarts.
type Store interface {
	SavePendingTransaction(ctx context.Context, tx storage.PendingTransaction) error
	DeletePendingTransaction(ctx context.Context, hash string) error
	ListPendingTransactions(ctx context.Context) ([]storage.PendingTransaction, error)
}

// Monitor polls receipts for tracked transactions. Resolved entries linger
// in the visible set for a fixed delay and are then removed.
type Monitor struct {
	client   ReceiptClient
	store    Store
	logger   *slog.Logger
	interval time.Duration
	linger   time.Duration
	now      func() time.Time

	mu  sync.Mutex
	txs map[string]*Transaction
}

// New constructs a monitor. Store may be nil for ephemeral operation.
func New(client ReceiptClient, store Store, interval, linger time.Duration, logger *slog.Logger) (*Monitor, error) {
	if client == nil {
		return nil, fmt.Errorf("receipt client required")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if linger <= 0 {
		linger = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		client:   client,
		store:    store,
		logger:   logger,
		interval: interval,
		linger:   linger,
		now:      time.Now,
		txs:      make(map[string]*Transaction),
	}, nil
}

// Restore reloads the persisted watch set, typically at boot.
func (m *Monitor) Restore(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("monitor not configured")
	}
	if m.store == nil {
		return nil
	}
	persisted, err := m.store.ListPendingTransactions(ctx)
	if err != nil {
		return fmt.Errorf("restore watch set: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range persisted {
		kind, ok := ParseKind(row.Kind)
		if !ok {
			continue
		}
		m.txs[row.Hash] = &Transaction{
			ID:         row.ID,
			Hash:       row.Hash,
			Kind:       kind,
			Status:     Status(row.Status),
			CreatedAt:  row.CreatedAt,
			ResolvedAt: row.ResolvedAt,
		}
	}
	return nil
}

// Track adds a dispatched transaction to the watch set.
func (m *Monitor) Track(ctx context.Context, hash string, kind Kind) (Transaction, error) {
	if m == nil {
		return Transaction{}, fmt.Errorf("monitor not configured")
	}
	trimmed := strings.TrimSpace(hash)
	if len(trimmed) != 66 || !strings.HasPrefix(trimmed, "0x") {
		return Transaction{}, fmt.Errorf("invalid transaction hash %q", hash)
	}
	m.mu.Lock()
	if existing, ok := m.txs[trimmed]; ok {
		tx := *existing
		m.mu.Unlock()
		return tx, nil
	}
	tx := &Transaction{
		ID:        uuid.New(),
		Hash:      trimmed,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}
	m.txs[trimmed] = tx
	snapshot := *tx
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SavePendingTransaction(ctx, storage.PendingTransaction{
			ID:        snapshot.ID,
			Hash:      snapshot.Hash,
			Kind:      string(snapshot.Kind),
			Status:    string(snapshot.Status),
			CreatedAt: snapshot.CreatedAt,
		}); err != nil {
			m.logger.Warn("persist tracked transaction", "hash", snapshot.Hash, "err", err)
		}
	}
	return snapshot, nil
}

// Visible returns the current watch set, oldest first.
func (m *Monitor) Visible() []Transaction {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		out = append(out, *tx)
	}
	sortTransactions(out)
	return out
}

// Run polls receipts until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("monitor not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("transaction poll failed", "err", err)
		}
	}
}

// Tick performs a single poll cycle: pending entries are checked for
// receipts and resolved entries past the linger window are dropped.
func (m *Monitor) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("monitor not configured")
	}
	for _, tx := range m.Visible() {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch tx.Status {
		case StatusPending:
			m.poll(ctx, tx.Hash)
		default:
			if tx.ResolvedAt != nil && m.now().Sub(*tx.ResolvedAt) >= m.linger {
				m.drop(ctx, tx.Hash)
			}
		}
	}
	return nil
}

func (m *Monitor) poll(ctx context.Context, hash string) {
	receipt, err := m.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("receipt lookup failed", "hash", hash, "err", err)
		return
	}
	status := StatusFailed
	if receipt.Status == types.ReceiptStatusSuccessful {
		status = StatusSuccess
	}
	resolvedAt := m.now()

	m.mu.Lock()
	tx, ok := m.txs[hash]
	if ok && tx.Status == StatusPending {
		tx.Status = status
		tx.ResolvedAt = &resolvedAt
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if m.store != nil {
		if err := m.store.SavePendingTransaction(ctx, storage.PendingTransaction{
			ID:         tx.ID,
			Hash:       hash,
			Kind:       string(tx.Kind),
			Status:     string(status),
			CreatedAt:  tx.CreatedAt,
			ResolvedAt: &resolvedAt,
		}); err != nil {
			m.logger.Warn("persist resolved transaction", "hash", hash, "err", err)
		}
	}
}

func (m *Monitor) drop(ctx context.Context, hash string) {
	m.mu.Lock()
	delete(m.txs, hash)
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.DeletePendingTransaction(ctx, hash); err != nil {
			m.logger.Warn("delete resolved transaction", "hash", hash, "err", err)
		}
	}
}

func sortTransactions(txs []Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}
