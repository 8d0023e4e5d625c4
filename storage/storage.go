// Package storage persists submissions, watched transactions and price
// snapshots. SQLite backs single-node deployments; a postgres DSN switches
// drivers without further configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"condor/prices"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// Store wraps the persistence layer.
type Store struct {
	db *gorm.DB
}

// Open initialises the backing store. DSNs beginning with postgres:// or
// postgresql:// select the postgres driver; anything else is treated as a
// sqlite path or DSN.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("storage dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordSubmission logs an order submission outcome.
func (s *Store) RecordSubmission(ctx context.Context, sub Submission) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListSubmissions returns a wallet's submissions, newest first.
func (s *Store) ListSubmissions(ctx context.Context, wallet string, limit int) ([]Submission, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var subs []Submission
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if trimmed := strings.TrimSpace(wallet); trimmed != "" {
		query = query.Where("wallet = ?", strings.ToLower(trimmed))
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	return subs, nil
}

// SavePendingTransaction upserts a watched transaction by hash.
func (s *Store) SavePendingTransaction(ctx context.Context, tx PendingTransaction) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).
		Where(PendingTransaction{Hash: tx.Hash}).
		Assign(map[string]any{"status": tx.Status, "resolved_at": tx.ResolvedAt}).
		FirstOrCreate(&tx).Error
	if err != nil {
		return fmt.Errorf("save pending transaction: %w", err)
	}
	return nil
}

// DeletePendingTransaction removes a transaction from the watch set.
func (s *Store) DeletePendingTransaction(ctx context.Context, hash string) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if err := s.db.WithContext(ctx).Where("hash = ?", hash).Delete(&PendingTransaction{}).Error; err != nil {
		return fmt.Errorf("delete pending transaction: %w", err)
	}
	return nil
}

// ListPendingTransactions returns every transaction still in the watch set.
func (s *Store) ListPendingTransactions(ctx context.Context) ([]PendingTransaction, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	var txs []PendingTransaction
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("query pending transactions: %w", err)
	}
	return txs, nil
}

// RecordPriceSnapshot persists one refresh batch. Implements prices.Recorder.
func (s *Store) RecordPriceSnapshot(ctx context.Context, quotes []prices.Quote) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if len(quotes) == 0 {
		return nil
	}
	rows := make([]PriceSnapshot, 0, len(quotes))
	for _, quote := range quotes {
		rows = append(rows, PriceSnapshot{
			Symbol:     quote.Symbol,
			Price:      quote.Price,
			Change24h:  quote.Change24h,
			ObservedAt: quote.ObservedAt,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("insert price snapshots: %w", err)
	}
	return nil
}

// PrunePriceSnapshots drops observations older than the cutoff.
func (s *Store) PrunePriceSnapshots(ctx context.Context, cutoff time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if err := s.db.WithContext(ctx).Where("observed_at < ?", cutoff).Delete(&PriceSnapshot{}).Error; err != nil {
		return fmt.Errorf("prune price snapshots: %w", err)
	}
	return nil
}
