// Package idem provides a LevelDB-backed idempotency store for the submit
// endpoint. A replayed Idempotency-Key is detected across restarts, so a
// client retrying after a crash cannot create the same order twice.
package idem

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	keyPrefix      = "idem:"
	observedPrefix = "observed:"
)

// Store persists observed idempotency keys.
type Store struct {
	db  *leveldb.DB
	now func() time.Time
}

// Open creates or opens the store at the given path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("idempotency store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve idempotency store path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Seen records the key if it is new and reports whether it was already
// present. Keys are scoped per wallet so clients cannot collide with each
// other.
func (s *Store) Seen(ctx context.Context, wallet, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("idempotency store not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	wallet = strings.TrimSpace(wallet)
	key = strings.TrimSpace(key)
	if wallet == "" || key == "" {
		return false, fmt.Errorf("wallet and idempotency key required")
	}
	composite := wallet + "|" + key
	primary := []byte(keyPrefix + composite)

	_, err := s.db.Get(primary, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("load idempotency key: %w", err)
	default:
		return true, nil
	}

	nanos := s.now().UTC().UnixNano()
	batch := new(leveldb.Batch)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	batch.Put(primary, buf)
	batch.Put([]byte(observedKey(nanos, composite)), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record idempotency key: %w", err)
	}
	return false, nil
}

// Prune deletes keys observed before the cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("idempotency store not configured")
	}
	cutoffKey := []byte(observedKey(cutoff.UTC().UnixNano(), ""))
	iter := s.db.NewIterator(util.BytesPrefix([]byte(observedPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if string(iter.Key()) >= string(cutoffKey) {
			break
		}
		composite, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(keyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate idempotency keys: %w", err)
	}
	if batch.Len() > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return fmt.Errorf("prune idempotency keys: %w", err)
		}
	}
	return nil
}

func observedKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", observedPrefix, nanos, composite)
}

func parseObservedKey(key []byte) (string, bool) {
	raw := string(key)
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return "", false
	}
	return parts[2], true
}
