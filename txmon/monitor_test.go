package txmon

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"condor/storage"
)

const (
	hashA = "0x1111111111111111111111111111111111111111111111111111111111111111"
	hashB = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

type fakeReceipts struct {
	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
}

func newFakeReceipts() *fakeReceipts {
	return &fakeReceipts{receipts: make(map[common.Hash]*types.Receipt)}
}

func (f *fakeReceipts) set(hash string, status uint64) {
	f.mu.Lock()
	f.receipts[common.HexToHash(hash)] = &types.Receipt{
		Status:      status,
		BlockNumber: big.NewInt(100),
	}
	f.mu.Unlock()
}

func (f *fakeReceipts) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

type memStore struct {
	mu   sync.Mutex
	rows map[string]storage.PendingTransaction
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]storage.PendingTransaction)}
}

func (m *memStore) SavePendingTransaction(ctx context.Context, tx storage.PendingTransaction) error {
	m.mu.Lock()
	m.rows[tx.Hash] = tx
	m.mu.Unlock()
	return nil
}

func (m *memStore) DeletePendingTransaction(ctx context.Context, hash string) error {
	m.mu.Lock()
	delete(m.rows, hash)
	m.mu.Unlock()
	return nil
}

func (m *memStore) ListPendingTransactions(ctx context.Context) ([]storage.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.PendingTransaction, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func testMonitor(t *testing.T, receipts ReceiptClient, store Store) *Monitor {
	t.Helper()
	monitor, err := New(receipts, store, time.Second, 8*time.Second, nil)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return monitor
}

func TestTrackValidatesAndDeduplicates(t *testing.T) {
	monitor := testMonitor(t, newFakeReceipts(), nil)
	ctx := context.Background()

	first, err := monitor.Track(ctx, hashA, KindSwap)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if first.Status != StatusPending || first.Kind != KindSwap {
		t.Fatalf("tracked = %+v", first)
	}

	again, err := monitor.Track(ctx, " "+hashA+" ", KindSwap)
	if err != nil {
		t.Fatalf("re-track: %v", err)
	}
	if again.ID != first.ID {
		t.Fatal("tracking the same hash twice should return the existing entry")
	}
	if len(monitor.Visible()) != 1 {
		t.Fatalf("visible = %d, want 1", len(monitor.Visible()))
	}

	if _, err := monitor.Track(ctx, "0xshort", KindSwap); err == nil {
		t.Fatal("malformed hash should be rejected")
	}
	if _, err := monitor.Track(ctx, "", KindSwap); err == nil {
		t.Fatal("empty hash should be rejected")
	}
}

func TestTickResolvesReceipts(t *testing.T) {
	receipts := newFakeReceipts()
	store := newMemStore()
	monitor := testMonitor(t, receipts, store)
	ctx := context.Background()

	if _, err := monitor.Track(ctx, hashA, KindSwap); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := monitor.Track(ctx, hashB, KindApproval); err != nil {
		t.Fatalf("track: %v", err)
	}

	// No receipts yet; entries stay pending.
	if err := monitor.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	for _, tx := range monitor.Visible() {
		if tx.Status != StatusPending {
			t.Fatalf("tx %s resolved without a receipt", tx.Hash)
		}
	}

	receipts.set(hashA, types.ReceiptStatusSuccessful)
	receipts.set(hashB, types.ReceiptStatusFailed)
	if err := monitor.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	byHash := make(map[string]Transaction)
	for _, tx := range monitor.Visible() {
		byHash[tx.Hash] = tx
	}
	if byHash[hashA].Status != StatusSuccess {
		t.Fatalf("hashA status = %s", byHash[hashA].Status)
	}
	if byHash[hashB].Status != StatusFailed {
		t.Fatalf("hashB status = %s", byHash[hashB].Status)
	}
	if byHash[hashA].ResolvedAt == nil {
		t.Fatal("resolved entry should carry a resolution time")
	}

	row := store.rows[hashA]
	if row.Status != string(StatusSuccess) {
		t.Fatalf("persisted status = %q", row.Status)
	}
}

func TestResolvedEntriesLingerThenDrop(t *testing.T) {
	receipts := newFakeReceipts()
	store := newMemStore()
	monitor := testMonitor(t, receipts, store)
	ctx := context.Background()

	current := time.Unix(1756700000, 0)
	monitor.now = func() time.Time { return current }

	if _, err := monitor.Track(ctx, hashA, KindWrap); err != nil {
		t.Fatalf("track: %v", err)
	}
	receipts.set(hashA, types.ReceiptStatusSuccessful)
	if err := monitor.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// Inside the linger window the entry stays visible.
	current = current.Add(3 * time.Second)
	if err := monitor.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(monitor.Visible()) != 1 {
		t.Fatal("resolved entry should linger")
	}

	current = current.Add(6 * time.Second)
	if err := monitor.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(monitor.Visible()) != 0 {
		t.Fatal("resolved entry should drop after the linger window")
	}
	if _, ok := store.rows[hashA]; ok {
		t.Fatal("dropped entry should be removed from the store")
	}
}

func TestRestoreReloadsWatchSet(t *testing.T) {
	receipts := newFakeReceipts()
	store := newMemStore()

	seed := testMonitor(t, receipts, store)
	if _, err := seed.Track(context.Background(), hashA, KindUnwrap); err != nil {
		t.Fatalf("track: %v", err)
	}

	restored := testMonitor(t, receipts, store)
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	visible := restored.Visible()
	if len(visible) != 1 || visible[0].Hash != hashA || visible[0].Kind != KindUnwrap {
		t.Fatalf("restored = %+v", visible)
	}
}

func TestVisibleOrdersByCreation(t *testing.T) {
	monitor := testMonitor(t, newFakeReceipts(), nil)
	current := time.Unix(1756700000, 0)
	monitor.now = func() time.Time { return current }

	if _, err := monitor.Track(context.Background(), hashB, KindSwap); err != nil {
		t.Fatalf("track: %v", err)
	}
	current = current.Add(time.Second)
	if _, err := monitor.Track(context.Background(), hashA, KindSwap); err != nil {
		t.Fatalf("track: %v", err)
	}

	visible := monitor.Visible()
	if len(visible) != 2 || visible[0].Hash != hashB {
		t.Fatalf("visible order = %+v", visible)
	}
}

func TestParseKind(t *testing.T) {
	if kind, ok := ParseKind(" Swap "); !ok || kind != KindSwap {
		t.Fatalf("ParseKind swap = %v %v", kind, ok)
	}
	if _, ok := ParseKind("transfer"); ok {
		t.Fatal("unknown kind should not parse")
	}
}
