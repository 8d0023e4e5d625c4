package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"condor/prices"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndListSubmissions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sub := Submission{
			Wallet:   "0xabc",
			Platform: "hyperevm",
			Payload:  `{"platform":"hyperevm"}`,
			Status:   SubmissionAccepted,
		}
		if err := store.RecordSubmission(ctx, sub); err != nil {
			t.Fatalf("record submission: %v", err)
		}
	}
	if err := store.RecordSubmission(ctx, Submission{
		Wallet:   "0xdef",
		Platform: "hypercore",
		Status:   SubmissionFailed,
		Error:    "order engine rejected submission with status 502",
	}); err != nil {
		t.Fatalf("record submission: %v", err)
	}

	subs, err := store.ListSubmissions(ctx, "0xabc", 10)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("submissions for wallet = %d, want 3", len(subs))
	}
	for _, sub := range subs {
		if sub.ID == uuid.Nil {
			t.Fatal("submission id should be assigned")
		}
		if sub.Status != SubmissionAccepted {
			t.Fatalf("status = %q", sub.Status)
		}
	}

	all, err := store.ListSubmissions(ctx, "", 10)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("all submissions = %d, want 4", len(all))
	}
}

func TestPendingTransactionUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	hash := "0x1111111111111111111111111111111111111111111111111111111111111111"
	created := time.Now().UTC().Truncate(time.Second)
	tx := PendingTransaction{
		Hash:      hash,
		Kind:      "swap",
		Status:    "pending",
		CreatedAt: created,
	}
	if err := store.SavePendingTransaction(ctx, tx); err != nil {
		t.Fatalf("save pending: %v", err)
	}

	resolved := created.Add(10 * time.Second)
	tx.Status = "success"
	tx.ResolvedAt = &resolved
	if err := store.SavePendingTransaction(ctx, tx); err != nil {
		t.Fatalf("upsert pending: %v", err)
	}

	txs, err := store.ListPendingTransactions(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("pending rows = %d, want upsert by hash", len(txs))
	}
	if txs[0].Status != "success" || txs[0].ResolvedAt == nil {
		t.Fatalf("row after upsert = %+v", txs[0])
	}

	if err := store.DeletePendingTransaction(ctx, hash); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	txs, err = store.ListPendingTransactions(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("pending rows after delete = %d", len(txs))
	}
}

func TestPriceSnapshotsRecordAndPrune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	if err := store.RecordPriceSnapshot(ctx, []prices.Quote{
		{Symbol: "HYPE", Price: 42.5, Change24h: 1.2, ObservedAt: old},
		{Symbol: "UETH", Price: 3100, Change24h: -0.4, ObservedAt: recent},
	}); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}
	if err := store.RecordPriceSnapshot(ctx, nil); err != nil {
		t.Fatalf("empty snapshot should be a no-op: %v", err)
	}

	if err := store.PrunePriceSnapshots(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	var remaining []PriceSnapshot
	if err := store.db.WithContext(ctx).Find(&remaining).Error; err != nil {
		t.Fatalf("query snapshots: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Symbol != "UETH" {
		t.Fatalf("snapshots after prune = %+v", remaining)
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("blank dsn should fail")
	}
}
