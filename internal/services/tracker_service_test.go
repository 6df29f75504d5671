package services

import (
	"context"
	"path/filepath"
	"testing"

	"registro/internal/core"
	"registro/internal/model"
	"registro/internal/storage"
)

func sampleTx(desc, category string, cents int64) core.Transaction {
	return core.Transaction{
		Date:        core.NewDate(2026, 6, 10),
		Description: desc,
		Amount:      core.Money{Cents: cents},
		Category:    category,
	}
}

func newMemoryService() *TrackerService {
	return NewTrackerService(model.NewStore(), nil, nil)
}

func newSQLiteService(t *testing.T) *TrackerService {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "registro.db"))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	svc := NewTrackerService(model.NewStore(), repo, nil)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestRecordAndSnapshot(t *testing.T) {
	svc := newMemoryService()
	ctx := context.Background()

	id, err := svc.RecordTransaction(ctx, sampleTx("coffee", "Bar", 250))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected a non-zero id")
	}

	views, matched := svc.Snapshot()
	if len(views) != 1 || views[0].ID != id || views[0].Transaction.Description != "coffee" {
		t.Fatalf("unexpected snapshot: %+v", views)
	}
	if len(matched) != 0 {
		t.Fatalf("expected no matched indices, got %v", matched)
	}
}

func TestRecordRejectsInvalid(t *testing.T) {
	svc := newMemoryService()
	if _, err := svc.RecordTransaction(context.Background(), core.Transaction{}); err == nil {
		t.Fatalf("expected validation error")
	}
	if views, _ := svc.Snapshot(); len(views) != 0 {
		t.Fatalf("invalid transaction must not reach the model")
	}
}

func TestDeleteTransaction(t *testing.T) {
	svc := newMemoryService()
	ctx := context.Background()

	id, err := svc.RecordTransaction(ctx, sampleTx("coffee", "Bar", 250))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.DeleteTransaction(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if views, _ := svc.Snapshot(); len(views) != 0 {
		t.Fatalf("expected empty model after delete, got %+v", views)
	}

	if err := svc.DeleteTransaction(ctx, id); err == nil {
		t.Fatalf("deleting an unknown id must fail")
	}
}

func TestFiltersThroughService(t *testing.T) {
	svc := newMemoryService()
	ctx := context.Background()

	for _, tx := range []core.Transaction{
		sampleTx("groceries", "Spesa", 4500),
		sampleTx("coffee", "Bar", 250),
		sampleTx("dinner", "Ristorante", 6200),
	} {
		if _, err := svc.RecordTransaction(ctx, tx); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if err := svc.ApplyAmountFilter(1000, 0); err != nil {
		t.Fatalf("amount filter: %v", err)
	}
	_, matched := svc.Snapshot()
	if len(matched) != 2 || matched[0] != 0 || matched[1] != 2 {
		t.Fatalf("expected [0 2], got %v", matched)
	}

	if err := svc.ApplyCategoryFilter("bar"); err != nil {
		t.Fatalf("category filter: %v", err)
	}
	_, matched = svc.Snapshot()
	if len(matched) != 1 || matched[0] != 1 {
		t.Fatalf("expected [1], got %v", matched)
	}

	if err := svc.ClearFilter(); err != nil {
		t.Fatalf("clear filter: %v", err)
	}
	if _, matched = svc.Snapshot(); len(matched) != 0 {
		t.Fatalf("expected cleared indices, got %v", matched)
	}
}

func TestSummarize(t *testing.T) {
	svc := newMemoryService()
	ctx := context.Background()

	for _, tx := range []core.Transaction{
		sampleTx("espresso", "Bar", 150),
		sampleTx("coffee", "Bar", 250),
		sampleTx("groceries", "Spesa", 4500),
	} {
		if _, err := svc.RecordTransaction(ctx, tx); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	sum := svc.Summarize()
	if sum.Total.Cents != 4900 {
		t.Fatalf("expected total 4900, got %d", sum.Total.Cents)
	}
	if len(sum.ByCategory) != 2 {
		t.Fatalf("expected 2 categories, got %+v", sum.ByCategory)
	}
	// Sorted by category name.
	if sum.ByCategory[0].Category != "Bar" || sum.ByCategory[0].Amount.Cents != 400 {
		t.Fatalf("unexpected first category: %+v", sum.ByCategory[0])
	}
	if sum.ByCategory[1].Category != "Spesa" || sum.ByCategory[1].Amount.Cents != 4500 {
		t.Fatalf("unexpected second category: %+v", sum.ByCategory[1])
	}
}

func TestSeedRestoresModelWithoutFanout(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registro.db")
	ctx := context.Background()

	repo, err := storage.NewRepository(dbPath)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	first := NewTrackerService(model.NewStore(), repo, nil)
	id, err := first.RecordTransaction(ctx, sampleTx("groceries", "Spesa", 4500))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := first.RecordTransaction(ctx, sampleTx("coffee", "Bar", 250)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A fresh process reopens the database and rebuilds the model.
	repo, err = storage.NewRepository(dbPath)
	if err != nil {
		t.Fatalf("reopen repository: %v", err)
	}
	second := NewTrackerService(model.NewStore(), repo, nil)
	t.Cleanup(func() { second.Close() })

	l := &countingListener{}
	if err := second.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	second.Model().Register(l)

	views, _ := second.Snapshot()
	if len(views) != 2 || views[0].ID != id {
		t.Fatalf("unexpected restored snapshot: %+v", views)
	}
	if l.calls != 0 {
		t.Fatalf("seeding must not notify listeners registered afterwards")
	}

	// Restored ids stay addressable.
	if err := second.DeleteTransaction(ctx, id); err != nil {
		t.Fatalf("delete restored transaction: %v", err)
	}
	if l.calls != 1 {
		t.Fatalf("committed delete must notify, got %d", l.calls)
	}
}

func TestRecordPersists(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, sampleTx("dinner", "Ristorante", 6200)); err != nil {
		t.Fatalf("record: %v", err)
	}
	views, _ := svc.Snapshot()
	if len(views) != 1 || views[0].Transaction.Amount.Cents != 6200 {
		t.Fatalf("unexpected snapshot: %+v", views)
	}
}

type countingListener struct{ calls int }

func (l *countingListener) StateChanged(*model.Store) { l.calls++ }
