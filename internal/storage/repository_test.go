package storage

import (
	"context"
	"path/filepath"
	"testing"

	"registro/internal/core"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "registro.db"))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleTx(desc string, cents int64) core.Transaction {
	return core.Transaction{
		Date:        core.NewDate(2026, 4, 2),
		Description: desc,
		Amount:      core.Money{Cents: cents},
		Category:    "Spesa",
	}
}

func TestAppendGetList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id1, err := repo.Append(ctx, sampleTx("groceries", 4500))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	id2, err := repo.Append(ctx, sampleTx("coffee", 250))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("expected increasing ids, got %d then %d", id1, id2)
	}

	got, err := repo.Get(ctx, id1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Transaction.Description != "groceries" || got.Transaction.Amount.Cents != 4500 {
		t.Fatalf("unexpected transaction: %+v", got.Transaction)
	}
	if got.Transaction.Date.Year() != 2026 || got.Transaction.Date.Month() != 4 || got.Transaction.Date.Day() != 2 {
		t.Fatalf("unexpected date: %v", got.Transaction.Date)
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != id1 || all[1].ID != id2 {
		t.Fatalf("unexpected list: %+v", all)
	}
}

func TestDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Append(ctx, sampleTx("dinner", 6200))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, id); err == nil {
		t.Fatalf("deleted transaction must not be readable")
	}
	if err := repo.Delete(ctx, id); err == nil {
		t.Fatalf("double delete must report an error")
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty list, got %+v", all)
	}
}

func TestMirrorBookkeeping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id1, err := repo.Append(ctx, sampleTx("a", 100))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	id2, err := repo.Append(ctx, sampleTx("b", 200))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	pending, err := repo.GetPendingMirror(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	if err := repo.MarkMirrored(ctx, id1); err != nil {
		t.Fatalf("mark mirrored: %v", err)
	}
	if err := repo.MarkMirrorError(ctx, id2); err != nil {
		t.Fatalf("mark mirror error: %v", err)
	}

	pending, err = repo.GetPendingMirror(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id2 {
		t.Fatalf("expected only the failed row pending, got %+v", pending)
	}
	if pending[0].Attempts != 1 {
		t.Fatalf("expected 1 attempt recorded, got %d", pending[0].Attempts)
	}
}
