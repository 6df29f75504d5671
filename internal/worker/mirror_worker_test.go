package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"registro/internal/amqp"
	"registro/internal/core"
	"registro/internal/sheets/memory"
	"registro/internal/storage"
)

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "registro.db"))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func recordTx(t *testing.T, repo *storage.Repository, desc string) int64 {
	t.Helper()
	id, err := repo.Append(context.Background(), core.Transaction{
		Date:        core.NewDate(2026, 5, 1),
		Description: desc,
		Amount:      core.Money{Cents: 900},
		Category:    "Spesa",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return id
}

func TestHandleRecordedMessage(t *testing.T) {
	repo := newTestRepo(t)
	target := memory.New()
	w := NewMirrorWorker(repo, target, 10)
	ctx := context.Background()

	id := recordTx(t, repo, "groceries")
	if err := w.HandleRecordedMessage(ctx, &amqp.TransactionRecordedMessage{ID: id}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	items := target.Items()
	if len(items) != 1 || items[0].Description != "groceries" {
		t.Fatalf("unexpected mirror contents: %v", items)
	}

	// Mirrored rows drop out of the pending scan.
	pending, err := repo.GetPendingMirror(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending rows, got %+v", pending)
	}
}

func TestHandleRecordedMessageUnknownID(t *testing.T) {
	repo := newTestRepo(t)
	w := NewMirrorWorker(repo, memory.New(), 10)

	err := w.HandleRecordedMessage(context.Background(), &amqp.TransactionRecordedMessage{ID: 42})
	if err == nil {
		t.Fatalf("expected error for unknown id")
	}
}

// failingWriter always rejects appends.
type failingWriter struct{}

func (failingWriter) Append(context.Context, core.Transaction) (string, error) {
	return "", errors.New("mirror unavailable")
}

func TestFailedMirrorStaysPending(t *testing.T) {
	repo := newTestRepo(t)
	w := NewMirrorWorker(repo, failingWriter{}, 10)
	ctx := context.Background()

	id := recordTx(t, repo, "dinner")
	if err := w.HandleRecordedMessage(ctx, &amqp.TransactionRecordedMessage{ID: id}); err == nil {
		t.Fatalf("expected mirror failure")
	}

	pending, err := repo.GetPendingMirror(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("failed row must stay pending, got %+v", pending)
	}
	if pending[0].Attempts != 1 {
		t.Fatalf("expected recorded attempt, got %d", pending[0].Attempts)
	}
}

func TestProcessPending(t *testing.T) {
	repo := newTestRepo(t)
	target := memory.New()
	w := NewMirrorWorker(repo, target, 10)
	ctx := context.Background()

	recordTx(t, repo, "a")
	recordTx(t, repo, "b")
	recordTx(t, repo, "c")

	if err := w.ProcessPending(ctx); err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if got := len(target.Items()); got != 3 {
		t.Fatalf("expected 3 mirrored rows, got %d", got)
	}

	// Second run finds nothing left to do.
	if err := w.ProcessPending(ctx); err != nil {
		t.Fatalf("second process pending: %v", err)
	}
	if got := len(target.Items()); got != 3 {
		t.Fatalf("pending scan must not re-mirror, got %d rows", got)
	}
}

func TestStartupCheck(t *testing.T) {
	repo := newTestRepo(t)
	target := memory.New()
	w := NewMirrorWorker(repo, target, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		recordTx(t, repo, "tx")
	}

	// Startup check uses a larger batch than the periodic scan.
	if err := w.StartupCheck(ctx); err != nil {
		t.Fatalf("startup check: %v", err)
	}
	if got := len(target.Items()); got != 5 {
		t.Fatalf("expected all rows mirrored at startup, got %d", got)
	}
}
