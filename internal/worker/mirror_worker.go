package worker

import (
	"context"
	"fmt"
	"log/slog"

	"registro/internal/amqp"
	"registro/internal/sheets"
	"registro/internal/storage"
)

// MirrorWorker copies recorded transactions from SQLite to the configured
// mirror target (Google Sheets or the in-memory store). It consumes AMQP
// messages for the fast path and periodically scans for rows whose message
// was lost.
type MirrorWorker struct {
	storage   *storage.Repository
	writer    sheets.TransactionWriter
	batchSize int
}

func NewMirrorWorker(storage *storage.Repository, writer sheets.TransactionWriter, batchSize int) *MirrorWorker {
	return &MirrorWorker{
		storage:   storage,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleRecordedMessage processes a single transaction.recorded message.
func (w *MirrorWorker) HandleRecordedMessage(ctx context.Context, msg *amqp.TransactionRecordedMessage) error {
	slog.InfoContext(ctx, "Processing mirror message", "id", msg.ID)
	return w.mirrorOne(ctx, msg.ID)
}

// HandleDeletedMessage acknowledges deletions. The mirror is append-only;
// deletions are recorded in SQLite and only logged here.
func (w *MirrorWorker) HandleDeletedMessage(ctx context.Context, msg *amqp.TransactionDeletedMessage) error {
	slog.InfoContext(ctx, "Transaction deleted upstream", "id", msg.ID)
	return nil
}

func (w *MirrorWorker) mirrorOne(ctx context.Context, id int64) error {
	stored, err := w.storage.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	ref, err := w.writer.Append(ctx, stored.Transaction)
	if err != nil {
		if markErr := w.storage.MarkMirrorError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark mirror error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append to mirror: %w", err)
	}

	if err := w.storage.MarkMirrored(ctx, id); err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}

	slog.InfoContext(ctx, "Transaction mirrored", "id", id, "ref", ref)
	return nil
}

// ProcessPending mirrors any rows that are still pending. This is the
// backup mechanism in case AMQP messages are lost.
func (w *MirrorWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.storage.GetPendingMirror(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending transactions: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	for _, p := range pending {
		if err := w.mirrorOne(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction", "id", p.ID, "error", err)
			continue
		}
	}

	return nil
}

// StartupCheck mirrors a larger pending batch once at worker startup, to
// recover from missed messages or downtime.
func (w *MirrorWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.storage.GetPendingMirror(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending transactions for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending transactions found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending transactions on startup", "count", len(pending))

	successCount := 0
	errorCount := 0
	for _, p := range pending {
		if err := w.mirrorOne(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Startup mirror failed", "id", p.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup mirror check completed",
		"success", successCount,
		"errors", errorCount)
	return nil
}
