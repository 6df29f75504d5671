package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"registro/internal/core"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// Repository persists transactions in SQLite. It is a collaborator of the
// model, not part of it: the model holds live state, the repository
// survives restarts and feeds the mirror worker.
type Repository struct {
	db *sql.DB
}

// StoredTransaction pairs a persisted transaction with its row id, which
// the HTTP layer uses to address deletions.
type StoredTransaction struct {
	ID          int64
	Transaction core.Transaction
}

// PendingMirror is the minimal row data the mirror worker needs to pick up
// transactions that were never confirmed mirrored.
type PendingMirror struct {
	ID        int64
	Attempts  int64
	CreatedAt time.Time
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Append inserts a transaction and returns its row id.
func (r *Repository) Append(ctx context.Context, t core.Transaction) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (tx_date, description, amount_cents, category) VALUES (?, ?, ?, ?)`,
		t.Date.Format(dateLayout), t.Description, t.Amount.Cents, t.Category)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", id,
		"description", t.Description,
		"amount_cents", t.Amount.Cents,
		"category", t.Category)

	return id, nil
}

// Delete soft-deletes a transaction by row id. Deleting an unknown id is
// reported as an error so callers can distinguish it from success.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET deleted = 1 WHERE id = ? AND deleted = 0`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete transaction: no row with id %d", id)
	}

	slog.InfoContext(ctx, "Transaction soft-deleted", "id", id)
	return nil
}

// Get returns a single live transaction by row id.
func (r *Repository) Get(ctx context.Context, id int64) (*StoredTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tx_date, description, amount_cents, category FROM transactions WHERE id = ? AND deleted = 0`, id)
	st, err := scanStored(row)
	if err != nil {
		return nil, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return st, nil
}

// ListAll returns every live transaction in insertion order. The service
// uses it to rebuild the in-memory model at startup.
func (r *Repository) ListAll(ctx context.Context) ([]StoredTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tx_date, description, amount_cents, category FROM transactions WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []StoredTransaction
	for rows.Next() {
		st, err := scanStored(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// GetPendingMirror returns transactions that have not been mirrored yet.
// This backs the worker's periodic scan for messages lost in transit.
func (r *Repository) GetPendingMirror(ctx context.Context, limit int) ([]PendingMirror, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mirror_attempts, created_at FROM transactions
		 WHERE mirrored = 0 AND deleted = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending mirror transactions: %w", err)
	}
	defer rows.Close()

	var out []PendingMirror
	for rows.Next() {
		var (
			p          PendingMirror
			rawCreated string
		)
		if err := rows.Scan(&p.ID, &p.Attempts, &rawCreated); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		// CURRENT_TIMESTAMP stores this layout in sqlite.
		p.CreatedAt, err = time.Parse("2006-01-02 15:04:05", rawCreated)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", rawCreated, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending rows: %w", err)
	}
	return out, nil
}

// MarkMirrored marks a transaction as successfully mirrored.
func (r *Repository) MarkMirrored(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET mirrored = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction mirrored: %w", err)
	}

	slog.InfoContext(ctx, "Transaction marked as mirrored", "id", id)
	return nil
}

// MarkMirrorError bumps the attempt counter for a failed mirror write.
func (r *Repository) MarkMirrorError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET mirror_attempts = mirror_attempts + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction mirror error: %w", err)
	}

	slog.WarnContext(ctx, "Transaction marked with mirror error", "id", id)
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStored(row scannable) (*StoredTransaction, error) {
	var (
		st      StoredTransaction
		rawDate string
	)
	if err := row.Scan(&st.ID, &rawDate, &st.Transaction.Description,
		&st.Transaction.Amount.Cents, &st.Transaction.Category); err != nil {
		return nil, err
	}
	d, err := time.Parse(dateLayout, rawDate)
	if err != nil {
		return nil, fmt.Errorf("parse tx_date %q: %w", rawDate, err)
	}
	st.Transaction.Date = core.Date{Time: d}
	return &st, nil
}
