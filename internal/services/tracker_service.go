package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"registro/internal/amqp"
	"registro/internal/core"
	"registro/internal/filter"
	"registro/internal/model"
	"registro/internal/storage"
)

// ErrNotFound reports a transaction id the service is not tracking.
var ErrNotFound = errors.New("transaction not found")

// TrackerService orchestrates the observable store, SQLite persistence and
// AMQP fan-out. The store itself carries no locking; every mutation and
// read goes through the service mutex, which is the external serialization
// the model requires from a multi-goroutine host.
type TrackerService struct {
	mu         sync.Mutex
	store      *model.Store
	storage    *storage.Repository
	amqpClient *amqp.Client

	byID  map[int64]*core.Transaction
	byPtr map[*core.Transaction]int64
	// Synthetic ids handed out when no repository is configured.
	nextLocalID int64
}

// TransactionView pairs a stored transaction with the id HTTP clients use
// to address it.
type TransactionView struct {
	ID          int64            `json:"id"`
	Transaction core.Transaction `json:"transaction"`
}

// CategoryTotal aggregates spending for one category.
type CategoryTotal struct {
	Category string     `json:"category"`
	Amount   core.Money `json:"amount"`
}

// Summary is the aggregate view over the current transaction list.
type Summary struct {
	Total      core.Money      `json:"total"`
	ByCategory []CategoryTotal `json:"by_category"`
}

func NewTrackerService(store *model.Store, repo *storage.Repository, amqpClient *amqp.Client) *TrackerService {
	return &TrackerService{
		store:      store,
		storage:    repo,
		amqpClient: amqpClient,
		byID:       make(map[int64]*core.Transaction),
		byPtr:      make(map[*core.Transaction]int64),
	}
}

// Model exposes the underlying store for listener wiring at startup.
// After the service starts serving, mutations must go through the service.
func (s *TrackerService) Model() *model.Store {
	return s.store
}

// Seed loads persisted transactions into the model. Call it before
// registering listeners so restoring old state produces no fan-out.
func (s *TrackerService) Seed(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.storage.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	for i := range rows {
		t := rows[i].Transaction
		if err := s.track(rows[i].ID, &t); err != nil {
			return fmt.Errorf("seed transaction %d: %w", rows[i].ID, err)
		}
	}

	slog.InfoContext(ctx, "Model seeded from SQLite", "count", len(rows))
	return nil
}

func (s *TrackerService) track(id int64, t *core.Transaction) error {
	if err := s.store.AddTransaction(t); err != nil {
		return err
	}
	s.byID[id] = t
	s.byPtr[t] = id
	return nil
}

// RecordTransaction validates and persists a transaction, adds it to the
// model (notifying listeners) and enqueues an async mirror message. The
// returned id addresses the transaction for deletion.
func (s *TrackerService) RecordTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, fmt.Errorf("validate transaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	if s.storage != nil {
		var err error
		id, err = s.storage.Append(ctx, t)
		if err != nil {
			return 0, fmt.Errorf("save transaction: %w", err)
		}
	} else {
		s.nextLocalID++
		id = s.nextLocalID
	}

	if err := s.track(id, &t); err != nil {
		return 0, fmt.Errorf("add transaction to model: %w", err)
	}

	// Mirror asynchronously; a broker outage must not fail the request.
	if s.amqpClient != nil && s.storage != nil {
		if err := s.amqpClient.PublishTransactionRecorded(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to publish mirror message", "id", id, "error", err)
		}
	}

	return id, nil
}

// DeleteTransaction removes a transaction by id from persistence and from
// the model. Unknown ids are an error; the model itself is only mutated
// for known ids, so its unconditional notify-on-remove stays internal to
// committed deletions.
func (s *TrackerService) DeleteTransaction(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	if s.storage != nil {
		if err := s.storage.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
	}

	s.store.RemoveTransaction(t)
	delete(s.byID, id)
	delete(s.byPtr, t)

	if s.amqpClient != nil && s.storage != nil {
		if err := s.amqpClient.PublishTransactionDeleted(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to publish delete message", "id", id, "error", err)
		}
	}

	return nil
}

// ApplyAmountFilter computes and commits matched indices for an inclusive
// cents range (maxCents zero means unbounded above).
func (s *TrackerService) ApplyAmountFilter(minCents, maxCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter.Apply(s.store, filter.AmountFilter{MinCents: minCents, MaxCents: maxCents})
}

// ApplyCategoryFilter computes and commits matched indices for a category.
func (s *TrackerService) ApplyCategoryFilter(category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter.Apply(s.store, filter.CategoryFilter{Category: category})
}

// ClearFilter resets the matched indices to empty, notifying listeners.
func (s *TrackerService) ClearFilter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SetMatchedFilterIndices([]int{})
}

// Snapshot returns the transaction list with ids plus the current matched
// indices, for read endpoints.
func (s *TrackerService) Snapshot() ([]TransactionView, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs := s.store.Transactions()
	views := make([]TransactionView, len(txs))
	for i, t := range txs {
		views[i] = TransactionView{ID: s.byPtr[t], Transaction: *t}
	}
	return views, s.store.MatchedFilterIndices()
}

// Summarize aggregates the current transaction list by category.
func (s *TrackerService) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	perCategory := make(map[string]int64)
	for _, t := range s.store.Transactions() {
		sum.Total.Cents += t.Amount.Cents
		perCategory[t.Category] += t.Amount.Cents
	}

	for category, cents := range perCategory {
		sum.ByCategory = append(sum.ByCategory, CategoryTotal{
			Category: category,
			Amount:   core.Money{Cents: cents},
		})
	}
	sort.Slice(sum.ByCategory, func(i, j int) bool {
		return sum.ByCategory[i].Category < sum.ByCategory[j].Category
	})
	return sum
}

// Close closes both storage and AMQP connections
func (s *TrackerService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close tracker service: %v", errs)
	}

	return nil
}
