// Package model holds the observable transaction store: the in-memory
// collection of transactions, the matched-filter index set derived from it,
// and the listener registry notified on every committed mutation.
package model

import (
	"errors"
	"fmt"

	"registro/internal/core"
)

var (
	// ErrInvalidArgument is the root of every validation failure reported by
	// the store. Callers can match it with errors.Is.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrNilTransaction = fmt.Errorf("%w: transaction must be non-nil", ErrInvalidArgument)
	ErrNilIndices     = fmt.Errorf("%w: matched filter indices must be non-nil", ErrInvalidArgument)
)

// Listener receives synchronous change notifications from the store.
//
// StateChanged is invoked once per committed mutation, in registration
// order, with the store itself; listeners read current state through the
// store's accessors. Implementations must be comparable (typically a
// pointer), as the registry identifies them by reference. A panic inside a
// callback propagates to the caller of the mutation; there is no isolation
// between listeners.
type Listener interface {
	StateChanged(s *Store)
}

// Store is the model of the expense tracker. It owns the transaction list,
// the matched-filter indices and the listener registry, and guarantees:
//
//   - transactions keep insertion order, duplicates allowed;
//   - every matched-filter index is within range at the moment it is set;
//   - any list mutation clears the indices (a prior filter result is stale);
//   - accessors hand out copies, never the internal slices.
//
// The store performs no locking. A multi-goroutine host must serialize
// access externally; see services.TrackerService.
type Store struct {
	transactions         []*core.Transaction
	matchedFilterIndices []int
	listeners            []Listener
}

// NewStore returns an empty store with no registered listeners.
func NewStore() *Store {
	return &Store{}
}

// AddTransaction appends t to the transaction list, clears the
// matched-filter indices and notifies listeners. A nil transaction is
// rejected with ErrNilTransaction and nothing changes. Duplicates are not
// checked: adding the same transaction twice stores it twice.
func (s *Store) AddTransaction(t *core.Transaction) error {
	if t == nil {
		return ErrNilTransaction
	}
	s.transactions = append(s.transactions, t)
	// The previous filter result no longer maps onto the list.
	s.matchedFilterIndices = nil
	s.stateChanged()
	return nil
}

// RemoveTransaction removes the first occurrence of t, matching by pointer
// identity first and by value equality second. Whether or not t was
// present, the matched-filter indices are cleared and listeners are
// notified: callers observe the unconditional notification, so it is kept
// even for the no-op removal. A nil t behaves like an absent transaction.
func (s *Store) RemoveTransaction(t *core.Transaction) {
	if t != nil {
		for i, have := range s.transactions {
			if have == t || *have == *t {
				s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
				break
			}
		}
	}
	s.matchedFilterIndices = nil
	s.stateChanged()
}

// Transactions returns a snapshot of the transaction list. The caller may
// mutate the returned slice freely; the store keeps its own copy.
func (s *Store) Transactions() []*core.Transaction {
	out := make([]*core.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// SetMatchedFilterIndices replaces the matched-filter indices with a copy
// of indices and notifies listeners. Validation is all-or-nothing: a nil
// slice or any element outside [0, len(transactions)) rejects the whole
// call with a wrapped ErrInvalidArgument and leaves prior indices intact.
// An empty non-nil slice is always valid.
func (s *Store) SetMatchedFilterIndices(indices []int) error {
	if indices == nil {
		return ErrNilIndices
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(s.transactions) {
			return fmt.Errorf("%w: index %d out of range [0, %d)", ErrInvalidArgument, idx, len(s.transactions))
		}
	}
	s.matchedFilterIndices = make([]int, len(indices))
	copy(s.matchedFilterIndices, indices)
	s.stateChanged()
	return nil
}

// MatchedFilterIndices returns a copy of the current matched-filter
// indices. The result is empty after any list mutation.
func (s *Store) MatchedFilterIndices() []int {
	out := make([]int, len(s.matchedFilterIndices))
	copy(out, s.matchedFilterIndices)
	return out
}

// Register adds l to the listener registry and returns true. It returns
// false, without side effects, when l is nil or already registered.
// Registration itself never triggers a notification.
func (s *Store) Register(l Listener) bool {
	if l == nil || s.ContainsListener(l) {
		return false
	}
	s.listeners = append(s.listeners, l)
	return true
}

// Unregister removes l from the registry if present; otherwise it is a
// no-op. Like Register, it never triggers a notification.
func (s *Store) Unregister(l Listener) {
	if l == nil {
		return
	}
	for i, have := range s.listeners {
		if have == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// NumberOfListeners returns the current registry size.
func (s *Store) NumberOfListeners() int {
	return len(s.listeners)
}

// ContainsListener reports whether l is registered.
func (s *Store) ContainsListener(l Listener) bool {
	for _, have := range s.listeners {
		if have == l {
			return true
		}
	}
	return false
}

// stateChanged fans a notification out to every registered listener in
// registration order. It iterates over a snapshot of the registry, so a
// callback may register or unregister listeners without corrupting the
// running cycle; such changes take effect from the next mutation.
func (s *Store) stateChanged() {
	snapshot := make([]Listener, len(s.listeners))
	copy(snapshot, s.listeners)
	for _, l := range snapshot {
		l.StateChanged(s)
	}
}
