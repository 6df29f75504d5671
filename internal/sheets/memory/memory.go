// Package memory provides an in-process mirror target, used as the
// default backend and in worker tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"registro/internal/core"
)

type Store struct {
	mu    sync.Mutex
	items []core.Transaction
}

func New() *Store {
	return &Store{}
}

// Append stores the transaction and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, t)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Items returns a copy of everything appended so far.
func (s *Store) Items() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, len(s.items))
	copy(out, s.items)
	return out
}
