// Package filter provides the collaborators that compute matched-filter
// indices over the model's transaction list. The model only stores the
// result; it never filters on its own.
package filter

import (
	"strings"

	"registro/internal/core"
	"registro/internal/model"
)

// TransactionFilter decides whether a single transaction matches.
type TransactionFilter interface {
	Matches(t *core.Transaction) bool
}

// AmountFilter matches transactions whose amount falls inside the
// inclusive cents range [MinCents, MaxCents]. A zero MaxCents means no
// upper bound.
type AmountFilter struct {
	MinCents int64
	MaxCents int64
}

func (f AmountFilter) Matches(t *core.Transaction) bool {
	if t == nil {
		return false
	}
	if t.Amount.Cents < f.MinCents {
		return false
	}
	if f.MaxCents > 0 && t.Amount.Cents > f.MaxCents {
		return false
	}
	return true
}

// CategoryFilter matches transactions by category, case-insensitively.
type CategoryFilter struct {
	Category string
}

func (f CategoryFilter) Matches(t *core.Transaction) bool {
	if t == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(t.Category), strings.TrimSpace(f.Category))
}

// Apply runs f over the store's current transaction snapshot and commits
// the matching positions through SetMatchedFilterIndices, which notifies
// the store's listeners. The indices are computed and set atomically with
// respect to the snapshot, so they are in range by construction.
func Apply(s *model.Store, f TransactionFilter) error {
	txs := s.Transactions()
	matched := make([]int, 0, len(txs))
	for i, tx := range txs {
		if f.Matches(tx) {
			matched = append(matched, i)
		}
	}
	return s.SetMatchedFilterIndices(matched)
}
