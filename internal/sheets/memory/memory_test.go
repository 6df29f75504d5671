package memory

import (
	"context"
	"testing"

	"registro/internal/core"
)

func TestMemoryStoreAppend(t *testing.T) {
	s := New()
	ref, err := s.Append(context.Background(), core.Transaction{
		Date:        core.NewDate(2026, 1, 1),
		Description: "t",
		Amount:      core.Money{Cents: 123},
		Category:    "A",
	})
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}
	if items := s.Items(); len(items) != 1 || items[0].Description != "t" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	s := New()
	_, err := s.Append(context.Background(), core.Transaction{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if len(s.Items()) != 0 {
		t.Fatalf("invalid transaction must not be stored")
	}
}
