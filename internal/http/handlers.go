package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"registro/internal/core"
	"registro/internal/services"
)

const dateLayout = "2006-01-02"

type transactionJSON struct {
	ID          int64  `json:"id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
}

type createTransactionRequest struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
}

type applyFilterRequest struct {
	Type     string `json:"type"`
	Min      string `json:"min,omitempty"`
	Max      string `json:"max,omitempty"`
	Category string `json:"category,omitempty"`
}

type listResponse struct {
	Transactions   []transactionJSON `json:"transactions"`
	MatchedIndices []int             `json:"matched_indices"`
}

type summaryJSON struct {
	Total      string              `json:"total"`
	ByCategory []categoryTotalJSON `json:"by_category"`
}

type categoryTotalJSON struct {
	Category string `json:"category"`
	Amount   string `json:"amount"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func toTransactionJSON(v services.TransactionView) transactionJSON {
	return transactionJSON{
		ID:          v.ID,
		Date:        v.Transaction.Date.Format(dateLayout),
		Description: v.Transaction.Description,
		Amount:      fmt.Sprintf("%.2f", v.Transaction.Amount.Euros()),
		Category:    v.Transaction.Category,
	}
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	views, matched := s.service.Snapshot()
	if matched == nil {
		matched = []int{}
	}

	resp := listResponse{
		Transactions:   make([]transactionJSON, 0, len(views)),
		MatchedIndices: matched,
	}
	for _, v := range views {
		resp.Transactions = append(resp.Transactions, toTransactionJSON(v))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	day, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be in YYYY-MM-DD format")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := core.Transaction{
		Date:        core.NewDate(day.Year(), int(day.Month()), day.Day()),
		Description: req.Description,
		Amount:      core.Money{Cents: cents},
		Category:    req.Category,
	}
	if err := t.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.service.RecordTransaction(r.Context(), t)
	if err != nil {
		slog.Error("Failed to record transaction", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record transaction")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	if err := s.service.DeleteTransaction(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		slog.Error("Failed to delete transaction", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete transaction")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApplyFilter(w http.ResponseWriter, r *http.Request) {
	var req applyFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	switch req.Type {
	case "amount":
		var minCents, maxCents int64
		if req.Min != "" {
			if minCents, err = core.ParseDecimalToCents(req.Min); err != nil {
				writeError(w, http.StatusBadRequest, "min: "+err.Error())
				return
			}
		}
		if req.Max != "" {
			if maxCents, err = core.ParseDecimalToCents(req.Max); err != nil {
				writeError(w, http.StatusBadRequest, "max: "+err.Error())
				return
			}
		}
		err = s.service.ApplyAmountFilter(minCents, maxCents)
	case "category":
		if req.Category == "" {
			writeError(w, http.StatusBadRequest, "category filter requires a category")
			return
		}
		err = s.service.ApplyCategoryFilter(req.Category)
	default:
		writeError(w, http.StatusBadRequest, "filter type must be amount or category")
		return
	}

	if err != nil {
		slog.Error("Failed to apply filter", "type", req.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to apply filter")
		return
	}

	_, matched := s.service.Snapshot()
	if matched == nil {
		matched = []int{}
	}
	writeJSON(w, http.StatusOK, map[string][]int{"matched_indices": matched})
}

func (s *Server) handleClearFilter(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearFilter(); err != nil {
		slog.Error("Failed to clear filter", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear filter")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum := s.cachedSummary()

	resp := summaryJSON{
		Total:      fmt.Sprintf("%.2f", sum.Total.Euros()),
		ByCategory: make([]categoryTotalJSON, 0, len(sum.ByCategory)),
	}
	for _, c := range sum.ByCategory {
		resp.ByCategory = append(resp.ByCategory, categoryTotalJSON{
			Category: c.Category,
			Amount:   fmt.Sprintf("%.2f", c.Amount.Euros()),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
