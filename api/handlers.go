/*
handlers.go - HTTP handlers for the expense API

PURPOSE:
  Thin layer over the expense facade. All invariants live in the state
  machine and the store; handlers only parse input, call the facade, and
  map domain errors onto status codes:

    ErrNotFound          -> 404
    ErrInvalidTarget     -> 400
    ErrVersionConflict   -> 409 (type: version_conflict)
    ErrInvalidTransition -> 409 (type: invalid_transition)

PAGINATION:
  page/page_size query params. An out-of-range page is clamped to the
  nearest valid page rather than erroring, matching how listing surfaces
  usually behave for trailing pages.

SEE ALSO:
  - expense/service.go: The facade being exposed
  - server.go:          Routing and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cashcog/expense-engine/expense"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *expense.Service
	Log     *zap.Logger
}

func NewHandler(service *expense.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: service, Log: log}
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

// GetExpense returns a single expense.
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := h.Service.GetExpense(r.Context(), id)
	if err != nil {
		if expense.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "expense_not_found", "expense not found: "+id)
			return
		}
		h.Log.Error("get expense failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load expense")
		return
	}

	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

// ListExpenses returns a filtered, paginated expense page.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	f, page, pageSize, errDTO := parseListQuery(r)
	if errDTO != nil {
		writeJSON(w, http.StatusBadRequest, *errDTO)
		return
	}

	f.Limit = pageSize
	f.Offset = (page - 1) * pageSize

	items, total, err := h.Service.ListExpenses(r.Context(), f)
	if err != nil {
		h.Log.Error("list expenses failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list expenses")
		return
	}

	// An out-of-range page is clamped to the last page and re-fetched.
	if totalPages := (total + pageSize - 1) / pageSize; totalPages > 0 && page > totalPages {
		page = totalPages
		f.Offset = (page - 1) * pageSize
		items, _, err = h.Service.ListExpenses(r.Context(), f)
		if err != nil {
			h.Log.Error("list expenses failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to list expenses")
			return
		}
	}

	dtos := make([]ExpenseDTO, len(items))
	for i := range items {
		dtos[i] = toExpenseDTO(&items[i])
	}
	writeJSON(w, http.StatusOK, PaginatedExpensesDTO{
		Page:    page,
		Limit:   pageSize,
		Total:   total,
		Count:   len(dtos),
		Results: dtos,
	})
}

// UpdateStatus approves or declines an expense.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}

	target := expense.Status(strings.ToUpper(req.Status))
	updated, err := h.Service.RequestTransition(r.Context(), id, expense.TransitionRequest{
		Target:          target,
		ExpectedVersion: req.ExpectedVersion,
		Note:            req.Note,
	})
	if err != nil {
		h.writeTransitionError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, toExpenseDTO(updated))
}

func (h *Handler) writeTransitionError(w http.ResponseWriter, id string, err error) {
	var conflict *expense.VersionConflictError
	var invalid *expense.InvalidTransitionError

	switch {
	case expense.IsNotFound(err):
		writeError(w, http.StatusNotFound, "expense_not_found", "expense not found: "+id)
	case errors.Is(err, expense.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, "invalid_status",
			"status must be APPROVED or DECLINED")
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "version_conflict", conflict.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, "invalid_transition", invalid.Error())
	default:
		h.Log.Error("transition failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update status")
	}
}

// Healthz is a liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// QUERY PARSING
// =============================================================================

func parseListQuery(r *http.Request) (expense.Filter, int, int, *ErrorDTO) {
	q := r.URL.Query()
	var f expense.Filter

	if s := q.Get("status"); s != "" {
		status := expense.Status(strings.ToUpper(s))
		if !status.Valid() {
			dto := newErrorDTO("invalid_status",
				"status must be PENDING, APPROVED, or DECLINED")
			return f, 0, 0, &dto
		}
		f.Status = status
	}
	f.Submitter = q.Get("submitter")
	f.Currency = q.Get("currency")
	f.Search = q.Get("search")

	if s := q.Get("min_amount"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			dto := newErrorDTO("invalid_amount", "min_amount must be a number")
			return f, 0, 0, &dto
		}
		f.MinAmount = &d
	}
	if s := q.Get("max_amount"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			dto := newErrorDTO("invalid_amount", "max_amount must be a number")
			return f, 0, 0, &dto
		}
		f.MaxAmount = &d
	}
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			dto := newErrorDTO("invalid_date", "from must be RFC3339")
			return f, 0, 0, &dto
		}
		f.From = &t
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			dto := newErrorDTO("invalid_date", "to must be RFC3339")
			return f, 0, 0, &dto
		}
		f.To = &t
	}

	page := intParam(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	pageSize := intParam(q.Get("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return f, page, pageSize, nil
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, newErrorDTO(errType, message))
}
