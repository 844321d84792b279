/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication. These decouple the domain model
  from the external contract: the recent-events window and other guard
  state never leak to clients, and field names can evolve independently.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/cashcog/expense-engine/expense"
)

// ExpenseDTO represents an expense in API responses.
type ExpenseDTO struct {
	ID           string `json:"id"`
	Amount       string `json:"amount"` // decimal string, exact
	Currency     string `json:"currency"`
	Submitter    string `json:"submitter"`
	Category     string `json:"category,omitempty"`
	Description  string `json:"description,omitempty"`
	SubmittedAt  string `json:"submitted_at"`
	Status       string `json:"status"`
	DecisionNote string `json:"decision_note,omitempty"`
	Version      int64  `json:"version"`
	UpdatedAt    string `json:"updated_at"`
}

func toExpenseDTO(e *expense.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:           e.ID,
		Amount:       e.Amount.String(),
		Currency:     e.Currency,
		Submitter:    e.Submitter,
		Category:     e.Category,
		Description:  e.Description,
		SubmittedAt:  e.SubmittedAt.UTC().Format(time.RFC3339),
		Status:       string(e.Status),
		DecisionNote: e.DecisionNote,
		Version:      e.Version,
		UpdatedAt:    e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// PaginatedExpensesDTO is the list envelope.
type PaginatedExpensesDTO struct {
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
	Total   int          `json:"total"`
	Count   int          `json:"count"`
	Results []ExpenseDTO `json:"results"`
}

// UpdateStatusRequest asks for an approve/decline transition.
// ExpectedVersion is mandatory: it is the caller's optimistic-concurrency
// token, echoed back from a prior read.
type UpdateStatusRequest struct {
	Status          string `json:"status"`
	ExpectedVersion int64  `json:"expected_version"`
	Note            string `json:"note,omitempty"`
}

// ErrorDTO is the error envelope. Type lets clients distinguish
// version_conflict from invalid_transition without parsing messages.
type ErrorDTO struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func newErrorDTO(errType, message string) ErrorDTO {
	var dto ErrorDTO
	dto.Error.Type = errType
	dto.Error.Message = message
	return dto
}
