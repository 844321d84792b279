/*
store.go - Persistence interface for expense records

PURPOSE:
  Defines the contract between the domain and the database. The one
  non-negotiable capability is ConditionalUpdate: an atomic
  read-check-version-mutate-write. It is the mechanism that makes both the
  idempotency guarantee and the version-conflict guarantee hold under
  concurrent writers - an in-process mutex is NOT sufficient because
  consumer workers and API handlers may run in separate processes.

ATOMICITY CONTRACT:
  ConditionalUpdate(id, expectedVersion, mutate):
    1. Load the current record inside a storage transaction
    2. If version != expectedVersion -> VersionConflictError, nothing written
    3. Run mutate on the fresh record; a mutate error aborts the write
    4. Write the result guarded by WHERE version = expectedVersion
  The mutate callback is where the state machine runs, so "apply event" and
  "record event id" commit in the same write. A crash between the two
  cannot happen.

IMPLEMENTATIONS:
  - store/sqlite:       Production SQLite (WAL)
  - expense/store:      In-memory, for tests

SEE ALSO:
  - machine.go:  What runs inside the mutate callback
  - service.go:  The facade that drives this interface
*/
package expense

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is durable keyed storage for Expense records.
type Store interface {
	// Get returns the expense or ErrNotFound.
	Get(ctx context.Context, id string) (*Expense, error)

	// Create persists a new expense. Returns ErrAlreadyExists if the id is
	// taken; creation is the only unconditional write and it is guarded by
	// the primary key, so two racing CREATED events cannot both win.
	Create(ctx context.Context, e *Expense) error

	// ConditionalUpdate atomically replaces the record iff its stored
	// version equals expectedVersion. mutate receives the freshly loaded
	// record and returns the desired new state; returning an error aborts
	// the write and surfaces that error unchanged.
	ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(cur *Expense) (*Expense, error)) (*Expense, error)

	// List returns expenses matching the filter, newest submission first.
	// Each call re-queries current state; nothing is cached across calls.
	List(ctx context.Context, f Filter) ([]Expense, error)

	// Count returns how many expenses match the filter, ignoring
	// Limit/Offset. Used for pagination totals.
	Count(ctx context.Context, f Filter) (int, error)
}

// Filter narrows List/Count results. Zero values mean "no constraint".
type Filter struct {
	Status    Status
	Submitter string
	Currency  string // case-insensitive match
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	From      *time.Time // submitted_at >= From
	To        *time.Time // submitted_at <= To
	Search    string     // description contains, case-insensitive

	Limit  int // 0 = no limit
	Offset int
}
