/*
Package expense contains the core domain: the Expense record, the event
taxonomy emitted by the upstream Cashcog stream, and the status state
machine that both the stream consumer and the API mutate through.

KEY CONCEPTS IN THIS FILE (types.go):
  - Expense: The durable, current-state record for one submitted cost item
  - Event: An immutable fact asserted by the source system about an Expense
  - Status: PENDING -> APPROVED | DECLINED (terminal)
  - TransitionRequest: An API-originated approve/decline request

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for money, never float64
  2. Optimistic concurrency: Version is compared at write time by the Store
  3. Idempotency: A bounded window of recently applied event IDs lives on
     the record itself, so check-and-record is one atomic write

SEE ALSO:
  - machine.go: Transition rules (Apply, Transition)
  - decode.go:  Wire payload -> Event
  - store.go:   Persistence interfaces
*/
package expense

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS - Approval lifecycle
// =============================================================================

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDeclined Status = "DECLINED"
)

// Terminal reports whether no further status change is permitted.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

// Valid reports whether s is a recognized status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDeclined:
		return true
	}
	return false
}

// =============================================================================
// EXPENSE - Durable record, materialized view of the event stream
// =============================================================================

// RecentEventWindow bounds the per-expense dedup window. Older event IDs age
// out; a redelivery that stale is rejected by the state machine instead.
const RecentEventWindow = 16

type Expense struct {
	ID string

	// Descriptive fields, set on creation and by AMOUNT_UPDATED events.
	Amount      decimal.Decimal
	Currency    string
	Submitter   string
	Category    string
	Description string
	SubmittedAt time.Time

	// Mutable only through the state machine.
	Status       Status
	DecisionNote string // set once, by the terminal transition

	// Version is compared by the Store on every conditional write.
	Version int64

	// Idempotency guard state, persisted in the same write as the mutation
	// it records.
	LastEventID    string
	RecentEventIDs []string

	UpdatedAt time.Time
}

// SeenEvent reports whether eventID is inside the recent-events window.
func (e *Expense) SeenEvent(eventID string) bool {
	if eventID == "" {
		return false
	}
	if e.LastEventID == eventID {
		return true
	}
	for _, id := range e.RecentEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// recordEvent marks eventID as applied, evicting the oldest entry once the
// window is full.
func (e *Expense) recordEvent(eventID string) {
	e.LastEventID = eventID
	e.RecentEventIDs = append(e.RecentEventIDs, eventID)
	if len(e.RecentEventIDs) > RecentEventWindow {
		e.RecentEventIDs = e.RecentEventIDs[len(e.RecentEventIDs)-RecentEventWindow:]
	}
}

// Clone returns a deep copy. The state machine mutates copies so a failed
// conditional write never leaves a half-updated record in the caller's hands.
func (e *Expense) Clone() *Expense {
	cp := *e
	cp.RecentEventIDs = append([]string(nil), e.RecentEventIDs...)
	return &cp
}

// =============================================================================
// EVENT - Unit of stream input
// =============================================================================

// EventKind is a closed set. Source tags outside it decode to KindUnknown
// (forwarded as a no-op) so new upstream event types never break ingestion.
type EventKind string

const (
	KindCreated       EventKind = "CREATED"
	KindAmountUpdated EventKind = "AMOUNT_UPDATED"
	KindStatusChanged EventKind = "STATUS_CHANGED"
	KindUnknown       EventKind = "UNKNOWN"
)

type Event struct {
	EventID   string
	ExpenseID string
	Kind      EventKind

	// RawKind preserves the source tag verbatim for KindUnknown diagnostics.
	RawKind string

	// OccurredAt is source-assigned event time, not ingestion time.
	OccurredAt time.Time

	// Payload fields. Which are populated depends on Kind.
	Amount       decimal.Decimal
	Currency     string
	Submitter    string
	Category     string
	Description  string
	TargetStatus Status
	Note         string
}

// =============================================================================
// TRANSITION REQUEST - API-originated trigger
// =============================================================================

// TransitionRequest carries an approve/decline request from the API surface.
// ExpectedVersion makes the caller participate in optimistic concurrency:
// a stale version is rejected with VersionConflictError, never overwritten.
type TransitionRequest struct {
	Target          Status
	ExpectedVersion int64
	Note            string
	Actor           string
}
