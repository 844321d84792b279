/*
machine.go - The status state machine

PURPOSE:
  The single authority on how an Expense may change. BOTH triggers route
  through here:
    - Apply:      stream events (CREATED, AMOUNT_UPDATED, STATUS_CHANGED)
    - Transition: API approve/decline requests

  There is deliberately no second mutation path. The consumer and the API
  share one set of rules and one conditional-write arbiter (the Store).

CRITICAL INVARIANTS:
  1. PENDING -> APPROVED | DECLINED only. Terminal states never change.
  2. Version increments on every effective mutation, never regresses.
  3. An event id in the recent window is never applied twice.
  4. Apply and Transition work on copies; the caller's record is untouched
     until the Store commits the new state.

TIE-BREAK:
  Concurrent triggers on the same expense are serialized by the Store's
  compare-on-version write. The loser gets VersionConflictError and must
  re-read and retry.
*/
package expense

import (
	"fmt"
	"time"
)

// Apply runs a stream event through the transition rules against the current
// record. cur is nil when no record exists yet; only CREATED may materialize
// one. The returned Expense is a new value, safe to persist or discard.
func Apply(cur *Expense, ev Event) (*Expense, error) {
	if ev.Kind == KindCreated {
		if cur != nil {
			return nil, fmt.Errorf("expense %s: %w (event %s)", ev.ExpenseID, ErrDuplicateCreate, ev.EventID)
		}
		next := &Expense{
			ID:          ev.ExpenseID,
			Amount:      ev.Amount,
			Currency:    ev.Currency,
			Submitter:   ev.Submitter,
			Category:    ev.Category,
			Description: ev.Description,
			SubmittedAt: ev.OccurredAt,
			Status:      StatusPending,
			Version:     1,
			UpdatedAt:   time.Now().UTC(),
		}
		next.recordEvent(ev.EventID)
		return next, nil
	}

	if cur == nil {
		return nil, fmt.Errorf("expense %s: %w (event %s)", ev.ExpenseID, ErrNotFound, ev.EventID)
	}
	if cur.SeenEvent(ev.EventID) {
		return nil, fmt.Errorf("expense %s: %w (event %s)", ev.ExpenseID, ErrEventAlreadyApplied, ev.EventID)
	}

	next := cur.Clone()

	switch ev.Kind {
	case KindStatusChanged:
		if !ev.TargetStatus.Terminal() {
			return nil, fmt.Errorf("expense %s: %w (%s)", ev.ExpenseID, ErrInvalidTarget, ev.TargetStatus)
		}
		if cur.Status.Terminal() {
			return nil, &InvalidTransitionError{ID: cur.ID, Current: cur.Status, Target: ev.TargetStatus}
		}
		next.Status = ev.TargetStatus
		next.DecisionNote = ev.Note

	case KindAmountUpdated:
		// Descriptive update: allowed in any status, never touches status.
		next.Amount = ev.Amount
		if ev.Currency != "" {
			next.Currency = ev.Currency
		}

	case KindUnknown:
		// No-op. The consumer logs it; the record is unchanged and the
		// event id is not recorded, which is harmless: replaying a no-op
		// is still a no-op.
		return next, nil

	default:
		return nil, fmt.Errorf("expense %s: unhandled event kind %q", ev.ExpenseID, ev.Kind)
	}

	next.Version++
	next.recordEvent(ev.EventID)
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// Transition runs an API-originated request through the same rules.
// The caller's ExpectedVersion must match the stored version exactly; a
// mismatch means another writer (stream or API) got there first.
func Transition(cur *Expense, req TransitionRequest) (*Expense, error) {
	if cur == nil {
		return nil, ErrNotFound
	}
	if !req.Target.Terminal() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, req.Target)
	}
	if req.ExpectedVersion != cur.Version {
		return nil, &VersionConflictError{ID: cur.ID, Expected: req.ExpectedVersion, Actual: cur.Version}
	}
	if cur.Status.Terminal() {
		return nil, &InvalidTransitionError{ID: cur.ID, Current: cur.Status, Target: req.Target}
	}

	next := cur.Clone()
	next.Status = req.Target
	next.DecisionNote = req.Note
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}
