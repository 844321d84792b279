/*
service.go - Query/Command facade

PURPOSE:
  The operations the outside world calls. The API layer calls GetExpense,
  ListExpenses and RequestTransition; the stream consumer calls ApplyEvent.
  Both mutation paths run the identical state machine inside the identical
  ConditionalUpdate, so there is one source of truth and one set of
  invariants.

SEE ALSO:
  - machine.go:  Transition rules
  - store.go:    Persistence contract
  - consumer:    Drives ApplyEvent
  - api:         Drives the query/transition operations
*/
package expense

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Service is the facade over Store + state machine.
type Service struct {
	Store Store
	Log   *zap.Logger
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Store: store, Log: log}
}

// GetExpense returns a single expense by id.
func (s *Service) GetExpense(ctx context.Context, id string) (*Expense, error) {
	return s.Store.Get(ctx, id)
}

// ListExpenses returns the matching page plus the total match count.
func (s *Service) ListExpenses(ctx context.Context, f Filter) ([]Expense, int, error) {
	total, err := s.Store.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.Store.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// RequestTransition is the only mutation entry point reachable from outside
// the stream. VersionConflictError is surfaced to the caller, who must
// re-read and retry; the facade never retries on the API path.
func (s *Service) RequestTransition(ctx context.Context, id string, req TransitionRequest) (*Expense, error) {
	updated, err := s.Store.ConditionalUpdate(ctx, id, req.ExpectedVersion, func(cur *Expense) (*Expense, error) {
		return Transition(cur, req)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("expense transitioned",
		zap.String("expense_id", id),
		zap.String("status", string(updated.Status)),
		zap.Int64("version", updated.Version),
		zap.String("actor", req.Actor))
	return updated, nil
}

// ApplyEvent applies one decoded stream event. Error semantics for the
// consumer:
//   - nil:                    applied (or UNKNOWN no-op), acknowledge
//   - ErrEventAlreadyApplied: redelivery, acknowledge without re-applying
//   - ErrDuplicateCreate:     redelivered create, log and acknowledge
//   - ErrVersionConflict:     lost a race, call again (fresh read inside)
//   - ErrNotFound:            non-creating event for unknown id, dead-letter
//   - ErrStoreUnavailable:    transient, retry with backoff
func (s *Service) ApplyEvent(ctx context.Context, ev Event) error {
	if ev.Kind == KindUnknown {
		s.Log.Warn("unknown event kind, ignoring",
			zap.String("event_id", ev.EventID),
			zap.String("expense_id", ev.ExpenseID),
			zap.String("raw_kind", ev.RawKind))
		return nil
	}

	if ev.Kind == KindCreated {
		created, err := Apply(nil, ev)
		if err != nil {
			return err
		}
		if err := s.Store.Create(ctx, created); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return fmt.Errorf("expense %s: %w (event %s)", ev.ExpenseID, ErrDuplicateCreate, ev.EventID)
			}
			return err
		}
		s.Log.Info("expense created",
			zap.String("expense_id", created.ID),
			zap.String("submitter", created.Submitter),
			zap.String("amount", created.Amount.String()),
			zap.String("currency", created.Currency))
		return nil
	}

	cur, err := s.Store.Get(ctx, ev.ExpenseID)
	if err != nil {
		return err
	}
	// Fast-path dedup check. The authoritative check runs again inside the
	// conditional write, against the row the transaction actually sees.
	if cur.SeenEvent(ev.EventID) {
		return fmt.Errorf("expense %s: %w (event %s)", ev.ExpenseID, ErrEventAlreadyApplied, ev.EventID)
	}

	updated, err := s.Store.ConditionalUpdate(ctx, ev.ExpenseID, cur.Version, func(fresh *Expense) (*Expense, error) {
		return Apply(fresh, ev)
	})
	if err != nil {
		return err
	}
	s.Log.Info("event applied",
		zap.String("event_id", ev.EventID),
		zap.String("expense_id", ev.ExpenseID),
		zap.String("kind", string(ev.Kind)),
		zap.Int64("version", updated.Version))
	return nil
}
