/*
deadletter.go - Terminal disposition for events that cannot be applied

PURPOSE:
  Every event the consumer takes off the stream either applies or lands
  here - nothing is silently dropped. Dead letters are for operator
  inspection only; this service never reprocesses them.
*/
package consumer

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dead-letter reasons, used as the metric label and stored with the payload.
const (
	ReasonDecodeFailed      = "decode_failed"
	ReasonUnknownExpense    = "unknown_expense"
	ReasonConflictExhausted = "version_conflict_exhausted"
	ReasonInvalidTransition = "invalid_transition"
	ReasonApplyFailed       = "apply_failed"
)

// DeadLetter accepts (raw payload, failure reason) pairs.
type DeadLetter interface {
	Sink(ctx context.Context, raw []byte, reason string) error
}

// LogDeadLetter is the fallback sink: it only logs. Useful in tests and when
// no durable sink is configured.
type LogDeadLetter struct {
	Log *zap.Logger
}

func (l *LogDeadLetter) Sink(_ context.Context, raw []byte, reason string) error {
	l.Log.Error("event dead-lettered",
		zap.String("reason", reason),
		zap.ByteString("payload", raw))
	return nil
}

// DeadLetterStore is the persistence surface a durable sink needs.
// *sqlite.Store satisfies it.
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, id string, raw []byte, reason string) error
}

// StoreDeadLetter persists dead letters and logs them.
type StoreDeadLetter struct {
	Store DeadLetterStore
	Log   *zap.Logger
}

func (s *StoreDeadLetter) Sink(ctx context.Context, raw []byte, reason string) error {
	s.Log.Error("event dead-lettered",
		zap.String("reason", reason),
		zap.ByteString("payload", raw))
	return s.Store.SaveDeadLetter(ctx, uuid.NewString(), raw, reason)
}
