/*
decode.go - Wire payload -> validated Event

PURPOSE:
  Parses one raw event payload from the stream into an Event value.
  Decoding is deterministic and pure: no I/O, no clock reads. Failures
  return a *DecodeError carrying the raw payload for the dead-letter sink.

FORWARD COMPATIBILITY:
  An unrecognized kind tag is NOT a decode failure. It decodes into a
  KindUnknown event (raw tag preserved) that the consumer logs and
  acknowledges, so new upstream event types never wedge ingestion.

VALIDATION: go-playground/validator
  Envelope and payload schemas are validated with struct tags, including
  the iso4217 currency check. Amount sign is checked by hand because
  decimal.Decimal doesn't play with numeric validator tags.

SEE ALSO:
  - types.go:  Event, EventKind
  - errors.go: DecodeError
*/
package expense

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// WIRE SCHEMAS
// =============================================================================

type wireEnvelope struct {
	EventID    string          `json:"event_id" validate:"required"`
	ExpenseID  string          `json:"expense_id" validate:"required"`
	Kind       string          `json:"kind" validate:"required"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Amount is a pointer so an absent key is distinguishable from an explicit
// zero; the zero Decimal would otherwise pass straight through.
type wireCreated struct {
	Amount      *decimal.Decimal `json:"amount"`
	Currency    string           `json:"currency" validate:"required,iso4217"`
	Submitter   string           `json:"submitter" validate:"required"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
}

type wireAmountUpdated struct {
	Amount   *decimal.Decimal `json:"amount"`
	Currency string           `json:"currency" validate:"omitempty,iso4217"`
}

type wireStatusChanged struct {
	Target string `json:"target" validate:"required,oneof=APPROVED DECLINED"`
	Note   string `json:"note"`
}

// =============================================================================
// DECODE
// =============================================================================

// Decode parses and validates a raw stream payload.
func Decode(raw []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, &DecodeError{Raw: raw, Reason: "invalid json", Cause: err}
	}
	if err := validate.Struct(env); err != nil {
		return Event{}, &DecodeError{Raw: raw, Reason: "missing required envelope field", Cause: err}
	}
	if env.OccurredAt.IsZero() {
		return Event{}, &DecodeError{Raw: raw, Reason: "missing occurred_at"}
	}

	ev := Event{
		EventID:    env.EventID,
		ExpenseID:  env.ExpenseID,
		RawKind:    env.Kind,
		OccurredAt: env.OccurredAt,
	}

	switch EventKind(strings.ToUpper(env.Kind)) {
	case KindCreated:
		ev.Kind = KindCreated
		var p wireCreated
		if err := unmarshalPayload(raw, env.Payload, &p); err != nil {
			return Event{}, err
		}
		p.Currency = strings.ToUpper(p.Currency)
		if err := validatePayload(raw, &p); err != nil {
			return Event{}, err
		}
		if p.Amount == nil {
			return Event{}, &DecodeError{Raw: raw, Reason: "missing amount"}
		}
		if p.Amount.IsNegative() {
			return Event{}, &DecodeError{Raw: raw, Reason: "negative amount"}
		}
		ev.Amount = *p.Amount
		ev.Currency = p.Currency
		ev.Submitter = p.Submitter
		ev.Category = p.Category
		ev.Description = p.Description

	case KindAmountUpdated:
		ev.Kind = KindAmountUpdated
		var p wireAmountUpdated
		if err := unmarshalPayload(raw, env.Payload, &p); err != nil {
			return Event{}, err
		}
		p.Currency = strings.ToUpper(p.Currency)
		if err := validatePayload(raw, &p); err != nil {
			return Event{}, err
		}
		if p.Amount == nil {
			return Event{}, &DecodeError{Raw: raw, Reason: "missing amount"}
		}
		if p.Amount.IsNegative() {
			return Event{}, &DecodeError{Raw: raw, Reason: "negative amount"}
		}
		ev.Amount = *p.Amount
		ev.Currency = p.Currency

	case KindStatusChanged:
		ev.Kind = KindStatusChanged
		var p wireStatusChanged
		if err := unmarshalPayload(raw, env.Payload, &p); err != nil {
			return Event{}, err
		}
		if err := validatePayload(raw, &p); err != nil {
			return Event{}, err
		}
		ev.TargetStatus = Status(p.Target)
		ev.Note = p.Note

	default:
		// Unrecognized tag: forward as a no-op, don't fail.
		ev.Kind = KindUnknown
	}

	return ev, nil
}

func unmarshalPayload(raw, payload []byte, dst any) error {
	if len(payload) == 0 {
		return &DecodeError{Raw: raw, Reason: "missing payload"}
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return &DecodeError{Raw: raw, Reason: "invalid payload", Cause: err}
	}
	return nil
}

func validatePayload(raw []byte, p any) error {
	if err := validate.Struct(p); err != nil {
		return &DecodeError{Raw: raw, Reason: "invalid payload field", Cause: err}
	}
	return nil
}
