package expense_test

import (
	"testing"

	"github.com/cashcog/expense-engine/expense"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_CreatedEvent(t *testing.T) {
	raw := []byte(`{
		"event_id": "e1",
		"expense_id": "x1",
		"kind": "CREATED",
		"occurred_at": "2025-03-10T09:00:00Z",
		"payload": {
			"amount": 120.00,
			"currency": "USD",
			"submitter": "emp-1",
			"category": "travel",
			"description": "client dinner"
		}
	}`)

	ev, err := expense.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "e1", ev.EventID)
	assert.Equal(t, "x1", ev.ExpenseID)
	assert.Equal(t, expense.KindCreated, ev.Kind)
	assert.True(t, ev.Amount.Equal(decimal.RequireFromString("120")))
	assert.Equal(t, "USD", ev.Currency)
	assert.Equal(t, "emp-1", ev.Submitter)
	assert.Equal(t, "travel", ev.Category)
	assert.Equal(t, 2025, ev.OccurredAt.Year())
}

func TestDecode_StatusChangedEvent(t *testing.T) {
	raw := []byte(`{
		"event_id": "e2",
		"expense_id": "x1",
		"kind": "STATUS_CHANGED",
		"occurred_at": "2025-03-11T09:00:00Z",
		"payload": {"target": "DECLINED", "note": "missing receipt"}
	}`)

	ev, err := expense.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, expense.KindStatusChanged, ev.Kind)
	assert.Equal(t, expense.StatusDeclined, ev.TargetStatus)
	assert.Equal(t, "missing receipt", ev.Note)
}

func TestDecode_UnrecognizedKind_ForwardedAsUnknown(t *testing.T) {
	// Unknown tags are NOT decode failures: they decode to KindUnknown so
	// future upstream event types stay forward-compatible.
	raw := []byte(`{
		"event_id": "e7",
		"expense_id": "x1",
		"kind": "RECEIPT_ATTACHED",
		"occurred_at": "2025-03-11T09:00:00Z",
		"payload": {"url": "https://example.com/r.pdf"}
	}`)

	ev, err := expense.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, expense.KindUnknown, ev.Kind)
	assert.Equal(t, "RECEIPT_ATTACHED", ev.RawKind)
}

func TestDecode_Failures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{"event_id": `},
		{"missing event_id", `{"expense_id":"x1","kind":"CREATED","occurred_at":"2025-03-10T09:00:00Z","payload":{"amount":1,"currency":"USD","submitter":"s"}}`},
		{"missing expense_id", `{"event_id":"e1","kind":"CREATED","occurred_at":"2025-03-10T09:00:00Z","payload":{"amount":1,"currency":"USD","submitter":"s"}}`},
		{"missing occurred_at", `{"event_id":"e1","expense_id":"x1","kind":"CREATED","payload":{"amount":1,"currency":"USD","submitter":"s"}}`},
		{"missing payload", `{"event_id":"e1","expense_id":"x1","kind":"CREATED","occurred_at":"2025-03-10T09:00:00Z"}`},
		{"negative amount", `{"event_id":"e1","expense_id":"x1","kind":"CREATED","occurred_at":"2025-03-10T09:00:00Z","payload":{"amount":-5,"currency":"USD","submitter":"s"}}`},
		{"missing amount on create", `{"event_id":"e1","expense_id":"x1","kind":"CREATED","occurred_at":"2025-03-10T09:00:00Z","payload":{"currency":"USD","submitter":"s"}}`},
		{"missing amount on update", `{"event_id":"e1","expense_id":"x1","kind":"AMOUNT_UPDATED","occurred_at":"2025-03-10T09:00:00Z","payload":{}}`},
		{"unknown currency", `{"event_id":"e1","expense_id":"x1","kind":"CREATED","occurred_at":"2025-03-10T09:00:00Z","payload":{"amount":5,"currency":"ZZZ","submitter":"s"}}`},
		{"missing submitter", `{"event_id":"e1","expense_id":"x1","kind":"CREATED","occurred_at":"2025-03-10T09:00:00Z","payload":{"amount":5,"currency":"USD"}}`},
		{"bad status target", `{"event_id":"e1","expense_id":"x1","kind":"STATUS_CHANGED","occurred_at":"2025-03-10T09:00:00Z","payload":{"target":"PENDING"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := expense.Decode([]byte(tc.raw))
			var decodeErr *expense.DecodeError
			require.ErrorAs(t, err, &decodeErr, "expected DecodeError")
			// The raw payload travels with the error for the dead-letter sink
			assert.Equal(t, tc.raw, string(decodeErr.Raw))
		})
	}
}

func TestDecode_ExplicitZeroAmount_Allowed(t *testing.T) {
	// An explicit zero is a valid amount; only an absent key is rejected.
	raw := []byte(`{"event_id":"e1","expense_id":"x1","kind":"AMOUNT_UPDATED","occurred_at":"2025-03-10T09:00:00Z","payload":{"amount":0}}`)

	ev, err := expense.Decode(raw)
	require.NoError(t, err)
	assert.True(t, ev.Amount.IsZero())
}

func TestDecode_IsDeterministic(t *testing.T) {
	raw := []byte(`{"event_id":"e1","expense_id":"x1","kind":"CREATED","occurred_at":"2025-03-10T09:00:00Z","payload":{"amount":5,"currency":"usd","submitter":"s"}}`)

	first, err := expense.Decode(raw)
	require.NoError(t, err)
	second, err := expense.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "USD", first.Currency, "currency should be normalized")
}
