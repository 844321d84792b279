package consumer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cashcog/expense-engine/expense"
	"github.com/cashcog/expense-engine/expense/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// TEST FAKES
// =============================================================================

// fakeSource replays a fixed set of deliveries, then reports io.EOF.
type fakeSource struct {
	ch chan Delivery
}

func newFakeSource(deliveries ...Delivery) *fakeSource {
	ch := make(chan Delivery, len(deliveries))
	for _, d := range deliveries {
		ch <- d
	}
	close(ch)
	return &fakeSource{ch: ch}
}

func (f *fakeSource) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d, ok := <-f.ch:
		if !ok {
			return Delivery{}, io.EOF
		}
		return d, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// recordingSink captures dead-letter dispositions.
type recordingSink struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingSink) Sink(_ context.Context, _ []byte, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *recordingSink) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

func delivery(raw string, acked *int32) Delivery {
	return Delivery{
		Raw: []byte(raw),
		Ack: func() { atomic.AddInt32(acked, 1) },
	}
}

func rawCreated(eventID, expenseID, amount string) string {
	return fmt.Sprintf(`{"event_id":%q,"expense_id":%q,"kind":"CREATED","occurred_at":"2025-03-10T09:00:00Z","payload":{"amount":%s,"currency":"USD","submitter":"emp-1","description":"client dinner"}}`,
		eventID, expenseID, amount)
}

func rawStatus(eventID, expenseID string, target expense.Status) string {
	return fmt.Sprintf(`{"event_id":%q,"expense_id":%q,"kind":"STATUS_CHANGED","occurred_at":"2025-03-11T09:00:00Z","payload":{"target":%q}}`,
		eventID, expenseID, target)
}

func rawAmount(eventID, expenseID, amount string) string {
	return fmt.Sprintf(`{"event_id":%q,"expense_id":%q,"kind":"AMOUNT_UPDATED","occurred_at":"2025-03-12T09:00:00Z","payload":{"amount":%s}}`,
		eventID, expenseID, amount)
}

func runConsumer(t *testing.T, mem *store.Memory, sink DeadLetter, deliveries ...Delivery) {
	t.Helper()
	svc := expense.NewService(mem, zap.NewNop())
	c := New(newFakeSource(deliveries...), svc, sink, zap.NewNop(), Config{Workers: 4})
	err := c.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestConsumer_CreateThenApprove(t *testing.T) {
	// GIVEN: e1 CREATED then e2 STATUS_CHANGED(APPROVED) for x1
	mem := store.NewMemory()
	sink := &recordingSink{}
	var acked int32

	runConsumer(t, mem, sink,
		delivery(rawCreated("e1", "x1", "120.00"), &acked),
		delivery(rawStatus("e2", "x1", expense.StatusApproved), &acked),
	)

	// THEN: Final stored expense is APPROVED at version 2, both acked
	e, err := mem.Get(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, expense.StatusApproved, e.Status)
	assert.Equal(t, int64(2), e.Version)
	assert.Equal(t, int32(2), atomic.LoadInt32(&acked))
	assert.Empty(t, sink.all())
}

func TestConsumer_RedeliveredEvent_AckedWithoutReapply(t *testing.T) {
	mem := store.NewMemory()
	sink := &recordingSink{}
	var acked int32

	runConsumer(t, mem, sink,
		delivery(rawCreated("e1", "x1", "120.00"), &acked),
		delivery(rawStatus("e2", "x1", expense.StatusApproved), &acked),
		delivery(rawStatus("e2", "x1", expense.StatusApproved), &acked), // redelivery
	)

	e, err := mem.Get(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Version, "redelivery must not bump version")
	assert.Equal(t, int32(3), atomic.LoadInt32(&acked), "redelivery still acknowledged")
	assert.Empty(t, sink.all())
}

func TestConsumer_DuplicateCreate_AckedWithoutOverwrite(t *testing.T) {
	mem := store.NewMemory()
	sink := &recordingSink{}
	var acked int32

	runConsumer(t, mem, sink,
		delivery(rawCreated("e1", "x1", "120.00"), &acked),
		delivery(rawCreated("e9", "x1", "999.00"), &acked), // duplicate create
	)

	e, err := mem.Get(context.Background(), "x1")
	require.NoError(t, err)
	assert.True(t, e.Amount.Equal(decimal.RequireFromString("120.00")), "original survives")
	assert.Equal(t, int32(2), atomic.LoadInt32(&acked))
	assert.Empty(t, sink.all())
}

// =============================================================================
// ORDERING WITHIN KEY
// =============================================================================

func TestConsumer_IntraKeyOrder_Preserved(t *testing.T) {
	// All events for one expense land on one worker in arrival order, so
	// the last observed amount wins even with four workers running.
	mem := store.NewMemory()
	sink := &recordingSink{}
	var acked int32

	deliveries := []Delivery{delivery(rawCreated("e0", "x1", "1.00"), &acked)}
	for i := 1; i <= 9; i++ {
		deliveries = append(deliveries,
			delivery(rawAmount(fmt.Sprintf("e%d", i), "x1", fmt.Sprintf("%d.00", i)), &acked))
	}

	runConsumer(t, mem, sink, deliveries...)

	e, err := mem.Get(context.Background(), "x1")
	require.NoError(t, err)
	assert.True(t, e.Amount.Equal(decimal.RequireFromString("9.00")))
	assert.Equal(t, int64(10), e.Version)
	assert.Empty(t, sink.all())
}

func TestConsumer_DistinctKeys_AllApplied(t *testing.T) {
	mem := store.NewMemory()
	sink := &recordingSink{}
	var acked int32

	var deliveries []Delivery
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("x%d", i)
		deliveries = append(deliveries, delivery(rawCreated("create-"+id, id, "10.00"), &acked))
	}

	runConsumer(t, mem, sink, deliveries...)

	n, err := mem.Count(context.Background(), expense.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, int32(20), atomic.LoadInt32(&acked))
}

// =============================================================================
// DEAD-LETTER DISPOSITIONS
// =============================================================================

func TestConsumer_MalformedPayload_DeadLettered(t *testing.T) {
	mem := store.NewMemory()
	sink := &recordingSink{}
	var acked int32

	runConsumer(t, mem, sink,
		delivery(`{"event_id":`, &acked),
	)

	assert.Equal(t, []string{ReasonDecodeFailed}, sink.all())
	assert.Equal(t, int32(1), atomic.LoadInt32(&acked), "malformed payloads are acked, not retried")
}

func TestConsumer_UnknownExpense_DeadLettered(t *testing.T) {
	mem := store.NewMemory()
	sink := &recordingSink{}
	var acked int32

	runConsumer(t, mem, sink,
		delivery(rawStatus("e1", "ghost", expense.StatusApproved), &acked),
	)

	assert.Equal(t, []string{ReasonUnknownExpense}, sink.all())
	assert.Equal(t, int32(1), atomic.LoadInt32(&acked))
}

func TestConsumer_TerminalViolation_DeadLettered(t *testing.T) {
	// GIVEN: x1 approved; WHEN a decline event arrives later
	mem := store.NewMemory()
	sink := &recordingSink{}
	var acked int32

	runConsumer(t, mem, sink,
		delivery(rawCreated("e1", "x1", "120.00"), &acked),
		delivery(rawStatus("e2", "x1", expense.StatusApproved), &acked),
		delivery(rawStatus("e3", "x1", expense.StatusDeclined), &acked),
	)

	// THEN: The decline is dead-lettered; the stored state is untouched
	assert.Equal(t, []string{ReasonInvalidTransition}, sink.all())

	e, err := mem.Get(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, expense.StatusApproved, e.Status)
	assert.Equal(t, int64(2), e.Version)
}

func TestConsumer_UnknownKind_AckedAsNoOp(t *testing.T) {
	mem := store.NewMemory()
	sink := &recordingSink{}
	var acked int32

	runConsumer(t, mem, sink,
		delivery(rawCreated("e1", "x1", "120.00"), &acked),
		delivery(`{"event_id":"e2","expense_id":"x1","kind":"RECEIPT_ATTACHED","occurred_at":"2025-03-11T09:00:00Z"}`, &acked),
	)

	assert.Empty(t, sink.all())
	assert.Equal(t, int32(2), atomic.LoadInt32(&acked))

	e, err := mem.Get(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version, "unknown kinds must not mutate the record")
}

// =============================================================================
// SHARDING
// =============================================================================

func TestKeyShard_StableAndBounded(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("x%d", i)
		first := keyShard(id, 4)
		assert.Equal(t, first, keyShard(id, 4), "shard must be stable per key")
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 4)
	}
}
