/*
consumer.go - The stream consumer control loop

PURPOSE:
  Pulls events from the Source, decodes them, and applies them through the
  facade (state machine + conditional store write), acknowledging each one
  only after it reaches a terminal disposition: applied, acknowledged as a
  duplicate, or dead-lettered.

ORDERING:
  Events are sharded onto workers by a hash of expense_id, so all events
  for one expense run on one worker in arrival order. Distinct expenses
  proceed in parallel with no ordering between them.

RETRY POLICY:
  - VersionConflict: retried immediately with a fresh read (contention,
    not failure), bounded by MaxRetries, then dead-lettered for manual
    review.
  - StoreUnavailable: retried with exponential backoff, unbounded - the
    consumer pauses rather than dropping events.
  - DecodeError / unknown expense / terminal-state violation: dead-lettered
    and acknowledged; retrying cannot help.

SHUTDOWN:
  Cancelling the Run context stops the dispatcher; workers drain what was
  already queued but start nothing new after cancellation. An apply caught
  mid-write either commits (and is acknowledged) or rolls back (and will be
  redelivered).

SEE ALSO:
  - expense/service.go: ApplyEvent error semantics
  - source.go:          Delivery / Source contract
*/
package consumer

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cashcog/expense-engine/expense"
	"go.uber.org/zap"
)

// Config controls worker parallelism and retry behavior.
type Config struct {
	Workers      int           // concurrent workers (default 4)
	MaxRetries   int           // version-conflict retries per event (default 3)
	RetryBackoff time.Duration // base wait after a transient store failure (default 500ms)
	MaxBackoff   time.Duration // backoff cap (default 30s)
	QueueDepth   int           // per-worker buffer (default 64)
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
}

// Consumer is the ingestion control loop.
type Consumer struct {
	source  Source
	service *expense.Service
	dead    DeadLetter
	log     *zap.Logger
	cfg     Config
}

func New(source Source, service *expense.Service, dead DeadLetter, log *zap.Logger, cfg Config) *Consumer {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	if dead == nil {
		dead = &LogDeadLetter{Log: log}
	}
	return &Consumer{source: source, service: service, dead: dead, log: log, cfg: cfg}
}

type task struct {
	ev       expense.Event
	delivery Delivery
}

// Run consumes until ctx is cancelled or the source fails terminally.
func (c *Consumer) Run(ctx context.Context) error {
	queues := make([]chan task, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan task, c.cfg.QueueDepth)
		wg.Add(1)
		go func(q chan task) {
			defer wg.Done()
			for t := range q {
				c.process(ctx, t)
			}
		}(queues[i])
	}

	err := c.dispatch(ctx, queues)

	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	return err
}

func (c *Consumer) dispatch(ctx context.Context, queues []chan task) error {
	for {
		d, err := c.source.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		ev, err := expense.Decode(d.Raw)
		if err != nil {
			// Malformed payloads are dead-lettered immediately; retrying a
			// deterministic decode failure cannot succeed.
			if c.deadLetter(ctx, d.Raw, ReasonDecodeFailed) {
				d.Ack()
			}
			continue
		}

		idx := keyShard(ev.ExpenseID, len(queues))
		select {
		case queues[idx] <- task{ev: ev, delivery: d}:
		case <-ctx.Done():
			return nil
		}
	}
}

// process drives one event to a terminal disposition.
func (c *Consumer) process(ctx context.Context, t task) {
	ev := t.ev

	if ev.Kind == expense.KindUnknown {
		unknownKindEvents.Inc()
		c.log.Warn("acknowledging unknown event kind",
			zap.String("event_id", ev.EventID),
			zap.String("raw_kind", ev.RawKind))
		t.delivery.Ack()
		return
	}

	conflicts := 0
	storeAttempts := 0
	for {
		// Shutdown: leave unprocessed events unacknowledged so the source
		// redelivers them.
		if ctx.Err() != nil {
			return
		}

		err := c.service.ApplyEvent(ctx, ev)
		switch {
		case err == nil:
			eventsProcessed.Inc()
			t.delivery.Ack()
			return

		case errors.Is(err, expense.ErrEventAlreadyApplied):
			duplicateEvents.Inc()
			c.log.Debug("duplicate event acknowledged",
				zap.String("event_id", ev.EventID),
				zap.String("expense_id", ev.ExpenseID))
			t.delivery.Ack()
			return

		case errors.Is(err, expense.ErrDuplicateCreate):
			duplicateEvents.Inc()
			c.log.Warn("duplicate create acknowledged",
				zap.String("event_id", ev.EventID),
				zap.String("expense_id", ev.ExpenseID))
			t.delivery.Ack()
			return

		case expense.IsConflict(err):
			versionConflicts.Inc()
			conflicts++
			if conflicts > c.cfg.MaxRetries {
				c.log.Error("version conflict retries exhausted, flagging for manual review",
					zap.String("event_id", ev.EventID),
					zap.String("expense_id", ev.ExpenseID))
				if c.deadLetter(ctx, t.delivery.Raw, ReasonConflictExhausted) {
					t.delivery.Ack()
				}
				return
			}
			// Fresh read inside ApplyEvent; no backoff for contention.
			continue

		case expense.IsRetryable(err):
			storeAttempts++
			storeRetries.Inc()
			wait := backoffWait(c.cfg.RetryBackoff, c.cfg.MaxBackoff, storeAttempts)
			c.log.Error("store unavailable, pausing consumer",
				zap.String("event_id", ev.EventID),
				zap.Duration("wait", wait),
				zap.Int("attempt", storeAttempts),
				zap.Error(err))
			if !sleep(ctx, wait) {
				return
			}
			continue

		case expense.IsNotFound(err):
			c.log.Warn("event references unknown expense",
				zap.String("event_id", ev.EventID),
				zap.String("expense_id", ev.ExpenseID))
			if c.deadLetter(ctx, t.delivery.Raw, ReasonUnknownExpense) {
				t.delivery.Ack()
			}
			return

		case errors.Is(err, expense.ErrInvalidTransition):
			c.log.Warn("event rejected by state machine",
				zap.String("event_id", ev.EventID),
				zap.String("expense_id", ev.ExpenseID),
				zap.Error(err))
			if c.deadLetter(ctx, t.delivery.Raw, ReasonInvalidTransition) {
				t.delivery.Ack()
			}
			return

		default:
			c.log.Error("event application failed",
				zap.String("event_id", ev.EventID),
				zap.String("expense_id", ev.ExpenseID),
				zap.Error(err))
			if c.deadLetter(ctx, t.delivery.Raw, ReasonApplyFailed) {
				t.delivery.Ack()
			}
			return
		}
	}
}

// deadLetter routes a payload to the sink. Returns false if the sink itself
// failed, in which case the event stays unacknowledged and will be
// redelivered.
func (c *Consumer) deadLetter(ctx context.Context, raw []byte, reason string) bool {
	eventsDeadLettered.WithLabelValues(reason).Inc()
	if err := c.dead.Sink(ctx, raw, reason); err != nil {
		c.log.Error("dead-letter sink failed", zap.String("reason", reason), zap.Error(err))
		return false
	}
	return true
}

// keyShard pins an expense id to one worker so per-key order is preserved.
func keyShard(expenseID string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(expenseID))
	return int(h.Sum32() % uint32(workers))
}

func backoffWait(base, max time.Duration, attempt int) time.Duration {
	wait := base << uint(attempt-1)
	if wait > max || wait <= 0 {
		return max
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
