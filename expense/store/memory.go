// Package store provides an in-memory expense.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cashcog/expense-engine/expense"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements expense.Store. The mutex makes ConditionalUpdate atomic
// within one process, which is all an in-memory store can promise; the
// production store enforces the same contract at the database layer.
type Memory struct {
	mu       sync.RWMutex
	expenses map[string]*expense.Expense
}

func NewMemory() *Memory {
	return &Memory{expenses: make(map[string]*expense.Expense)}
}

func (m *Memory) Get(_ context.Context, id string) (*expense.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.expenses[id]
	if !ok {
		return nil, expense.ErrNotFound
	}
	return e.Clone(), nil
}

func (m *Memory) Create(_ context.Context, e *expense.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.expenses[e.ID]; ok {
		return expense.ErrAlreadyExists
	}
	m.expenses[e.ID] = e.Clone()
	return nil
}

func (m *Memory) ConditionalUpdate(_ context.Context, id string, expectedVersion int64, mutate func(*expense.Expense) (*expense.Expense, error)) (*expense.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.expenses[id]
	if !ok {
		return nil, expense.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, &expense.VersionConflictError{ID: id, Expected: expectedVersion, Actual: cur.Version}
	}

	next, err := mutate(cur.Clone())
	if err != nil {
		return nil, err
	}
	m.expenses[id] = next.Clone()
	return next, nil
}

func (m *Memory) List(_ context.Context, f expense.Filter) ([]expense.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []expense.Expense
	for _, e := range m.expenses {
		if matches(e, f) {
			result = append(result, *e.Clone())
		}
	}

	// Newest submission first, id as tiebreak for stable ordering.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].SubmittedAt.Equal(result[j].SubmittedAt) {
			return result[i].SubmittedAt.After(result[j].SubmittedAt)
		}
		return result[i].ID < result[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return nil, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *Memory) Count(_ context.Context, f expense.Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.expenses {
		if matches(e, f) {
			n++
		}
	}
	return n, nil
}

func matches(e *expense.Expense, f expense.Filter) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Submitter != "" && e.Submitter != f.Submitter {
		return false
	}
	if f.Currency != "" && !strings.EqualFold(e.Currency, f.Currency) {
		return false
	}
	if f.MinAmount != nil && e.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && e.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	if f.From != nil && e.SubmittedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.SubmittedAt.After(*f.To) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(e.Description), strings.ToLower(f.Search)) {
		return false
	}
	return true
}
