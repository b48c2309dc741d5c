package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"frame-fulfillment/model"
)

// Memory is an in-memory Store. Safe for concurrent use. Intended for unit
// tests and local development; it mirrors the ordering and conditional-update
// semantics of the Postgres backend.
type Memory struct {
	mu  sync.RWMutex
	ops map[string]*model.Operation
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{ops: make(map[string]*model.Operation)}
}

func (m *Memory) Insert(_ context.Context, op *model.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ops[op.ID]; exists {
		return ErrDuplicateID
	}
	cp := *op
	m.ops[op.ID] = &cp
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*model.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, patch Patch, expected model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[id]
	if !ok {
		return ErrNotFound
	}
	if expected != "" && op.Status != expected {
		return ErrConflict
	}

	if patch.Status != nil {
		op.Status = *patch.Status
	}
	if patch.Attempts != nil {
		op.Attempts = *patch.Attempts
	}
	if patch.LastAttemptAt != nil {
		t := *patch.LastAttemptAt
		op.LastAttemptAt = &t
	}
	if patch.ClearNextRetry {
		op.NextRetryAt = nil
	} else if patch.NextRetryAt != nil {
		t := *patch.NextRetryAt
		op.NextRetryAt = &t
	}
	if patch.ClearLastError {
		op.LastError = ""
	} else if patch.LastError != nil {
		op.LastError = *patch.LastError
	}
	if patch.Result != nil {
		op.Result = append([]byte(nil), patch.Result...)
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		op.CompletedAt = &t
	}
	if patch.FailedAt != nil {
		t := *patch.FailedAt
		op.FailedAt = &t
	}
	return nil
}

func (m *Memory) QueryDue(_ context.Context, now time.Time, limit int) ([]*model.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*model.Operation, 0)
	for _, op := range m.ops {
		if op.Status != model.StatusPending {
			continue
		}
		if op.NextRetryAt == nil || op.NextRetryAt.After(now) {
			continue
		}
		cp := *op
		due = append(due, &cp)
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.NextRetryAt.Equal(*b.NextRetryAt) {
			return a.NextRetryAt.Before(*b.NextRetryAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) CountByStatus(_ context.Context, since time.Time) (map[model.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[model.Status]int)
	for _, op := range m.ops {
		if !since.IsZero() && op.CreatedAt.Before(since) {
			continue
		}
		counts[op.Status]++
	}
	return counts, nil
}
