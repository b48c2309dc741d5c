// Package manager drives retryable fulfillment operations to completion.
// It schedules operations, claims and executes due ones, applies backoff on
// failure, and marks terminal states. The store is the single source of
// truth: any number of managers may run the same batch loop concurrently,
// and the conditional pending->processing claim decides which one wins a
// record.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"frame-fulfillment/backoff"
	"frame-fulfillment/model"
	"frame-fulfillment/registry"
	"frame-fulfillment/store"
)

const defaultBatchLimit = 100

// BatchResult reports the outcome of one ProcessPendingBatch pass.
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Manager is the retry engine. Construct with New; the zero value is not
// usable.
type Manager struct {
	store      store.Store
	registry   *registry.Registry
	policy     backoff.Policy
	clock      quartz.Clock
	logger     *slog.Logger
	batchLimit int
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the backoff policy.
func WithPolicy(p backoff.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithClock sets the clock, letting tests control time.
func WithClock(c quartz.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBatchLimit caps how many due operations one batch pass fetches.
func WithBatchLimit(n int) Option {
	return func(m *Manager) { m.batchLimit = n }
}

// New constructs a Manager around the given store and executor registry.
func New(s store.Store, r *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		store:      s,
		registry:   r,
		policy:     backoff.Default(),
		clock:      quartz.NewReal(),
		logger:     slog.Default(),
		batchLimit: defaultBatchLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Schedule creates a new operation. With immediate set, the first attempt is
// due now and runs synchronously before Schedule returns; otherwise the first
// attempt is deferred by the backoff delay for attempt one. The returned id
// is valid even when an immediate inline attempt fails.
func (m *Manager) Schedule(ctx context.Context, typ model.Type, subjectID string, payload json.RawMessage, immediate bool) (string, error) {
	now := m.clock.Now().UTC()

	op := model.NewOperation(typ, subjectID, payload, now)
	nextRetry := now
	if !immediate {
		nextRetry = now.Add(m.policy.Delay(1))
	}
	op.NextRetryAt = &nextRetry

	if err := m.store.Insert(ctx, op); err != nil {
		return "", fmt.Errorf("manager: schedule %s: %w", typ, err)
	}

	m.logger.Info("operation scheduled",
		"id", op.ID, "type", typ, "subject", subjectID, "immediate", immediate)

	if immediate {
		if _, err := m.Process(ctx, op.ID); err != nil {
			return op.ID, err
		}
	}
	return op.ID, nil
}

// outcome classifies what one processing pass did with a record.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeSkipped
)

// Process runs one attempt of the given operation. The returned bool is the
// success signal: true for completion, for idempotent no-ops on completed or
// cancelled records, and for records skipped because another worker holds the
// claim; false when the attempt failed, the record is already failed, or the
// operation is unknown. Execution errors never escape; only store-level
// errors are returned.
func (m *Manager) Process(ctx context.Context, id string) (bool, error) {
	out, err := m.processOne(ctx, id)
	if err != nil {
		return false, err
	}
	return out != outcomeFailed, nil
}

func (m *Manager) processOne(ctx context.Context, id string) (outcome, error) {
	op, err := m.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("operation vanished before processing", "id", id)
			return outcomeFailed, nil
		}
		return outcomeFailed, fmt.Errorf("manager: load %s: %w", id, err)
	}

	if op.Status.Terminal() {
		// Terminal records are never written again; FailedAt and LastError
		// stay as the last attempt left them.
		if op.Status == model.StatusFailed {
			return outcomeFailed, nil
		}
		return outcomeCompleted, nil
	}

	now := m.clock.Now().UTC()

	if op.Attempts >= m.policy.MaxRetries {
		// Budget already spent, e.g. a crash mid-execution left the record
		// non-terminal. Force it terminal rather than run it again.
		return m.forceFail(ctx, op, now)
	}

	attempt := op.Attempts + 1
	claimed, err := m.claim(ctx, op, attempt, now)
	if err != nil {
		return outcomeFailed, err
	}
	if !claimed {
		return outcomeSkipped, nil
	}

	exec, err := m.registry.Resolve(op.Type)
	if err != nil {
		m.logger.Error("no executor for operation type; failing permanently",
			"id", op.ID, "type", op.Type)
		return outcomeFailed, m.markFailed(ctx, op.ID,
			fmt.Sprintf("%s: %s", ErrUnknownOperationType.Error(), op.Type), now)
	}

	result, execErr := exec(ctx, op.SubjectID, op.Payload)
	if execErr == nil {
		return outcomeCompleted, m.markCompleted(ctx, op.ID, result, now)
	}

	if registry.IsPermanent(execErr) {
		m.logger.Warn("operation failed permanently",
			"id", op.ID, "type", op.Type, "attempt", attempt, "err", execErr)
		return outcomeFailed, m.markFailed(ctx, op.ID, execErr.Error(), now)
	}

	if attempt < m.policy.MaxRetries {
		retryAt := now.Add(m.policy.Delay(attempt + 1))
		m.logger.Info("operation attempt failed, retrying",
			"id", op.ID, "type", op.Type, "attempt", attempt,
			"next_retry_at", retryAt, "err", execErr)
		return outcomeFailed, m.requeue(ctx, op.ID, execErr.Error(), retryAt)
	}

	m.logger.Warn("operation exhausted retry budget",
		"id", op.ID, "type", op.Type, "attempts", attempt, "err", execErr)
	return outcomeFailed, m.markFailed(ctx, op.ID, execErr.Error(), now)
}

// claim is the compare-and-swap transition pending -> processing. Only one
// concurrent worker wins; the rest observe a conflict and report false.
func (m *Manager) claim(ctx context.Context, op *model.Operation, attempt int, now time.Time) (bool, error) {
	processing := model.StatusProcessing
	err := m.store.UpdateStatus(ctx, op.ID, store.Patch{
		Status:         &processing,
		Attempts:       &attempt,
		LastAttemptAt:  &now,
		ClearNextRetry: true,
	}, model.StatusPending)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		m.logger.Debug("operation already claimed", "id", op.ID)
		return false, nil
	}
	return false, fmt.Errorf("manager: claim %s: %w", op.ID, err)
}

func (m *Manager) markCompleted(ctx context.Context, id string, result json.RawMessage, now time.Time) error {
	completed := model.StatusCompleted
	err := m.store.UpdateStatus(ctx, id, store.Patch{
		Status:         &completed,
		Result:         result,
		ClearLastError: true,
		CompletedAt:    &now,
	}, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("manager: complete %s: %w", id, err)
	}
	m.logger.Info("operation completed", "id", id)
	return nil
}

func (m *Manager) markFailed(ctx context.Context, id, reason string, now time.Time) error {
	failed := model.StatusFailed
	err := m.store.UpdateStatus(ctx, id, store.Patch{
		Status:    &failed,
		LastError: &reason,
		FailedAt:  &now,
	}, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("manager: fail %s: %w", id, err)
	}
	return nil
}

func (m *Manager) requeue(ctx context.Context, id, reason string, retryAt time.Time) error {
	pending := model.StatusPending
	err := m.store.UpdateStatus(ctx, id, store.Patch{
		Status:      &pending,
		LastError:   &reason,
		NextRetryAt: &retryAt,
	}, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("manager: requeue %s: %w", id, err)
	}
	return nil
}

// forceFail makes a record terminal once its budget is spent without running
// the executor again.
func (m *Manager) forceFail(ctx context.Context, op *model.Operation, now time.Time) (outcome, error) {
	failed := model.StatusFailed
	patch := store.Patch{Status: &failed, FailedAt: &now, ClearNextRetry: true}
	if op.LastError == "" {
		reason := ErrMaxRetriesExceeded.Error()
		patch.LastError = &reason
	}
	err := m.store.UpdateStatus(ctx, op.ID, patch, op.Status)
	if err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return outcomeSkipped, nil
		}
		return outcomeFailed, fmt.Errorf("manager: force fail %s: %w", op.ID, err)
	}
	m.logger.Warn("operation forced to failed",
		"id", op.ID, "type", op.Type, "attempts", op.Attempts)
	return outcomeFailed, nil
}

// ProcessPendingBatch runs one pass over all due operations, oldest first.
// A failure on one record never aborts the rest; only the initial due query
// can return an error. Records skipped because another worker claimed them
// count toward neither bucket.
func (m *Manager) ProcessPendingBatch(ctx context.Context) (BatchResult, error) {
	now := m.clock.Now().UTC()
	due, err := m.store.QueryDue(ctx, now, m.batchLimit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("manager: query due: %w", err)
	}

	var result BatchResult
	for _, op := range due {
		out, err := m.processOne(ctx, op.ID)
		if err != nil {
			m.logger.Error("store error while processing operation",
				"id", op.ID, "err", err)
			result.Failed++
			continue
		}
		switch out {
		case outcomeCompleted:
			result.Processed++
		case outcomeFailed:
			result.Failed++
		case outcomeSkipped:
		}
	}

	if len(due) > 0 {
		m.logger.Info("batch pass finished",
			"due", len(due), "processed", result.Processed, "failed", result.Failed)
	}
	return result, nil
}

// Cancel moves a pending operation to cancelled. Cancelling an
// already-cancelled operation is a no-op. Processing, completed, and failed
// operations cannot be cancelled and return ErrInvalidTransition.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	cancelled := model.StatusCancelled
	for {
		err := m.store.UpdateStatus(ctx, id, store.Patch{
			Status:         &cancelled,
			ClearNextRetry: true,
		}, model.StatusPending)
		if err == nil {
			m.logger.Info("operation cancelled", "id", id)
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		if !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("manager: cancel %s: %w", id, err)
		}
		op, getErr := m.store.GetByID(ctx, id)
		if getErr != nil {
			return fmt.Errorf("manager: cancel %s: %w", id, getErr)
		}
		if op.Status == model.StatusCancelled {
			return nil
		}
		if !op.Status.CanTransition(model.StatusCancelled) {
			return fmt.Errorf("manager: cancel %s from %s: %w", id, op.Status, ErrInvalidTransition)
		}
		// The record went back to pending between the failed swap and the
		// re-read; try again.
	}
}

// Stats returns counts per status for operations created at or after since.
// A zero since covers everything. Read-only; used for operator visibility.
func (m *Manager) Stats(ctx context.Context, since time.Time) (map[model.Status]int, error) {
	counts, err := m.store.CountByStatus(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("manager: stats: %w", err)
	}
	return counts, nil
}
