package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a retryable operation.
type Status string

const (
	// StatusPending means the operation is waiting for its next attempt.
	StatusPending Status = "pending"
	// StatusProcessing means a worker has claimed the operation and is executing it.
	StatusProcessing Status = "processing"
	// StatusCompleted means the operation finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the operation exhausted its retry budget or hit a
	// permanent error and will not run again.
	StatusFailed Status = "failed"
	// StatusCancelled means the operation was cancelled before it ran.
	StatusCancelled Status = "cancelled"
)

// Type identifies the kind of work an operation performs. The set is open:
// the retry manager dispatches through the executor registry, so new kinds
// are added by registration, not by editing this package.
type Type string

const (
	TypeOrderCreation    Type = "order_creation"
	TypeStatusRefresh    Type = "status_refresh"
	TypePaymentWebhook   Type = "payment_webhook"
	TypeNotificationSend Type = "notification_send"
)

// Operation is one unit of deferred, retryable fulfillment work. The store
// owns the durable representation; in-memory copies are read-modify-write
// snapshots, never long-lived state.
type Operation struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	SubjectID     string          `json:"subject_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Attempts      int             `json:"attempts"`
	Status        Status          `json:"status"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
}

// NewOperation builds a pending operation with a fresh id and zero attempts.
func NewOperation(typ Type, subjectID string, payload json.RawMessage, now time.Time) *Operation {
	return &Operation{
		ID:        uuid.NewString(),
		Type:      typ,
		SubjectID: subjectID,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether the state machine permits moving from s to
// next. Terminal states have no outgoing edges; cancellation is only
// reachable from pending.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusPending || next == StatusFailed
	}
	return false
}
