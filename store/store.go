// Package store defines the persistence contract for retryable fulfillment
// operations. The retry manager depends only on the Store interface; backends
// are Postgres for production and an in-memory map for tests and development.
package store

import (
	"context"
	"encoding/json"
	"time"

	"frame-fulfillment/model"
)

// Patch is a partial update applied by UpdateStatus. Nil fields are left
// untouched. ClearNextRetry and ClearLastError null out their columns, which
// a nil pointer cannot express.
type Patch struct {
	Status         *model.Status
	Attempts       *int
	LastAttemptAt  *time.Time
	NextRetryAt    *time.Time
	ClearNextRetry bool
	LastError      *string
	ClearLastError bool
	Result         json.RawMessage
	CompletedAt    *time.Time
	FailedAt       *time.Time
}

// Store is the durable home of operation records. It is the only shared
// mutable state in the system: every worker re-reads the authoritative record
// before mutating it, and claim transitions go through the conditional check
// of UpdateStatus.
type Store interface {
	// Insert persists a new record. Returns ErrDuplicateID if the id exists.
	Insert(ctx context.Context, op *model.Operation) error

	// GetByID fetches a record. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*model.Operation, error)

	// UpdateStatus applies patch to the record. When expected is non-empty
	// the update only succeeds if the stored status equals expected;
	// a mismatch returns ErrConflict. This is the compare-and-swap that
	// keeps concurrent workers from double-claiming a record.
	UpdateStatus(ctx context.Context, id string, patch Patch, expected model.Status) error

	// QueryDue returns pending records whose NextRetryAt is at or before
	// now, oldest-due first. Ties break by CreatedAt then id so batch order
	// is deterministic. limit <= 0 means no limit.
	QueryDue(ctx context.Context, now time.Time, limit int) ([]*model.Operation, error)

	// CountByStatus counts records created at or after since, grouped by
	// status. A zero since counts everything.
	CountByStatus(ctx context.Context, since time.Time) (map[model.Status]int, error)
}
