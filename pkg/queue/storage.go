package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OperationUpdate carries a partial update for a stored operation. Nil
// pointer fields are left untouched. The Clear flags exist because the
// nullable columns cannot be reset through a nil pointer.
type OperationUpdate struct {
	Status           *Status
	RetryCount       *int
	LastError        *string
	ClearLastError   bool
	NextRetryAt      *time.Time
	ClearNextRetryAt bool
}

// Filter narrows a ListOperations query. Zero-value fields match everything.
type Filter struct {
	// Status matches operations in the given state.
	Status *Status

	// Type matches operations of the given type.
	Type *OperationType

	// RetryCountBelow is an exclusive upper bound on RetryCount.
	RetryCountBelow *int

	// RunnableBefore matches operations whose NextRetryAt is unset or not
	// after the given instant. Used by the optional backoff gate.
	RunnableBefore *time.Time
}

// Storage is the durable store holding operation records across process
// restarts. A successful CreateOperation or UpdateOperation must be
// observable after an abrupt restart; storage failures always propagate to
// the caller, because silently losing an intended side effect is worse than
// a visible error.
type Storage interface {
	// CreateOperation upserts the operation by ID. Re-inserting the same
	// record is idempotent.
	CreateOperation(ctx context.Context, op *Operation) error

	// UpdateOperation merges the given fields into the stored record and
	// bumps UpdatedAt. Returns ErrOperationNotFound for unknown ids.
	UpdateOperation(ctx context.Context, id uuid.UUID, update OperationUpdate) error

	// ListOperations returns all records matching the filter, in no
	// particular order. Callers own the returned copies.
	ListOperations(ctx context.Context, filter Filter) ([]Operation, error)

	// DeleteOperation removes one record regardless of its status.
	// Returns ErrOperationNotFound for unknown ids.
	DeleteOperation(ctx context.Context, id uuid.UUID) error

	// Clear removes every record. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
