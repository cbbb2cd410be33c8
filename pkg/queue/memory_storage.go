package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Storage for testing and local development. It is
// safe for concurrent use but obviously not durable.
type MemoryStorage struct {
	mu  sync.RWMutex
	ops map[uuid.UUID]*Operation

	// Index for efficient status queries
	byStatus map[Status][]uuid.UUID
}

// NewMemoryStorage creates a new in-memory storage implementation.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		ops:      make(map[uuid.UUID]*Operation),
		byStatus: make(map[Status][]uuid.UUID),
	}
}

// CreateOperation implements Storage. Re-inserting an existing id replaces
// the record (upsert semantics).
func (ms *MemoryStorage) CreateOperation(ctx context.Context, op *Operation) error {
	if op == nil {
		return fmt.Errorf("operation cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if existing, ok := ms.ops[op.ID]; ok {
		ms.removeFromStatusIndex(op.ID, existing.Status)
	}

	// Clone to prevent external modifications
	opCopy := *op
	ms.ops[op.ID] = &opCopy
	ms.byStatus[op.Status] = append(ms.byStatus[op.Status], op.ID)

	return nil
}

// UpdateOperation implements Storage.
func (ms *MemoryStorage) UpdateOperation(ctx context.Context, id uuid.UUID, update OperationUpdate) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	op, ok := ms.ops[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}

	if update.Status != nil && *update.Status != op.Status {
		ms.removeFromStatusIndex(id, op.Status)
		ms.byStatus[*update.Status] = append(ms.byStatus[*update.Status], id)
		op.Status = *update.Status
	}
	if update.RetryCount != nil {
		op.RetryCount = *update.RetryCount
	}
	if update.LastError != nil {
		errCopy := *update.LastError
		op.LastError = &errCopy
	} else if update.ClearLastError {
		op.LastError = nil
	}
	if update.NextRetryAt != nil {
		t := *update.NextRetryAt
		op.NextRetryAt = &t
	} else if update.ClearNextRetryAt {
		op.NextRetryAt = nil
	}
	op.UpdatedAt = time.Now()

	return nil
}

// ListOperations implements Storage.
func (ms *MemoryStorage) ListOperations(ctx context.Context, filter Filter) ([]Operation, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var ids []uuid.UUID
	if filter.Status != nil {
		ids = ms.byStatus[*filter.Status]
	} else {
		ids = make([]uuid.UUID, 0, len(ms.ops))
		for id := range ms.ops {
			ids = append(ids, id)
		}
	}

	result := make([]Operation, 0, len(ids))
	for _, id := range ids {
		op := ms.ops[id]
		if !matchesFilter(op, filter) {
			continue
		}
		result = append(result, *op)
	}

	return result, nil
}

func matchesFilter(op *Operation, filter Filter) bool {
	if filter.Status != nil && op.Status != *filter.Status {
		return false
	}
	if filter.Type != nil && op.Type != *filter.Type {
		return false
	}
	if filter.RetryCountBelow != nil && op.RetryCount >= *filter.RetryCountBelow {
		return false
	}
	if filter.RunnableBefore != nil && op.NextRetryAt != nil && op.NextRetryAt.After(*filter.RunnableBefore) {
		return false
	}
	return true
}

// DeleteOperation implements Storage.
func (ms *MemoryStorage) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	op, ok := ms.ops[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}

	ms.removeFromStatusIndex(id, op.Status)
	delete(ms.ops, id)

	return nil
}

// Clear implements Storage. Clearing an empty store is a no-op.
func (ms *MemoryStorage) Clear(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.ops = make(map[uuid.UUID]*Operation)
	ms.byStatus = make(map[Status][]uuid.UUID)

	return nil
}

func (ms *MemoryStorage) removeFromStatusIndex(id uuid.UUID, status Status) {
	index := ms.byStatus[status]
	for i, existing := range index {
		if existing == id {
			ms.byStatus[status] = append(index[:i], index[i+1:]...)
			return
		}
	}
}
