package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Manager orchestrates the offline operation queue: it records operations
// durably, drains them against their registered handlers with priority
// ordering, and applies the retry/backoff policy on failure.
//
// All status mutation flows through the Manager; producers only enqueue.
// The single-flight guard inside ProcessQueue is the serialization point,
// so no lock on the storage itself is required.
type Manager struct {
	storage         Storage
	handlers        map[OperationType]Handler
	maxRetries      int
	defaultPriority int
	backoffGate     bool
	jitter          float64
	now             func() time.Time
	logger          *slog.Logger

	draining atomic.Bool
}

// NewManager creates a queue manager on top of the given storage. Handlers
// are supplied at construction via WithHandlers; the manager has no
// compile-time knowledge of concrete collaborators.
func NewManager(storage Storage, opts ...ManagerOption) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}

	options := &managerOptions{
		maxRetries:      MaxRetries,
		defaultPriority: DefaultPriority,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	return &Manager{
		storage:         storage,
		handlers:        options.handlers,
		maxRetries:      options.maxRetries,
		defaultPriority: options.defaultPriority,
		backoffGate:     options.backoffGate,
		jitter:          options.jitter,
		now:             options.now,
		logger:          options.logger,
	}, nil
}

// Enqueue records a new pending operation and returns its id. It never
// blocks on remote I/O; the side effect is performed later by a drain pass.
func (m *Manager) Enqueue(ctx context.Context, opType OperationType, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	if opType == "" {
		return uuid.Nil, ErrOperationTypeEmpty
	}
	if payload == nil {
		return uuid.Nil, ErrPayloadNil
	}

	options := &enqueueOptions{priority: m.defaultPriority}
	for _, opt := range opts {
		opt(options)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal %s payload of type %T: %w", opType, payload, err)
	}

	now := m.now()
	op := &Operation{
		ID:        uuid.New(),
		Type:      opType,
		Payload:   data,
		Priority:  options.priority,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.storage.CreateOperation(ctx, op); err != nil {
		return uuid.Nil, fmt.Errorf("failed to persist %s operation: %w", opType, err)
	}

	m.logger.Debug("operation enqueued",
		slog.String("operation_id", op.ID.String()),
		slog.String("type", string(opType)),
		slog.Int("priority", op.Priority))

	return op.ID, nil
}

// ProcessQueue runs one drain pass: it selects eligible pending operations,
// sorts them by priority (descending) then age (ascending), and dispatches
// them strictly sequentially. A concurrent call while a pass is running
// returns nil immediately without starting a second pass.
//
// A handler failure is isolated to its record and routed through the retry
// policy; only storage errors are returned, joined, after the pass finishes.
func (m *Manager) ProcessQueue(ctx context.Context) error {
	if len(m.handlers) == 0 {
		return ErrNoHandlers
	}

	if !m.draining.CompareAndSwap(false, true) {
		m.logger.Debug("drain pass already running, skipping")
		return nil
	}
	defer m.draining.Store(false)

	ops, err := m.eligibleOperations(ctx)
	if err != nil {
		return err
	}

	m.logger.Debug("drain pass started", slog.Int("eligible", len(ops)))

	var errs []error
	for i := range ops {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.dispatch(ctx, ops[i]); err != nil {
			// Storage failure on one record must not abort the pass.
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// eligibleOperations reads pending records below the retry limit and orders
// them: higher priority first, oldest first among equal priority, which
// bounds unfairness toward low-priority items.
func (m *Manager) eligibleOperations(ctx context.Context) ([]Operation, error) {
	pending := StatusPending
	filter := Filter{
		Status:          &pending,
		RetryCountBelow: &m.maxRetries,
	}
	if m.backoffGate {
		cutoff := m.now()
		filter.RunnableBefore = &cutoff
	}

	ops, err := m.storage.ListOperations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}

	slices.SortStableFunc(ops, func(a, b Operation) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return ops, nil
}

// dispatch drives one operation through the state machine:
// pending → processing → completed | pending (retry) | failed.
func (m *Manager) dispatch(ctx context.Context, op Operation) error {
	processing := StatusProcessing
	if err := m.storage.UpdateOperation(ctx, op.ID, OperationUpdate{Status: &processing}); err != nil {
		return fmt.Errorf("failed to mark operation %s as processing: %w", op.ID, err)
	}

	start := m.now()
	err := m.invoke(ctx, op)
	duration := m.now().Sub(start)

	if err == nil {
		return m.completeOperation(ctx, op, duration)
	}

	if errors.Is(err, ErrHandlerNotFound) {
		// Retrying cannot help a record nobody handles; fail it outright
		// so the missing registration is visible in the stats.
		m.logger.Error("no handler registered for operation type",
			slog.String("operation_id", op.ID.String()),
			slog.String("type", string(op.Type)))
		return m.failOperation(ctx, op, err)
	}

	return m.retryOrFail(ctx, op, err, duration)
}

// invoke runs the registered handler with panic recovery. A panicking
// handler is treated as a failed attempt, not a crashed pass.
func (m *Manager) invoke(ctx context.Context, op Operation) (retErr error) {
	handler, ok := m.handlers[op.Type]
	if !ok {
		return ErrHandlerNotFound
	}

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in %s handler: %v", op.Type, r)
		}
	}()

	return handler.Handle(ContextWithOperationID(ctx, op.ID), op.Payload)
}

func (m *Manager) completeOperation(ctx context.Context, op Operation, duration time.Duration) error {
	completed := StatusCompleted
	update := OperationUpdate{
		Status:           &completed,
		ClearLastError:   true,
		ClearNextRetryAt: true,
	}
	if err := m.storage.UpdateOperation(ctx, op.ID, update); err != nil {
		return fmt.Errorf("failed to mark operation %s as completed: %w", op.ID, err)
	}

	m.logger.Info("operation completed",
		slog.String("operation_id", op.ID.String()),
		slog.String("type", string(op.Type)),
		slog.Duration("duration", duration))

	return nil
}

// retryOrFail classifies a handler failure: every error is treated as
// retryable until the retry budget is exhausted, then the record becomes
// failed with the last error recorded.
func (m *Manager) retryOrFail(ctx context.Context, op Operation, execErr error, duration time.Duration) error {
	newCount := op.RetryCount + 1

	m.logger.Error("operation failed",
		slog.String("operation_id", op.ID.String()),
		slog.String("type", string(op.Type)),
		slog.Int("retry_count", newCount),
		slog.Int("max_retries", m.maxRetries),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	if newCount >= m.maxRetries {
		return m.failOperation(ctx, op, execErr)
	}

	pending := StatusPending
	nextRetry := m.now().Add(retryDelay(op.RetryCount, m.jitter))
	errMsg := execErr.Error()
	update := OperationUpdate{
		Status:      &pending,
		RetryCount:  &newCount,
		LastError:   &errMsg,
		NextRetryAt: &nextRetry,
	}
	if err := m.storage.UpdateOperation(ctx, op.ID, update); err != nil {
		return fmt.Errorf("failed to reschedule operation %s: %w", op.ID, err)
	}

	return nil
}

func (m *Manager) failOperation(ctx context.Context, op Operation, execErr error) error {
	failed := StatusFailed
	newCount := op.RetryCount + 1
	errMsg := execErr.Error()
	update := OperationUpdate{
		Status:           &failed,
		RetryCount:       &newCount,
		LastError:        &errMsg,
		ClearNextRetryAt: true,
	}
	if err := m.storage.UpdateOperation(ctx, op.ID, update); err != nil {
		return fmt.Errorf("failed to mark operation %s as failed: %w", op.ID, err)
	}

	m.logger.Warn("operation failed permanently",
		slog.String("operation_id", op.ID.String()),
		slog.String("type", string(op.Type)),
		slog.Int("retry_count", newCount),
		slog.String("error", errMsg))

	return nil
}

// RetryFailedOperations resets every failed record to pending with a fresh
// retry budget and immediately triggers a drain pass. Records in any other
// status are untouched.
func (m *Manager) RetryFailedOperations(ctx context.Context) error {
	failed := StatusFailed
	ops, err := m.storage.ListOperations(ctx, Filter{Status: &failed})
	if err != nil {
		return fmt.Errorf("failed to list failed operations: %w", err)
	}

	pending := StatusPending
	zero := 0
	var errs []error
	for i := range ops {
		update := OperationUpdate{
			Status:           &pending,
			RetryCount:       &zero,
			ClearLastError:   true,
			ClearNextRetryAt: true,
		}
		if err := m.storage.UpdateOperation(ctx, ops[i].ID, update); err != nil {
			errs = append(errs, fmt.Errorf("failed to reset operation %s: %w", ops[i].ID, err))
		}
	}

	m.logger.Info("failed operations reset", slog.Int("count", len(ops)-len(errs)))

	if err := m.ProcessQueue(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RemoveOperation deletes one record regardless of status. It cancels
// not-yet-started work; an in-flight handler call is never interrupted.
func (m *Manager) RemoveOperation(ctx context.Context, id uuid.UUID) error {
	if err := m.storage.DeleteOperation(ctx, id); err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", id, err)
	}
	return nil
}

// ClearQueue unconditionally empties the store. Intended for explicit
// maintenance and testing flows, not normal operation.
func (m *Manager) ClearQueue(ctx context.Context) error {
	if err := m.storage.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// GetOperationsByType returns all operations of the given type without
// mutating status or timestamps.
func (m *Manager) GetOperationsByType(ctx context.Context, opType OperationType) ([]Operation, error) {
	ops, err := m.storage.ListOperations(ctx, Filter{Type: &opType})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s operations: %w", opType, err)
	}
	return ops, nil
}
