package queue

import "errors"

// Common errors
var (
	// ErrStorageNil is returned when a nil storage is provided
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrOperationTypeEmpty is returned when enqueueing with an empty type
	ErrOperationTypeEmpty = errors.New("operation type cannot be empty")

	// ErrOperationNotFound is returned by storages when no record matches the id
	ErrOperationNotFound = errors.New("operation not found")

	// ErrHandlerNotFound is returned when no handler is registered for an operation type
	ErrHandlerNotFound = errors.New("no handler registered for operation type")

	// ErrNoHandlers is returned when a drain pass is requested on a manager
	// constructed without handlers
	ErrNoHandlers = errors.New("no operation handlers registered")

	// ErrHandlerNil is returned when registering a nil handler
	ErrHandlerNil = errors.New("handler cannot be nil")
)
