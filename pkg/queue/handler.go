package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler performs the remote side effect for one operation type. Handlers
// must be idempotent or retry-tolerant: the Manager offers at-least-once
// delivery, so a handler may be invoked more than once for the same logical
// intent (e.g. after a crash between the remote call and the status write).
type Handler interface {
	Type() OperationType
	Handle(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc is a typed handler function for payloads of type T.
type HandlerFunc[T any] func(ctx context.Context, payload T) error

// NewHandler wraps a typed handler function into a Handler that unmarshals
// the raw payload before invocation.
func NewHandler[T any](opType OperationType, fn HandlerFunc[T]) Handler {
	return &typedHandler[T]{
		opType: opType,
		fn:     fn,
	}
}

type typedHandler[T any] struct {
	opType OperationType
	fn     HandlerFunc[T]
}

func (h *typedHandler[T]) Type() OperationType {
	return h.opType
}

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var p T
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", h.opType, err)
	}
	return h.fn(ctx, p)
}
