package queue

import (
	"context"

	"github.com/google/uuid"
)

type operationIDCtxKey struct{}

// ContextWithOperationID attaches an operation id to the context. The
// Manager does this for every dispatch so that handlers and collaborator
// clients can forward the id as an idempotency key.
func ContextWithOperationID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, operationIDCtxKey{}, id)
}

// OperationIDFromContext returns the id of the operation currently being
// dispatched. The second return value is false outside a drain pass.
func OperationIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(operationIDCtxKey{}).(uuid.UUID)
	return id, ok
}
