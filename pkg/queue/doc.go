// Package queue provides a storage-agnostic offline operation queue: it
// durably records user-triggered side effects (sending a message, uploading
// an image, requesting a transcription) so they survive process restarts and
// network loss, and drives them to completion against remote collaborators
// with priority ordering, bounded retries, and exponential backoff.
//
// The package is organised around three pieces:
//
//   - Storage  — the durable store holding Operation records (the in-memory
//     implementation here, SQLite/Postgres/Redis in sibling packages)
//   - Handler  — type-specific code performing the remote call for one
//     operation type, registered at Manager construction
//   - Manager  — enqueue, single-flight drain pass, retry/backoff policy,
//     failed-operation reset, stats
//
// # Delivery semantics
//
// The manager offers at-least-once delivery: the process may crash after a
// remote call succeeded but before the status write persisted, in which case
// the handler runs again on the next drain. Handlers must therefore be
// idempotent or retry-tolerant; the operation id is threaded through the
// dispatch context (OperationIDFromContext) so collaborators that accept
// idempotency keys can deduplicate.
//
// # Usage
//
//	storage, err := sqlitestorage.New("nova.db")
//	if err != nil { ... }
//
//	mgr, err := queue.NewManager(storage,
//	    queue.WithHandlers(handlers.All(deps)...),
//	)
//	if err != nil { ... }
//
//	// Producer side: record the intent, return immediately.
//	id, err := mgr.Enqueue(ctx, queue.OpSendMessage, payload,
//	    queue.WithPriority(2),
//	)
//
//	// On reconnect, app resume, or a timer:
//	if err := mgr.ProcessQueue(ctx); err != nil { ... }
//
// There is no built-in background scheduler: ProcessQueue is triggered by
// the surrounding application's reconnect/resume hooks. A second concurrent
// call while a pass is running is a no-op.
//
// # Error handling
//
// Every handler error is treated as retryable until the retry budget (5 by
// default) is exhausted, then the record becomes failed and stays visible in
// GetQueueStats until RetryFailedOperations or RemoveOperation. Storage
// errors always propagate to the caller.
package queue
