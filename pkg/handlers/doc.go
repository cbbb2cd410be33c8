// Package handlers binds each operation type of the offline queue to its
// remote collaborator. Collaborators are consumed through small interfaces
// declared here, so the queue core stays independently testable with stubs.
//
// Every handler is expected to be idempotent or retry-tolerant: the queue
// delivers at least once, and the operation id is available in the dispatch
// context (queue.OperationIDFromContext) for collaborators that accept
// idempotency keys.
package handlers
