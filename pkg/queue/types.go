package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OperationType identifies which remote side effect an operation performs.
type OperationType string

// Built-in operation types. The set is extensible: any non-empty string is a
// valid type as long as a handler for it is registered with the Manager.
const (
	OpSendMessage        OperationType = "send_message"
	OpDeleteMessage      OperationType = "delete_message"
	OpCreateConversation OperationType = "create_conversation"
	OpUpdateSubscription OperationType = "update_subscription"
	OpVoiceTranscription OperationType = "voice_transcription"
	OpImageUpload        OperationType = "image_upload"
)

// Status represents the lifecycle state of an operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	// MaxRetries is the default number of retryable failures before an
	// operation is marked failed.
	MaxRetries = 5

	// DefaultPriority is assigned to operations enqueued without an
	// explicit priority. Higher values drain first.
	DefaultPriority = 1
)

// Operation is a persisted unit of deferred work: one user-initiated side
// effect awaiting delivery to a remote collaborator. Status fields are
// mutated exclusively by the Manager during a drain pass.
type Operation struct {
	ID          uuid.UUID       `json:"id"`
	Type        OperationType   `json:"type"`
	Payload     json.RawMessage `json:"data,omitempty"`
	Priority    int             `json:"priority"`
	Status      Status          `json:"status"`
	RetryCount  int             `json:"retry_count"`
	LastError   *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	NextRetryAt *time.Time      `json:"next_retry,omitempty"`
}
