package handlers

import "context"

// SendMessageRequest carries everything the message collaborator needs to
// deliver one chat message.
type SendMessageRequest struct {
	Content        string         `json:"content"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	MessageType    string         `json:"message_type,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SentMessage is the remote acknowledgement of a delivered message.
type SentMessage struct {
	ID string `json:"id"`
}

// MessageSender delivers and deletes chat messages remotely.
type MessageSender interface {
	Send(ctx context.Context, req SendMessageRequest) (*SentMessage, error)
	Delete(ctx context.Context, messageID, conversationID string) error
}

// CreateConversationRequest carries the data for a new conversation.
type CreateConversationRequest struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Conversation is the remote acknowledgement of a created conversation.
type Conversation struct {
	ID string `json:"id"`
}

// ConversationCreator creates conversations remotely.
type ConversationCreator interface {
	Create(ctx context.Context, req CreateConversationRequest) (*Conversation, error)
}

// SubscriptionUpdate carries a subscription change for one user.
type SubscriptionUpdate struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

// SubscriptionUpdater applies subscription changes remotely.
type SubscriptionUpdater interface {
	Update(ctx context.Context, update SubscriptionUpdate) error
}

// Transcription is the result of a voice transcription request.
type Transcription struct {
	Transcript string `json:"transcript"`
}

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, userID string) (*Transcription, error)
}

// UploadedImage describes where an uploaded image ended up.
type UploadedImage struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// ImageUploader stores image content and returns its public location.
type ImageUploader interface {
	Upload(ctx context.Context, filename string, content []byte, userID string) (*UploadedImage, error)
}

// MessageStore reconciles the companion local message record once the remote
// send succeeded. Implementations must tolerate repeated reconciliation of
// the same message.
type MessageStore interface {
	MarkMessageSynced(ctx context.Context, localID, remoteID string) error
}
