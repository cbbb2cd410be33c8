package handlers

import (
	"context"
	"fmt"

	"github.com/novakit/opqueue/pkg/queue"
)

// SendMessagePayload is the persisted payload of a send_message operation.
// LocalMessageID points at the optimistic local record that is reconciled
// with the remote-assigned id once the send succeeds.
type SendMessagePayload struct {
	LocalMessageID string         `json:"local_message_id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Content        string         `json:"content"`
	MessageType    string         `json:"message_type,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// DeleteMessagePayload is the persisted payload of a delete_message operation.
type DeleteMessagePayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// CreateConversationPayload is the persisted payload of a
// create_conversation operation.
type CreateConversationPayload struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdateSubscriptionPayload is the persisted payload of an
// update_subscription operation.
type UpdateSubscriptionPayload struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

// TranscriptionPayload is the persisted payload of a voice_transcription
// operation. Audio is carried inline; JSON encodes it as base64.
type TranscriptionPayload struct {
	UserID string `json:"user_id"`
	Audio  []byte `json:"audio"`
}

// ImageUploadPayload is the persisted payload of an image_upload operation.
type ImageUploadPayload struct {
	UserID   string `json:"user_id"`
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// NewSendMessageHandler delivers a message and then reconciles the companion
// local record with the remote-assigned id. The reconcile is a required
// post-condition of this handler: returning before it completes would leave
// the local record permanently unsynced even though the send succeeded, so
// a reconcile failure fails the whole attempt and relies on the sender being
// idempotent on redelivery.
func NewSendMessageHandler(sender MessageSender, store MessageStore) queue.Handler {
	return queue.NewHandler(queue.OpSendMessage, func(ctx context.Context, p SendMessagePayload) error {
		sent, err := sender.Send(ctx, SendMessageRequest{
			Content:        p.Content,
			ConversationID: p.ConversationID,
			UserID:         p.UserID,
			MessageType:    p.MessageType,
			Metadata:       p.Metadata,
		})
		if err != nil {
			return err
		}
		if err := store.MarkMessageSynced(ctx, p.LocalMessageID, sent.ID); err != nil {
			return fmt.Errorf("message %s sent but local reconcile failed: %w", sent.ID, err)
		}
		return nil
	})
}

// NewDeleteMessageHandler removes a message remotely.
func NewDeleteMessageHandler(sender MessageSender) queue.Handler {
	return queue.NewHandler(queue.OpDeleteMessage, func(ctx context.Context, p DeleteMessagePayload) error {
		return sender.Delete(ctx, p.MessageID, p.ConversationID)
	})
}

// NewCreateConversationHandler creates a conversation remotely.
func NewCreateConversationHandler(creator ConversationCreator) queue.Handler {
	return queue.NewHandler(queue.OpCreateConversation, func(ctx context.Context, p CreateConversationPayload) error {
		_, err := creator.Create(ctx, CreateConversationRequest{
			UserID:   p.UserID,
			Title:    p.Title,
			Metadata: p.Metadata,
		})
		return err
	})
}

// NewUpdateSubscriptionHandler applies a subscription change remotely.
func NewUpdateSubscriptionHandler(updater SubscriptionUpdater) queue.Handler {
	return queue.NewHandler(queue.OpUpdateSubscription, func(ctx context.Context, p UpdateSubscriptionPayload) error {
		return updater.Update(ctx, SubscriptionUpdate{
			UserID: p.UserID,
			Plan:   p.Plan,
		})
	})
}

// NewTranscriptionHandler requests a transcription of recorded audio.
func NewTranscriptionHandler(transcriber Transcriber) queue.Handler {
	return queue.NewHandler(queue.OpVoiceTranscription, func(ctx context.Context, p TranscriptionPayload) error {
		_, err := transcriber.Transcribe(ctx, p.Audio, p.UserID)
		return err
	})
}

// NewImageUploadHandler uploads image content to the image collaborator.
func NewImageUploadHandler(uploader ImageUploader) queue.Handler {
	return queue.NewHandler(queue.OpImageUpload, func(ctx context.Context, p ImageUploadPayload) error {
		_, err := uploader.Upload(ctx, p.Filename, p.Content, p.UserID)
		return err
	})
}

// Deps bundles the collaborators needed to build the full handler set.
type Deps struct {
	Messages      MessageSender
	MessageStore  MessageStore
	Conversations ConversationCreator
	Subscriptions SubscriptionUpdater
	Transcriber   Transcriber
	Images        ImageUploader
}

// All returns one handler per built-in operation type, wired to the given
// collaborators. Pass the result to queue.WithHandlers.
func All(deps Deps) []queue.Handler {
	return []queue.Handler{
		NewSendMessageHandler(deps.Messages, deps.MessageStore),
		NewDeleteMessageHandler(deps.Messages),
		NewCreateConversationHandler(deps.Conversations),
		NewUpdateSubscriptionHandler(deps.Subscriptions),
		NewTranscriptionHandler(deps.Transcriber),
		NewImageUploadHandler(deps.Images),
	}
}
