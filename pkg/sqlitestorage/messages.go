package sqlitestorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrMessageNotFound is returned when no local message matches the id.
var ErrMessageNotFound = errors.New("local message not found")

// LocalMessage is an optimistic chat message shown in the UI before the
// remote send completes. Synced flips once the send_message handler
// reconciles it with the remote-assigned id.
type LocalMessage struct {
	ID             string
	ConversationID string
	Content        string
	RemoteID       *string
	Synced         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SaveLocalMessage records an optimistic message. Upserts by id so that a
// retried save is harmless.
func (s *Storage) SaveLocalMessage(ctx context.Context, msg *LocalMessage) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_messages (id, conversation_id, content, remote_id, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		msg.ID, msg.ConversationID, msg.Content, msg.RemoteID, boolToInt(msg.Synced), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save local message %s: %w", msg.ID, err)
	}
	return nil
}

// MarkMessageSynced implements handlers.MessageStore: it stamps the
// remote-assigned id onto the local record. Marking an already-synced
// message again is a no-op with the same outcome, which keeps the
// send_message handler retry-tolerant.
func (s *Storage) MarkMessageSynced(ctx context.Context, localID, remoteID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE local_messages
		SET remote_id = ?, synced = 1, updated_at = ?
		WHERE id = ?`,
		remoteID, formatTime(time.Now()), localID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message %s as synced: %w", localID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check sync of message %s: %w", localID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, localID)
	}
	return nil
}

// GetLocalMessage returns one local message by id.
func (s *Storage) GetLocalMessage(ctx context.Context, id string) (*LocalMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, content, remote_id, synced, created_at, updated_at
		FROM local_messages WHERE id = ?`, id)

	var (
		msg       LocalMessage
		remoteID  sql.NullString
		synced    int
		createdAt string
		updatedAt string
	)
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Content, &remoteID, &synced, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load local message %s: %w", id, err)
	}

	if remoteID.Valid {
		msg.RemoteID = &remoteID.String
	}
	msg.Synced = synced != 0
	msg.CreatedAt = parseTime(createdAt)
	msg.UpdatedAt = parseTime(updatedAt)
	return &msg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
