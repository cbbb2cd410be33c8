package sqlitestorage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novakit/opqueue/pkg/queue"
	"github.com/novakit/opqueue/pkg/sqlitestorage"
)

func newStorage(t *testing.T) (*sqlitestorage.Storage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opqueue.db")
	s, err := sqlitestorage.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func newOperation(opType queue.OperationType, status queue.Status) *queue.Operation {
	now := time.Now()
	return &queue.Operation{
		ID:        uuid.New(),
		Type:      opType,
		Payload:   []byte(`{"content":"hi"}`),
		Priority:  2,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStorage_CreateAndList(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t)

	op := newOperation(queue.OpSendMessage, queue.StatusPending)
	require.NoError(t, s.CreateOperation(ctx, op))

	// Upsert: same id again must not error or duplicate.
	require.NoError(t, s.CreateOperation(ctx, op))

	ops, err := s.ListOperations(ctx, queue.Filter{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, op.ID, ops[0].ID)
	assert.Equal(t, queue.OpSendMessage, ops[0].Type)
	assert.JSONEq(t, `{"content":"hi"}`, string(ops[0].Payload))
	assert.Equal(t, 2, ops[0].Priority)
	assert.Equal(t, queue.StatusPending, ops[0].Status)
	assert.Nil(t, ops[0].LastError)
	assert.Nil(t, ops[0].NextRetryAt)
}

func TestStorage_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "opqueue.db")

	s, err := sqlitestorage.New(path)
	require.NoError(t, err)

	op := newOperation(queue.OpImageUpload, queue.StatusPending)
	require.NoError(t, s.CreateOperation(ctx, op))
	require.NoError(t, s.Close())

	// A committed write must be observable after restart.
	reopened, err := sqlitestorage.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	ops, err := reopened.ListOperations(ctx, queue.Filter{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, op.ID, ops[0].ID)
}

func TestStorage_UpdateOperation(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t)

	op := newOperation(queue.OpDeleteMessage, queue.StatusPending)
	require.NoError(t, s.CreateOperation(ctx, op))

	processing := queue.StatusProcessing
	require.NoError(t, s.UpdateOperation(ctx, op.ID, queue.OperationUpdate{Status: &processing}))

	pending := queue.StatusPending
	retries := 1
	errMsg := "network timeout"
	nextRetry := time.Now().Add(time.Second)
	require.NoError(t, s.UpdateOperation(ctx, op.ID, queue.OperationUpdate{
		Status:      &pending,
		RetryCount:  &retries,
		LastError:   &errMsg,
		NextRetryAt: &nextRetry,
	}))

	ops, err := s.ListOperations(ctx, queue.Filter{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, queue.StatusPending, ops[0].Status)
	assert.Equal(t, 1, ops[0].RetryCount)
	require.NotNil(t, ops[0].LastError)
	assert.Equal(t, "network timeout", *ops[0].LastError)
	require.NotNil(t, ops[0].NextRetryAt)
	assert.WithinDuration(t, nextRetry, *ops[0].NextRetryAt, time.Millisecond)

	t.Run("clear flags", func(t *testing.T) {
		require.NoError(t, s.UpdateOperation(ctx, op.ID, queue.OperationUpdate{
			ClearLastError:   true,
			ClearNextRetryAt: true,
		}))

		ops, err := s.ListOperations(ctx, queue.Filter{})
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Nil(t, ops[0].LastError)
		assert.Nil(t, ops[0].NextRetryAt)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := s.UpdateOperation(ctx, uuid.New(), queue.OperationUpdate{Status: &pending})
		assert.ErrorIs(t, err, queue.ErrOperationNotFound)
	})
}

func TestStorage_ListFilters(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t)

	eligible := newOperation(queue.OpSendMessage, queue.StatusPending)
	require.NoError(t, s.CreateOperation(ctx, eligible))

	exhausted := newOperation(queue.OpSendMessage, queue.StatusPending)
	exhausted.RetryCount = 5
	require.NoError(t, s.CreateOperation(ctx, exhausted))

	scheduled := newOperation(queue.OpImageUpload, queue.StatusPending)
	future := time.Now().Add(time.Minute)
	scheduled.NextRetryAt = &future
	require.NoError(t, s.CreateOperation(ctx, scheduled))

	completed := newOperation(queue.OpImageUpload, queue.StatusCompleted)
	require.NoError(t, s.CreateOperation(ctx, completed))

	pending := queue.StatusPending
	below := 5

	t.Run("eligibility query", func(t *testing.T) {
		ops, err := s.ListOperations(ctx, queue.Filter{Status: &pending, RetryCountBelow: &below})
		require.NoError(t, err)
		assert.Len(t, ops, 2)
	})

	t.Run("backoff gate", func(t *testing.T) {
		cutoff := time.Now()
		ops, err := s.ListOperations(ctx, queue.Filter{
			Status:          &pending,
			RetryCountBelow: &below,
			RunnableBefore:  &cutoff,
		})
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, eligible.ID, ops[0].ID)
	})

	t.Run("by type", func(t *testing.T) {
		opType := queue.OpImageUpload
		ops, err := s.ListOperations(ctx, queue.Filter{Type: &opType})
		require.NoError(t, err)
		assert.Len(t, ops, 2)
	})
}

func TestStorage_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t)

	op := newOperation(queue.OpSendMessage, queue.StatusPending)
	require.NoError(t, s.CreateOperation(ctx, op))

	require.NoError(t, s.DeleteOperation(ctx, op.ID))
	assert.ErrorIs(t, s.DeleteOperation(ctx, op.ID), queue.ErrOperationNotFound)

	require.NoError(t, s.CreateOperation(ctx, newOperation(queue.OpSendMessage, queue.StatusFailed)))
	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))

	ops, err := s.ListOperations(ctx, queue.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestStorage_LocalMessages(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t)

	msg := &sqlitestorage.LocalMessage{
		ID:             "local-1",
		ConversationID: "conv-1",
		Content:        "hello",
	}
	require.NoError(t, s.SaveLocalMessage(ctx, msg))

	t.Run("reconcile marks synced", func(t *testing.T) {
		require.NoError(t, s.MarkMessageSynced(ctx, "local-1", "remote-9"))

		got, err := s.GetLocalMessage(ctx, "local-1")
		require.NoError(t, err)
		assert.True(t, got.Synced)
		require.NotNil(t, got.RemoteID)
		assert.Equal(t, "remote-9", *got.RemoteID)
	})

	t.Run("reconcile is idempotent", func(t *testing.T) {
		require.NoError(t, s.MarkMessageSynced(ctx, "local-1", "remote-9"))

		got, err := s.GetLocalMessage(ctx, "local-1")
		require.NoError(t, err)
		assert.True(t, got.Synced)
	})

	t.Run("unknown message", func(t *testing.T) {
		err := s.MarkMessageSynced(ctx, "nope", "remote-1")
		assert.ErrorIs(t, err, sqlitestorage.ErrMessageNotFound)

		_, err = s.GetLocalMessage(ctx, "nope")
		assert.ErrorIs(t, err, sqlitestorage.ErrMessageNotFound)
	})
}

// The SQLite store must satisfy the full queue round trip, not just the
// storage contract in isolation.
func TestStorage_EndToEndWithManager(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t)

	handler := queue.NewHandler(queue.OpSendMessage, func(ctx context.Context, p struct {
		Content string `json:"content"`
	}) error {
		return nil
	})
	mgr, err := queue.NewManager(s, queue.WithHandlers(handler))
	require.NoError(t, err)

	id, err := mgr.Enqueue(ctx, queue.OpSendMessage, map[string]string{"content": "hi"})
	require.NoError(t, err)
	require.NoError(t, mgr.ProcessQueue(ctx))

	stats, err := mgr.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	ops, err := mgr.GetOperationsByType(ctx, queue.OpSendMessage)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, id, ops[0].ID)
	assert.Equal(t, queue.StatusCompleted, ops[0].Status)
}
