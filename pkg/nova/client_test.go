package nova_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novakit/opqueue/pkg/handlers"
	"github.com/novakit/opqueue/pkg/nova"
	"github.com/novakit/opqueue/pkg/queue"
)

func TestClient_Send(t *testing.T) {
	var gotPath, gotKey string
	var gotBody handlers.SendMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg-42"})
	}))
	defer srv.Close()

	client := nova.NewClient(srv.URL)
	sent, err := client.Send(context.Background(), handlers.SendMessageRequest{
		Content:        "hello",
		ConversationID: "conv-1",
		UserID:         "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "POST /messages", gotPath)
	assert.Equal(t, "msg-42", sent.ID)
	assert.Equal(t, "hello", gotBody.Content)
	assert.Empty(t, gotKey) // no operation id outside a drain pass
}

func TestClient_ForwardsIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg-1"})
	}))
	defer srv.Close()

	opID := uuid.New()
	ctx := queue.ContextWithOperationID(context.Background(), opID)

	client := nova.NewClient(srv.URL)
	_, err := client.Send(ctx, handlers.SendMessageRequest{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, opID.String(), gotKey)
}

func TestClient_Delete(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := nova.NewClient(srv.URL)
	require.NoError(t, client.Delete(context.Background(), "msg-7", "conv-1"))
	assert.Equal(t, "DELETE /conversations/conv-1/messages/msg-7", gotPath)
}

func TestClient_CreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "conv-9"})
	}))
	defer srv.Close()

	client := nova.NewClient(srv.URL)
	conv, err := client.Create(context.Background(), handlers.CreateConversationRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "conv-9", conv.ID)
}

func TestClient_UpdateSubscription(t *testing.T) {
	var gotBody handlers.SubscriptionUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := nova.NewClient(srv.URL)
	require.NoError(t, client.Update(context.Background(), handlers.SubscriptionUpdate{
		UserID: "u1",
		Plan:   "premium",
	}))
	assert.Equal(t, "premium", gotBody.Plan)
}

func TestClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stt", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "user-1", r.FormValue("user_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     "hello world",
			"language": "en",
			"duration": 1.5,
		})
	}))
	defer srv.Close()

	client := nova.NewClient(srv.URL)
	tr, err := client.Transcribe(context.Background(), []byte{0x52, 0x49, 0x46, 0x46}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", tr.Transcript)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "LM Studio error: connection refused", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := nova.NewClient(srv.URL)
	_, err := client.Send(context.Background(), handlers.SendMessageRequest{Content: "hi"})
	require.Error(t, err)

	var apiErr *nova.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "LM Studio error")
}
