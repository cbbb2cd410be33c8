// Package nova is the HTTP client for the Nova backend: chat messages,
// conversations, subscriptions, and offline voice transcription. It
// implements the collaborator interfaces consumed by the queue handlers.
//
// Mutating requests forward the queue operation id (when present in the
// context) as an Idempotency-Key header, so redelivery after a crash
// mid-handler cannot double-apply an effect on servers that deduplicate.
package nova

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/novakit/opqueue/pkg/handlers"
	"github.com/novakit/opqueue/pkg/queue"
)

// Config holds the environment-driven configuration for the Nova client.
type Config struct {
	BaseURL string        `env:"NOVA_BASE_URL" envDefault:"http://127.0.0.1:8000"`
	Timeout time.Duration `env:"NOVA_TIMEOUT" envDefault:"30s"`
}

// APIError is a non-2xx response from the Nova backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nova: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Nova backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client, e.g. for testing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a client for the Nova backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send implements handlers.MessageSender.
func (c *Client) Send(ctx context.Context, req handlers.SendMessageRequest) (*handlers.SentMessage, error) {
	var resp handlers.SentMessage
	if err := c.doJSON(ctx, http.MethodPost, "/messages", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &resp, nil
}

// Delete implements handlers.MessageSender.
func (c *Client) Delete(ctx context.Context, messageID, conversationID string) error {
	path := fmt.Sprintf("/conversations/%s/messages/%s", conversationID, messageID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return nil
}

// Create implements handlers.ConversationCreator.
func (c *Client) Create(ctx context.Context, req handlers.CreateConversationRequest) (*handlers.Conversation, error) {
	var resp handlers.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &resp, nil
}

// Update implements handlers.SubscriptionUpdater.
func (c *Client) Update(ctx context.Context, update handlers.SubscriptionUpdate) error {
	if err := c.doJSON(ctx, http.MethodPut, "/subscriptions", update, nil); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// Transcribe implements handlers.Transcriber by uploading the audio to the
// backend's speech-to-text endpoint as a multipart form.
func (c *Client) Transcribe(ctx context.Context, audio []byte, userID string) (*handlers.Transcription, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "recording.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio to form: %w", err)
	}
	if err := w.WriteField("user_id", userID); err != nil {
		return nil, fmt.Errorf("failed to write user id to form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize transcription form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stt", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.setIdempotencyKey(ctx, req)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe audio: %w", err)
	}

	// The backend answers {"text": ..., "language": ..., "duration": ...}.
	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}
	return &handlers.Transcription{Transcript: resp.Text}, nil
}

// doJSON sends a JSON request and decodes the JSON response into out (when
// out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setIdempotencyKey(ctx, req)

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func (c *Client) setIdempotencyKey(ctx context.Context, req *http.Request) {
	if id, ok := queue.OperationIDFromContext(ctx); ok {
		req.Header.Set("Idempotency-Key", id.String())
	}
}
