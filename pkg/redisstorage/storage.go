// Package redisstorage provides a Redis-backed operation store on go-redis.
// Each operation lives in its own hash with a set index over ids; filters
// are applied client-side after fetching, which is fine for the queue's
// per-user scale (tens of records, not millions).
package redisstorage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/novakit/opqueue/pkg/queue"
)

// Connection errors.
var (
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady           = errors.New("redis server is not ready")
)

// Config holds the environment-driven connection configuration.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

// Connect establishes a Redis client, retrying until the server answers a
// ping or the attempts are exhausted.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConnString, err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		default:
			time.Sleep(cfg.RetryInterval)
		}
	}

	return nil, ErrRedisNotReady
}

const timeLayout = time.RFC3339Nano

// Storage implements queue.Storage on a Redis client.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

// Option configures the store.
type Option func(*Storage)

// WithKeyPrefix namespaces the store's keys (default "opqueue"), so several
// queues can share one Redis database.
func WithKeyPrefix(prefix string) Option {
	return func(s *Storage) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// New creates the store. The client stays owned by the caller.
func New(client *redis.Client, opts ...Option) *Storage {
	s := &Storage{client: client, keyPrefix: "opqueue"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) opKey(id uuid.UUID) string { return s.keyPrefix + ":op:" + id.String() }
func (s *Storage) indexKey() string          { return s.keyPrefix + ":ops" }

// CreateOperation upserts the operation by id.
func (s *Storage) CreateOperation(ctx context.Context, op *queue.Operation) error {
	fields := map[string]any{
		"type":        string(op.Type),
		"data":        string(op.Payload),
		"priority":    op.Priority,
		"status":      string(op.Status),
		"retry_count": op.RetryCount,
		"created_at":  op.CreatedAt.UTC().Format(timeLayout),
		"updated_at":  op.UpdatedAt.UTC().Format(timeLayout),
	}
	if op.LastError != nil {
		fields["error"] = *op.LastError
	}
	if op.NextRetryAt != nil {
		fields["next_retry"] = op.NextRetryAt.UTC().Format(timeLayout)
	}

	pipe := s.client.TxPipeline()
	// Full replace: a re-insert must not inherit stale optional fields.
	pipe.Del(ctx, s.opKey(op.ID))
	pipe.HSet(ctx, s.opKey(op.ID), fields)
	pipe.SAdd(ctx, s.indexKey(), op.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store operation %s: %w", op.ID, err)
	}
	return nil
}

// UpdateOperation merges the given fields and bumps updated_at.
func (s *Storage) UpdateOperation(ctx context.Context, id uuid.UUID, update queue.OperationUpdate) error {
	exists, err := s.client.Exists(ctx, s.opKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check operation %s: %w", id, err)
	}
	if exists == 0 {
		return queue.ErrOperationNotFound
	}

	fields := map[string]any{
		"updated_at": time.Now().UTC().Format(timeLayout),
	}
	var clears []string

	if update.Status != nil {
		fields["status"] = string(*update.Status)
	}
	if update.RetryCount != nil {
		fields["retry_count"] = *update.RetryCount
	}
	if update.LastError != nil {
		fields["error"] = *update.LastError
	} else if update.ClearLastError {
		clears = append(clears, "error")
	}
	if update.NextRetryAt != nil {
		fields["next_retry"] = update.NextRetryAt.UTC().Format(timeLayout)
	} else if update.ClearNextRetryAt {
		clears = append(clears, "next_retry")
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.opKey(id), fields)
	if len(clears) > 0 {
		pipe.HDel(ctx, s.opKey(id), clears...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update operation %s: %w", id, err)
	}
	return nil
}

// ListOperations returns all records matching the filter.
func (s *Storage) ListOperations(ctx context.Context, filter queue.Filter) ([]queue.Operation, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list operation ids: %w", err)
	}

	var ops []queue.Operation
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue // skip index entries written by something else
		}

		fields, err := s.client.HGetAll(ctx, s.opKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read operation %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue // id in index but hash gone, treat as deleted
		}

		op, err := parseOperation(id, fields)
		if err != nil {
			return nil, err
		}
		if matchesFilter(op, filter) {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// DeleteOperation removes one record.
func (s *Storage) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	removed, err := s.client.SRem(ctx, s.indexKey(), id.String()).Result()
	if err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", id, err)
	}
	if removed == 0 {
		return queue.ErrOperationNotFound
	}
	if err := s.client.Del(ctx, s.opKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", id, err)
	}
	return nil
}

// Clear removes every record.
func (s *Storage) Clear(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to clear operations: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, raw := range ids {
		pipe.Del(ctx, s.keyPrefix+":op:"+raw)
	}
	pipe.Del(ctx, s.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear operations: %w", err)
	}
	return nil
}

func parseOperation(id uuid.UUID, fields map[string]string) (queue.Operation, error) {
	op := queue.Operation{
		ID:      id,
		Type:    queue.OperationType(fields["type"]),
		Payload: []byte(fields["data"]),
		Status:  queue.Status(fields["status"]),
	}

	var err error
	if op.Priority, err = strconv.Atoi(fields["priority"]); err != nil {
		return queue.Operation{}, fmt.Errorf("failed to parse priority of operation %s: %w", id, err)
	}
	if op.RetryCount, err = strconv.Atoi(fields["retry_count"]); err != nil {
		return queue.Operation{}, fmt.Errorf("failed to parse retry count of operation %s: %w", id, err)
	}
	if op.CreatedAt, err = time.Parse(timeLayout, fields["created_at"]); err != nil {
		return queue.Operation{}, fmt.Errorf("failed to parse created_at of operation %s: %w", id, err)
	}
	if op.UpdatedAt, err = time.Parse(timeLayout, fields["updated_at"]); err != nil {
		return queue.Operation{}, fmt.Errorf("failed to parse updated_at of operation %s: %w", id, err)
	}

	if v, ok := fields["error"]; ok {
		op.LastError = &v
	}
	if v, ok := fields["next_retry"]; ok {
		next, err := time.Parse(timeLayout, v)
		if err != nil {
			return queue.Operation{}, fmt.Errorf("failed to parse next_retry of operation %s: %w", id, err)
		}
		op.NextRetryAt = &next
	}
	return op, nil
}

func matchesFilter(op queue.Operation, filter queue.Filter) bool {
	if filter.Status != nil && op.Status != *filter.Status {
		return false
	}
	if filter.Type != nil && op.Type != *filter.Type {
		return false
	}
	if filter.RetryCountBelow != nil && op.RetryCount >= *filter.RetryCountBelow {
		return false
	}
	if filter.RunnableBefore != nil && op.NextRetryAt != nil && op.NextRetryAt.After(*filter.RunnableBefore) {
		return false
	}
	return true
}
