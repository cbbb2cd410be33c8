// Package pgstorage provides a PostgreSQL-backed operation store on
// jackc/pgx. It targets deployments where the queue is shared between
// processes; for a single-device store prefer sqlitestorage.
package pgstorage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novakit/opqueue/pkg/queue"
)

// Connection errors.
var (
	ErrFailedToParseConfig = errors.New("failed to parse postgres connection string")
	ErrFailedToConnect     = errors.New("failed to open postgres connection")
)

// Config holds the environment-driven pool configuration.
type Config struct {
	ConnectionString string        `env:"PG_CONN_URL,required"`
	MaxOpenConns     int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns     int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
	RetryAttempts    int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval    time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`
}

// Connect establishes a pgx pool with linear-backoff retry, so a process
// restarting alongside its database does not give up before the database
// accepts connections.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	connConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConfig, err)
	}
	connConfig.MaxConns = cfg.MaxOpenConns
	connConfig.MinConns = cfg.MaxIdleConns

	for i := range cfg.RetryAttempts {
		pool, err := pgxpool.NewWithConfig(ctx, connConfig)
		if err != nil {
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}
		return pool, nil
	}

	return nil, ErrFailedToConnect
}

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id          UUID PRIMARY KEY,
	type        TEXT NOT NULL,
	data        JSONB NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 1,
	status      TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	next_retry  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_operations_status ON operations (status);
CREATE INDEX IF NOT EXISTS idx_operations_type ON operations (type);
`

// Storage implements queue.Storage on a pgx connection pool.
type Storage struct {
	pool *pgxpool.Pool
}

// New creates the schema if needed and returns the store. The pool stays
// owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Storage, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize operations schema: %w", err)
	}
	return &Storage{pool: pool}, nil
}

// CreateOperation upserts the operation by id.
func (s *Storage) CreateOperation(ctx context.Context, op *queue.Operation) error {
	const query = `
		INSERT INTO operations (id, type, data, priority, status, retry_count, error, created_at, updated_at, next_retry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			data = EXCLUDED.data,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at,
			next_retry = EXCLUDED.next_retry`

	_, err := s.pool.Exec(ctx, query,
		op.ID, string(op.Type), []byte(op.Payload), op.Priority, string(op.Status),
		op.RetryCount, op.LastError, op.CreatedAt.UTC(), op.UpdatedAt.UTC(), nullableTime(op.NextRetryAt))
	if err != nil {
		return fmt.Errorf("failed to store operation %s: %w", op.ID, err)
	}
	return nil
}

// UpdateOperation merges the given fields and bumps updated_at.
func (s *Storage) UpdateOperation(ctx context.Context, id uuid.UUID, update queue.OperationUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	add := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if update.Status != nil {
		add("status = $%d", string(*update.Status))
	}
	if update.RetryCount != nil {
		add("retry_count = $%d", *update.RetryCount)
	}
	if update.LastError != nil {
		add("error = $%d", *update.LastError)
	} else if update.ClearLastError {
		sets = append(sets, "error = NULL")
	}
	if update.NextRetryAt != nil {
		add("next_retry = $%d", update.NextRetryAt.UTC())
	} else if update.ClearNextRetryAt {
		sets = append(sets, "next_retry = NULL")
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE operations SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrOperationNotFound
	}
	return nil
}

// ListOperations returns all records matching the filter.
func (s *Storage) ListOperations(ctx context.Context, filter queue.Filter) ([]queue.Operation, error) {
	query := "SELECT id, type, data, priority, status, retry_count, error, created_at, updated_at, next_retry FROM operations"

	var conds []string
	var args []any
	add := func(expr string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.Type != nil {
		add("type = $%d", string(*filter.Type))
	}
	if filter.RetryCountBelow != nil {
		add("retry_count < $%d", *filter.RetryCountBelow)
	}
	if filter.RunnableBefore != nil {
		add("(next_retry IS NULL OR next_retry <= $%d)", filter.RunnableBefore.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []queue.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return ops, nil
}

// DeleteOperation removes one record.
func (s *Storage) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM operations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrOperationNotFound
	}
	return nil
}

// Clear removes every record.
func (s *Storage) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM operations"); err != nil {
		return fmt.Errorf("failed to clear operations: %w", err)
	}
	return nil
}

func scanOperation(rows pgx.Rows) (queue.Operation, error) {
	var (
		op        queue.Operation
		opType    string
		status    string
		lastErr   *string
		nextRetry *time.Time
	)
	if err := rows.Scan(&op.ID, &opType, &op.Payload, &op.Priority, &status,
		&op.RetryCount, &lastErr, &op.CreatedAt, &op.UpdatedAt, &nextRetry); err != nil {
		return queue.Operation{}, fmt.Errorf("failed to scan operation row: %w", err)
	}
	op.Type = queue.OperationType(opType)
	op.Status = queue.Status(status)
	op.LastError = lastErr
	op.NextRetryAt = nextRetry
	return op, nil
}

func nullableTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
