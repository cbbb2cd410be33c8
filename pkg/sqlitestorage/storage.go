// Package sqlitestorage provides the client-local durable store for the
// offline operation queue, backed by SQLite. A successful write is
// observable after an abrupt process restart (WAL journal mode).
//
// The package also owns the companion local_messages table used by the
// send_message handler to reconcile optimistic local records with their
// remote-assigned ids.
package sqlitestorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/novakit/opqueue/pkg/queue"
)

// Config holds the environment-driven configuration for the SQLite store.
type Config struct {
	Path string `env:"OPQUEUE_SQLITE_PATH" envDefault:"opqueue.db"`
}

// Storage implements queue.Storage on a local SQLite database.
type Storage struct {
	db *sql.DB
}

// New opens (or creates) the database at the given path and ensures the
// schema exists. WAL journaling keeps committed writes durable across
// crashes; the busy timeout covers the app and a drain pass touching the
// file at the same moment.
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) initialize() error {
	schema := `
	-- Offline operation queue
	CREATE TABLE IF NOT EXISTS operations (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		data        BLOB,
		priority    INTEGER NOT NULL DEFAULT 1,
		status      TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		error       TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		next_retry  TEXT
	);

	-- Optimistic local messages awaiting reconcile with remote ids
	CREATE TABLE IF NOT EXISTS local_messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		content         TEXT NOT NULL,
		remote_id       TEXT,
		synced          INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
	CREATE INDEX IF NOT EXISTS idx_operations_type ON operations(type);
	CREATE INDEX IF NOT EXISTS idx_local_messages_conversation ON local_messages(conversation_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateOperation implements queue.Storage with upsert-by-id semantics.
func (s *Storage) CreateOperation(ctx context.Context, op *queue.Operation) error {
	if op == nil {
		return errors.New("operation cannot be nil")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (id, type, data, priority, status, retry_count, error, created_at, updated_at, next_retry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			data = excluded.data,
			priority = excluded.priority,
			status = excluded.status,
			retry_count = excluded.retry_count,
			error = excluded.error,
			updated_at = excluded.updated_at,
			next_retry = excluded.next_retry`,
		op.ID.String(), string(op.Type), []byte(op.Payload), op.Priority, string(op.Status),
		op.RetryCount, op.LastError, formatTime(op.CreatedAt), formatTime(op.UpdatedAt),
		formatTimePtr(op.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store operation %s: %w", op.ID, err)
	}
	return nil
}

// UpdateOperation implements queue.Storage: merges the given fields and
// bumps updated_at.
func (s *Storage) UpdateOperation(ctx context.Context, id uuid.UUID, update queue.OperationUpdate) error {
	set := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}

	if update.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.RetryCount != nil {
		set = append(set, "retry_count = ?")
		args = append(args, *update.RetryCount)
	}
	if update.LastError != nil {
		set = append(set, "error = ?")
		args = append(args, *update.LastError)
	} else if update.ClearLastError {
		set = append(set, "error = NULL")
	}
	if update.NextRetryAt != nil {
		set = append(set, "next_retry = ?")
		args = append(args, formatTime(*update.NextRetryAt))
	} else if update.ClearNextRetryAt {
		set = append(set, "next_retry = NULL")
	}

	args = append(args, id.String())
	res, err := s.db.ExecContext(ctx,
		"UPDATE operations SET "+strings.Join(set, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of operation %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", queue.ErrOperationNotFound, id)
	}
	return nil
}

// ListOperations implements queue.Storage.
func (s *Storage) ListOperations(ctx context.Context, filter queue.Filter) ([]queue.Operation, error) {
	query := "SELECT id, type, data, priority, status, retry_count, error, created_at, updated_at, next_retry FROM operations"
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Type != nil {
		where = append(where, "type = ?")
		args = append(args, string(*filter.Type))
	}
	if filter.RetryCountBelow != nil {
		where = append(where, "retry_count < ?")
		args = append(args, *filter.RetryCountBelow)
	}
	if filter.RunnableBefore != nil {
		where = append(where, "(next_retry IS NULL OR next_retry <= ?)")
		args = append(args, formatTime(*filter.RunnableBefore))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []queue.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	return ops, nil
}

// DeleteOperation implements queue.Storage.
func (s *Storage) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM operations WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete of operation %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", queue.ErrOperationNotFound, id)
	}
	return nil
}

// Clear implements queue.Storage. Clearing an empty table is not an error.
func (s *Storage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM operations"); err != nil {
		return fmt.Errorf("failed to clear operations: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*queue.Operation, error) {
	var (
		idStr, opType, status string
		data                  []byte
		priority, retryCount  int
		lastError             sql.NullString
		createdAt, updatedAt  string
		nextRetry             sql.NullString
	)
	if err := row.Scan(&idStr, &opType, &data, &priority, &status, &retryCount,
		&lastError, &createdAt, &updatedAt, &nextRetry); err != nil {
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse operation id %q: %w", idStr, err)
	}

	op := &queue.Operation{
		ID:         id,
		Type:       queue.OperationType(opType),
		Payload:    data,
		Priority:   priority,
		Status:     queue.Status(status),
		RetryCount: retryCount,
		CreatedAt:  parseTime(createdAt),
		UpdatedAt:  parseTime(updatedAt),
	}
	if lastError.Valid {
		op.LastError = &lastError.String
	}
	if nextRetry.Valid {
		t := parseTime(nextRetry.String)
		op.NextRetryAt = &t
	}
	return op, nil
}

// Timestamps are stored as fixed-width RFC 3339 UTC text so that next_retry
// comparisons work lexicographically in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) time.Time {
	for _, f := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
