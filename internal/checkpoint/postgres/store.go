// Package postgres stores checkpoints in PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/pkg/codec"
)

const schema = `
CREATE TABLE IF NOT EXISTS assistant_checkpoints (
	thread_id  TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	version    BIGINT NOT NULL,
	payload    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assistant_checkpoints_user ON assistant_checkpoints (user_id, updated_at DESC);
`

// Store implements checkpoint.Store on a pgxpool.Pool.
type Store struct {
	pool       *pgxpool.Pool
	serializer *codec.Serializer
}

// Connect opens a pool for dsn, creates the schema and returns a Store.
func Connect(ctx context.Context, dsn string, serializer *codec.Serializer) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	s := New(pool, serializer)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, serializer *codec.Serializer) *Store {
	if serializer == nil {
		serializer = codec.Default()
	}
	return &Store{pool: pool, serializer: serializer}
}

var _ checkpoint.Store = (*Store)(nil)

// Migrate creates the checkpoint table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	if threadID == "" {
		return nil, checkpoint.ErrInvalidThreadID
	}

	var version int64
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT version, payload FROM assistant_checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&version, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return s.decode(version, payload)
}

func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return checkpoint.ErrInvalidThreadID
	}

	next := cp.Clone()
	next.Version = cp.Version + 1
	payload, err := s.serializer.Encode(next)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	var affected int64
	if cp.Version == 0 {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO assistant_checkpoints (thread_id, user_id, status, version, payload, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (thread_id) DO NOTHING`,
			cp.ThreadID, cp.State.UserID, string(cp.State.Status), next.Version, payload,
			timestamp(cp.CreatedAt), timestamp(cp.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert checkpoint: %w", err)
		}
		affected = tag.RowsAffected()
	} else {
		tag, err := s.pool.Exec(ctx, `
			UPDATE assistant_checkpoints
			SET user_id = $1, status = $2, version = $3, payload = $4, updated_at = $5
			WHERE thread_id = $6 AND version = $7`,
			cp.State.UserID, string(cp.State.Status), next.Version, payload, timestamp(cp.UpdatedAt),
			cp.ThreadID, cp.Version)
		if err != nil {
			return fmt.Errorf("failed to update checkpoint: %w", err)
		}
		affected = tag.RowsAffected()
	}
	if affected == 0 {
		return checkpoint.ErrConflict
	}

	cp.Version = next.Version
	return nil
}

func (s *Store) List(ctx context.Context, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := "SELECT version, payload FROM assistant_checkpoints"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, thread_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		var version int64
		var payload []byte
		if err := rows.Scan(&version, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		cp, err := s.decode(version, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	if threadID == "" {
		return checkpoint.ErrInvalidThreadID
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM assistant_checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkpoint.ErrNotFound
	}
	return nil
}

func (s *Store) decode(version int64, payload []byte) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := s.serializer.Decode(payload, &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	cp.Version = version
	cp.Normalize()
	return &cp, nil
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC()
}
