// Package sqlite stores checkpoints in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/pkg/codec"
)

// Store implements checkpoint.Store on database/sql with the modernc driver.
type Store struct {
	db         *sql.DB
	serializer *codec.Serializer
	table      string
}

// Option configures a Store.
type Option func(*Store)

// WithSerializer sets the payload serializer. Defaults to plain JSON.
func WithSerializer(s *codec.Serializer) Option {
	return func(st *Store) {
		if s != nil {
			st.serializer = s
		}
	}
}

// WithTableName overrides the table name. Only [A-Za-z0-9_] is accepted.
func WithTableName(name string) Option {
	return func(st *Store) {
		if isSafeIdent(name) {
			st.table = name
		}
	}
}

// Open opens the database at path and returns a ready Store.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	return New(ctx, db, opts...)
}

// New wraps an existing handle and creates the schema if needed.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, serializer: codec.Default(), table: "checkpoints"}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

var _ checkpoint.Store = (*Store)(nil)

func (s *Store) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			thread_id  TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			version    INTEGER NOT NULL,
			payload    BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_user ON %[1]s (user_id, updated_at);
	`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	if threadID == "" {
		return nil, checkpoint.ErrInvalidThreadID
	}

	query := fmt.Sprintf(`SELECT version, payload FROM %s WHERE thread_id = ?`, s.table)
	var version int64
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
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

	var res sql.Result
	if cp.Version == 0 {
		query := fmt.Sprintf(`
			INSERT INTO %s (thread_id, user_id, status, version, payload, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (thread_id) DO NOTHING
		`, s.table)
		res, err = s.db.ExecContext(ctx, query,
			cp.ThreadID, cp.State.UserID, string(cp.State.Status), next.Version, payload,
			unixNano(cp.CreatedAt), unixNano(cp.UpdatedAt))
	} else {
		query := fmt.Sprintf(`
			UPDATE %s SET user_id = ?, status = ?, version = ?, payload = ?, updated_at = ?
			WHERE thread_id = ? AND version = ?
		`, s.table)
		res, err = s.db.ExecContext(ctx, query,
			cp.State.UserID, string(cp.State.Status), next.Version, payload, unixNano(cp.UpdatedAt),
			cp.ThreadID, cp.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
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
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := fmt.Sprintf("SELECT version, payload FROM %s", s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, thread_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE thread_id = ?", s.table), threadID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
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

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func isSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}
