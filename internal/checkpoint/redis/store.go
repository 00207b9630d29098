// Package redis stores checkpoints in Redis hashes with an updated-at index.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/pkg/codec"
)

const defaultPrefix = "assistant"

// Store implements checkpoint.Store. Saves run in a WATCH/MULTI transaction on the
// thread's key so the version check and the write are atomic.
type Store struct {
	client     *goredis.Client
	serializer *codec.Serializer
	prefix     string
	addr       string
	db         int
	password   string
}

// Option configures a Store.
type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) {
		s.password = password
	}
}

func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func WithSerializer(serializer *codec.Serializer) Option {
	return func(s *Store) {
		if serializer != nil {
			s.serializer = serializer
		}
	}
}

// New connects to addr and verifies the connection.
func New(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		serializer: codec.Default(),
		prefix:     defaultPrefix,
		addr:       addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

var _ checkpoint.Store = (*Store)(nil)

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(threadID string) string {
	return s.prefix + ":checkpoint:" + threadID
}

func (s *Store) indexKey() string {
	return s.prefix + ":checkpoints:updated"
}

func (s *Store) Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	if threadID == "" {
		return nil, checkpoint.ErrInvalidThreadID
	}

	fields, err := s.client.HGetAll(ctx, s.key(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, checkpoint.ErrNotFound
	}
	return s.decode(fields)
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

	key := s.key(cp.ThreadID)
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if current != cp.Version {
			return checkpoint.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, "version", next.Version, "payload", payload)
			pipe.ZAdd(ctx, s.indexKey(), goredis.Z{
				Score:  float64(cp.UpdatedAt.UnixNano()),
				Member: cp.ThreadID,
			})
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		cp.Version = next.Version
		return nil
	case errors.Is(err, checkpoint.ErrConflict), errors.Is(err, goredis.TxFailedErr):
		return checkpoint.ErrConflict
	default:
		return fmt.Errorf("failed to save checkpoint in redis: %w", err)
	}
}

func (s *Store) List(ctx context.Context, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("failed to load checkpoints from redis: %w", err)
	}

	var out []*checkpoint.Checkpoint
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		cp, err := s.decode(fields)
		if err != nil {
			return nil, err
		}
		if filter.Match(cp) {
			out = append(out, cp)
		}
	}
	return checkpoint.Sort(out, filter.Limit), nil
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	if threadID == "" {
		return checkpoint.ErrInvalidThreadID
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.key(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint from redis: %w", err)
	}
	if del.Val() == 0 {
		return checkpoint.ErrNotFound
	}
	return nil
}

func (s *Store) decode(fields map[string]string) (*checkpoint.Checkpoint, error) {
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint version %q: %w", fields["version"], err)
	}

	var cp checkpoint.Checkpoint
	if err := s.serializer.Decode([]byte(fields["payload"]), &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	cp.Version = version
	cp.Normalize()
	return &cp, nil
}
