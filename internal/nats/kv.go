package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/pkg/codec"
)

// CheckpointBucket is the key-value bucket holding one checkpoint per thread.
const CheckpointBucket = "assistant_checkpoints"

// KVStore implements checkpoint.Store on a JetStream key-value bucket. The
// checkpoint version travels in the payload; the bucket revision guards writes.
type KVStore struct {
	kv         jetstream.KeyValue
	serializer *codec.Serializer
}

// NewKVStore opens, or creates, the checkpoint bucket.
func NewKVStore(ctx context.Context, client *Client, serializer *codec.Serializer) (*KVStore, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, CheckpointBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      CheckpointBucket,
			Description: "Scheduling assistant conversation checkpoints",
			History:     1,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint bucket: %w", err)
	}

	if serializer == nil {
		serializer = codec.Default()
	}
	return &KVStore{kv: kv, serializer: serializer}, nil
}

var _ checkpoint.Store = (*KVStore)(nil)

func (s *KVStore) Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	if threadID == "" {
		return nil, checkpoint.ErrInvalidThreadID
	}

	entry, err := s.kv.Get(ctx, threadID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return s.decode(entry.Value())
}

func (s *KVStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return checkpoint.ErrInvalidThreadID
	}

	next := cp.Clone()
	next.Version = cp.Version + 1
	payload, err := s.serializer.Encode(next)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	if cp.Version == 0 {
		if _, err := s.kv.Create(ctx, cp.ThreadID, payload); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				return checkpoint.ErrConflict
			}
			return fmt.Errorf("failed to create checkpoint: %w", err)
		}
		cp.Version = next.Version
		return nil
	}

	entry, err := s.kv.Get(ctx, cp.ThreadID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return checkpoint.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to read checkpoint revision: %w", err)
	}
	current, err := s.decode(entry.Value())
	if err != nil {
		return err
	}
	if current.Version != cp.Version {
		return checkpoint.ErrConflict
	}

	if _, err := s.kv.Update(ctx, cp.ThreadID, payload, entry.Revision()); err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return checkpoint.ErrConflict
		}
		return fmt.Errorf("failed to update checkpoint: %w", err)
	}
	cp.Version = next.Version
	return nil
}

func (s *KVStore) List(ctx context.Context, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint keys: %w", err)
	}

	var out []*checkpoint.Checkpoint
	for _, key := range keys {
		cp, err := s.Load(ctx, key)
		if errors.Is(err, checkpoint.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Match(cp) {
			out = append(out, cp)
		}
	}
	return checkpoint.Sort(out, filter.Limit), nil
}

func (s *KVStore) Delete(ctx context.Context, threadID string) error {
	if threadID == "" {
		return checkpoint.ErrInvalidThreadID
	}

	if _, err := s.kv.Get(ctx, threadID); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return checkpoint.ErrNotFound
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := s.kv.Purge(ctx, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *KVStore) decode(payload []byte) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := s.serializer.Decode(payload, &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	cp.Normalize()
	return &cp, nil
}
