package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is a goroutine-safe Store backed by a map. It keeps deep copies so
// callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]*Checkpoint)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	if threadID == "" {
		return nil, ErrInvalidThreadID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return cp.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return ErrInvalidThreadID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.checkpoints[cp.ThreadID]; ok {
		current = existing.Version
	}
	if current != cp.Version {
		return ErrConflict
	}

	stored := cp.Clone()
	stored.Version = current + 1
	stored.Normalize()
	s.checkpoints[cp.ThreadID] = stored
	cp.Version = stored.Version
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Checkpoint
	for _, cp := range s.checkpoints {
		if filter.Match(cp) {
			out = append(out, cp.Clone())
		}
	}
	return Sort(out, filter.Limit), nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	if threadID == "" {
		return ErrInvalidThreadID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.checkpoints[threadID]; !ok {
		return ErrNotFound
	}
	delete(s.checkpoints, threadID)
	return nil
}
