// Package checkpoint persists one conversation snapshot per thread so a suspended
// workflow can resume after a restart.
package checkpoint

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

var (
	ErrNotFound        = errors.New("checkpoint not found")
	ErrConflict        = errors.New("checkpoint version conflict")
	ErrInvalidThreadID = errors.New("invalid thread ID")
	ErrInvalidLimit    = errors.New("limit cannot be negative")
)

// Suspension records the node waiting for external input.
type Suspension struct {
	Node        string    `json:"node" msgpack:"node"`
	ResumeKey   string    `json:"resumeKey" msgpack:"resumeKey"`
	Prompt      string    `json:"prompt" msgpack:"prompt"`
	Suggestions []string  `json:"suggestions,omitempty" msgpack:"suggestions,omitempty"`
	At          time.Time `json:"at" msgpack:"at"`
}

// Checkpoint is the durable snapshot of a thread.
type Checkpoint struct {
	ThreadID   string                  `json:"threadId" msgpack:"threadId"`
	State      state.ConversationState `json:"state" msgpack:"state"`
	Next       string                  `json:"next,omitempty" msgpack:"next,omitempty"`
	Suspension *Suspension             `json:"suspension,omitempty" msgpack:"suspension,omitempty"`
	// Loops counts consecutive re-entries of a self-looping node.
	Loops     int       `json:"loops,omitempty" msgpack:"loops,omitempty"`
	Version   int64     `json:"version" msgpack:"version"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

// Suspended reports whether the thread is waiting on a resume value.
func (c *Checkpoint) Suspended() bool {
	return c.Suspension != nil
}

// Terminal reports whether the last turn finished.
func (c *Checkpoint) Terminal() bool {
	return c.Suspension == nil && c.State.Status.Terminal()
}

// Normalize puts a decoded checkpoint in canonical form so it compares equal to
// the value that was saved.
func (c *Checkpoint) Normalize() {
	c.State = c.State.Normalize()
	c.CreatedAt = utc(c.CreatedAt)
	c.UpdatedAt = utc(c.UpdatedAt)
	if c.Suspension != nil {
		c.Suspension.At = utc(c.Suspension.At)
		if len(c.Suspension.Suggestions) == 0 {
			c.Suspension.Suggestions = nil
		}
	}
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	out := *c
	out.State = c.State.Normalize()
	if c.Suspension != nil {
		s := *c.Suspension
		s.Suggestions = slices.Clone(c.Suspension.Suggestions)
		out.Suspension = &s
	}
	return &out
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	UserID string
	Status state.Status
	Limit  int
}

// Validate checks filter parameters.
func (f Filter) Validate() error {
	if f.Limit < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// Match reports whether c passes the filter.
func (f Filter) Match(c *Checkpoint) bool {
	if f.UserID != "" && c.State.UserID != f.UserID {
		return false
	}
	if f.Status != "" && c.State.Status != f.Status {
		return false
	}
	return true
}

// Store persists checkpoints keyed by thread ID.
//
// Save is a compare-and-swap on Version: it succeeds only when the stored version
// equals cp.Version (0 meaning "not stored yet"), and on success increments
// cp.Version in place. Any other writer having saved in between yields ErrConflict.
type Store interface {
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	List(ctx context.Context, filter Filter) ([]*Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
}

// Sort orders checkpoints most recently updated first, truncated to limit.
func Sort(cps []*Checkpoint, limit int) []*Checkpoint {
	sort.SliceStable(cps, func(i, j int) bool {
		if !cps[i].UpdatedAt.Equal(cps[j].UpdatedAt) {
			return cps[i].UpdatedAt.After(cps[j].UpdatedAt)
		}
		return cps[i].ThreadID < cps[j].ThreadID
	})
	if limit > 0 && len(cps) > limit {
		cps = cps[:limit]
	}
	return cps
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
