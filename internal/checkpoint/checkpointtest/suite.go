// Package checkpointtest holds the behavioural tests every checkpoint.Store
// backend must pass.
package checkpointtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Sample returns a checkpoint with every state field populated.
func Sample(threadID, userID string) *checkpoint.Checkpoint {
	s := state.New(threadID, userID, "ws-1")
	s = state.Reduce(s, state.Patch{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "Create a meeting tomorrow at 2pm", Timestamp: base},
			{Role: model.RoleAssistant, Content: "When does it end?", Timestamp: base.Add(time.Second)},
		},
		Intent:     state.Ptr(state.IntentCreateEvent),
		Confidence: state.Ptr(0.92),
		ExtractedInfo: &state.EventFields{
			Name:          state.Ptr("Meeting"),
			Start:         state.Ptr(base.Add(29 * time.Hour)),
			WorkspaceName: state.Ptr("Default"),
			Tags:          []string{"team"},
			IsAllDay:      state.Ptr(false),
		},
		RequiredFieldsMissing: state.Ptr(state.NewFieldSet(state.FieldEnd)),
		OptionalFieldsMissing: state.NewFieldSet(state.FieldLocation, state.FieldColor),
		Status:                state.Ptr(state.StatusCollectingInfo),
		IsValid:               state.Ptr(false),
		ValidationMessage:     state.Ptr("missing end"),
		Response:              state.Ptr("When does it end?"),
		SuggestedResponses:    &[]string{"3pm", "4pm"},
		Events: &[]model.CalendarEvent{{
			ID:          "ev-1",
			WorkspaceID: "ws-1",
			Name:        "Standup",
			Start:       base,
			End:         base.Add(15 * time.Minute),
			Tags:        []string{"daily"},
		}},
	})

	return &checkpoint.Checkpoint{
		ThreadID: threadID,
		State:    s,
		Next:     "collectInfo",
		Suspension: &checkpoint.Suspension{
			Node:        "collectInfo",
			ResumeKey:   threadID + ":collectInfo:1",
			Prompt:      "When does it end?",
			Suggestions: []string{"3pm", "4pm"},
			At:          base.Add(time.Minute),
		},
		Loops:     1,
		CreatedAt: base,
		UpdatedAt: base.Add(time.Minute),
	}
}

// Run exercises store against the Store contract. Each subtest gets a fresh
// store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) checkpoint.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		store := newStore(t)
		cp := Sample("thread-rt", "user-1")
		want := cp.Clone()

		require.NoError(t, store.Save(ctx, cp))
		assert.Equal(t, int64(1), cp.Version)

		got, err := store.Load(ctx, "thread-rt")
		require.NoError(t, err)
		assert.Equal(t, want.State, got.State)
		assert.Equal(t, want.Suspension, got.Suspension)
		assert.Equal(t, want.Next, got.Next)
		assert.Equal(t, want.Loops, got.Loops)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Load(ctx, "nope")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("VersionCompareAndSwap", func(t *testing.T) {
		store := newStore(t)
		cp := Sample("thread-cas", "user-1")
		require.NoError(t, store.Save(ctx, cp))

		stale := cp.Clone()
		cp.State = state.Reduce(cp.State, state.Patch{Status: state.Ptr(state.StatusAwaitingConfirmation)})
		require.NoError(t, store.Save(ctx, cp))
		assert.Equal(t, int64(2), cp.Version)

		stale.State = state.Reduce(stale.State, state.Patch{Status: state.Ptr(state.StatusCancelled)})
		assert.ErrorIs(t, store.Save(ctx, stale), checkpoint.ErrConflict)

		fresh := Sample("thread-cas", "user-1")
		assert.ErrorIs(t, store.Save(ctx, fresh), checkpoint.ErrConflict)

		got, err := store.Load(ctx, "thread-cas")
		require.NoError(t, err)
		assert.Equal(t, state.StatusAwaitingConfirmation, got.State.Status)
	})

	t.Run("ConcurrentWritersOneWins", func(t *testing.T) {
		store := newStore(t)
		cp := Sample("thread-race", "user-1")
		require.NoError(t, store.Save(ctx, cp))

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				mine := cp.Clone()
				mine.State = state.Reduce(mine.State, state.Patch{Response: state.Ptr(fmt.Sprintf("writer-%d", i))})
				results <- store.Save(ctx, mine)
			}(i)
		}
		wg.Wait()
		close(results)

		var ok, conflicts int
		for err := range results {
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, checkpoint.ErrConflict):
				conflicts++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, writers-1, conflicts)
	})

	t.Run("ListFilters", func(t *testing.T) {
		store := newStore(t)
		a := Sample("thread-a", "user-1")
		b := Sample("thread-b", "user-1")
		b.UpdatedAt = b.UpdatedAt.Add(time.Hour)
		c := Sample("thread-c", "user-2")
		c.State = state.Reduce(c.State, state.Patch{Status: state.Ptr(state.StatusCompleted)})
		for _, cp := range []*checkpoint.Checkpoint{a, b, c} {
			require.NoError(t, store.Save(ctx, cp))
		}

		mine, err := store.List(ctx, checkpoint.Filter{UserID: "user-1"})
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, "thread-b", mine[0].ThreadID)
		assert.Equal(t, "thread-a", mine[1].ThreadID)

		done, err := store.List(ctx, checkpoint.Filter{Status: state.StatusCompleted})
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, "thread-c", done[0].ThreadID)

		limited, err := store.List(ctx, checkpoint.Filter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		_, err = store.List(ctx, checkpoint.Filter{Limit: -1})
		assert.ErrorIs(t, err, checkpoint.ErrInvalidLimit)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Save(ctx, Sample("thread-del", "user-1")))

		require.NoError(t, store.Delete(ctx, "thread-del"))
		_, err := store.Load(ctx, "thread-del")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "thread-del"), checkpoint.ErrNotFound)
	})

	t.Run("InvalidThreadID", func(t *testing.T) {
		store := newStore(t)
		assert.ErrorIs(t, store.Save(ctx, &checkpoint.Checkpoint{}), checkpoint.ErrInvalidThreadID)
		_, err := store.Load(ctx, "")
		assert.ErrorIs(t, err, checkpoint.ErrInvalidThreadID)
	})
}
