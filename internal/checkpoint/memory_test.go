package checkpoint_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint/checkpointtest"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

func TestMemoryStore(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	})
}

func TestMemoryStore_DoesNotShareState(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	cp := checkpointtest.Sample("thread-1", "user-1")
	require.NoError(t, store.Save(ctx, cp))

	cp.State.Messages[0].Content = "mutated after save"
	cp.Suspension.Suggestions[0] = "mutated"

	got, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "Create a meeting tomorrow at 2pm", got.State.Messages[0].Content)
	assert.Equal(t, "3pm", got.Suspension.Suggestions[0])

	got.State.Messages = append(got.State.Messages, model.Message{Role: model.RoleUser, Content: "x"})
	again, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Len(t, again.State.Messages, 2)
}

func TestCheckpoint_SuspendedAndTerminal(t *testing.T) {
	cp := checkpointtest.Sample("thread-1", "user-1")
	assert.True(t, cp.Suspended())
	assert.False(t, cp.Terminal())

	cp.Suspension = nil
	cp.State = state.Reduce(cp.State, state.Patch{Status: state.Ptr(state.StatusCancelled)})
	assert.False(t, cp.Suspended())
	assert.True(t, cp.Terminal())
}
