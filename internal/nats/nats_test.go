package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint/checkpointtest"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
)

func TestEventSubject(t *testing.T) {
	assert.Equal(t, "assistant.user-1.thread-1.event.suspended",
		EventSubject("user-1", "thread-1", model.EventTypeSuspended))
	assert.Equal(t, "assistant.a_b_c._.event.completed",
		EventSubject("a.b*c", "", model.EventTypeCompleted))
	assert.Equal(t, "assistant.u.t.event.>", ThreadFilter("u", "t"))
}

func connectTest(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	client, err := Connect(context.Background(), Config{URL: url}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestKVStore(t *testing.T) {
	client := connectTest(t)
	ctx := context.Background()

	checkpointtest.Run(t, func(t *testing.T) checkpoint.Store {
		store, err := NewKVStore(ctx, client, nil)
		require.NoError(t, err)
		keys, _ := store.kv.Keys(ctx)
		for _, k := range keys {
			_ = store.kv.Purge(ctx, k)
		}
		return store
	})
}

func TestStreamManager_PublishAndReplay(t *testing.T) {
	client := connectTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sm := NewStreamManager(client)
	require.NoError(t, sm.EnsureStream(ctx))

	threadID := uuid.NewString()
	for _, typ := range []model.EventType{model.EventTypeSuspended, model.EventTypeCompleted} {
		_, err := sm.PublishEvent(ctx, &model.ConversationEvent{
			ID:        uuid.NewString(),
			ThreadID:  threadID,
			UserID:    "user-1",
			Type:      typ,
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	events, last, _, err := sm.ThreadEvents(ctx, "user-1", threadID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventTypeSuspended, events[0].Type)
	assert.Equal(t, model.EventTypeCompleted, events[1].Type)
	assert.Equal(t, events[1].Sequence, last)
}
