package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
)

var base = time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)

func newBackend() *Memory {
	n := 0
	return NewMemory(
		Workspace{ID: "ws-default", Name: "Default", Members: map[string]string{"u1": "Ada", "u2": "Grace"}},
		Workspace{ID: "ws-other", Name: "Other"},
	).WithIDs(func() string {
		n++
		return "ev-" + string(rune('0'+n))
	})
}

func TestMemory_CreateAndList(t *testing.T) {
	ctx := context.Background()
	m := newBackend()

	id, err := m.CreateEvent(ctx, model.CalendarEvent{
		WorkspaceID: "ws-default", CreatedBy: "u1", Name: "Sync",
		Start: base, End: base.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "ev-1", id)

	_, err = m.CreateEvent(ctx, model.CalendarEvent{
		WorkspaceID: "ws-default", Name: "Earlier",
		Start: base.Add(-2 * time.Hour), End: base.Add(-time.Hour),
	})
	require.NoError(t, err)

	events, err := m.ListEvents(ctx, model.EventFilter{WorkspaceID: "ws-default"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Earlier", events[0].Name)

	from := base.Add(-30 * time.Minute)
	events, err = m.ListEvents(ctx, model.EventFilter{UserID: "u2", From: &from, Limit: 5})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Sync", events[0].Name)
}

func TestMemory_CreateRejects(t *testing.T) {
	ctx := context.Background()
	m := newBackend()

	_, err := m.CreateEvent(ctx, model.CalendarEvent{WorkspaceID: "ws-default", Name: "x", Start: base, End: base})
	assert.Equal(t, KindInvalid, KindOf(err))

	_, err = m.CreateEvent(ctx, model.CalendarEvent{WorkspaceID: "missing", Name: "x", Start: base, End: base.Add(time.Hour)})
	assert.Equal(t, KindNotFound, KindOf(err))

	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Message(), "couldn't find")
}

func TestMemory_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	m := newBackend()
	m.Seed(model.CalendarEvent{ID: "e1", WorkspaceID: "ws-default", Name: "Sync", Start: base, End: base.Add(time.Hour)})

	later := base.Add(2 * time.Hour)
	err := m.UpdateEvent(ctx, "e1", EventPatch{Start: &later, End: new(time.Time)})
	assert.Equal(t, KindInvalid, KindOf(err))
	ev, _ := m.Event("e1")
	assert.Equal(t, base, ev.Start, "failed update leaves event untouched")

	end := later.Add(30 * time.Minute)
	require.NoError(t, m.UpdateEvent(ctx, "e1", EventPatch{Start: &later, End: &end}))
	ev, _ = m.Event("e1")
	assert.Equal(t, later, ev.Start)

	assert.Equal(t, KindNotFound, KindOf(m.UpdateEvent(ctx, "nope", EventPatch{})))
	require.NoError(t, m.DeleteEvent(ctx, "e1"))
	assert.Equal(t, KindNotFound, KindOf(m.DeleteEvent(ctx, "e1")))
}

func TestMemory_FindOverlapping(t *testing.T) {
	ctx := context.Background()
	m := newBackend()
	m.Seed(model.CalendarEvent{ID: "e1", WorkspaceID: "ws-default", Name: "Sync", Start: base, End: base.Add(time.Hour)})

	tests := []struct {
		name  string
		query model.OverlapQuery
		want  bool
	}{
		{"overlapping", model.OverlapQuery{WorkspaceID: "ws-default", Window: model.TimeWindow{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)}}, true},
		{"adjacent", model.OverlapQuery{WorkspaceID: "ws-default", Window: model.TimeWindow{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}}, false},
		{"other workspace", model.OverlapQuery{WorkspaceID: "ws-other", Window: model.TimeWindow{Start: base, End: base.Add(time.Hour)}}, false},
		{"excluded self", model.OverlapQuery{WorkspaceID: "ws-default", ExcludeEventID: "e1", Window: model.TimeWindow{Start: base, End: base.Add(time.Hour)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.FindOverlapping(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemory_Resolve(t *testing.T) {
	ctx := context.Background()
	m := newBackend()
	m.Seed(model.CalendarEvent{ID: "e1", WorkspaceID: "ws-default", Name: "Standup", Start: base, End: base.Add(time.Hour)})

	ws, err := m.ResolveWorkspace(ctx, "u1", "default")
	require.NoError(t, err)
	assert.Equal(t, "ws-default", ws)

	_, err = m.ResolveWorkspace(ctx, "stranger", "Default")
	assert.Equal(t, KindNotFound, KindOf(err))

	id, err := m.ResolveEvent(ctx, "u1", "ws-default", "standup")
	require.NoError(t, err)
	assert.Equal(t, "e1", id)

	ids, err := m.ResolveAssignees(ctx, "ws-default", []string{"grace", "Ada"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u1"}, ids)

	_, err = m.ResolveAssignees(ctx, "ws-default", []string{"Linus"})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestMemory_LookupsAreScopedToUser(t *testing.T) {
	ctx := context.Background()
	m := newBackend()
	m.Seed(model.CalendarEvent{ID: "e9", WorkspaceID: "ws-other", CreatedBy: "u9", Name: "Board review", Start: base, End: base.Add(time.Hour)})

	for _, ref := range []string{"board review", "e9"} {
		_, err := m.ResolveEvent(ctx, "u1", "", ref)
		assert.Equal(t, KindNotFound, KindOf(err), ref)
	}
	_, err := m.GetEvent(ctx, "u1", "e9")
	assert.Equal(t, KindNotFound, KindOf(err))

	id, err := m.ResolveEvent(ctx, "u9", "", "Board Review")
	require.NoError(t, err)
	ev, err := m.GetEvent(ctx, "u9", id)
	require.NoError(t, err)
	assert.Equal(t, "Board review", ev.Name)
}

type flaky struct {
	*Memory
	failures int
	calls    int
}

func (f *flaky) DeleteEvent(ctx context.Context, id string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	return f.Memory.DeleteEvent(ctx, id)
}

func noDelay() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failures are retried", func(t *testing.T) {
		f := &flaky{Memory: newBackend(), failures: 2}
		f.Seed(model.CalendarEvent{ID: "e1", WorkspaceID: "ws-default", Name: "x", Start: base, End: base.Add(time.Hour)})

		require.NoError(t, WithRetry(f, DefaultRetries, nil, WithBackOff(noDelay)).DeleteEvent(ctx, "e1"))
		assert.Equal(t, 3, f.calls)
	})

	t.Run("exhausted retries become unavailable", func(t *testing.T) {
		f := &flaky{Memory: newBackend(), failures: 5}

		err := WithRetry(f, DefaultRetries, nil, WithBackOff(noDelay)).DeleteEvent(ctx, "e1")
		assert.Equal(t, KindUnavailable, KindOf(err))
		assert.Equal(t, 3, f.calls)
	})

	t.Run("not found is permanent", func(t *testing.T) {
		f := &flaky{Memory: newBackend()}

		err := WithRetry(f, DefaultRetries, nil, WithBackOff(noDelay)).DeleteEvent(ctx, "missing")
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.Equal(t, 1, f.calls)
	})
}

func TestEventPatch(t *testing.T) {
	ev := model.CalendarEvent{Name: "Sync", Start: base, End: base.Add(time.Hour), Tags: []string{"a"}}
	name := "Retro"
	p := EventPatch{Name: &name, Tags: []string{"b", "c"}}

	got := p.Apply(ev)
	assert.Equal(t, "Retro", got.Name)
	assert.Equal(t, []string{"b", "c"}, got.Tags)
	assert.Equal(t, []string{"a"}, ev.Tags)
	assert.False(t, p.ChangesTime())
}
