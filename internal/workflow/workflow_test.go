package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/classifier"
	"github.com/capitalize-ai/scheduling-assistant/internal/classifier/classifiertest"
	"github.com/capitalize-ai/scheduling-assistant/internal/domain"
	"github.com/capitalize-ai/scheduling-assistant/internal/graph"
	"github.com/capitalize-ai/scheduling-assistant/internal/llm"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
)

var (
	fixedNow  = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	meetStart = "2026-03-03T14:00:00Z"
	meetEnd   = "2026-03-03T15:00:00Z"
)

type harness struct {
	t        *testing.T
	exec     *graph.Executor
	store    *checkpoint.MemoryStore
	cls      *classifiertest.Scripted
	backend  *domain.Memory
	threadID string
	prompts  []string
}

func newHarness(t *testing.T, cls *classifiertest.Scripted, opts ...func(*Deps)) *harness {
	t.Helper()
	n := 0
	backend := domain.NewMemory(domain.Workspace{
		ID:      "ws-default",
		Name:    "Default",
		Members: map[string]string{"user-1": "Ada"},
	}).WithIDs(func() string {
		n++
		return fmt.Sprintf("ev-%d", n)
	})

	deps := Deps{
		Classifier: cls,
		Events:     backend,
		Logger:     logger.NewNop(),
		Now:        func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	g, err := Build(deps)
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	exec, err := graph.NewExecutor(g, store,
		graph.WithClock(func() time.Time { return fixedNow }),
		graph.WithLogger(logger.NewNop()))
	require.NoError(t, err)

	return &harness{t: t, exec: exec, store: store, cls: cls, backend: backend, threadID: "thread-1"}
}

func (h *harness) start(msg string) *graph.Outcome {
	h.t.Helper()
	s := state.Reduce(state.New(h.threadID, "user-1", ""), state.Patch{
		Messages: []model.Message{{Role: model.RoleUser, Content: msg, Timestamp: fixedNow}},
	})
	out, err := h.exec.Run(context.Background(), &checkpoint.Checkpoint{ThreadID: h.threadID, State: s})
	require.NoError(h.t, err)
	h.record(out)
	return out
}

func (h *harness) resume(value string) *graph.Outcome {
	h.t.Helper()
	cp, err := h.store.Load(context.Background(), h.threadID)
	require.NoError(h.t, err)
	out, err := h.exec.Resume(context.Background(), cp, graph.Resume{Value: value})
	require.NoError(h.t, err)
	h.record(out)
	return out
}

func (h *harness) record(out *graph.Outcome) {
	if out.Suspended() {
		h.prompts = append(h.prompts, out.Checkpoint.Suspension.Prompt)
	}
}

func statuses(out *graph.Outcome) []state.Status {
	var got []state.Status
	for _, s := range out.Steps {
		got = append(got, s.Status)
	}
	return got
}

func createClassification() classifier.Classification {
	return classifier.Classification{
		Intent:                state.IntentCreateEvent,
		Confidence:            0.9,
		ExtractedInfo:         map[string]any{"name": "Meeting", "start": meetStart},
		MissingRequiredFields: []string{"end", "workspace"},
	}
}

func followUp() classifier.Classification {
	return classifier.Classification{
		Intent:        state.IntentCreateEvent,
		Confidence:    0.8,
		ExtractedInfo: map[string]any{"end": meetEnd, "workspace": "Default"},
	}
}

func TestBuild_RequiresCollaborators(t *testing.T) {
	_, err := Build(Deps{Events: domain.NewMemory()})
	assert.Error(t, err)

	_, err = Build(Deps{Classifier: classifiertest.New()})
	assert.Error(t, err)
}

func TestIntentRoutes_Complete(t *testing.T) {
	g, err := Build(Deps{Classifier: classifiertest.New(), Events: domain.NewMemory(), Logger: logger.NewNop()})
	require.NoError(t, err)

	nodes := map[string]bool{}
	for _, name := range g.NodeNames() {
		nodes[name] = true
	}

	routes := g.Routes(DetectIntent)
	router := intentRouter(classifier.DefaultConfidenceThreshold)
	for _, intent := range state.Intents() {
		for _, confidence := range []float64{0, 0.59, 0.6, 1} {
			label := router(state.ConversationState{Intent: intent, Confidence: confidence})
			target, ok := routes[label]
			require.Truef(t, ok, "intent %s at %.2f routes to unmapped label %q", intent, confidence, label)
			assert.Truef(t, nodes[target], "intent %s routes to undefined node %q", intent, target)
		}
	}
}

func TestCreateFlow(t *testing.T) {
	h := newHarness(t, classifiertest.New(createClassification(), followUp()))

	// First message: slot filling starts.
	out := h.start("Create a meeting tomorrow at 2pm")
	require.True(t, out.Suspended())
	cp := out.Checkpoint
	assert.Equal(t, state.StatusCollectingInfo, cp.State.Status)
	assert.Equal(t, CollectInfo, cp.Suspension.Node)
	assert.Equal(t, state.NewFieldSet("end", "workspace"), cp.State.RequiredFieldsMissing)
	assert.Contains(t, cp.Suspension.Prompt, "end time")
	assert.Contains(t, cp.Suspension.Prompt, "workspace")

	// Follow-up fills the gaps and reaches the confirmation gate.
	out = h.resume("until 3pm, Default workspace")
	require.True(t, out.Suspended())
	cp = out.Checkpoint
	assert.Equal(t, state.StatusAwaitingConfirmation, cp.State.Status)
	assert.Equal(t, ConfirmEvent, cp.Suspension.Node)
	assert.Empty(t, cp.State.RequiredFieldsMissing)
	require.NotNil(t, cp.State.ExtractedInfo.End)
	assert.Equal(t, meetEnd, cp.State.ExtractedInfo.End.Format(time.RFC3339))
	assert.Equal(t, "Default", *cp.State.ExtractedInfo.WorkspaceName)
	assert.Equal(t, "Meeting", *cp.State.ExtractedInfo.Name, "earlier fields survive the merge")
	assert.Contains(t, cp.Suspension.Prompt, `"Meeting"`)
	assert.Equal(t, []string{"Yes", "No"}, cp.Suspension.Suggestions)

	// Confirmation executes the request.
	out = h.resume("yes")
	require.False(t, out.Suspended())
	cp = out.Checkpoint
	assert.Equal(t, []state.Status{
		state.StatusCheckingConflicts,
		state.StatusExecuting,
		state.StatusCompleted,
	}, statuses(out))
	assert.Equal(t, "ev-1", cp.State.CreatedEventID)
	assert.True(t, cp.Terminal())

	ev, ok := h.backend.Event("ev-1")
	require.True(t, ok)
	assert.Equal(t, "ws-default", ev.WorkspaceID)
	assert.Equal(t, "user-1", ev.CreatedBy)

	// user, prompt, reply, prompt, reply, final response
	require.Len(t, cp.State.Messages, 6)
	assert.Equal(t, model.RoleAssistant, cp.State.Messages[5].Role)
	assert.Equal(t, cp.State.Response, cp.State.Messages[5].Content)
}

func TestCreateFlow_DeclinedConfirmation(t *testing.T) {
	h := newHarness(t, classifiertest.New(createClassification(), followUp()))
	h.start("Create a meeting tomorrow at 2pm")
	h.resume("until 3pm, Default workspace")

	out := h.resume("no")
	cp := out.Checkpoint
	assert.Equal(t, state.StatusCancelled, cp.State.Status)
	assert.Empty(t, cp.State.CreatedEventID)
	assert.True(t, cp.Terminal())

	_, ok := h.backend.Event("ev-1")
	assert.False(t, ok)
}

func TestLowConfidenceAsksForClarification(t *testing.T) {
	h := newHarness(t, classifiertest.New(classifier.Classification{
		Intent:     state.IntentUnknown,
		Confidence: 0.3,
	}))

	out := h.start("blorp")
	cp := out.Checkpoint
	assert.False(t, out.Suspended())
	assert.Equal(t, state.StatusCompleted, cp.State.Status)
	assert.NotEqual(t, state.StatusFailed, cp.State.Status)
	assert.True(t, cp.State.NeedsClarification)
	assert.NotEmpty(t, cp.State.Response)
	require.Len(t, out.Steps, 2)
	assert.Equal(t, HandleClarification, out.Steps[1].Node)
}

func TestClassifierFailureAsksForClarification(t *testing.T) {
	cls := classifiertest.New()
	cls.ThenFail(&classifier.ClassificationError{Reason: "classifier unreachable", Err: errors.New("timeout")})
	h := newHarness(t, cls)

	out := h.start("make me a meeting")
	assert.Equal(t, state.StatusCompleted, out.Checkpoint.State.Status)
	assert.True(t, out.Checkpoint.State.NeedsClarification)
	assert.Empty(t, out.Checkpoint.State.Error)
}

func TestHighConfidenceCreateWithAllFieldsGoesStraightToConfirmation(t *testing.T) {
	h := newHarness(t, classifiertest.New(classifier.Classification{
		Intent:     state.IntentCreateEvent,
		Confidence: 0.95,
		ExtractedInfo: map[string]any{
			"name": "Retro", "start": meetStart, "end": meetEnd, "workspace": "Default",
		},
	}))

	out := h.start("Create Retro tomorrow 2-3pm in Default")
	require.True(t, out.Suspended())
	assert.Equal(t, ConfirmEvent, out.Checkpoint.Suspension.Node)
	assert.True(t, out.Checkpoint.State.IsValid)
	assert.Contains(t, out.Checkpoint.State.OptionalFieldsMissing, state.FieldLocation)
}

func conflictHarness(t *testing.T) *harness {
	h := newHarness(t, classifiertest.New(createClassification(), followUp()))
	start, _ := time.Parse(time.RFC3339, meetStart)
	h.backend.Seed(model.CalendarEvent{
		ID: "existing", WorkspaceID: "ws-default", Name: "1:1",
		Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute),
	})
	h.start("Create a meeting tomorrow at 2pm")
	h.resume("until 3pm, Default workspace")
	return h
}

func TestConflictGate(t *testing.T) {
	t.Run("conflict suspends for a decision", func(t *testing.T) {
		h := conflictHarness(t)
		out := h.resume("yes")
		require.True(t, out.Suspended())
		assert.Equal(t, CheckConflicts, out.Checkpoint.Suspension.Node)
		assert.Equal(t, state.StatusCheckingConflicts, out.Checkpoint.State.Status)
		assert.Contains(t, out.Checkpoint.Suspension.Prompt, "overlaps")
	})

	t.Run("no cancels", func(t *testing.T) {
		h := conflictHarness(t)
		h.resume("yes")
		out := h.resume("no")
		assert.Equal(t, state.StatusCancelled, out.Checkpoint.State.Status)
		assert.True(t, out.Checkpoint.State.HasConflict)
		assert.Empty(t, out.Checkpoint.State.CreatedEventID)
	})

	t.Run("yes proceeds", func(t *testing.T) {
		h := conflictHarness(t)
		h.resume("yes")
		out := h.resume("proceed anyway")
		assert.Equal(t, state.StatusCompleted, out.Checkpoint.State.Status)
		assert.Equal(t, "ev-1", out.Checkpoint.State.CreatedEventID)
	})

	t.Run("unclear reply proceeds with original time", func(t *testing.T) {
		h := conflictHarness(t)
		h.resume("yes")
		out := h.resume("how about 4pm")
		assert.Equal(t, state.StatusCompleted, out.Checkpoint.State.Status)
		ev, ok := h.backend.Event(out.Checkpoint.State.CreatedEventID)
		require.True(t, ok)
		assert.Equal(t, meetStart, ev.Start.Format(time.RFC3339))
	})
}

func TestDomainErrorBecomesFailed(t *testing.T) {
	h := newHarness(t, classifiertest.New(classifier.Classification{
		Intent:     state.IntentCreateEvent,
		Confidence: 0.9,
		ExtractedInfo: map[string]any{
			"name": "Retro", "start": meetStart, "end": meetEnd, "workspace": "Nowhere",
		},
	}))
	h.start("Create Retro in Nowhere")

	out := h.resume("yes")
	cp := out.Checkpoint
	assert.Equal(t, state.StatusFailed, cp.State.Status)
	assert.NotEmpty(t, cp.State.Error)
	assert.Contains(t, cp.State.Response, "couldn't find")
	assert.True(t, cp.Terminal())
}

func TestUpdateWithoutTimeChangeSkipsConflictCheck(t *testing.T) {
	h := newHarness(t, classifiertest.New(classifier.Classification{
		Intent:        state.IntentUpdateEvent,
		Confidence:    0.9,
		ExtractedInfo: map[string]any{"eventName": "Standup", "location": "Room 4"},
	}))
	start, _ := time.Parse(time.RFC3339, meetStart)
	h.backend.Seed(model.CalendarEvent{ID: "e1", WorkspaceID: "ws-default", Name: "Standup", Start: start, End: start.Add(15 * time.Minute)})

	out := h.start("Move standup to Room 4")
	require.True(t, out.Suspended())
	assert.Equal(t, ConfirmEvent, out.Checkpoint.Suspension.Node)

	out = h.resume("yes")
	require.Len(t, out.Steps, 2)
	assert.Equal(t, ExecuteUpdate, out.Steps[1].Node)
	assert.Equal(t, state.StatusCompleted, out.Checkpoint.State.Status)

	ev, _ := h.backend.Event("e1")
	assert.Equal(t, "Room 4", ev.Location)
}

func TestUpdateMissingChangesCollectsInfo(t *testing.T) {
	h := newHarness(t, classifiertest.New(
		classifier.Classification{
			Intent:        state.IntentUpdateEvent,
			Confidence:    0.9,
			ExtractedInfo: map[string]any{"eventName": "Standup"},
		},
		classifier.Classification{
			Intent:        state.IntentUpdateEvent,
			Confidence:    0.9,
			ExtractedInfo: map[string]any{"name": "Daily"},
		},
	))

	out := h.start("Change standup")
	assert.Equal(t, state.NewFieldSet(state.FieldChanges), out.Checkpoint.State.RequiredFieldsMissing)
	assert.Contains(t, out.Checkpoint.Suspension.Prompt, "what you'd like to change")

	out = h.resume("call it Daily")
	assert.Equal(t, ConfirmEvent, out.Checkpoint.Suspension.Node)
}

func moveHarness(t *testing.T, changes map[string]any) *harness {
	t.Helper()
	info := map[string]any{"eventName": "Standup"}
	for k, v := range changes {
		info[k] = v
	}
	h := newHarness(t, classifiertest.New(classifier.Classification{
		Intent:        state.IntentUpdateEvent,
		Confidence:    0.9,
		ExtractedInfo: info,
	}))
	start, _ := time.Parse(time.RFC3339, meetStart)
	h.backend.Seed(
		model.CalendarEvent{ID: "e1", WorkspaceID: "ws-default", Name: "Standup", Start: start, End: start.Add(15 * time.Minute)},
		model.CalendarEvent{ID: "busy", WorkspaceID: "ws-default", Name: "Planning", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	)
	out := h.start("Move standup")
	require.True(t, out.Suspended())
	require.Equal(t, ConfirmEvent, out.Checkpoint.Suspension.Node)
	return h
}

func TestUpdateMovingStartKeepsDuration(t *testing.T) {
	h := moveHarness(t, map[string]any{"start": "2026-03-03T15:00:00Z"})

	out := h.resume("yes")
	assert.Equal(t, []state.Status{state.StatusCheckingConflicts, state.StatusExecuting, state.StatusCompleted}, statuses(out))
	assert.False(t, out.Checkpoint.State.HasConflict)

	ev, _ := h.backend.Event("e1")
	assert.Equal(t, "2026-03-03T15:00:00Z", ev.Start.Format(time.RFC3339))
	assert.Equal(t, "2026-03-03T15:15:00Z", ev.End.Format(time.RFC3339))
}

func TestUpdateMovingStartIntoBusyTimeSuspends(t *testing.T) {
	h := moveHarness(t, map[string]any{"start": "2026-03-03T16:00:00Z"})

	out := h.resume("yes")
	require.True(t, out.Suspended())
	assert.Equal(t, CheckConflicts, out.Checkpoint.Suspension.Node)
	assert.Contains(t, out.Checkpoint.Suspension.Prompt, "4:00 PM - Tue, Mar 3 4:15 PM UTC")

	out = h.resume("no")
	assert.Equal(t, state.StatusCancelled, out.Checkpoint.State.Status)
	ev, _ := h.backend.Event("e1")
	assert.Equal(t, meetStart, ev.Start.Format(time.RFC3339))
}

func TestUpdateMovingEndKeepsStart(t *testing.T) {
	h := moveHarness(t, map[string]any{"end": "2026-03-03T14:45:00Z"})

	out := h.resume("yes")
	assert.Equal(t, state.StatusCompleted, out.Checkpoint.State.Status)
	ev, _ := h.backend.Event("e1")
	assert.Equal(t, meetStart, ev.Start.Format(time.RFC3339))
	assert.Equal(t, "2026-03-03T14:45:00Z", ev.End.Format(time.RFC3339))
}

func TestUpdateEndBeforeStartFails(t *testing.T) {
	h := moveHarness(t, map[string]any{"end": "2026-03-03T13:00:00Z"})

	out := h.resume("yes")
	assert.Equal(t, state.StatusFailed, out.Checkpoint.State.Status)
	require.Len(t, out.Steps, 2)
	assert.Equal(t, CheckConflicts, out.Steps[1].Node)
	ev, _ := h.backend.Event("e1")
	assert.Equal(t, 15*time.Minute, ev.End.Sub(ev.Start))
}

func TestEventsOutsideUsersWorkspacesAreNotFound(t *testing.T) {
	start, _ := time.Parse(time.RFC3339, meetStart)
	hidden := model.CalendarEvent{ID: "e9", WorkspaceID: "ws-other", CreatedBy: "user-9", Name: "Board review", Start: start, End: start.Add(time.Hour)}

	tests := []struct {
		name string
		c    classifier.Classification
	}{
		{"delete by name", classifier.Classification{
			Intent: state.IntentDeleteEvent, Confidence: 0.9,
			ExtractedInfo: map[string]any{"eventName": "Board review"},
		}},
		{"delete by id", classifier.Classification{
			Intent: state.IntentDeleteEvent, Confidence: 0.9,
			ExtractedInfo: map[string]any{"eventId": "e9"},
		}},
		{"rename by name", classifier.Classification{
			Intent: state.IntentUpdateEvent, Confidence: 0.9,
			ExtractedInfo: map[string]any{"eventName": "Board review", "name": "Cancelled"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, classifiertest.New(tt.c))
			h.backend.Seed(hidden)

			h.start("get rid of board review")
			out := h.resume("yes")

			assert.Equal(t, state.StatusFailed, out.Checkpoint.State.Status)
			assert.Contains(t, out.Checkpoint.State.Response, "couldn't find")
			ev, ok := h.backend.Event("e9")
			require.True(t, ok)
			assert.Equal(t, hidden, ev)
		})
	}
}

func TestConflictCheckWithoutWindowWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := &nodes{
		deps: Deps{Conflicts: domain.ConflictFunc(func(context.Context, model.OverlapQuery) (bool, error) {
			t.Fatal("overlap query without a window")
			return false, nil
		})},
		log: &logger.Logger{Logger: zap.New(core)},
	}
	s := state.New("thread-1", "user-1", "ws-default")
	s.Intent = state.IntentCreateEvent

	conflict, _, err := n.hasConflict(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, conflict)
	require.Equal(t, 1, logs.FilterMessage("no complete time window, skipping conflict check").Len())
}

func TestDeleteFlow(t *testing.T) {
	h := newHarness(t, classifiertest.New(classifier.Classification{
		Intent:        state.IntentDeleteEvent,
		Confidence:    0.9,
		ExtractedInfo: map[string]any{"eventName": "Standup"},
	}))
	start, _ := time.Parse(time.RFC3339, meetStart)
	h.backend.Seed(model.CalendarEvent{ID: "e1", WorkspaceID: "ws-default", Name: "Standup", Start: start, End: start.Add(15 * time.Minute)})

	out := h.start("Delete standup")
	require.True(t, out.Suspended())
	assert.Contains(t, out.Checkpoint.Suspension.Prompt, `"Standup"`)

	out = h.resume("yes")
	assert.Equal(t, []state.Status{state.StatusExecuting, state.StatusCompleted}, statuses(out))
	_, ok := h.backend.Event("e1")
	assert.False(t, ok)
}

func TestListEvents(t *testing.T) {
	h := newHarness(t, classifiertest.New(classifier.Classification{
		Intent:     state.IntentListEvents,
		Confidence: 0.9,
	}))
	start, _ := time.Parse(time.RFC3339, meetStart)
	h.backend.Seed(model.CalendarEvent{ID: "e1", WorkspaceID: "ws-default", CreatedBy: "user-1", Name: "Standup", Start: start, End: start.Add(15 * time.Minute)})

	out := h.start("What's on my calendar?")
	cp := out.Checkpoint
	assert.Equal(t, state.StatusCompleted, cp.State.Status)
	require.Len(t, cp.State.Events, 1)
	assert.Contains(t, cp.State.Response, "Standup")
	assert.Equal(t, []state.Status{state.StatusExecuting, state.StatusCompleted}, statuses(out))
}

func TestOffTopicAndChat(t *testing.T) {
	h := newHarness(t, classifiertest.New(classifier.Classification{Intent: state.IntentOffTopic, Confidence: 0.9}))
	out := h.start("What's the capital of France?")
	assert.Equal(t, offTopicReply, out.Checkpoint.State.Response)

	chat := &cannedChat{reply: "Hello there!"}
	h = newHarness(t, classifiertest.New(classifier.Classification{Intent: state.IntentGeneralChat, Confidence: 0.9}),
		func(d *Deps) { d.Chat = chat })
	out = h.start("hi")
	assert.Equal(t, "Hello there!", out.Checkpoint.State.Response)
	assert.Equal(t, chatSystemPrompt, chat.got.System)

	chat = &cannedChat{err: errors.New("rate limited")}
	h = newHarness(t, classifiertest.New(classifier.Classification{Intent: state.IntentGeneralChat, Confidence: 0.9}),
		func(d *Deps) { d.Chat = chat })
	out = h.start("hi")
	assert.Equal(t, chatReply, out.Checkpoint.State.Response)
}

type cannedChat struct {
	reply string
	err   error
	got   *llm.CompletionRequest
}

func (c *cannedChat) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.got = req
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{Content: c.reply}, nil
}

func (c *cannedChat) Name() string     { return "canned" }
func (c *cannedChat) Models() []string { return nil }

func TestSlotFillingConverges(t *testing.T) {
	answers := []map[string]any{
		{"start": meetStart},
		{"end": meetEnd},
		{"workspace": "Default"},
	}
	cls := classifiertest.New(classifier.Classification{
		Intent:        state.IntentCreateEvent,
		Confidence:    0.9,
		ExtractedInfo: map[string]any{"name": "Planning"},
	})
	for _, a := range answers {
		cls.Then(classifier.Classification{Intent: state.IntentCreateEvent, Confidence: 0.9, ExtractedInfo: a})
	}
	h := newHarness(t, cls)

	out := h.start("Set up planning")
	required := len(Missing(state.IntentCreateEvent, state.EventFields{}))
	turns := 0
	for out.Checkpoint.Suspension.Node == CollectInfo {
		turns++
		require.LessOrEqual(t, turns, required)
		before := len(out.Checkpoint.State.RequiredFieldsMissing)
		out = h.resume(fmt.Sprintf("answer %d", turns))
		if out.Checkpoint.Suspension.Node == CollectInfo {
			assert.Less(t, len(out.Checkpoint.State.RequiredFieldsMissing), before)
		}
	}
	assert.Equal(t, ConfirmEvent, out.Checkpoint.Suspension.Node)
	assert.Equal(t, 3, turns)
}

func TestSlotFillingIsBounded(t *testing.T) {
	cls := classifiertest.New(classifier.Classification{
		Intent: state.IntentCreateEvent, Confidence: 0.9, ExtractedInfo: map[string]any{"name": "x"},
	})
	for i := 0; i < 5; i++ {
		cls.Then(classifier.Classification{Intent: state.IntentUnknown})
	}
	g, err := Build(Deps{Classifier: cls, Events: domain.NewMemory(), Logger: logger.NewNop(), Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	exec, err := graph.NewExecutor(g, checkpoint.NewMemoryStore(), graph.WithMaxLoops(2), graph.WithLogger(logger.NewNop()))
	require.NoError(t, err)

	s := state.Reduce(state.New("thread-1", "user-1", ""), state.Patch{
		Messages: []model.Message{{Role: model.RoleUser, Content: "x", Timestamp: fixedNow}},
	})
	cp := &checkpoint.Checkpoint{ThreadID: "thread-1", State: s}
	out, err := exec.Run(context.Background(), cp)
	require.NoError(t, err)

	for out.Suspended() {
		out, err = exec.Resume(context.Background(), out.Checkpoint, graph.Resume{Value: "no idea"})
		require.NoError(t, err)
	}
	assert.Equal(t, state.StatusFailed, out.Checkpoint.State.Status)
}

func TestDeterministicReplay(t *testing.T) {
	run := func() (state.ConversationState, []string) {
		h := newHarness(t, classifiertest.New(createClassification(), followUp()))
		h.start("Create a meeting tomorrow at 2pm")
		h.resume("until 3pm, Default workspace")
		out := h.resume("yes")
		return out.Checkpoint.State, h.prompts
	}

	s1, p1 := run()
	s2, p2 := run()
	assert.Equal(t, s1, s2)
	assert.Equal(t, p1, p2)
	assert.Len(t, p1, 2)
}
