package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/classifier"
	"github.com/capitalize-ai/scheduling-assistant/internal/classifier/classifiertest"
	"github.com/capitalize-ai/scheduling-assistant/internal/domain"
	"github.com/capitalize-ai/scheduling-assistant/internal/graph"
	"github.com/capitalize-ai/scheduling-assistant/internal/middleware"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/service"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
	"github.com/capitalize-ai/scheduling-assistant/internal/workflow"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
)

const testSecret = "test-secret"

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func createEvent() classifier.Classification {
	return classifier.Classification{
		Intent:     state.IntentCreateEvent,
		Confidence: 0.9,
		ExtractedInfo: map[string]any{
			"name":      "Meeting",
			"start":     "2026-03-03T14:00:00Z",
			"end":       "2026-03-03T15:00:00Z",
			"workspace": "Default",
		},
	}
}

type fakeEvents struct {
	pages  [][]model.ConversationEvent
	calls  []uint64
	cancel context.CancelFunc
}

func (f *fakeEvents) ThreadEvents(_ context.Context, _, _ string, after uint64, _ int) ([]model.ConversationEvent, uint64, bool, error) {
	f.calls = append(f.calls, after)
	if len(f.pages) == 0 {
		if f.cancel != nil {
			f.cancel()
		}
		return nil, after, false, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	last := page[len(page)-1].Sequence
	return page, last, true, nil
}

func newServer(t *testing.T, cls *classifiertest.Scripted, events EventSource) http.Handler {
	t.Helper()
	backend := domain.NewMemory(domain.Workspace{
		ID:      "ws-default",
		Name:    "Default",
		Members: map[string]string{"user-1": "Ada"},
	})
	g, err := workflow.Build(workflow.Deps{
		Classifier: cls,
		Events:     backend,
		Logger:     logger.NewNop(),
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	exec, err := graph.NewExecutor(g, store, graph.WithLogger(logger.NewNop()))
	require.NoError(t, err)
	svc := service.NewAssistantService(exec, store, service.WithLogger(logger.NewNop()))

	cfg := RouterConfig{
		Threads: NewThreadHandler(svc, logger.NewNop()),
		Health: NewHealthHandler(map[string]ReadinessCheck{
			"store": func(context.Context) error { return nil },
		}),
		Logger:    logger.NewNop(),
		JWTSecret: testSecret,
	}
	if events != nil {
		eh := NewEventsHandler(svc, events, logger.NewNop())
		eh.heartbeat = time.Hour
		cfg.Events = eh
	}
	return NewRouter(cfg)
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func turn(t *testing.T, rec *httptest.ResponseRecorder) model.TurnResponse {
	t.Helper()
	var resp model.TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	h := newServer(t, classifiertest.New(), nil)

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestReady_FailingCheck(t *testing.T) {
	hh := NewHealthHandler(map[string]ReadinessCheck{
		"nats": func(context.Context) error { return errors.New("not connected") },
	})
	rec := httptest.NewRecorder()
	hh.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not connected")
}

func TestAuthRequired(t *testing.T) {
	h := newServer(t, classifiertest.New(), nil)

	rec := do(t, h, http.MethodPost, "/api/v1/threads", "", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestThreadLifecycle(t *testing.T) {
	h := newServer(t, classifiertest.New(createEvent()), nil)

	rec := do(t, h, http.MethodPost, "/api/v1/threads", "user-1", map[string]string{
		"thread_id": "t-1",
		"message":   "book a meeting tomorrow 2-3pm",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := turn(t, rec)
	assert.Equal(t, "t-1", resp.ThreadID)
	assert.True(t, resp.Suspended)
	assert.Equal(t, []string{"Yes", "No"}, resp.SuggestedResponses)

	rec = do(t, h, http.MethodPost, "/api/v1/threads/t-1/messages", "user-1", map[string]string{"message": "hello"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "suspended")

	rec = do(t, h, http.MethodPost, "/api/v1/threads/t-1/resume", "user-1", map[string]string{"resume_value": "yes"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = turn(t, rec)
	assert.Equal(t, string(state.StatusCompleted), resp.Status)
	assert.NotEmpty(t, resp.CreatedEventID)

	rec = do(t, h, http.MethodGet, "/api/v1/threads/t-1", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view ThreadView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, string(state.IntentCreateEvent), view.Intent)
	assert.NotEmpty(t, view.Messages)
	assert.Positive(t, view.Version)

	rec = do(t, h, http.MethodGet, "/api/v1/threads", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListThreadsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Threads, 1)
	assert.Equal(t, "t-1", list.Threads[0].ThreadID)

	// Other users do not see the thread.
	rec = do(t, h, http.MethodGet, "/api/v1/threads/t-1", "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Reusing the ID gives the same answer to the owner and to anyone else.
	own := do(t, h, http.MethodPost, "/api/v1/threads", "user-1", map[string]string{"thread_id": "t-1", "message": "again"})
	other := do(t, h, http.MethodPost, "/api/v1/threads", "user-2", map[string]string{"thread_id": "t-1", "message": "again"})
	assert.Equal(t, http.StatusConflict, own.Code)
	assert.Equal(t, http.StatusConflict, other.Code)
	assert.JSONEq(t, own.Body.String(), other.Body.String())
	assert.NotContains(t, other.Body.String(), "exists")
}

func TestCancelEndpoint(t *testing.T) {
	h := newServer(t, classifiertest.New(createEvent()), nil)

	rec := do(t, h, http.MethodPost, "/api/v1/threads", "user-1", map[string]string{"thread_id": "t-1", "message": "book it"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/threads/t-1/cancel", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(state.StatusCancelled), turn(t, rec).Status)

	rec = do(t, h, http.MethodPost, "/api/v1/threads/t-1/cancel", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestValidation(t *testing.T) {
	h := newServer(t, classifiertest.New(), nil)

	tests := []struct {
		name string
		path string
		body any
		code int
	}{
		{"missing message", "/api/v1/threads", map[string]string{}, http.StatusBadRequest},
		{"unknown field", "/api/v1/threads", map[string]string{"message": "hi", "tenant": "x"}, http.StatusBadRequest},
		{"bad thread id", "/api/v1/threads", map[string]string{"message": "hi", "thread_id": "a.b"}, http.StatusBadRequest},
		{"missing resume value", "/api/v1/threads/t-1/resume", map[string]string{}, http.StatusBadRequest},
		{"unknown thread", "/api/v1/threads/nope/resume", map[string]string{"resume_value": "yes"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, "user-1", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, h, http.MethodGet, "/api/v1/threads?status=bogus", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{graph.NewProtocolError("get", "t", "", graph.ErrThreadNotFound), http.StatusNotFound},
		{graph.NewProtocolError("message", "t", "", graph.ErrThreadBusy), http.StatusConflict},
		{graph.NewProtocolError("save", "t", "", checkpoint.ErrConflict), http.StatusConflict},
		{graph.NewProtocolError("resume", "t", "", graph.ErrResumeKeyMismatch), http.StatusConflict},
		{graph.NewProtocolError("route", "t", "n", graph.ErrUnmappedRoute), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, errorStatus(tt.err), tt.err.Error())
	}

	rec := httptest.NewRecorder()
	writeTurnError(rec, graph.NewProtocolError("route", "t", "n", graph.ErrUnmappedRoute))
	assert.Contains(t, rec.Body.String(), "internal error")
	assert.NotContains(t, rec.Body.String(), "unmapped")
}

func TestEventsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeEvents{
		pages: [][]model.ConversationEvent{
			{{ID: "e1", ThreadID: "t-1", Type: model.EventTypeSuspended, Sequence: 7}},
			{{ID: "e2", ThreadID: "t-1", Type: model.EventTypeCompleted, Sequence: 9}},
		},
		cancel: cancel,
	}
	h := newServer(t, classifiertest.New(createEvent()), src)

	rec := do(t, h, http.MethodPost, "/api/v1/threads", "user-1", map[string]string{"thread_id": "t-1", "message": "book it"})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads/t-1/events?after_sequence=5", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token(t, "user-1"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []uint64{5, 7, 9}, src.calls)
	assert.Equal(t, 2, strings.Count(body, "event: lifecycle"))
	assert.Contains(t, body, "event: replay_complete")
	assert.Contains(t, body, `"last_sequence":9`)
}

func TestEventsStream_UnknownThread(t *testing.T) {
	h := newServer(t, classifiertest.New(), &fakeEvents{})

	rec := do(t, h, http.MethodGet, "/api/v1/threads/missing/events", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
