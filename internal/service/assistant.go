// Package service is the entry point of the scheduling assistant: it loads a
// thread's checkpoint, runs one turn through the graph and reports the outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/graph"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
	"github.com/capitalize-ai/scheduling-assistant/pkg/metrics"
)

// Turn kinds, used as metric and span labels.
const (
	KindStart   = "start"
	KindMessage = "message"
	KindResume  = "resume"
)

// AssistantService runs conversation turns. Turns for one thread are
// serialised in-process; the checkpoint version check rejects writers in
// other processes.
type AssistantService struct {
	exec      *graph.Executor
	store     checkpoint.Store
	publisher Publisher
	logger    *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	locks     *threadLocks
}

// Option configures an AssistantService.
type Option func(*AssistantService)

// WithPublisher sets where lifecycle events go.
func WithPublisher(p Publisher) Option {
	return func(s *AssistantService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *AssistantService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *AssistantService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the UUIDv7 generator used for thread and event IDs.
func WithIDGenerator(newID func() string) Option {
	return func(s *AssistantService) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *AssistantService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewAssistantService creates the entry point over exec and store. store must
// be the store exec saves to.
func NewAssistantService(exec *graph.Executor, store checkpoint.Store, opts ...Option) *AssistantService {
	s := &AssistantService{
		exec:      exec,
		store:     store,
		publisher: NopPublisher{},
		logger:    logger.Global(),
		tracer:    otel.Tracer("github.com/capitalize-ai/scheduling-assistant/internal/service"),
		now:       time.Now,
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		locks:     newThreadLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a thread with its first user message and runs the first turn.
func (s *AssistantService) Start(ctx context.Context, req *model.StartThreadRequest) (*model.TurnResponse, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = s.newID()
	}

	resp, err := s.turn(ctx, KindStart, threadID, func(ctx context.Context) (*graph.Outcome, error) {
		_, err := s.store.Load(ctx, threadID)
		switch {
		case err == nil:
			return nil, graph.NewProtocolError("start", threadID, "", graph.ErrThreadIDUnavailable)
		case !errors.Is(err, checkpoint.ErrNotFound):
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}

		st := state.Reduce(state.New(threadID, req.UserID, req.WorkspaceID), state.Patch{
			Messages: []model.Message{s.userMessage(req.Message)},
		})
		s.logger.Info("thread started",
			zap.String("thread_id", threadID),
			zap.String("user_id", req.UserID))
		return s.exec.Run(ctx, &checkpoint.Checkpoint{ThreadID: threadID, State: st})
	})
	// Busy threads and concurrent creates report the same error as an existing ID.
	if errors.Is(err, graph.ErrThreadBusy) || errors.Is(err, checkpoint.ErrConflict) {
		return nil, graph.NewProtocolError("start", threadID, "", graph.ErrThreadIDUnavailable)
	}
	return resp, err
}

// SendMessage starts a new turn on an existing thread that is not suspended.
// History and identity carry over; per-turn fields are reset.
func (s *AssistantService) SendMessage(ctx context.Context, userID, threadID string, req *model.SendMessageRequest) (*model.TurnResponse, error) {
	return s.turn(ctx, KindMessage, threadID, func(ctx context.Context) (*graph.Outcome, error) {
		cp, err := s.load(ctx, "message", userID, threadID)
		if err != nil {
			return nil, err
		}
		if cp.Suspended() {
			return nil, graph.NewProtocolError("message", threadID, cp.Suspension.Node, graph.ErrThreadSuspended)
		}

		cp.State = state.Reduce(cp.State.NextTurn(), state.Patch{
			Messages: []model.Message{s.userMessage(req.Message)},
		})
		cp.Next = ""
		cp.Loops = 0
		return s.exec.Run(ctx, cp)
	})
}

// Resume continues a suspended thread with the user's reply, or cancels it.
func (s *AssistantService) Resume(ctx context.Context, userID, threadID string, req *model.ResumeRequest) (*model.TurnResponse, error) {
	return s.turn(ctx, KindResume, threadID, func(ctx context.Context) (*graph.Outcome, error) {
		cp, err := s.load(ctx, "resume", userID, threadID)
		if err != nil {
			return nil, err
		}
		return s.exec.Resume(ctx, cp, graph.Resume{Value: req.Value(), Key: req.ResumeKey})
	})
}

// Cancel resolves a suspended thread into cancelled.
func (s *AssistantService) Cancel(ctx context.Context, userID, threadID string) (*model.TurnResponse, error) {
	return s.Resume(ctx, userID, threadID, &model.ResumeRequest{Cancel: true})
}

// Get returns the thread's current checkpoint.
func (s *AssistantService) Get(ctx context.Context, userID, threadID string) (*checkpoint.Checkpoint, error) {
	return s.load(ctx, "get", userID, threadID)
}

// List returns the user's threads, most recently updated first.
func (s *AssistantService) List(ctx context.Context, userID string, status state.Status, limit int) ([]*checkpoint.Checkpoint, error) {
	return s.store.List(ctx, checkpoint.Filter{UserID: userID, Status: status, Limit: limit})
}

func (s *AssistantService) load(ctx context.Context, op, userID, threadID string) (*checkpoint.Checkpoint, error) {
	cp, err := s.store.Load(ctx, threadID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound), errors.Is(err, checkpoint.ErrInvalidThreadID):
		return nil, graph.NewProtocolError(op, threadID, "", graph.ErrThreadNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	// Other users' threads are reported as missing.
	if userID != "" && cp.State.UserID != userID {
		return nil, graph.NewProtocolError(op, threadID, "", graph.ErrThreadNotFound)
	}
	return cp, nil
}

func (s *AssistantService) userMessage(content string) model.Message {
	return model.Message{
		Role:      model.RoleUser,
		Content:   strings.TrimSpace(content),
		Timestamp: s.now().UTC(),
	}
}

func (s *AssistantService) turn(ctx context.Context, kind, threadID string, run func(context.Context) (*graph.Outcome, error)) (*model.TurnResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.turn",
		trace.WithAttributes(
			attribute.String("turn.kind", kind),
			attribute.String("thread.id", threadID),
		))
	defer span.End()

	unlock, ok := s.locks.tryLock(threadID)
	if !ok {
		err := graph.NewProtocolError(kind, threadID, "", graph.ErrThreadBusy)
		s.fail(span, kind, err)
		return nil, err
	}
	defer unlock()

	metrics.TurnsInFlight.Inc()
	defer metrics.TurnsInFlight.Dec()

	out, err := run(ctx)
	if err != nil {
		s.fail(span, kind, err)
		return nil, err
	}

	resp := Respond(out.Checkpoint)
	span.SetAttributes(attribute.String("turn.status", resp.Status), attribute.Bool("turn.suspended", resp.Suspended))
	metrics.TurnsTotal.WithLabelValues(kind, resp.Status).Inc()
	s.publish(ctx, out)
	return resp, nil
}

func (s *AssistantService) fail(span trace.Span, kind string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var pe *graph.ProtocolError
	if errors.As(err, &pe) {
		metrics.ProtocolErrorsTotal.WithLabelValues(pe.Op).Inc()
		metrics.TurnsTotal.WithLabelValues(kind, "protocol_error").Inc()
		s.logger.Warn("turn rejected",
			zap.String("thread_id", pe.ThreadID),
			zap.String("op", pe.Op),
			zap.Error(err))
		return
	}
	metrics.TurnsTotal.WithLabelValues(kind, "error").Inc()
	s.logger.Error("turn failed", zap.String("kind", kind), zap.Error(err))
}

// Respond renders a checkpoint as the caller-facing turn result. A suspended
// thread reports the pending prompt.
func Respond(cp *checkpoint.Checkpoint) *model.TurnResponse {
	st := cp.State
	resp := &model.TurnResponse{
		ThreadID:           cp.ThreadID,
		Status:             string(st.Status),
		Response:           st.Response,
		SuggestedResponses: st.SuggestedResponses,
		CreatedEventID:     st.CreatedEventID,
		Events:             st.Events,
		NeedsClarification: st.NeedsClarification,
		Error:              st.Error,
	}
	if cp.Suspended() {
		resp.Suspended = true
		resp.Response = cp.Suspension.Prompt
		resp.SuggestedResponses = cp.Suspension.Suggestions
		resp.ResumeKey = cp.Suspension.ResumeKey
	}
	return resp
}
