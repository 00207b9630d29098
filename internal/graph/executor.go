package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
	"github.com/capitalize-ai/scheduling-assistant/pkg/metrics"
)

const (
	DefaultMaxSteps = 50
	DefaultMaxLoops = 20
)

// Executor walks a compiled graph for one thread at a time. It holds no per-thread
// state; callers must serialise turns for a given thread.
type Executor struct {
	graph    *Graph
	store    checkpoint.Store
	logger   *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
	maxSteps int
	maxLoops int
	backend  string
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(l *logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxSteps bounds the node executions of a single turn.
func WithMaxSteps(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithMaxLoops bounds consecutive self-loop entries of one node.
func WithMaxLoops(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxLoops = n
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithBackend names the checkpoint backend in metrics.
func WithBackend(name string) Option {
	return func(e *Executor) {
		if name != "" {
			e.backend = name
		}
	}
}

// NewExecutor compiles g and returns an executor persisting into store.
func NewExecutor(g *Graph, store checkpoint.Store, opts ...Option) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if err := g.Compile(); err != nil {
		return nil, err
	}
	e := &Executor{
		graph:    g,
		store:    store,
		logger:   logger.Global(),
		tracer:   otel.Tracer("github.com/capitalize-ai/scheduling-assistant/internal/graph"),
		now:      time.Now,
		maxSteps: DefaultMaxSteps,
		maxLoops: DefaultMaxLoops,
		backend:  "unknown",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Graph returns the compiled graph.
func (e *Executor) Graph() *Graph {
	return e.graph
}

// Step is one node execution of a turn.
type Step struct {
	Node   string
	Kind   Kind
	Status state.Status
}

// Outcome is the result of a turn. Checkpoint is the persisted snapshot.
type Outcome struct {
	Checkpoint *checkpoint.Checkpoint
	Steps      []Step
}

// Suspended reports whether the turn ended waiting for input.
func (o *Outcome) Suspended() bool {
	return o.Checkpoint != nil && o.Checkpoint.Suspended()
}

// Run executes a turn from cp.Next, or from the start node.
func (e *Executor) Run(ctx context.Context, cp *checkpoint.Checkpoint) (*Outcome, error) {
	if cp.Suspended() {
		return nil, protocolErr("run", cp.ThreadID, cp.Suspension.Node, ErrThreadSuspended)
	}
	start := cp.Next
	if start == "" {
		start = e.graph.start
	}
	return e.walk(ctx, cp, start, nil, nil)
}

// Resume re-enters the suspended node of cp with r injected. The cancel control
// value resolves the suspension into cancelled without running the node.
func (e *Executor) Resume(ctx context.Context, cp *checkpoint.Checkpoint, r Resume) (*Outcome, error) {
	if !cp.Suspended() {
		return nil, protocolErr("resume", cp.ThreadID, "", ErrNotSuspended)
	}
	susp := cp.Suspension
	if r.Key != "" && r.Key != susp.ResumeKey {
		return nil, protocolErr("resume", cp.ThreadID, susp.Node, ErrResumeKeyMismatch)
	}

	now := e.now().UTC()
	if strings.TrimSpace(r.Value) == model.CancelValue {
		return e.cancel(ctx, cp, now)
	}

	pending := []model.Message{
		{Role: model.RoleAssistant, Content: susp.Prompt, Timestamp: susp.At},
		{Role: model.RoleUser, Content: r.Value, Timestamp: now},
	}
	return e.walk(ctx, cp, susp.Node, &r, pending)
}

func (e *Executor) cancel(ctx context.Context, cp *checkpoint.Checkpoint, now time.Time) (*Outcome, error) {
	susp := cp.Suspension
	cp.State = state.Reduce(cp.State, state.Patch{
		Messages: []model.Message{
			{Role: model.RoleAssistant, Content: susp.Prompt, Timestamp: susp.At},
			{Role: model.RoleUser, Content: "cancel", Timestamp: now},
		},
		Status:             state.Ptr(state.StatusCancelled),
		Response:           state.Ptr("Okay, I've cancelled that."),
		SuggestedResponses: &[]string{},
	})
	cp.Suspension = nil
	cp.Next = ""
	cp.Loops = 0
	if err := e.save(ctx, cp); err != nil {
		return nil, err
	}

	e.logger.Info("thread cancelled",
		zap.String("thread_id", cp.ThreadID),
		zap.String("node", susp.Node))
	return &Outcome{
		Checkpoint: cp,
		Steps:      []Step{{Node: susp.Node, Kind: KindTerminal, Status: state.StatusCancelled}},
	}, nil
}

func (e *Executor) walk(ctx context.Context, cp *checkpoint.Checkpoint, current string, resume *Resume, pending []model.Message) (*Outcome, error) {
	out := &Outcome{Checkpoint: cp}

	for steps := 0; ; steps++ {
		if steps >= e.maxSteps {
			e.logger.Error("step limit reached",
				zap.String("thread_id", cp.ThreadID),
				zap.String("node", current),
				zap.Int("max_steps", e.maxSteps))
			return e.failClosed(ctx, out, current, pending, "step limit reached")
		}

		fn, ok := e.graph.nodes[current]
		if !ok {
			return nil, protocolErr("run", cp.ThreadID, current, ErrUnknownNode)
		}

		res, err := e.runNode(ctx, current, fn, Input{
			ThreadID: cp.ThreadID,
			State:    cp.State,
			Resume:   resume,
			Pending:  pending,
		})
		if err != nil {
			e.logger.Error("node failed",
				zap.String("thread_id", cp.ThreadID),
				zap.String("node", current),
				zap.Error(err))
			return e.failClosed(ctx, out, current, pending, err.Error())
		}

		if res.Kind == KindSuspend {
			return e.suspend(ctx, out, current, res, pending)
		}

		patch := res.Patch
		if len(pending) > 0 {
			patch.Messages = append(append([]model.Message(nil), pending...), patch.Messages...)
		}
		resume, pending = nil, nil

		prev := cp.State.Status
		next := state.Reduce(cp.State, patch)
		if !state.CanTransition(prev, next.Status) {
			return nil, protocolErr("run", cp.ThreadID, current,
				fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, prev, next.Status))
		}

		target, err := e.resolve(current, res, next)
		if err != nil {
			return nil, protocolErr("route", cp.ThreadID, current, err)
		}

		if target == current {
			if cp.Loops >= e.maxLoops {
				cp.State = next
				e.logger.Warn("self-loop limit reached",
					zap.String("thread_id", cp.ThreadID),
					zap.String("node", current),
					zap.Int("max_loops", e.maxLoops))
				return e.failClosed(ctx, out, current, nil, "too many attempts to collect the missing details")
			}
			cp.Loops++
		} else {
			cp.Loops = 0
		}

		cp.State = next
		cp.Suspension = nil
		cp.Next = target
		if target == END {
			cp.Next = ""
		}
		if err := e.save(ctx, cp); err != nil {
			return nil, err
		}
		out.Steps = append(out.Steps, Step{Node: current, Kind: res.Kind, Status: cp.State.Status})

		if target == END {
			e.logger.Info("turn finished",
				zap.String("thread_id", cp.ThreadID),
				zap.String("node", current),
				zap.String("status", string(cp.State.Status)))
			return out, nil
		}
		current = target
	}
}

func (e *Executor) runNode(ctx context.Context, name string, fn NodeFunc, in Input) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "graph.node",
		trace.WithAttributes(
			attribute.String("graph.node", name),
			attribute.String("thread.id", in.ThreadID),
			attribute.Bool("graph.resumed", in.Resumed()),
		))
	defer span.End()

	started := e.now()
	res, err := fn(ctx, in)
	elapsed := e.now().Sub(started).Seconds()

	result := res.Kind.String()
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("graph.result", result))
	metrics.RecordNode(name, result, elapsed)

	e.logger.Debug("node executed",
		zap.String("thread_id", in.ThreadID),
		zap.String("node", name),
		zap.String("result", result),
		zap.String("status", string(in.State.Status)))
	return res, err
}

func (e *Executor) resolve(current string, res Result, s state.ConversationState) (string, error) {
	if res.Goto != "" {
		if !e.graph.allowed(current, res.Goto) {
			return "", fmt.Errorf("%w: %q -> %q", ErrInvalidDirective, current, res.Goto)
		}
		return res.Goto, nil
	}
	if res.Kind == KindTerminal {
		return END, nil
	}
	if to, ok := e.graph.edges[current]; ok {
		return to, nil
	}
	c := e.graph.conditional[current]
	return e.graph.route(current, c.router(s))
}

func (e *Executor) suspend(ctx context.Context, out *Outcome, node string, res Result, pending []model.Message) (*Outcome, error) {
	cp := out.Checkpoint

	// A resumed node that asks again still owes the exchange to the history.
	if len(pending) > 0 {
		cp.State = state.Reduce(cp.State, state.Patch{Messages: pending})
	}

	key := res.ResumeKey
	if key == "" {
		key = fmt.Sprintf("%s:%s:%d", cp.ThreadID, node, len(cp.State.Messages))
	}
	cp.Suspension = &checkpoint.Suspension{
		Node:        node,
		ResumeKey:   key,
		Prompt:      res.Prompt,
		Suggestions: res.Suggestions,
		At:          e.now().UTC(),
	}
	cp.Next = node
	if err := e.save(ctx, cp); err != nil {
		return nil, err
	}
	out.Steps = append(out.Steps, Step{Node: node, Kind: KindSuspend, Status: cp.State.Status})

	e.logger.Info("turn suspended",
		zap.String("thread_id", cp.ThreadID),
		zap.String("node", node),
		zap.String("status", string(cp.State.Status)))
	return out, nil
}

// failClosed ends the turn as failed instead of looping or faulting further.
func (e *Executor) failClosed(ctx context.Context, out *Outcome, node string, pending []model.Message, reason string) (*Outcome, error) {
	cp := out.Checkpoint
	cp.State = state.Reduce(cp.State, state.Patch{
		Messages:           pending,
		Status:             state.Ptr(state.StatusFailed),
		Response:           state.Ptr("Sorry, something went wrong and I couldn't finish that. Please try again."),
		SuggestedResponses: &[]string{},
		Error:              state.Ptr(reason),
	})
	cp.Suspension = nil
	cp.Next = ""
	cp.Loops = 0
	if err := e.save(ctx, cp); err != nil {
		return nil, err
	}
	out.Steps = append(out.Steps, Step{Node: node, Kind: KindTerminal, Status: state.StatusFailed})
	return out, nil
}

func (e *Executor) save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	cp.UpdatedAt = e.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}

	err := e.store.Save(ctx, cp)
	switch {
	case err == nil:
		metrics.RecordCheckpointSave(e.backend, "ok")
		return nil
	case errors.Is(err, checkpoint.ErrConflict):
		metrics.RecordCheckpointSave(e.backend, "conflict")
		return protocolErr("save", cp.ThreadID, cp.Next, err)
	default:
		metrics.RecordCheckpointSave(e.backend, "error")
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
}
