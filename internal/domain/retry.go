package domain

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
	"github.com/capitalize-ai/scheduling-assistant/pkg/metrics"
)

// DefaultRetries is the number of extra attempts after a transient failure.
const DefaultRetries = 2

// Backend is the full set of domain collaborators.
type Backend interface {
	Service
	ConflictDetector
	Resolver
}

// Retrying wraps a Backend and retries transient failures. Errors of kind
// not_found, conflict and invalid are returned immediately.
type Retrying struct {
	next       Backend
	retries    uint64
	log        *logger.Logger
	newBackOff func() backoff.BackOff
}

// RetryOption configures WithRetry.
type RetryOption func(*Retrying)

// WithBackOff replaces the backoff policy.
func WithBackOff(newBackOff func() backoff.BackOff) RetryOption {
	return func(r *Retrying) { r.newBackOff = newBackOff }
}

// WithRetry wraps b with retries.
func WithRetry(b Backend, retries uint64, log *logger.Logger, opts ...RetryOption) *Retrying {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Retrying{next: b, retries: retries, log: log, newBackOff: defaultBackOff}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 5 * time.Second
	return b
}

func call[T any](ctx context.Context, r *Retrying, op string, fn func() (T, error)) (T, error) {
	var out T
	attempt := func() error {
		v, err := fn()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			if KindOf(err) != KindUnavailable {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.CollaboratorRetriesTotal.WithLabelValues("domain", op).Inc()
		r.log.Warn("retrying domain call", zap.String("op", op), zap.Error(err), zap.Duration("wait", wait))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.retries), ctx)
	err := backoff.RetryNotify(attempt, b, notify)
	metrics.RecordCollaborator("domain", op, err)
	if err != nil {
		return out, AsError(op, err)
	}
	return out, nil
}

type none struct{}

func (r *Retrying) GetEvent(ctx context.Context, userID, id string) (model.CalendarEvent, error) {
	return call(ctx, r, "get_event", func() (model.CalendarEvent, error) { return r.next.GetEvent(ctx, userID, id) })
}

func (r *Retrying) CreateEvent(ctx context.Context, ev model.CalendarEvent) (string, error) {
	return call(ctx, r, "create_event", func() (string, error) { return r.next.CreateEvent(ctx, ev) })
}

func (r *Retrying) UpdateEvent(ctx context.Context, id string, patch EventPatch) error {
	_, err := call(ctx, r, "update_event", func() (none, error) { return none{}, r.next.UpdateEvent(ctx, id, patch) })
	return err
}

func (r *Retrying) DeleteEvent(ctx context.Context, id string) error {
	_, err := call(ctx, r, "delete_event", func() (none, error) { return none{}, r.next.DeleteEvent(ctx, id) })
	return err
}

func (r *Retrying) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.CalendarEvent, error) {
	return call(ctx, r, "list_events", func() ([]model.CalendarEvent, error) { return r.next.ListEvents(ctx, filter) })
}

func (r *Retrying) FindOverlapping(ctx context.Context, q model.OverlapQuery) (bool, error) {
	return call(ctx, r, "find_overlapping", func() (bool, error) { return r.next.FindOverlapping(ctx, q) })
}

func (r *Retrying) ResolveWorkspace(ctx context.Context, userID, name string) (string, error) {
	return call(ctx, r, "resolve_workspace", func() (string, error) { return r.next.ResolveWorkspace(ctx, userID, name) })
}

func (r *Retrying) ResolveEvent(ctx context.Context, userID, workspaceID, name string) (string, error) {
	return call(ctx, r, "resolve_event", func() (string, error) { return r.next.ResolveEvent(ctx, userID, workspaceID, name) })
}

func (r *Retrying) ResolveAssignees(ctx context.Context, workspaceID string, names []string) ([]string, error) {
	return call(ctx, r, "resolve_assignees", func() ([]string, error) { return r.next.ResolveAssignees(ctx, workspaceID, names) })
}
