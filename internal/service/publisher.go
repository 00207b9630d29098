package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/graph"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
	"github.com/capitalize-ai/scheduling-assistant/pkg/metrics"
)

// Publisher receives one lifecycle event per finished turn.
type Publisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, *model.ConversationEvent) (uint64, error) {
	return 0, nil
}

func eventType(out *graph.Outcome) model.EventType {
	if out.Suspended() {
		return model.EventTypeSuspended
	}
	switch out.Checkpoint.State.Status {
	case state.StatusFailed:
		return model.EventTypeFailed
	case state.StatusCancelled:
		return model.EventTypeCancelled
	}
	return model.EventTypeCompleted
}

// publish reports where the turn ended. Failures are logged and never fail the turn.
func (s *AssistantService) publish(ctx context.Context, out *graph.Outcome) {
	cp := out.Checkpoint
	ev := &model.ConversationEvent{
		ID:             s.newID(),
		ThreadID:       cp.ThreadID,
		UserID:         cp.State.UserID,
		WorkspaceID:    cp.State.WorkspaceID,
		Type:           eventType(out),
		Status:         string(cp.State.Status),
		Intent:         string(cp.State.Intent),
		Reason:         cp.State.Error,
		CreatedEventID: cp.State.CreatedEventID,
		CreatedAt:      s.now().UTC(),
	}
	if cp.Suspension != nil {
		ev.Node = cp.Suspension.Node
	} else if n := len(out.Steps); n > 0 {
		ev.Node = out.Steps[n-1].Node
	}

	seq, err := s.publisher.PublishEvent(ctx, ev)
	if err != nil {
		metrics.LifecycleEventsTotal.WithLabelValues(string(ev.Type), "error").Inc()
		s.logger.Warn("failed to publish lifecycle event",
			zap.String("thread_id", ev.ThreadID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		return
	}
	metrics.LifecycleEventsTotal.WithLabelValues(string(ev.Type), "ok").Inc()
	s.logger.Debug("lifecycle event published",
		zap.String("thread_id", ev.ThreadID),
		zap.String("type", string(ev.Type)),
		zap.Uint64("sequence", seq))
}
