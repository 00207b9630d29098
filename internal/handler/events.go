package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/middleware"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
	"github.com/capitalize-ai/scheduling-assistant/pkg/metrics"
)

// EventSource replays a thread's lifecycle events after a stream sequence.
type EventSource interface {
	ThreadEvents(ctx context.Context, userID, threadID string, afterSequence uint64, limit int) ([]model.ConversationEvent, uint64, bool, error)
}

// EventsHandler streams thread lifecycle events over SSE.
type EventsHandler struct {
	assistant Assistant
	source    EventSource
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewEventsHandler creates a new lifecycle event handler.
func NewEventsHandler(a Assistant, source EventSource, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		assistant: a,
		source:    source,
		logger:    log,
		heartbeat: 30 * time.Second,
	}
}

// ReplayCompleteEvent marks the end of the replayed backlog.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// Stream handles GET /api/v1/threads/{id}/events
// Supports ?after_sequence=N for resuming from a specific point
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	// Only the thread's owner may read its events.
	if _, err := h.assistant.Get(ctx, userID, threadID); err != nil {
		writeTurnError(w, err)
		return
	}

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSequence = seq
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.EventStreamsActive.Inc()
	defer metrics.EventStreamsActive.Dec()

	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), userID, threadID)
	sendSSEEvent(w, flusher, "connected", map[string]string{"thread_id": threadID})

	lastSequence := afterSequence
	var replayed int
	for {
		events, last, more, err := h.source.ThreadEvents(ctx, userID, threadID, lastSequence, 50)
		if err != nil {
			log.Error("failed to replay lifecycle events", zap.Error(err))
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "replay_error",
				"message": "failed to replay events",
			})
			return
		}
		for i := range events {
			sendSSEEvent(w, flusher, "lifecycle", &events[i])
		}
		replayed += len(events)
		if last > lastSequence {
			lastSequence = last
		}
		if !more || len(events) == 0 || ctx.Err() != nil {
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   replayed,
	})
	log.Debug("lifecycle replay complete",
		zap.Int("events_replayed", replayed),
		zap.Uint64("last_sequence", lastSequence))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream client disconnected")
			return
		case t := <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]time.Time{"timestamp": t.UTC()})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
