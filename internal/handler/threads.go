// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/checkpoint"
	"github.com/capitalize-ai/scheduling-assistant/internal/middleware"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/service"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
)

// Assistant is the entry point the thread endpoints drive.
type Assistant interface {
	Start(ctx context.Context, req *model.StartThreadRequest) (*model.TurnResponse, error)
	SendMessage(ctx context.Context, userID, threadID string, req *model.SendMessageRequest) (*model.TurnResponse, error)
	Resume(ctx context.Context, userID, threadID string, req *model.ResumeRequest) (*model.TurnResponse, error)
	Cancel(ctx context.Context, userID, threadID string) (*model.TurnResponse, error)
	Get(ctx context.Context, userID, threadID string) (*checkpoint.Checkpoint, error)
	List(ctx context.Context, userID string, status state.Status, limit int) ([]*checkpoint.Checkpoint, error)
}

var _ Assistant = (*service.AssistantService)(nil)

// ThreadHandler handles thread endpoints.
type ThreadHandler struct {
	assistant Assistant
	logger    *logger.Logger
}

// NewThreadHandler creates a new thread handler.
func NewThreadHandler(a Assistant, log *logger.Logger) *ThreadHandler {
	return &ThreadHandler{
		assistant: a,
		logger:    log,
	}
}

// ThreadView is the read model of a thread.
type ThreadView struct {
	model.TurnResponse
	Intent    string          `json:"intent,omitempty"`
	Messages  []model.Message `json:"messages"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ThreadSummary is one row of a thread listing.
type ThreadSummary struct {
	ThreadID  string    `json:"thread_id"`
	Status    string    `json:"status"`
	Intent    string    `json:"intent,omitempty"`
	Suspended bool      `json:"suspended"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListThreadsResponse is returned by GET /api/v1/threads.
type ListThreadsResponse struct {
	Threads []ThreadSummary `json:"threads"`
}

func newThreadView(cp *checkpoint.Checkpoint) *ThreadView {
	return &ThreadView{
		TurnResponse: *service.Respond(cp),
		Intent:       string(cp.State.Intent),
		Messages:     cp.State.Messages,
		Version:      cp.Version,
		CreatedAt:    cp.CreatedAt,
		UpdatedAt:    cp.UpdatedAt,
	}
}

// Start handles POST /api/v1/threads
func (h *ThreadHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.StartThreadRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Identity comes from the token, never the body.
	req.UserID = middleware.GetUserID(ctx)
	if req.WorkspaceID == "" {
		req.WorkspaceID = middleware.GetWorkspaceID(ctx)
	}
	if err := middleware.ValidateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ThreadID != "" {
		if err := middleware.ValidateThreadID(req.ThreadID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	resp, err := h.assistant.Start(ctx, &req)
	if err != nil {
		h.fail(r, req.ThreadID, "start", err)
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// SendMessage handles POST /api/v1/threads/{id}/messages
func (h *ThreadHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.assistant.SendMessage(ctx, middleware.GetUserID(ctx), threadID, &req)
	if err != nil {
		h.fail(r, threadID, "message", err)
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Resume handles POST /api/v1/threads/{id}/resume
func (h *ThreadHandler) Resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	var req model.ResumeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.assistant.Resume(ctx, middleware.GetUserID(ctx), threadID, &req)
	if err != nil {
		h.fail(r, threadID, "resume", err)
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /api/v1/threads/{id}/cancel
func (h *ThreadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	resp, err := h.assistant.Cancel(ctx, middleware.GetUserID(ctx), threadID)
	if err != nil {
		h.fail(r, threadID, "cancel", err)
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/threads/{id}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID, ok := threadParam(w, r)
	if !ok {
		return
	}

	cp, err := h.assistant.Get(ctx, middleware.GetUserID(ctx), threadID)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newThreadView(cp))
}

// List handles GET /api/v1/threads
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryInt(r, "limit", 20, 100)

	status := state.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	cps, err := h.assistant.List(ctx, middleware.GetUserID(ctx), status, limit)
	if err != nil {
		h.logger.Error("failed to list threads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	resp := ListThreadsResponse{Threads: make([]ThreadSummary, 0, len(cps))}
	for _, cp := range cps {
		resp.Threads = append(resp.Threads, ThreadSummary{
			ThreadID:  cp.ThreadID,
			Status:    string(cp.State.Status),
			Intent:    string(cp.State.Intent),
			Suspended: cp.Suspended(),
			UpdatedAt: cp.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ThreadHandler) fail(r *http.Request, threadID, op string, err error) {
	ctx := r.Context()
	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), middleware.GetUserID(ctx), threadID)
	if errorStatus(err) == http.StatusInternalServerError {
		log.Error("turn failed", zap.String("op", op), zap.Error(err))
		return
	}
	log.Info("turn rejected", zap.String("op", op), zap.Error(err))
}

func threadParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
