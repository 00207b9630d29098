package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/domain"
	"github.com/capitalize-ai/scheduling-assistant/internal/graph"
	"github.com/capitalize-ai/scheduling-assistant/internal/llm"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

const chatSystemPrompt = "You are a friendly calendar assistant. Answer briefly, and steer the user toward " +
	"creating, updating, deleting or listing calendar events."

// workspaceID resolves the workspace the request refers to, falling back to the
// thread's workspace. When required is false an unknown workspace yields "".
func (n *nodes) workspaceID(ctx context.Context, s state.ConversationState, required bool) (string, error) {
	f := s.ExtractedInfo
	switch {
	case f.WorkspaceID != nil:
		return *f.WorkspaceID, nil
	case f.WorkspaceName != nil:
		if n.deps.Resolver == nil {
			return "", domain.Errorf("resolve_workspace", domain.KindNotFound, "workspace %q", *f.WorkspaceName)
		}
		return n.deps.Resolver.ResolveWorkspace(ctx, s.UserID, *f.WorkspaceName)
	case s.WorkspaceID != "":
		return s.WorkspaceID, nil
	case required:
		return "", domain.Errorf("resolve_workspace", domain.KindInvalid, "no workspace given")
	}
	return "", nil
}

func (n *nodes) eventID(ctx context.Context, s state.ConversationState, workspaceID string) (string, error) {
	f := s.ExtractedInfo
	switch {
	case f.EventID != nil:
		return *f.EventID, nil
	case f.EventName != nil:
		if n.deps.Resolver == nil {
			return "", domain.Errorf("resolve_event", domain.KindNotFound, "event %q", *f.EventName)
		}
		return n.deps.Resolver.ResolveEvent(ctx, s.UserID, workspaceID, *f.EventName)
	}
	return "", domain.Errorf("resolve_event", domain.KindInvalid, "no event given")
}

// targetEvent loads the event an update or delete refers to. Events the user
// cannot see are not_found, even when named by ID.
func (n *nodes) targetEvent(ctx context.Context, s state.ConversationState) (model.CalendarEvent, error) {
	ws, err := n.workspaceID(ctx, s, false)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	id, err := n.eventID(ctx, s, ws)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	return n.deps.Events.GetEvent(ctx, s.UserID, id)
}

func (n *nodes) assigneeIDs(ctx context.Context, f state.EventFields, workspaceID string) ([]string, error) {
	ids := append([]string(nil), f.AssigneeIDs...)
	if len(f.AssigneeNames) == 0 {
		return ids, nil
	}
	if n.deps.Resolver == nil {
		return nil, domain.Errorf("resolve_assignees", domain.KindNotFound, "assignees %v", f.AssigneeNames)
	}
	resolved, err := n.deps.Resolver.ResolveAssignees(ctx, workspaceID, f.AssigneeNames)
	if err != nil {
		return nil, err
	}
	return append(ids, resolved...), nil
}

func (n *nodes) executeCreate(ctx context.Context, in graph.Input) (graph.Result, error) {
	s := in.State
	f := s.ExtractedInfo
	if missing := Missing(state.IntentCreateEvent, f); !missing.Empty() {
		return n.failed(in.ThreadID, "create_event",
			domain.Errorf("create_event", domain.KindInvalid, "missing %s", joinList(missing))), nil
	}

	ws, err := n.workspaceID(ctx, s, true)
	if err != nil {
		return n.failed(in.ThreadID, "resolve_workspace", err), nil
	}
	assignees, err := n.assigneeIDs(ctx, f, ws)
	if err != nil {
		return n.failed(in.ThreadID, "resolve_assignees", err), nil
	}

	ev := model.CalendarEvent{
		WorkspaceID:    ws,
		CreatedBy:      s.UserID,
		Name:           *f.Name,
		Start:          f.Start.UTC(),
		End:            f.End.UTC(),
		Description:    deref(f.Description),
		Location:       deref(f.Location),
		Status:         deref(f.Status),
		Color:          deref(f.Color),
		RecurrenceRule: deref(f.RecurrenceRule),
		Tags:           append([]string(nil), f.Tags...),
		AssigneeIDs:    assignees,
	}
	if f.IsAllDay != nil {
		ev.IsAllDay = *f.IsAllDay
	}

	id, err := n.deps.Events.CreateEvent(ctx, ev)
	if err != nil {
		return n.failed(in.ThreadID, "create_event", err), nil
	}

	n.log.Info("event created",
		zap.String("thread_id", in.ThreadID),
		zap.String("event_id", id),
		zap.String("workspace_id", ws))
	p := n.finish(state.StatusCompleted, fmt.Sprintf("Done! %q is on your calendar for %s.", ev.Name, describeWindow(f)), nil)
	p.CreatedEventID = state.Ptr(id)
	return graph.Terminal(p), nil
}

func (n *nodes) executeUpdate(ctx context.Context, in graph.Input) (graph.Result, error) {
	s := in.State
	f := s.ExtractedInfo

	ev, err := n.targetEvent(ctx, s)
	if err != nil {
		return n.failed(in.ThreadID, "resolve_event", err), nil
	}
	var assignees []string
	if len(f.AssigneeIDs) > 0 || len(f.AssigneeNames) > 0 {
		if assignees, err = n.assigneeIDs(ctx, f, ev.WorkspaceID); err != nil {
			return n.failed(in.ThreadID, "resolve_assignees", err), nil
		}
	}

	patch := domain.EventPatch{
		Name:           f.Name,
		Description:    f.Description,
		Location:       f.Location,
		Status:         f.Status,
		Color:          f.Color,
		IsAllDay:       f.IsAllDay,
		RecurrenceRule: f.RecurrenceRule,
		Tags:           f.Tags,
		AssigneeIDs:    assignees,
	}
	if f.Start != nil || f.End != nil {
		w := updateWindow(f, ev)
		patch.Start, patch.End = &w.Start, &w.End
	}
	if err := n.deps.Events.UpdateEvent(ctx, ev.ID, patch); err != nil {
		return n.failed(in.ThreadID, "update_event", err), nil
	}

	n.log.Info("event updated",
		zap.String("thread_id", in.ThreadID),
		zap.String("event_id", ev.ID))
	return graph.Terminal(n.finish(state.StatusCompleted, fmt.Sprintf("Done! I've updated %s.", eventRef(f)), nil)), nil
}

func (n *nodes) executeDelete(ctx context.Context, in graph.Input) (graph.Result, error) {
	s := in.State

	ev, err := n.targetEvent(ctx, s)
	if err != nil {
		return n.failed(in.ThreadID, "resolve_event", err), nil
	}
	if err := n.deps.Events.DeleteEvent(ctx, ev.ID); err != nil {
		return n.failed(in.ThreadID, "delete_event", err), nil
	}

	n.log.Info("event deleted",
		zap.String("thread_id", in.ThreadID),
		zap.String("event_id", ev.ID))
	return graph.Terminal(n.finish(state.StatusCompleted, fmt.Sprintf("Done! I've deleted %s.", eventRef(s.ExtractedInfo)), nil)), nil
}

func (n *nodes) executeList(ctx context.Context, in graph.Input) (graph.Result, error) {
	s := in.State
	f := s.ExtractedInfo

	ws, err := n.workspaceID(ctx, s, false)
	if err != nil {
		return n.failed(in.ThreadID, "resolve_workspace", err), nil
	}
	events, err := n.deps.Events.ListEvents(ctx, model.EventFilter{
		UserID:      s.UserID,
		WorkspaceID: ws,
		From:        f.Start,
		To:          f.End,
	})
	if err != nil {
		return n.failed(in.ThreadID, "list_events", err), nil
	}

	p := n.finish(state.StatusCompleted, listReply(events), nil)
	p.Events = &events
	return graph.Terminal(p), nil
}

func (n *nodes) handleClarification(_ context.Context, _ graph.Input) (graph.Result, error) {
	p := n.finish(state.StatusCompleted, clarifyReply, clarifySuggestions)
	p.NeedsClarification = state.Ptr(true)
	return graph.Terminal(p), nil
}

func (n *nodes) handleOffTopic(_ context.Context, _ graph.Input) (graph.Result, error) {
	return graph.Terminal(n.finish(state.StatusCompleted, offTopicReply, nil)), nil
}

func (n *nodes) handleGeneralChat(ctx context.Context, in graph.Input) (graph.Result, error) {
	reply := chatReply
	if n.deps.Chat != nil {
		history := model.History(in.History())
		messages := make([]llm.ChatMessage, len(history))
		for i, m := range history {
			messages[i] = llm.ChatMessage{Role: m.Role, Content: m.Content}
		}
		resp, err := n.deps.Chat.Complete(ctx, &llm.CompletionRequest{
			Model:       n.deps.ChatModel,
			System:      chatSystemPrompt,
			Messages:    messages,
			MaxTokens:   300,
			Temperature: 0.7,
		})
		switch {
		case err != nil:
			n.log.Warn("chat completion failed, using fixed reply",
				zap.String("thread_id", in.ThreadID),
				zap.Error(err))
		case resp.Content != "":
			reply = resp.Content
		}
	}
	return graph.Terminal(n.finish(state.StatusCompleted, reply, nil)), nil
}
