package domain

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
)

// Workspace is a calendar owned by a set of members.
type Workspace struct {
	ID      string
	Name    string
	Members map[string]string // user ID -> display name
}

// Memory is an in-process Backend for the dev server and tests.
type Memory struct {
	mu         sync.RWMutex
	workspaces map[string]Workspace
	events     map[string]model.CalendarEvent
	newID      func() string
}

// NewMemory creates an empty backend with the given workspaces.
func NewMemory(workspaces ...Workspace) *Memory {
	m := &Memory{
		workspaces: make(map[string]Workspace),
		events:     make(map[string]model.CalendarEvent),
		newID:      uuid.NewString,
	}
	for _, ws := range workspaces {
		m.workspaces[ws.ID] = ws
	}
	return m
}

// WithIDs sets the event ID generator.
func (m *Memory) WithIDs(newID func() string) *Memory {
	m.newID = newID
	return m
}

// Seed stores events as-is, replacing any with the same ID.
func (m *Memory) Seed(events ...model.CalendarEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.events[ev.ID] = ev
	}
}

// Event returns a stored event.
func (m *Memory) Event(id string) (model.CalendarEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	return ev, ok
}

func (m *Memory) GetEvent(_ context.Context, userID, id string) (model.CalendarEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok || !m.visibleTo(ev, userID) {
		return model.CalendarEvent{}, Errorf("get_event", KindNotFound, "event %q", id)
	}
	return ev, nil
}

func (m *Memory) CreateEvent(_ context.Context, ev model.CalendarEvent) (string, error) {
	const op = "create_event"
	if strings.TrimSpace(ev.Name) == "" {
		return "", Errorf(op, KindInvalid, "event name is required")
	}
	if !ev.End.After(ev.Start) {
		return "", Errorf(op, KindInvalid, "event must end after it starts")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[ev.WorkspaceID]; !ok {
		return "", Errorf(op, KindNotFound, "workspace %q", ev.WorkspaceID)
	}
	ev.ID = m.newID()
	ev.Start = ev.Start.UTC()
	ev.End = ev.End.UTC()
	m.events[ev.ID] = ev
	return ev.ID, nil
}

func (m *Memory) UpdateEvent(_ context.Context, id string, patch EventPatch) error {
	const op = "update_event"
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return Errorf(op, KindNotFound, "event %q", id)
	}
	next := patch.Apply(ev)
	if strings.TrimSpace(next.Name) == "" {
		return Errorf(op, KindInvalid, "event name is required")
	}
	if !next.End.After(next.Start) {
		return Errorf(op, KindInvalid, "event must end after it starts")
	}
	m.events[id] = next
	return nil
}

func (m *Memory) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return Errorf("delete_event", KindNotFound, "event %q", id)
	}
	delete(m.events, id)
	return nil
}

// ListEvents returns matching events ordered by start time.
func (m *Memory) ListEvents(_ context.Context, filter model.EventFilter) ([]model.CalendarEvent, error) {
	if filter.Limit < 0 {
		return nil, Errorf("list_events", KindInvalid, "negative limit")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.CalendarEvent
	for _, ev := range m.events {
		if filter.WorkspaceID != "" && ev.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.WorkspaceID == "" && filter.UserID != "" && !m.visibleTo(ev, filter.UserID) {
			continue
		}
		if filter.From != nil && !ev.End.After(*filter.From) {
			continue
		}
		if filter.To != nil && !ev.Start.Before(*filter.To) {
			continue
		}
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b model.CalendarEvent) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) visibleTo(ev model.CalendarEvent, userID string) bool {
	if ev.CreatedBy == userID || slices.Contains(ev.AssigneeIDs, userID) {
		return true
	}
	_, member := m.workspaces[ev.WorkspaceID].Members[userID]
	return member
}

// FindOverlapping reports whether any event in the workspace intersects the window.
func (m *Memory) FindOverlapping(_ context.Context, q model.OverlapQuery) (bool, error) {
	if !q.Window.End.After(q.Window.Start) {
		return false, Errorf("find_overlapping", KindInvalid, "empty time window")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, ev := range m.events {
		if id == q.ExcludeEventID {
			continue
		}
		if q.WorkspaceID != "" && ev.WorkspaceID != q.WorkspaceID {
			continue
		}
		if q.Window.Overlaps(model.TimeWindow{Start: ev.Start, End: ev.End}) {
			return true, nil
		}
	}
	return false, nil
}

// ResolveWorkspace matches a workspace name case-insensitively. A name that is
// already a workspace ID resolves to itself.
func (m *Memory) ResolveWorkspace(_ context.Context, userID, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.workspaces[name]; ok {
		return name, nil
	}
	for _, ws := range m.sortedWorkspaces() {
		if !strings.EqualFold(ws.Name, strings.TrimSpace(name)) {
			continue
		}
		if _, member := ws.Members[userID]; member || len(ws.Members) == 0 {
			return ws.ID, nil
		}
	}
	return "", Errorf("resolve_workspace", KindNotFound, "workspace %q", name)
}

// ResolveEvent matches an event name case-insensitively among the events
// userID can see, picking the earliest on ties.
func (m *Memory) ResolveEvent(_ context.Context, userID, workspaceID, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ev, ok := m.events[name]; ok && m.visibleTo(ev, userID) {
		return name, nil
	}
	var match *model.CalendarEvent
	for _, ev := range m.events {
		if workspaceID != "" && ev.WorkspaceID != workspaceID {
			continue
		}
		if !m.visibleTo(ev, userID) {
			continue
		}
		if !strings.EqualFold(ev.Name, strings.TrimSpace(name)) {
			continue
		}
		if match == nil || ev.Start.Before(match.Start) || (ev.Start.Equal(match.Start) && ev.ID < match.ID) {
			found := ev
			match = &found
		}
	}
	if match == nil {
		return "", Errorf("resolve_event", KindNotFound, "event %q", name)
	}
	return match.ID, nil
}

// ResolveAssignees maps member display names to user IDs.
func (m *Memory) ResolveAssignees(_ context.Context, workspaceID string, names []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return nil, Errorf("resolve_assignees", KindNotFound, "workspace %q", workspaceID)
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, found := "", false
		for uid, display := range ws.Members {
			if strings.EqualFold(display, strings.TrimSpace(name)) && (!found || uid < id) {
				id, found = uid, true
			}
		}
		if !found {
			return nil, Errorf("resolve_assignees", KindNotFound, "member %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) sortedWorkspaces() []Workspace {
	out := make([]Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		out = append(out, ws)
	}
	slices.SortFunc(out, func(a, b Workspace) int { return strings.Compare(a.ID, b.ID) })
	return out
}
