package model

import (
	"time"
)

// CalendarEvent is a scheduled event owned by a workspace.
type CalendarEvent struct {
	ID             string    `json:"id" msgpack:"id"`
	WorkspaceID    string    `json:"workspace_id" msgpack:"workspace_id"`
	CreatedBy      string    `json:"created_by,omitempty" msgpack:"created_by,omitempty"`
	Name           string    `json:"name" msgpack:"name"`
	Start          time.Time `json:"start" msgpack:"start"`
	End            time.Time `json:"end" msgpack:"end"`
	Description    string    `json:"description,omitempty" msgpack:"description,omitempty"`
	Location       string    `json:"location,omitempty" msgpack:"location,omitempty"`
	Status         string    `json:"status,omitempty" msgpack:"status,omitempty"`
	Color          string    `json:"color,omitempty" msgpack:"color,omitempty"`
	IsAllDay       bool      `json:"is_all_day,omitempty" msgpack:"is_all_day,omitempty"`
	RecurrenceRule string    `json:"recurrence_rule,omitempty" msgpack:"recurrence_rule,omitempty"`
	Tags           []string  `json:"tags,omitempty" msgpack:"tags,omitempty"`
	AssigneeIDs    []string  `json:"assignee_ids,omitempty" msgpack:"assignee_ids,omitempty"`
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two windows intersect.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// EventFilter narrows a listing of calendar events.
type EventFilter struct {
	UserID      string     `json:"user_id,omitempty"`
	WorkspaceID string     `json:"workspace_id,omitempty"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

// OverlapQuery asks whether any event in a workspace intersects Window.
type OverlapQuery struct {
	WorkspaceID    string     `json:"workspace_id,omitempty"`
	Window         TimeWindow `json:"window"`
	ExcludeEventID string     `json:"exclude_event_id,omitempty"`
}
