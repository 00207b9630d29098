// Package domain defines the calendar collaborators the workflow calls once a
// request has been understood and confirmed.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
)

// Service performs calendar mutations and queries. GetEvent is scoped to what
// userID may see; an event outside that scope is not_found, like a missing one.
type Service interface {
	GetEvent(ctx context.Context, userID, id string) (model.CalendarEvent, error)
	CreateEvent(ctx context.Context, ev model.CalendarEvent) (string, error)
	UpdateEvent(ctx context.Context, id string, patch EventPatch) error
	DeleteEvent(ctx context.Context, id string) error
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.CalendarEvent, error)
}

// ConflictDetector answers overlap queries for a proposed time window.
type ConflictDetector interface {
	FindOverlapping(ctx context.Context, q model.OverlapQuery) (bool, error)
}

// ConflictFunc adapts a function to ConflictDetector.
type ConflictFunc func(ctx context.Context, q model.OverlapQuery) (bool, error)

// FindOverlapping calls f.
func (f ConflictFunc) FindOverlapping(ctx context.Context, q model.OverlapQuery) (bool, error) {
	return f(ctx, q)
}

// Resolver turns the names a user typed into the IDs the Service needs.
type Resolver interface {
	ResolveWorkspace(ctx context.Context, userID, name string) (string, error)
	// ResolveEvent only matches events visible to userID.
	ResolveEvent(ctx context.Context, userID, workspaceID, name string) (string, error)
	ResolveAssignees(ctx context.Context, workspaceID string, names []string) ([]string, error)
}

// EventPatch is a partial update of a calendar event. Nil fields are left alone.
type EventPatch struct {
	Name           *string    `json:"name,omitempty"`
	Start          *time.Time `json:"start,omitempty"`
	End            *time.Time `json:"end,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Location       *string    `json:"location,omitempty"`
	Status         *string    `json:"status,omitempty"`
	Color          *string    `json:"color,omitempty"`
	IsAllDay       *bool      `json:"isAllDay,omitempty"`
	RecurrenceRule *string    `json:"recurrenceRule,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	AssigneeIDs    []string   `json:"assigneeIds,omitempty"`
}

// ChangesTime reports whether the patch moves the event.
func (p EventPatch) ChangesTime() bool {
	return p.Start != nil || p.End != nil
}

// Apply returns ev with the patch applied.
func (p EventPatch) Apply(ev model.CalendarEvent) model.CalendarEvent {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&ev.Name, p.Name)
	set(&ev.Description, p.Description)
	set(&ev.Location, p.Location)
	set(&ev.Status, p.Status)
	set(&ev.Color, p.Color)
	set(&ev.RecurrenceRule, p.RecurrenceRule)
	if p.Start != nil {
		ev.Start = p.Start.UTC()
	}
	if p.End != nil {
		ev.End = p.End.UTC()
	}
	if p.IsAllDay != nil {
		ev.IsAllDay = *p.IsAllDay
	}
	if p.Tags != nil {
		ev.Tags = append([]string(nil), p.Tags...)
	}
	if p.AssigneeIDs != nil {
		ev.AssigneeIDs = append([]string(nil), p.AssigneeIDs...)
	}
	return ev
}

// Kind classifies a domain failure.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindInvalid     Kind = "invalid"
	KindUnavailable Kind = "unavailable"
)

// Error is a failed Service, ConflictDetector or Resolver call.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the text shown to the user for this failure.
func (e *Error) Message() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("I couldn't find that: %v.", e.Err)
	case KindConflict:
		return fmt.Sprintf("That change conflicts with existing data: %v.", e.Err)
	case KindInvalid:
		return fmt.Sprintf("That request isn't valid: %v.", e.Err)
	default:
		return "The calendar service is unavailable right now. Please try again later."
	}
}

// Errorf builds an Error of the given kind.
func Errorf(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or KindUnavailable for errors that are not domain errors.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return KindUnavailable
}

// AsError wraps any error as a domain Error for op, keeping existing domain errors.
func AsError(op string, err error) *Error {
	var derr *Error
	if errors.As(err, &derr) {
		return derr
	}
	return &Error{Op: op, Kind: KindUnavailable, Err: err}
}
