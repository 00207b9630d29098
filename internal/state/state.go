// Package state holds the conversation record threaded through the workflow graph
// and the per-field merge policy used to fold node patches into it.
package state

import (
	"slices"
	"time"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
)

// Intent is the classified purpose of the user's latest message.
type Intent string

const (
	IntentCreateEvent Intent = "create_event"
	IntentUpdateEvent Intent = "update_event"
	IntentDeleteEvent Intent = "delete_event"
	IntentListEvents  Intent = "list_events"
	IntentGeneralChat Intent = "general_chat"
	IntentOffTopic    Intent = "off_topic"
	IntentUnknown     Intent = "unknown"
)

// Intents returns every intent value the classifier may produce.
func Intents() []Intent {
	return []Intent{
		IntentCreateEvent,
		IntentUpdateEvent,
		IntentDeleteEvent,
		IntentListEvents,
		IntentGeneralChat,
		IntentOffTopic,
		IntentUnknown,
	}
}

// ParseIntent maps a classifier label onto an Intent, falling back to IntentUnknown.
func ParseIntent(s string) Intent {
	for _, in := range Intents() {
		if string(in) == s {
			return in
		}
	}
	return IntentUnknown
}

// Mutating reports whether the intent changes calendar data.
func (i Intent) Mutating() bool {
	return i == IntentCreateEvent || i == IntentUpdateEvent || i == IntentDeleteEvent
}

// Status is the workflow phase, independent of which graph node is running.
type Status string

const (
	StatusDetectingIntent      Status = "detecting_intent"
	StatusCollectingInfo       Status = "collecting_info"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusCheckingConflicts    Status = "checking_conflicts"
	StatusExecuting            Status = "executing"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
)

// Terminal reports whether no further graph steps may run for this turn.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

func (s Status) rank() int {
	switch s {
	case StatusDetectingIntent:
		return 0
	case StatusCollectingInfo:
		return 1
	case StatusAwaitingConfirmation:
		return 2
	case StatusCheckingConflicts:
		return 3
	case StatusExecuting:
		return 4
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 5
	}
	return -1
}

// CanTransition reports whether moving from one status to another respects the
// forward-only state machine. Staying in place covers the slot-filling loop.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	return to.rank() > from.rank()
}

// ConversationState is the single record a thread's graph steps read and patch.
type ConversationState struct {
	Messages []model.Message `json:"messages" msgpack:"messages"`

	Intent     Intent  `json:"intent,omitempty" msgpack:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty" msgpack:"confidence,omitempty"`

	ExtractedInfo         EventFields `json:"extractedInfo" msgpack:"extractedInfo"`
	RequiredFieldsMissing FieldSet    `json:"requiredFieldsMissing" msgpack:"requiredFieldsMissing"`
	OptionalFieldsMissing FieldSet    `json:"optionalFieldsMissing" msgpack:"optionalFieldsMissing"`

	Status            Status `json:"status" msgpack:"status"`
	IsValid           bool   `json:"isValid" msgpack:"isValid"`
	ValidationMessage string `json:"validationMessage,omitempty" msgpack:"validationMessage,omitempty"`
	HasConflict       bool   `json:"hasConflict" msgpack:"hasConflict"`

	NeedsClarification bool     `json:"needsClarification,omitempty" msgpack:"needsClarification,omitempty"`
	Response           string   `json:"response,omitempty" msgpack:"response,omitempty"`
	SuggestedResponses []string `json:"suggestedResponses" msgpack:"suggestedResponses"`

	UserID      string `json:"userId" msgpack:"userId"`
	WorkspaceID string `json:"workspaceId,omitempty" msgpack:"workspaceId,omitempty"`
	ThreadID    string `json:"threadId" msgpack:"threadId"`

	CreatedEventID string                `json:"createdEventId,omitempty" msgpack:"createdEventId,omitempty"`
	Events         []model.CalendarEvent `json:"events" msgpack:"events"`
	Error          string                `json:"error,omitempty" msgpack:"error,omitempty"`
}

// New returns the empty state of a freshly created thread.
func New(threadID, userID, workspaceID string) ConversationState {
	return ConversationState{
		ThreadID:    threadID,
		UserID:      userID,
		WorkspaceID: workspaceID,
		Status:      StatusDetectingIntent,
	}
}

// NextTurn starts a new turn on a thread that finished its previous one.
// History and identity survive; every per-turn field is reset.
func (s ConversationState) NextTurn() ConversationState {
	next := New(s.ThreadID, s.UserID, s.WorkspaceID)
	next.Messages = slices.Clone(s.Messages)
	return next
}

// LastUserMessage returns the most recent user message content.
func (s ConversationState) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == model.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Normalize puts the state in canonical form: times in UTC, empty collections as nil.
func (s ConversationState) Normalize() ConversationState {
	s.Messages = canonicalMessages(s.Messages)
	s.ExtractedInfo = s.ExtractedInfo.normalize()
	s.RequiredFieldsMissing = s.RequiredFieldsMissing.canonical()
	s.OptionalFieldsMissing = s.OptionalFieldsMissing.canonical()
	s.SuggestedResponses = nilIfEmpty(s.SuggestedResponses)
	s.Events = canonicalEvents(s.Events)
	return s
}

func canonicalMessages(in []model.Message) []model.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Message, len(in))
	for i, m := range in {
		m.Timestamp = utc(m.Timestamp)
		out[i] = m
	}
	return out
}

func canonicalEvents(in []model.CalendarEvent) []model.CalendarEvent {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.CalendarEvent, len(in))
	for i, ev := range in {
		ev.Start = utc(ev.Start)
		ev.End = utc(ev.End)
		ev.Tags = nilIfEmpty(ev.Tags)
		ev.AssigneeIDs = nilIfEmpty(ev.AssigneeIDs)
		out[i] = ev
	}
	return out
}

func nilIfEmpty[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	return slices.Clone(in)
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
