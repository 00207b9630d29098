package state

import (
	"slices"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
)

// Patch is the partial state a node emits for one graph step.
//
// Merge policy per field:
//   - pointer fields: overwrite if present (nil leaves the old value alone)
//   - ExtractedInfo: key-by-key merge, see EventFields.Merge
//   - Messages: appended
//   - OptionalFieldsMissing: set union
//   - RequiredFieldsMissing: overwrite (authoritative, recomputed by validators)
//   - UserID, WorkspaceID, ThreadID: set once, ignored after
type Patch struct {
	Messages []model.Message

	Intent     *Intent
	Confidence *float64

	ExtractedInfo         *EventFields
	RequiredFieldsMissing *FieldSet
	OptionalFieldsMissing FieldSet

	Status            *Status
	IsValid           *bool
	ValidationMessage *string
	HasConflict       *bool

	NeedsClarification *bool
	Response           *string
	SuggestedResponses *[]string

	UserID      *string
	WorkspaceID *string
	ThreadID    *string

	CreatedEventID *string
	Events         *[]model.CalendarEvent
	Error          *string
}

// Empty reports whether applying the patch would change nothing.
func (p Patch) Empty() bool {
	return len(p.Messages) == 0 && p.Intent == nil && p.Confidence == nil &&
		p.ExtractedInfo == nil && p.RequiredFieldsMissing == nil && len(p.OptionalFieldsMissing) == 0 &&
		p.Status == nil && p.IsValid == nil && p.ValidationMessage == nil && p.HasConflict == nil &&
		p.NeedsClarification == nil && p.Response == nil && p.SuggestedResponses == nil &&
		p.UserID == nil && p.WorkspaceID == nil && p.ThreadID == nil &&
		p.CreatedEventID == nil && p.Events == nil && p.Error == nil
}

// Reduce folds p into s. It is a pure function of its arguments and never
// aliases s's collections, so the old state stays valid after the call.
func Reduce(s ConversationState, p Patch) ConversationState {
	out := s
	out.Messages = appendMessages(s.Messages, p.Messages)

	out.Intent = overwrite(s.Intent, p.Intent)
	out.Confidence = overwrite(s.Confidence, p.Confidence)

	if p.ExtractedInfo != nil {
		out.ExtractedInfo = s.ExtractedInfo.Merge(*p.ExtractedInfo)
	}
	if p.RequiredFieldsMissing != nil {
		out.RequiredFieldsMissing = p.RequiredFieldsMissing.canonical()
	} else {
		out.RequiredFieldsMissing = s.RequiredFieldsMissing.canonical()
	}
	out.OptionalFieldsMissing = s.OptionalFieldsMissing.Union(p.OptionalFieldsMissing)

	out.Status = overwrite(s.Status, p.Status)
	out.IsValid = overwrite(s.IsValid, p.IsValid)
	out.ValidationMessage = overwrite(s.ValidationMessage, p.ValidationMessage)
	out.HasConflict = overwrite(s.HasConflict, p.HasConflict)

	out.NeedsClarification = overwrite(s.NeedsClarification, p.NeedsClarification)
	out.Response = overwrite(s.Response, p.Response)
	if p.SuggestedResponses != nil {
		out.SuggestedResponses = nilIfEmpty(*p.SuggestedResponses)
	} else {
		out.SuggestedResponses = nilIfEmpty(s.SuggestedResponses)
	}

	out.UserID = setOnce(s.UserID, p.UserID)
	out.WorkspaceID = setOnce(s.WorkspaceID, p.WorkspaceID)
	out.ThreadID = setOnce(s.ThreadID, p.ThreadID)

	out.CreatedEventID = overwrite(s.CreatedEventID, p.CreatedEventID)
	if p.Events != nil {
		out.Events = canonicalEvents(*p.Events)
	} else {
		out.Events = canonicalEvents(s.Events)
	}
	out.Error = overwrite(s.Error, p.Error)
	return out
}

func overwrite[T any](old T, incoming *T) T {
	if incoming != nil {
		return *incoming
	}
	return old
}

func setOnce(old string, incoming *string) string {
	if old != "" || incoming == nil {
		return old
	}
	return *incoming
}

func appendMessages(old, incoming []model.Message) []model.Message {
	if len(old) == 0 && len(incoming) == 0 {
		return nil
	}
	out := slices.Grow(slices.Clone(old), len(incoming))
	for _, m := range incoming {
		m.Timestamp = utc(m.Timestamp)
		out = append(out, m)
	}
	return canonicalMessages(out)
}
