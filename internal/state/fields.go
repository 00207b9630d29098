package state

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Field names used in required/optional missing-field sets.
const (
	FieldName           = "name"
	FieldStart          = "start"
	FieldEnd            = "end"
	FieldWorkspace      = "workspace"
	FieldDescription    = "description"
	FieldLocation       = "location"
	FieldStatus         = "status"
	FieldColor          = "color"
	FieldIsAllDay       = "isAllDay"
	FieldRecurrenceRule = "recurrenceRule"
	FieldTags           = "tags"
	FieldAssignees      = "assignees"
	FieldEvent          = "event"
	FieldChanges        = "changes"
)

// FieldSet is a sorted, duplicate-free set of field names.
type FieldSet []string

// NewFieldSet builds a canonical set from names.
func NewFieldSet(names ...string) FieldSet {
	return FieldSet(names).canonical()
}

func (f FieldSet) canonical() FieldSet {
	if len(f) == 0 {
		return nil
	}
	out := slices.Clone(f)
	slices.Sort(out)
	return slices.Compact(out)
}

// Union returns the canonical union of both sets.
func (f FieldSet) Union(o FieldSet) FieldSet {
	return append(slices.Clone(f), o...).canonical()
}

// Contains reports whether name is in the set.
func (f FieldSet) Contains(name string) bool {
	return slices.Contains(f, name)
}

// Empty reports whether the set has no members.
func (f FieldSet) Empty() bool {
	return len(f) == 0
}

// EventFields is the information extracted about the event being created, changed or removed.
// A nil field means "not provided yet"; merging never clears a field.
type EventFields struct {
	Name           *string    `json:"name,omitempty" msgpack:"name,omitempty"`
	Start          *time.Time `json:"start,omitempty" msgpack:"start,omitempty"`
	End            *time.Time `json:"end,omitempty" msgpack:"end,omitempty"`
	WorkspaceID    *string    `json:"workspaceId,omitempty" msgpack:"workspaceId,omitempty"`
	WorkspaceName  *string    `json:"workspaceName,omitempty" msgpack:"workspaceName,omitempty"`
	Description    *string    `json:"description,omitempty" msgpack:"description,omitempty"`
	Location       *string    `json:"location,omitempty" msgpack:"location,omitempty"`
	Status         *string    `json:"status,omitempty" msgpack:"status,omitempty"`
	Color          *string    `json:"color,omitempty" msgpack:"color,omitempty"`
	IsAllDay       *bool      `json:"isAllDay,omitempty" msgpack:"isAllDay,omitempty"`
	RecurrenceRule *string    `json:"recurrenceRule,omitempty" msgpack:"recurrenceRule,omitempty"`
	Tags           []string   `json:"tags,omitempty" msgpack:"tags,omitempty"`
	AssigneeIDs    []string   `json:"assigneeIds,omitempty" msgpack:"assigneeIds,omitempty"`
	AssigneeNames  []string   `json:"assigneeNames,omitempty" msgpack:"assigneeNames,omitempty"`
	EventName      *string    `json:"eventName,omitempty" msgpack:"eventName,omitempty"`
	EventID        *string    `json:"eventId,omitempty" msgpack:"eventId,omitempty"`
}

// HasWorkspace reports whether either workspace reference is present.
func (f EventFields) HasWorkspace() bool {
	return nonEmpty(f.WorkspaceID) || nonEmpty(f.WorkspaceName)
}

// HasEventRef reports whether the target event of an update or delete is identified.
func (f EventFields) HasEventRef() bool {
	return nonEmpty(f.EventID) || nonEmpty(f.EventName)
}

// HasChanges reports whether at least one updatable field is present.
func (f EventFields) HasChanges() bool {
	return nonEmpty(f.Name) || f.Start != nil || f.End != nil ||
		nonEmpty(f.Description) || nonEmpty(f.Location) || nonEmpty(f.Status) ||
		nonEmpty(f.Color) || f.IsAllDay != nil || nonEmpty(f.RecurrenceRule) ||
		len(f.Tags) > 0 || len(f.AssigneeIDs) > 0 || len(f.AssigneeNames) > 0
}

// Merge overlays o onto f key by key; fields absent from o are preserved.
func (f EventFields) Merge(o EventFields) EventFields {
	f.Name = pick(f.Name, o.Name)
	f.Start = pick(f.Start, o.Start)
	f.End = pick(f.End, o.End)
	f.WorkspaceID = pick(f.WorkspaceID, o.WorkspaceID)
	f.WorkspaceName = pick(f.WorkspaceName, o.WorkspaceName)
	f.Description = pick(f.Description, o.Description)
	f.Location = pick(f.Location, o.Location)
	f.Status = pick(f.Status, o.Status)
	f.Color = pick(f.Color, o.Color)
	f.IsAllDay = pick(f.IsAllDay, o.IsAllDay)
	f.RecurrenceRule = pick(f.RecurrenceRule, o.RecurrenceRule)
	f.Tags = pickSlice(f.Tags, o.Tags)
	f.AssigneeIDs = pickSlice(f.AssigneeIDs, o.AssigneeIDs)
	f.AssigneeNames = pickSlice(f.AssigneeNames, o.AssigneeNames)
	f.EventName = pick(f.EventName, o.EventName)
	f.EventID = pick(f.EventID, o.EventID)
	return f.normalize()
}

func (f EventFields) normalize() EventFields {
	if f.Start != nil {
		f.Start = Ptr(f.Start.UTC())
	}
	if f.End != nil {
		f.End = Ptr(f.End.UTC())
	}
	f.Tags = nilIfEmpty(f.Tags)
	f.AssigneeIDs = nilIfEmpty(f.AssigneeIDs)
	f.AssigneeNames = nilIfEmpty(f.AssigneeNames)
	return f
}

// Window returns the event's time window when both ends are known.
func (f EventFields) Window() (start, end time.Time, ok bool) {
	if f.Start == nil || f.End == nil {
		return time.Time{}, time.Time{}, false
	}
	return *f.Start, *f.End, true
}

// FieldsFromMap converts an untrusted classifier map into EventFields.
// Unrecognised keys and values of the wrong shape are reported and skipped.
func FieldsFromMap(raw map[string]any) (EventFields, []string) {
	var f EventFields
	var rejected []string
	for key, value := range raw {
		if value == nil {
			continue
		}
		ok := true
		switch normalizeKey(key) {
		case "name", "title":
			f.Name, ok = asString(value)
		case "start", "starttime", "startdate":
			f.Start, ok = asTime(value)
		case "end", "endtime", "enddate":
			f.End, ok = asTime(value)
		case "workspaceid":
			f.WorkspaceID, ok = asString(value)
		case "workspace", "workspacename":
			f.WorkspaceName, ok = asString(value)
		case "description":
			f.Description, ok = asString(value)
		case "location":
			f.Location, ok = asString(value)
		case "status":
			f.Status, ok = asString(value)
		case "color":
			f.Color, ok = asString(value)
		case "isallday", "allday":
			f.IsAllDay, ok = asBool(value)
		case "recurrencerule", "recurrence", "rrule":
			f.RecurrenceRule, ok = asString(value)
		case "tags":
			f.Tags, ok = asStrings(value)
		case "assigneeids":
			f.AssigneeIDs, ok = asStrings(value)
		case "assigneenames", "assignees":
			f.AssigneeNames, ok = asStrings(value)
		case "eventname":
			f.EventName, ok = asString(value)
		case "eventid", "id":
			f.EventID, ok = asString(value)
		default:
			ok = false
		}
		if !ok {
			rejected = append(rejected, key)
		}
	}
	slices.Sort(rejected)
	return f.normalize(), rejected
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func pick[T any](old, incoming *T) *T {
	if incoming != nil {
		return incoming
	}
	return old
}

func pickSlice[T any](old, incoming []T) []T {
	if incoming != nil {
		return slices.Clone(incoming)
	}
	return old
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

func asString(v any) (*string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, true
		}
		return &s, true
	case fmt.Stringer:
		s := t.String()
		return &s, true
	}
	return nil, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func asTime(v any) (*time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return Ptr(t.UTC()), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return Ptr(parsed.UTC()), true
			}
		}
	}
	return nil, false
}

func asBool(v any) (*bool, bool) {
	switch t := v.(type) {
	case bool:
		return &t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, false
		}
		return &b, true
	}
	return nil, false
}

func asStrings(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return nilIfEmpty(t), true
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return nilIfEmpty(out), true
	}
	return nil, false
}
