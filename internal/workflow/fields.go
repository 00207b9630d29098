package workflow

import (
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

// updateWindow is the time an update moves ev to. A new start alone keeps the
// event's duration; a new end alone keeps its start.
func updateWindow(f state.EventFields, ev model.CalendarEvent) model.TimeWindow {
	w := model.TimeWindow{Start: ev.Start, End: ev.End}
	switch {
	case f.Start != nil && f.End != nil:
		w.Start, w.End = f.Start.UTC(), f.End.UTC()
	case f.Start != nil:
		w.Start = f.Start.UTC()
		w.End = w.Start.Add(ev.End.Sub(ev.Start))
	case f.End != nil:
		w.End = f.End.UTC()
	}
	return w
}

// Missing returns the required fields intent still needs from f. An end time
// that is not after the start counts as missing.
func Missing(intent state.Intent, f state.EventFields) state.FieldSet {
	var missing []string
	switch intent {
	case state.IntentCreateEvent:
		if f.Name == nil {
			missing = append(missing, state.FieldName)
		}
		if f.Start == nil {
			missing = append(missing, state.FieldStart)
		}
		if f.End == nil || (f.Start != nil && !f.End.After(*f.Start)) {
			missing = append(missing, state.FieldEnd)
		}
		if !f.HasWorkspace() {
			missing = append(missing, state.FieldWorkspace)
		}
	case state.IntentUpdateEvent:
		if !f.HasEventRef() {
			missing = append(missing, state.FieldEvent)
		}
		if !f.HasChanges() {
			missing = append(missing, state.FieldChanges)
		}
		if f.Start != nil && f.End != nil && !f.End.After(*f.Start) {
			missing = append(missing, state.FieldEnd)
		}
	case state.IntentDeleteEvent:
		if !f.HasEventRef() {
			missing = append(missing, state.FieldEvent)
		}
	}
	return state.NewFieldSet(missing...)
}

// OptionalMissing returns the optional create fields f leaves out.
func OptionalMissing(intent state.Intent, f state.EventFields) state.FieldSet {
	if intent != state.IntentCreateEvent {
		return nil
	}
	var missing []string
	if f.Description == nil {
		missing = append(missing, state.FieldDescription)
	}
	if f.Location == nil {
		missing = append(missing, state.FieldLocation)
	}
	if f.Color == nil {
		missing = append(missing, state.FieldColor)
	}
	if f.IsAllDay == nil {
		missing = append(missing, state.FieldIsAllDay)
	}
	if f.RecurrenceRule == nil {
		missing = append(missing, state.FieldRecurrenceRule)
	}
	if len(f.Tags) == 0 {
		missing = append(missing, state.FieldTags)
	}
	if len(f.AssigneeIDs) == 0 && len(f.AssigneeNames) == 0 {
		missing = append(missing, state.FieldAssignees)
	}
	return state.NewFieldSet(missing...)
}

var fieldLabels = map[string]string{
	state.FieldName:      "the event name",
	state.FieldStart:     "the start time",
	state.FieldEnd:       "the end time",
	state.FieldWorkspace: "the workspace",
	state.FieldEvent:     "which event you mean",
	state.FieldChanges:   "what you'd like to change",
}

func fieldLabel(name string) string {
	if l, ok := fieldLabels[name]; ok {
		return l
	}
	return name
}
