package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

const (
	clarifyReply  = "I'm not sure what you'd like to do. I can create, update, delete or list calendar events. Could you rephrase?"
	offTopicReply = "I can only help with your calendar: creating, updating, deleting and listing events."
	chatReply     = "Hi! I can help you manage your calendar. Try \"Schedule a team sync tomorrow at 10am\"."
	cancelReply   = "Okay, I won't make any changes."
)

var (
	clarifySuggestions  = []string{"Create an event", "Show my events"}
	confirmSuggestions  = []string{"Yes", "No"}
	conflictSuggestions = []string{"Proceed anyway", "Cancel"}
)

const timeLayout = "Mon, Jan 2 3:04 PM"

// joinList renders a, b and c.
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func askForFields(intent state.Intent, missing state.FieldSet) string {
	labels := make([]string, len(missing))
	for i, name := range missing {
		labels[i] = fieldLabel(name)
	}
	var verb string
	switch intent {
	case state.IntentUpdateEvent:
		verb = "update"
	case state.IntentDeleteEvent:
		verb = "delete"
	default:
		verb = "create"
	}
	return fmt.Sprintf("To %s this event I still need %s.", verb, joinList(labels))
}

func describeWindow(f state.EventFields) string {
	switch {
	case f.Start != nil && f.End != nil:
		return fmt.Sprintf("%s - %s UTC", f.Start.UTC().Format(timeLayout), f.End.UTC().Format(timeLayout))
	case f.Start != nil:
		return "starting " + f.Start.UTC().Format(timeLayout) + " UTC"
	case f.End != nil:
		return "ending " + f.End.UTC().Format(timeLayout) + " UTC"
	}
	return ""
}

func eventRef(f state.EventFields) string {
	if f.EventName != nil {
		return fmt.Sprintf("%q", *f.EventName)
	}
	if f.EventID != nil {
		return "event " + *f.EventID
	}
	return "the event"
}

func workspaceRef(f state.EventFields) string {
	if f.WorkspaceName != nil {
		return *f.WorkspaceName
	}
	if f.WorkspaceID != nil {
		return *f.WorkspaceID
	}
	return ""
}

func confirmPrompt(intent state.Intent, f state.EventFields) string {
	switch intent {
	case state.IntentCreateEvent:
		var b strings.Builder
		fmt.Fprintf(&b, "I'll create %q", deref(f.Name))
		if w := describeWindow(f); w != "" {
			b.WriteString(" on " + w)
		}
		if ws := workspaceRef(f); ws != "" {
			b.WriteString(" in " + ws)
		}
		if f.Location != nil {
			b.WriteString(" at " + *f.Location)
		}
		b.WriteString(". Should I go ahead?")
		return b.String()
	case state.IntentUpdateEvent:
		var changes []string
		if f.Name != nil {
			changes = append(changes, fmt.Sprintf("rename it to %q", *f.Name))
		}
		if w := describeWindow(f); w != "" {
			changes = append(changes, "move it to "+w)
		}
		if f.Location != nil {
			changes = append(changes, "set the location to "+*f.Location)
		}
		if f.Description != nil {
			changes = append(changes, "update the description")
		}
		if len(changes) == 0 {
			changes = append(changes, "apply your changes")
		}
		return fmt.Sprintf("I'll update %s: %s. Should I go ahead?", eventRef(f), joinList(changes))
	case state.IntentDeleteEvent:
		return fmt.Sprintf("I'll delete %s. Are you sure?", eventRef(f))
	}
	return "Should I go ahead?"
}

func conflictPrompt(w model.TimeWindow) string {
	return fmt.Sprintf("That time (%s - %s UTC) overlaps another event. Do you want to proceed anyway or cancel?",
		w.Start.UTC().Format(timeLayout), w.End.UTC().Format(timeLayout))
}

func listReply(events []model.CalendarEvent) string {
	if len(events) == 0 {
		return "You have no events in that range."
	}
	var b strings.Builder
	if len(events) == 1 {
		b.WriteString("You have 1 event:")
	} else {
		fmt.Fprintf(&b, "You have %d events:", len(events))
	}
	for _, ev := range events {
		fmt.Fprintf(&b, "\n- %s, %s", ev.Name, ev.Start.UTC().Format(timeLayout))
	}
	return b.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func assistant(content string, now time.Time) model.Message {
	return model.Message{Role: model.RoleAssistant, Content: content, Timestamp: now.UTC()}
}
