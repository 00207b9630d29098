package model

// CancelValue is the resume value that resolves any suspension into a cancelled thread.
const CancelValue = "__cancel__"

// StartThreadRequest starts a new thread with a first user message.
type StartThreadRequest struct {
	ThreadID    string `json:"thread_id,omitempty" validate:"omitempty,max=64"`
	UserID      string `json:"user_id" validate:"required,max=64"`
	WorkspaceID string `json:"workspace_id,omitempty" validate:"omitempty,max=64"`
	Message     string `json:"message" validate:"required,max=100000"`
}

// SendMessageRequest is a fresh message on an existing, non-suspended thread.
type SendMessageRequest struct {
	Message string `json:"message" validate:"required,max=100000"`
}

// ResumeRequest continues a suspended thread.
type ResumeRequest struct {
	ResumeValue string `json:"resume_value" validate:"required_without=Cancel,max=100000"`
	ResumeKey   string `json:"resume_key,omitempty" validate:"omitempty,max=128"`
	Cancel      bool   `json:"cancel,omitempty"`
}

// Value returns the effective resume value, substituting the cancel control value.
func (r ResumeRequest) Value() string {
	if r.Cancel {
		return CancelValue
	}
	return r.ResumeValue
}

// TurnResponse is the structured outcome of a single inbound call.
type TurnResponse struct {
	ThreadID           string          `json:"thread_id"`
	Status             string          `json:"status"`
	Response           string          `json:"response,omitempty"`
	SuggestedResponses []string        `json:"suggested_responses,omitempty"`
	CreatedEventID     string          `json:"created_event_id,omitempty"`
	Events             []CalendarEvent `json:"events,omitempty"`
	Suspended          bool            `json:"suspended"`
	ResumeKey          string          `json:"resume_key,omitempty"`
	NeedsClarification bool            `json:"needs_clarification,omitempty"`
	Error              string          `json:"error,omitempty"`
}
