package model

import (
	"time"
)

// EventType represents the type of a conversation lifecycle event.
type EventType string

const (
	EventTypeSuspended EventType = "suspended"
	EventTypeCompleted EventType = "completed"
	EventTypeFailed    EventType = "failed"
	EventTypeCancelled EventType = "cancelled"
)

// ConversationEvent is published once per turn describing where the thread ended up.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ThreadID       string         `json:"thread_id"`
	UserID         string         `json:"user_id"`
	WorkspaceID    string         `json:"workspace_id,omitempty"`
	Type           EventType      `json:"type"`
	Status         string         `json:"status"`
	Intent         string         `json:"intent,omitempty"`
	Node           string         `json:"node,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	CreatedEventID string         `json:"created_event_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Sequence       uint64         `json:"sequence,omitempty"`
}
