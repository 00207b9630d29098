// Package model defines data structures shared by the assistant's transport and workflow layers.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single entry of a thread's conversation history.
type Message struct {
	Role      Role      `json:"role" msgpack:"role"`
	Content   string    `json:"content" msgpack:"content"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// ChatMessage is the role/content pair handed to classifiers and LLMs.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History converts messages into the ordered role/content list used by collaborators.
func History(messages []Message) []ChatMessage {
	out := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		out[i] = ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return out
}
