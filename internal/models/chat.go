package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation groups all messages exchanged under one caller-supplied session.
// CreatedAt is an absolute instant; zone conversion happens at the HTTP edge.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message is a single chat entry owned by a Conversation.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"-"`
	Content        string    `json:"content"`
	Role           Role      `json:"role"`
	Timestamp      time.Time `json:"timestamp"`
}

// ChatResult is what a processed chat turn yields.
type ChatResult struct {
	Response       string
	ConversationID uuid.UUID
	Messages       []Message
}
