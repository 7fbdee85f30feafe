package models

import (
	"time"

	"github.com/google/uuid"
)

// DisplayTimeLayout renders timestamps without an offset, in the configured
// display zone.
const DisplayTimeLayout = "2006-01-02T15:04:05"

// ChatRequest is the payload accepted by POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// ChatResponse is returned for a successfully processed chat turn.
type ChatResponse struct {
	Response       string    `json:"response"`
	ConversationID uuid.UUID `json:"conversationId"`
}

// MessageDTO is the transport shape of a Message. It carries no reference back
// to the owning conversation.
type MessageDTO struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp string    `json:"timestamp"`
}

type HistoryResponse struct {
	SessionID    string       `json:"sessionId"`
	Messages     []MessageDTO `json:"messages"`
	MessageCount int          `json:"messageCount"`
}

type DeleteResponse struct {
	SessionID string `json:"sessionId"`
	Deleted   bool   `json:"deleted"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ErrorResponse is the uniform failure envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// WSMessage is pushed to websocket subscribers.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// TurnEvent describes a committed user/assistant pair.
type TurnEvent struct {
	SessionID      string       `json:"sessionId"`
	ConversationID uuid.UUID    `json:"conversationId"`
	Messages       []MessageDTO `json:"messages"`
}

// NewMessageDTO converts m into its transport shape, rendering the timestamp
// in loc.
func NewMessageDTO(m Message, loc *time.Location) MessageDTO {
	return MessageDTO{
		ID:        m.ID,
		Content:   m.Content,
		Role:      m.Role,
		Timestamp: FormatTime(m.Timestamp, loc),
	}
}

func NewMessageDTOs(msgs []Message, loc *time.Location) []MessageDTO {
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessageDTO(m, loc))
	}
	return out
}

// FormatTime renders t in loc using DisplayTimeLayout. A nil loc means UTC.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayTimeLayout)
}
