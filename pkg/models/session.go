package models

import "time"

// SessionStatus is the lifecycle status of an interactive chat session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
)

// Session is an interactive chat session, the sibling surface to Task.
type Session struct {
	SessionID string        `json:"session_id"`
	Title     string        `json:"title"`
	Model     string        `json:"model,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// MessageRole identifies who produced a chat turn.
type MessageRole string

const (
	MessageRoleUser       MessageRole = "user"
	MessageRoleAssistant  MessageRole = "assistant"
	MessageRoleToolCall   MessageRole = "tool_call"
	MessageRoleToolOutput MessageRole = "tool_output"
)

// Message is one persisted chat turn. CallID binds a tool_output row to
// the tool_call row that produced it.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Name      string      `json:"name,omitempty"`
	CallID    string      `json:"call_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
