package agent

import "fmt"

// ChatHistory is the ordered per-invocation conversation fed to a
// sub-agent. Tool-output entries must bind to an earlier tool-call
// entry by call id; insertion order is preserved. Not safe for
// concurrent use; each invocation owns its history.
type ChatHistory struct {
	messages  []ConversationMessage
	openCalls map[string]string // call_id -> tool name, awaiting output
}

// NewChatHistory creates an empty history.
func NewChatHistory() *ChatHistory {
	return &ChatHistory{openCalls: make(map[string]string)}
}

// AddSystem appends the system prompt.
func (h *ChatHistory) AddSystem(content string) {
	h.messages = append(h.messages, ConversationMessage{Role: RoleSystem, Content: content})
}

// AddUser appends a user turn.
func (h *ChatHistory) AddUser(content string) {
	h.messages = append(h.messages, ConversationMessage{Role: RoleUser, Content: content})
}

// AddAssistant appends an assistant turn. Any tool calls it carries
// become open until a matching output arrives.
func (h *ChatHistory) AddAssistant(content string, toolCalls []ToolCall) {
	for _, call := range toolCalls {
		h.openCalls[call.ID] = call.Name
	}
	h.messages = append(h.messages, ConversationMessage{
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	})
}

// AddToolOutput appends a tool result bound to an open call. Outputs
// without a matching call are rejected; providers refuse conversations
// with dangling tool results.
func (h *ChatHistory) AddToolOutput(callID, content string) error {
	name, open := h.openCalls[callID]
	if !open {
		return fmt.Errorf("tool output for unknown call id %q", callID)
	}
	delete(h.openCalls, callID)
	h.messages = append(h.messages, ConversationMessage{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   name,
	})
	return nil
}

// OpenCallIDs returns call ids still awaiting an output.
func (h *ChatHistory) OpenCallIDs() []string {
	ids := make([]string, 0, len(h.openCalls))
	for id := range h.openCalls {
		ids = append(ids, id)
	}
	return ids
}

// Messages returns a copy of the conversation in insertion order.
func (h *ChatHistory) Messages() []ConversationMessage {
	out := make([]ConversationMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of turns.
func (h *ChatHistory) Len() int { return len(h.messages) }
