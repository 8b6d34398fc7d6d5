package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a stored conversation message for a chat.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one entry of loaded conversation history, oldest first.
type Turn struct {
	Speaker Role   `json:"speaker"`
	Text    string `json:"text"`
}

// ToolCall represents the decision backend's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolCallRecord is the audit entry kept in context state for an issued
// tool call.
type ToolCallRecord struct {
	Tool    string          `json:"tool"`
	Args    json.RawMessage `json:"args,omitempty"`
	Success bool            `json:"success"`
}

// ToolResult is the structured outcome of a single tool execution.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Content    string          `json:"content"`
	IsError    bool            `json:"is_error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
