package domain

import "time"

// Roles a turn can carry. A session history is a strict append-only
// sequence of these.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of exactly one ToolCall, matched by CallID.
// Errors are carried as data, not as Go errors: a failed call still
// produces a result the model can read.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Turn is one utterance in a session: user input, assistant text
// (possibly with tool calls attached), or a tool result. Once appended
// to a session a turn is never mutated or reordered.
type Turn struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// HasToolCalls reports whether this assistant turn requests tool execution.
func (t Turn) HasToolCalls() bool { return len(t.ToolCalls) > 0 }
