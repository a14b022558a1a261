// Package models provides domain types for the Maestro orchestration runtime.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is an ordered entry in a session's history.
//
// Invariants:
//   - Tool messages appear only in response to a preceding assistant
//     message that listed the matching ToolCallID.
//   - Content after sanitization never exceeds the per-message cap.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls holds tool-call requests attached to an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message to the assistant request it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName is set on tool messages for summarization input.
	ToolName string `json:"tool_name,omitempty"`

	// Handle references a large tool output stored out-of-band. When set,
	// Content carries only a preview.
	Handle string `json:"handle,omitempty"`

	// Summary marks a synthetic assistant message produced by history
	// compression.
	Summary bool `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
// The ID is unique within one assistant turn.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the recorded observation of a tool execution.
type ToolResult struct {
	ToolCallID string    `json:"tool_call_id"`
	Content    string    `json:"content"`
	IsError    bool      `json:"is_error,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`

	// Handle is set when the full output lives in the tool-result store;
	// Content then carries only a preview.
	Handle string `json:"handle,omitempty"`

	// Size is the serialized length of the full output in bytes.
	Size int `json:"size,omitempty"`
}

// PendingQuestion is present in session state while a session waits for
// a user reply at a wait gate.
type PendingQuestion struct {
	Question       string          `json:"question"`
	RequiredInputs json.RawMessage `json:"required_inputs,omitempty"`
	RunID          string          `json:"run_id,omitempty"`
	AskedAt        time.Time       `json:"asked_at"`
}

// Identity is the opaque identity context carried through operations.
// The core attaches it to tool dispatch and persists nothing from it.
type Identity struct {
	Subject  string            `json:"subject,omitempty"`
	Scopes   []string          `json:"scopes,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TokenUsage aggregates token consumption across a run.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from a single model call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns the combined token count.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}
