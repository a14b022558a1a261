package models

import (
	"time"
)

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	EventThought           StreamEventType = "thought"
	EventAction            StreamEventType = "action"
	EventObservation       StreamEventType = "observation"
	EventPlanUpdated       StreamEventType = "plan_updated"
	EventSubAgentSpawned   StreamEventType = "sub_agent_spawned"
	EventSubAgentCompleted StreamEventType = "sub_agent_completed"
	EventEpicEscalation    StreamEventType = "epic_escalation"
	EventRoundStarted      StreamEventType = "round_started"
	EventRoundCompleted    StreamEventType = "round_completed"
	EventFinalAnswer       StreamEventType = "final_answer"
	EventError             StreamEventType = "error"
	EventAwaitingInput     StreamEventType = "awaiting_input"
)

// StreamEvent is the typed, ordered execution event emitted to API
// consumers.
//
// Design principles (mirroring the rest of the model layer):
//   - Single Type discriminator with optional payload pointers;
//     exactly one payload is non-nil for a given Type.
//   - StepID is monotonic per session for ordering guarantees.
//   - Forward-compatible: consumers ignore unknown types.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	SessionID string          `json:"session_id"`
	StepID    int             `json:"step_id"`
	Timestamp time.Time       `json:"timestamp"`

	Thought     *ThoughtPayload     `json:"thought,omitempty"`
	Action      *ActionPayload      `json:"action,omitempty"`
	Observation *ObservationPayload `json:"observation,omitempty"`
	Plan        *PlanPayload        `json:"plan,omitempty"`
	SubAgent    *SubAgentPayload    `json:"sub_agent,omitempty"`
	Escalation  *EscalationPayload  `json:"escalation,omitempty"`
	Round       *RoundPayload       `json:"round,omitempty"`
	Final       *FinalPayload       `json:"final,omitempty"`
	Error       *ErrorPayload       `json:"error,omitempty"`
	Awaiting    *AwaitingPayload    `json:"awaiting,omitempty"`
}

// ThoughtPayload carries assistant text produced alongside tool calls.
type ThoughtPayload struct {
	Content string `json:"content"`
}

// ActionPayload carries the tool calls requested by one assistant turn.
type ActionPayload struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ObservationPayload carries one recorded tool result.
type ObservationPayload struct {
	ToolCallID string    `json:"tool_call_id"`
	Success    bool      `json:"success"`
	Preview    string    `json:"preview"`
	Handle     string    `json:"handle,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
}

// PlanPayload carries a snapshot of the session plan after a mutation.
type PlanPayload struct {
	Snapshot *Plan `json:"plan_snapshot"`
}

// SubAgentPayload carries sub-agent lifecycle details.
type SubAgentPayload struct {
	ChildSessionID string `json:"child_session_id"`
	Specialist     string `json:"specialist,omitempty"`
	MissionPreview string `json:"mission_preview,omitempty"`
	Success        bool   `json:"success,omitempty"`
	StepsTaken     int    `json:"steps_taken,omitempty"`
}

// EscalationPayload carries the auto-epic classifier verdict.
type EscalationPayload struct {
	Complexity string  `json:"complexity"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// RoundPayload carries epic round lifecycle details.
type RoundPayload struct {
	RunID         string        `json:"run_id"`
	RoundNumber   int           `json:"round_number"`
	TaskCount     int           `json:"task_count,omitempty"`
	JudgeDecision JudgeDecision `json:"judge_decision,omitempty"`
}

// FinalPayload carries the final answer of a run.
type FinalPayload struct {
	Content string     `json:"content"`
	Usage   TokenUsage `json:"token_usage"`
}

// ErrorPayload carries a typed error surfaced on the stream.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// AwaitingPayload carries a wait-gate question and its reply schema.
type AwaitingPayload struct {
	Question       string `json:"question"`
	RequiredInputs string `json:"required_inputs_schema,omitempty"`
	RunID          string `json:"run_id,omitempty"`
}
