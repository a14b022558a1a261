package models

import (
	"encoding/json"
	"time"
)

// WorkflowStatus represents the lifecycle state of a resumable workflow.
type WorkflowStatus string

const (
	WorkflowRunning         WorkflowStatus = "running"
	WorkflowWaitingExternal WorkflowStatus = "waiting_external"
	WorkflowCompleted       WorkflowStatus = "completed"
	WorkflowFailed          WorkflowStatus = "failed"
)

// BlockingReason is a typed tag describing why a workflow paused.
type BlockingReason string

const (
	BlockMissingSupplierData BlockingReason = "missing_supplier_data"
	BlockNeedsDecision       BlockingReason = "needs_decision"
	BlockNeedsApproval       BlockingReason = "needs_approval"
	BlockExternalSystem      BlockingReason = "external_system"
)

// WorkflowCheckpoint is a durable pause point for a human-in-the-loop
// wait. It is created at a wait gate and consumed exactly once by the
// resumer; duplicate resumes are detected by message id.
type WorkflowCheckpoint struct {
	RunID  string         `json:"run_id"`
	NodeID string         `json:"node_id"`
	Status WorkflowStatus `json:"status"`

	BlockingReason BlockingReason `json:"blocking_reason,omitempty"`

	// RequiredInputs is the JSON schema the resume payload must satisfy.
	RequiredInputs json.RawMessage `json:"required_inputs,omitempty"`

	// NextDeadline triggers the escalation hook when passed; the
	// checkpoint remains resumable until explicitly cancelled.
	NextDeadline *time.Time `json:"next_deadline,omitempty"`

	// State is the engine-specific serialized state blob.
	State json.RawMessage `json:"state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResumeEvent is a normalized inbound reply targeting a waiting workflow.
type ResumeEvent struct {
	RunID          string            `json:"run_id"`
	MessageID      string            `json:"message_id,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
	SenderMetadata map[string]string `json:"sender_metadata,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
}
