package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/skalene/maestro/pkg/models"
)

// ApprovalChecker decides whether a gated tool call may run.
type ApprovalChecker interface {
	// Approve returns whether the call may proceed. A denial becomes a
	// not_approved observation, never a terminal failure.
	Approve(ctx context.Context, sessionID string, call models.ToolCall) (bool, error)
}

// ApprovalFunc adapts a function to ApprovalChecker.
type ApprovalFunc func(ctx context.Context, sessionID string, call models.ToolCall) (bool, error)

func (f ApprovalFunc) Approve(ctx context.Context, sessionID string, call models.ToolCall) (bool, error) {
	return f(ctx, sessionID, call)
}

// AllowAll approves every gated call. The default for trusted local use.
func AllowAll() ApprovalChecker {
	return ApprovalFunc(func(context.Context, string, models.ToolCall) (bool, error) {
		return true, nil
	})
}

// DenyAll rejects every gated call.
func DenyAll() ApprovalChecker {
	return ApprovalFunc(func(context.Context, string, models.ToolCall) (bool, error) {
		return false, nil
	})
}

// PendingApproval is one recorded denial awaiting an out-of-band grant.
type PendingApproval struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Call      models.ToolCall `json:"call"`
}

// RecordingChecker denies gated calls while recording them so an
// operator can inspect and replay. Grants are keyed by tool name.
type RecordingChecker struct {
	mu      sync.Mutex
	granted map[string]bool
	pending []PendingApproval
}

// NewRecordingChecker creates a checker with no standing grants.
func NewRecordingChecker() *RecordingChecker {
	return &RecordingChecker{granted: map[string]bool{}}
}

// Grant allows future calls to the named tool.
func (r *RecordingChecker) Grant(toolName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granted[toolName] = true
}

// Pending returns a snapshot of recorded denials.
func (r *RecordingChecker) Pending() []PendingApproval {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PendingApproval(nil), r.pending...)
}

func (r *RecordingChecker) Approve(ctx context.Context, sessionID string, call models.ToolCall) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.granted[call.Name] {
		return true, nil
	}
	r.pending = append(r.pending, PendingApproval{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Call:      call,
	})
	return false, nil
}
