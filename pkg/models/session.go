package models

import (
	"strings"
	"time"
)

// SessionState is the persisted state blob for one session. It is the
// unit of optimistic-concurrency persistence: every save carries the
// version the writer loaded, and the store rejects stale writers.
type SessionState struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Mission   string `json:"mission,omitempty"`

	Messages []*Message `json:"messages"`
	Plan     *Plan      `json:"plan,omitempty"`

	// Handles lists tool-result store handles referenced by the history.
	Handles []string `json:"handles,omitempty"`

	PendingQuestion *PendingQuestion `json:"pending_question,omitempty"`

	// StepCount is the number of model calls made so far.
	StepCount int        `json:"step_count"`
	Usage     TokenUsage `json:"usage"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the state so callers can mutate freely.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Messages = make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		mc := *m
		if len(m.ToolCalls) > 0 {
			mc.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		clone.Messages[i] = &mc
	}
	if s.Plan != nil {
		pc := *s.Plan
		pc.Items = make([]*PlanItem, len(s.Plan.Items))
		for i, it := range s.Plan.Items {
			ic := *it
			if len(it.DependsOn) > 0 {
				ic.DependsOn = append([]int(nil), it.DependsOn...)
			}
			pc.Items[i] = &ic
		}
		clone.Plan = &pc
	}
	if len(s.Handles) > 0 {
		clone.Handles = append([]string(nil), s.Handles...)
	}
	if s.PendingQuestion != nil {
		q := *s.PendingQuestion
		clone.PendingQuestion = &q
	}
	return &clone
}

// AddHandle records a tool-result handle if not already present.
func (s *SessionState) AddHandle(handle string) {
	for _, h := range s.Handles {
		if h == handle {
			return
		}
	}
	s.Handles = append(s.Handles, handle)
}

// SessionDepth counts nesting levels in a hierarchical session id.
// A root session has depth 0; each ":sub_" segment adds one.
func SessionDepth(sessionID string) int {
	return strings.Count(sessionID, ":sub_")
}

// ParentSessionID returns the parent portion of a nested session id, or
// an empty string for root sessions.
func ParentSessionID(sessionID string) string {
	idx := strings.LastIndex(sessionID, ":sub_")
	if idx < 0 {
		return ""
	}
	return sessionID[:idx]
}

// ChildSessionID forms a hierarchical sub-agent session id from a
// parent id, a specialist role tag, and a short random suffix.
func ChildSessionID(parentID, role, suffix string) string {
	return parentID + ":sub_" + role + "_" + suffix
}
