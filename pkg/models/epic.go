package models

import (
	"time"
)

// EpicTaskStatus represents the state of one epic task.
type EpicTaskStatus string

const (
	EpicTaskPending    EpicTaskStatus = "pending"
	EpicTaskInProgress EpicTaskStatus = "in_progress"
	EpicTaskCompleted  EpicTaskStatus = "completed"
	EpicTaskFailed     EpicTaskStatus = "failed"
	EpicTaskBlocked    EpicTaskStatus = "blocked"
)

// EpicTask is a unit of work within an epic run. Tasks transition
// states through optimistic version-checked updates on the bus; the
// version increments on every claim and state change.
type EpicTask struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Type tags the task for worker routing (e.g., "code", "research").
	Type string `json:"type,omitempty"`

	// Priority ranges 1-10; higher claims first.
	Priority int `json:"priority"`

	Status EpicTaskStatus `json:"status"`

	// Files lists paths relevant to the task.
	Files []string `json:"files,omitempty"`

	// DependsOn lists task ids that must finish first.
	DependsOn []string `json:"depends_on,omitempty"`

	// WorkerSessionID is the session of the worker holding the claim.
	WorkerSessionID string `json:"worker_session_id,omitempty"`

	// Version is the optimistic-claim counter.
	Version int64 `json:"version"`

	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JudgeDecision is the verdict parsed from a judge reply.
type JudgeDecision string

const (
	JudgeContinue   JudgeDecision = "continue"
	JudgeFreshStart JudgeDecision = "fresh_start"
	JudgeComplete   JudgeDecision = "complete"
)

// WorkerSummary is published to the bus when a worker finishes a task.
type WorkerSummary struct {
	RunID     string     `json:"run_id"`
	TaskID    string     `json:"task_id"`
	TaskTitle string     `json:"task_title"`
	WorkerID  string     `json:"worker_id"`
	Success   bool       `json:"success"`
	Summary   string     `json:"summary"`
	Steps     int        `json:"steps"`
	Usage     TokenUsage `json:"usage"`
	CreatedAt time.Time  `json:"created_at"`
}

// EpicRun tracks one multi-round planner/worker/judge pipeline.
type EpicRun struct {
	ID      string   `json:"id"`
	Mission string   `json:"mission"`
	Scopes  []string `json:"scopes,omitempty"`

	Round     int           `json:"round"`
	MaxRounds int           `json:"max_rounds"`
	Decision  JudgeDecision `json:"decision,omitempty"`

	// Summaries accumulates worker summaries across rounds.
	Summaries []WorkerSummary `json:"summaries,omitempty"`

	Cancelled bool      `json:"cancelled,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
