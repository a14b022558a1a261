package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skalene/maestro/pkg/models"
)

// SubAgentRunner spawns and drives a child agent session. The concrete
// implementation lives in internal/subagent; the tool only needs this
// slice of it.
type SubAgentRunner interface {
	Run(ctx context.Context, parentSessionID, role, mission string) (*models.ExecutionResult, error)
}

// CallAgent delegates a mission to a named child agent and returns its
// final answer as the observation.
type CallAgent struct {
	runner          SubAgentRunner
	parentSessionID string
}

// NewCallAgent creates the call_agent tool bound to a parent session.
func NewCallAgent(runner SubAgentRunner, parentSessionID string) *CallAgent {
	return &CallAgent{runner: runner, parentSessionID: parentSessionID}
}

func (c *CallAgent) Name() string { return "call_agent" }

func (c *CallAgent) Description() string {
	return "Delegate a self-contained mission to a specialist agent and receive its final answer."
}

func (c *CallAgent) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent": {"type": "string", "description": "Agent role to delegate to"},
			"mission": {"type": "string", "description": "Self-contained mission statement"}
		},
		"required": ["agent", "mission"]
	}`)
}

func (c *CallAgent) Meta() Meta {
	// The child loop bounds itself through its own step and budget
	// caps; a dispatch timeout would kill long delegations mid-run.
	return Meta{Parallel: true, Idempotent: false, Timeout: -1}
}

func (c *CallAgent) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if c.runner == nil {
		return Errorf(models.ErrKindInternal, "sub-agent spawning is not configured"), nil
	}
	var in struct {
		Agent   string `json:"agent"`
		Mission string `json:"mission"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return Errorf(models.ErrKindParamValidation, "decoding params: %v", err), nil
	}

	result, err := c.runner.Run(ctx, c.parentSessionID, in.Agent, in.Mission)
	if err != nil {
		return Errorf(models.ErrKindToolFailure, "sub-agent %s: %v", in.Agent, err), nil
	}
	if !result.Succeeded() {
		return &models.ToolResult{
			Content:   fmt.Sprintf("sub-agent %s finished with status %s: %s", in.Agent, result.Status, result.Error),
			IsError:   true,
			ErrorKind: result.ErrorKind,
		}, nil
	}
	return &models.ToolResult{Content: result.FinalAnswer}, nil
}
