package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// AskUser is the wait gate. The loop intercepts calls to this tool by
// name, records the pending question, and parks the session; Execute
// only runs if a caller dispatches it directly.
type AskUser struct{}

// NewAskUser creates the ask_user tool.
func NewAskUser() *AskUser { return &AskUser{} }

func (a *AskUser) Name() string { return AskUserName }

func (a *AskUser) Description() string {
	return "Ask the user a question and wait for their reply. Use only when you cannot proceed without input."
}

func (a *AskUser) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The question to ask the user"},
			"required_inputs": {"type": "object", "description": "JSON Schema for the expected answer shape"}
		},
		"required": ["question"]
	}`)
}

func (a *AskUser) Meta() Meta {
	return Meta{Parallel: false, Idempotent: true}
}

// Params decodes ask_user call arguments.
type AskUserParams struct {
	Question       string          `json:"question"`
	RequiredInputs json.RawMessage `json:"required_inputs,omitempty"`
}

func (a *AskUser) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var in AskUserParams
	if err := json.Unmarshal(params, &in); err != nil {
		return Errorf(models.ErrKindParamValidation, "decoding params: %v", err), nil
	}
	if state := SessionFrom(ctx); state != nil {
		state.PendingQuestion = &models.PendingQuestion{
			Question:       in.Question,
			RequiredInputs: in.RequiredInputs,
			AskedAt:        time.Now(),
		}
	}
	return &models.ToolResult{Content: "waiting for user input"}, nil
}
