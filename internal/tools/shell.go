package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// DefaultShellTimeout bounds a single shell invocation.
const DefaultShellTimeout = 300 * time.Second

// Shell runs a command in the agent's working directory. It requires
// approval by default; the executor enforces the timeout from Meta.
type Shell struct {
	workDir          string
	requiresApproval bool
}

// NewShell creates the shell tool.
func NewShell(workDir string, requiresApproval bool) *Shell {
	return &Shell{workDir: workDir, requiresApproval: requiresApproval}
}

func (s *Shell) Name() string { return "shell" }

func (s *Shell) Description() string {
	return "Run a shell command in the working directory and return combined stdout and stderr."
}

func (s *Shell) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Command to run via sh -c"}
		},
		"required": ["command"]
	}`)
}

func (s *Shell) Meta() Meta {
	return Meta{
		RequiresApproval: s.requiresApproval,
		Parallel:         false,
		Idempotent:       false,
		Timeout:          DefaultShellTimeout,
	}
}

func (s *Shell) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return Errorf(models.ErrKindParamValidation, "decoding params: %v", err), nil
	}
	if in.Command == "" {
		return Errorf(models.ErrKindParamValidation, "command is required"), nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", in.Command)
	cmd.Dir = s.workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	content := out.String()
	if ctx.Err() != nil {
		return Errorf(models.ErrKindToolTimeout, "command timed out: %s", in.Command), nil
	}
	if err != nil {
		return &models.ToolResult{
			Content:   content + "\ncommand failed: " + err.Error(),
			IsError:   true,
			ErrorKind: models.ErrKindToolFailure,
		}, nil
	}
	if content == "" {
		content = "(no output)"
	}
	return &models.ToolResult{Content: content}, nil
}
