package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skalene/maestro/pkg/models"
)

// MaxFileReadBytes caps file_read output before the history layer even
// sees it.
const MaxFileReadBytes = 1 << 20

// resolvePath returns an absolute, cleaned path confined to root.
func resolvePath(root, path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

// FileRead reads a file confined to the agent's working directory.
type FileRead struct {
	root string
}

// NewFileRead creates the file_read tool rooted at root.
func NewFileRead(root string) *FileRead { return &FileRead{root: root} }

func (f *FileRead) Name() string { return "file_read" }

func (f *FileRead) Description() string {
	return "Read a file from the working directory. Paths are confined to the workspace."
}

func (f *FileRead) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"}
		},
		"required": ["path"]
	}`)
}

func (f *FileRead) Meta() Meta {
	return Meta{Parallel: true, Idempotent: true}
}

func (f *FileRead) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return Errorf(models.ErrKindParamValidation, "decoding params: %v", err), nil
	}
	target, err := resolvePath(f.root, in.Path)
	if err != nil {
		return Errorf(models.ErrKindToolFailure, "%v", err), nil
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return Errorf(models.ErrKindToolFailure, "reading %s: %v", in.Path, err), nil
	}
	if len(data) > MaxFileReadBytes {
		data = data[:MaxFileReadBytes]
		return &models.ToolResult{
			Content: string(data) + fmt.Sprintf("\n[truncated at %d bytes]", MaxFileReadBytes),
		}, nil
	}
	return &models.ToolResult{Content: string(data)}, nil
}

// FileWrite writes a file confined to the agent's working directory.
type FileWrite struct {
	root string
}

// NewFileWrite creates the file_write tool rooted at root.
func NewFileWrite(root string) *FileWrite { return &FileWrite{root: root} }

func (f *FileWrite) Name() string { return "file_write" }

func (f *FileWrite) Description() string {
	return "Write content to a file in the working directory, creating parent directories as needed."
}

func (f *FileWrite) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"},
			"content": {"type": "string", "description": "Full file content"}
		},
		"required": ["path", "content"]
	}`)
}

func (f *FileWrite) Meta() Meta {
	return Meta{Parallel: false, Idempotent: true, RequiresApproval: false}
}

func (f *FileWrite) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return Errorf(models.ErrKindParamValidation, "decoding params: %v", err), nil
	}
	target, err := resolvePath(f.root, in.Path)
	if err != nil {
		return Errorf(models.ErrKindToolFailure, "%v", err), nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Errorf(models.ErrKindToolFailure, "creating directory: %v", err), nil
	}
	if err := os.WriteFile(target, []byte(in.Content), 0o644); err != nil {
		return Errorf(models.ErrKindToolFailure, "writing %s: %v", in.Path, err), nil
	}
	return &models.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path)}, nil
}
