package tools

import (
	"fmt"
	"net/http"

	"github.com/skalene/maestro/internal/results"
)

// Deps carries the shared infrastructure builtin tools may need. The
// factory fills it once per agent build.
type Deps struct {
	// WorkDir confines file and shell tools.
	WorkDir string

	// Results backs fetch_result.
	Results results.Store

	// SessionID scopes result fetches and sub-agent spawns.
	SessionID string

	// Spawner backs call_agent; nil disables delegation.
	Spawner SubAgentRunner

	// HTTPClient backs web_fetch; nil gets a default.
	HTTPClient *http.Client

	// ShellRequiresApproval gates the shell tool behind approval.
	ShellRequiresApproval bool
}

// Resolve builds a registry containing the named builtin tools. Unknown
// names fail the build; a definition referencing a missing tool is a
// configuration error, not something to discover at dispatch time.
func Resolve(names []string, deps Deps) (*Registry, error) {
	registry := NewRegistry()
	for _, name := range names {
		tool, err := builtin(name, deps)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// BuiltinNames lists the tool names Resolve understands.
func BuiltinNames() []string {
	return []string{
		"planner",
		AskUserName,
		"call_agent",
		"fetch_result",
		"file_read",
		"file_write",
		"shell",
		"web_fetch",
	}
}

func builtin(name string, deps Deps) (Tool, error) {
	switch name {
	case "planner":
		return NewPlanner(), nil
	case AskUserName:
		return NewAskUser(), nil
	case "call_agent":
		if deps.Spawner == nil {
			return nil, fmt.Errorf("tools: call_agent requires a sub-agent spawner")
		}
		return NewCallAgent(deps.Spawner, deps.SessionID), nil
	case "fetch_result":
		if deps.Results == nil {
			return nil, fmt.Errorf("tools: fetch_result requires a result store")
		}
		return NewFetchResult(deps.Results, deps.SessionID), nil
	case "file_read":
		return NewFileRead(deps.WorkDir), nil
	case "file_write":
		return NewFileWrite(deps.WorkDir), nil
	case "shell":
		return NewShell(deps.WorkDir, deps.ShellRequiresApproval), nil
	case "web_fetch":
		return NewWebFetch(deps.HTTPClient), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}
