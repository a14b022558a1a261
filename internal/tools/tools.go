// Package tools defines the tool contract and registry used by the
// agent loop, plus the built-in tool set.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// Registry errors.
var (
	// ErrUnknownTool indicates the requested tool is not registered.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrInvalidParams indicates the call arguments failed schema
	// validation.
	ErrInvalidParams = errors.New("tools: invalid parameters")
)

// AskUserName is the wait-gate tool. The loop intercepts calls to it
// by name and parks the session instead of dispatching.
const AskUserName = "ask_user"

// Tool is one capability offered to the model.
type Tool interface {
	// Name returns the function-calling name (alphanumeric, underscores).
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Failures the model should see go in
	// ToolResult with IsError set; a non-nil error means the dispatch
	// machinery itself broke.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

// Meta describes dispatch policy for a tool. Tools that do not
// implement MetaProvider get the zero Meta: sequential, no approval,
// default timeout.
type Meta struct {
	// RequiresApproval gates execution behind the approval checker.
	RequiresApproval bool

	// Parallel marks the tool safe for concurrent dispatch within a
	// single assistant turn.
	Parallel bool

	// Idempotent marks the tool safe to re-run during partial
	// recovery after a crash.
	Idempotent bool

	// Timeout overrides the executor's default per-call timeout. A
	// negative value disables the dispatch timeout entirely; the tool
	// is expected to bound its own runtime.
	Timeout time.Duration
}

// MetaProvider is implemented by tools that declare dispatch policy.
type MetaProvider interface {
	Meta() Meta
}

// MetaFor returns the tool's declared Meta, or the zero value.
func MetaFor(tool Tool) Meta {
	if mp, ok := tool.(MetaProvider); ok {
		return mp.Meta()
	}
	return Meta{}
}

type identityKey struct{}
type sessionKey struct{}

// WithIdentity attaches the caller identity to the dispatch context.
func WithIdentity(ctx context.Context, id *models.Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the caller identity, or nil.
func IdentityFrom(ctx context.Context) *models.Identity {
	id, _ := ctx.Value(identityKey{}).(*models.Identity)
	return id
}

// WithSession attaches the live session state for tools that read or
// mutate it (the planner). The loop owns persistence; tools only touch
// the in-memory copy.
func WithSession(ctx context.Context, state *models.SessionState) context.Context {
	if state == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, state)
}

// SessionFrom extracts the live session state, or nil.
func SessionFrom(ctx context.Context) *models.SessionState {
	state, _ := ctx.Value(sessionKey{}).(*models.SessionState)
	return state
}

type emitterKey struct{}

// EmitFunc forwards a stream event from tool execution to the run's
// event sink.
type EmitFunc func(event *models.StreamEvent)

// WithEmitter attaches an event emitter to the dispatch context so
// tools and their collaborators can surface lifecycle events.
func WithEmitter(ctx context.Context, emit EmitFunc) context.Context {
	if emit == nil {
		return ctx
	}
	return context.WithValue(ctx, emitterKey{}, emit)
}

// EmitterFrom extracts the event emitter; the returned func is always
// safe to call.
func EmitterFrom(ctx context.Context) EmitFunc {
	if emit, ok := ctx.Value(emitterKey{}).(EmitFunc); ok {
		return emit
	}
	return func(*models.StreamEvent) {}
}

// Errorf builds an error ToolResult the model can read.
func Errorf(kind models.ErrorKind, format string, args ...any) *models.ToolResult {
	return &models.ToolResult{
		Content:   "error: " + fmt.Sprintf(format, args...),
		IsError:   true,
		ErrorKind: kind,
	}
}
