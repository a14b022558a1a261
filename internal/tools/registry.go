package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/pkg/models"
)

// Parameter limits to prevent resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// Registry manages available tools with thread-safe registration and
// lookup. Schemas are compiled once at registration.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    map[string]Tool{},
		compiled: map[string]*jsonschema.Schema{},
	}
}

// Register adds a tool, replacing any existing tool with the same name.
// A tool whose schema does not compile is rejected.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("tools: invalid tool name %q", name)
	}

	var schema *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name+".json", bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("tools: schema for %s: %w", name, err)
		}
		var err error
		schema, err = compiler.Compile(name + ".json")
		if err != nil {
			return fmt.Errorf("tools: schema for %s: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	if schema != nil {
		r.compiled[name] = schema
	} else {
		delete(r.compiled, name)
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the tool set in provider wire form, sorted by name
// for deterministic prompts.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolSchema, 0, len(r.tools))
	for _, tool := range r.tools {
		schema := tool.Schema()
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, llm.ToolSchema{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: schema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks params against the tool's compiled schema.
func (r *Registry) Validate(name string, params json.RawMessage) error {
	r.mu.RLock()
	schema := r.compiled[name]
	_, known := r.tools[name]
	r.mu.RUnlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if schema == nil {
		return nil
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
	}
	return nil
}

// Execute validates params and runs the named tool. Validation and
// lookup failures come back as error results so the model can correct
// itself on the next turn.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*models.ToolResult, error) {
	if len(params) > MaxToolParamsSize {
		return Errorf(models.ErrKindParamValidation, "parameters exceed %d bytes", MaxToolParamsSize), nil
	}

	tool, ok := r.Get(name)
	if !ok {
		return Errorf(models.ErrKindUnknownTool, "unknown tool %q", name), nil
	}
	if err := r.Validate(name, params); err != nil {
		return Errorf(models.ErrKindParamValidation, "%v", err), nil
	}
	return tool.Execute(ctx, params)
}
