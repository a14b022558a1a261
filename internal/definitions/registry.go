package definitions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound indicates no definition exists for the agent id.
var ErrNotFound = errors.New("agent definition not found")

// Registry holds validated agent definitions keyed by agent id.
// Config-sourced definitions are immutable; user overrides may shadow
// them under a different precedence.
type Registry struct {
	vctx ValidationContext

	mu   sync.RWMutex
	defs map[string]*AgentDefinition
	// byFile remembers which ids each config file contributed, so a
	// reload can drop definitions the file no longer declares.
	byFile map[string][]string
}

// NewRegistry creates an empty registry validating against vctx.
func NewRegistry(vctx ValidationContext) *Registry {
	return &Registry{
		vctx:   vctx,
		defs:   map[string]*AgentDefinition{},
		byFile: map[string][]string{},
	}
}

// Register adds or replaces a definition. Config-sourced definitions
// cannot be replaced by mutable sources.
func (r *Registry) Register(def *AgentDefinition) error {
	if err := def.Validate(r.vctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.defs[def.AgentID]; ok && !existing.Mutable && def.Source != SourceConfig {
		return fmt.Errorf("agent %s: definition from %s is immutable", def.AgentID, existing.Source)
	}
	clone := *def
	r.defs[def.AgentID] = &clone
	return nil
}

// Get returns a copy of the definition.
func (r *Registry) Get(agentID string) (*AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	clone := *def
	return &clone, nil
}

// List returns all definitions sorted by agent id.
func (r *Registry) List() []*AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		clone := *def
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Delete removes a definition. Idempotent.
func (r *Registry) Delete(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, agentID)
}

// LoadDir loads every .yaml/.yml definition file in dir. Files may hold
// a single definition or a list under "agents".
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading definitions dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads (or reloads) one definition file, replacing whatever
// the file previously contributed.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	defs, err := parseFile(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, def := range defs {
		def.Source = SourceConfig
		if err := def.Validate(r.vctx); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.byFile[path] {
		delete(r.defs, id)
	}
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		r.defs[def.AgentID] = def
		ids = append(ids, def.AgentID)
	}
	r.byFile[path] = ids
	return nil
}

// UnloadFile drops everything a deleted file contributed.
func (r *Registry) UnloadFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.byFile[path] {
		delete(r.defs, id)
	}
	delete(r.byFile, path)
}

func parseFile(data []byte) ([]*AgentDefinition, error) {
	var multi struct {
		Agents []*AgentDefinition `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &multi); err == nil && len(multi.Agents) > 0 {
		return multi.Agents, nil
	}

	var single AgentDefinition
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	if single.AgentID == "" {
		return nil, fmt.Errorf("no agent definitions found")
	}
	return []*AgentDefinition{&single}, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
