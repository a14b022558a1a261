// Package definitions aggregates agent definitions from configuration
// files, ad-hoc user overrides, and plugin entries into one validated
// registry.
package definitions

import (
	"fmt"
	"strings"
)

// Source tags where a definition came from.
type Source string

const (
	SourceConfig  Source = "config"
	SourceUser    Source = "user"
	SourcePlugin  Source = "plugin"
	SourceCommand Source = "command"
)

// AgentDefinition is the normalized agent description every source
// reduces to.
type AgentDefinition struct {
	// Identity.
	AgentID string `yaml:"agent_id" json:"agent_id"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Source  Source `yaml:"-" json:"source,omitempty"`
	Mutable bool   `yaml:"-" json:"mutable,omitempty"`

	// Behavior.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
	Specialist   string `yaml:"specialist,omitempty" json:"specialist,omitempty"`
	Strategy     string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	MaxSteps     int    `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`

	// Models maps roles (main, summary, reflection, classifier) to
	// model aliases. An absent role uses the profile default.
	Models map[string]string `yaml:"models,omitempty" json:"models,omitempty"`

	// Capabilities.
	Tools      []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	MCPServers []string `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`

	// Context.
	Profile string `yaml:"profile,omitempty" json:"profile,omitempty"`
	WorkDir string `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
}

// ValidationContext supplies what definitions are validated against.
type ValidationContext struct {
	// KnownTools is the set of resolvable tool names.
	KnownTools []string

	// KnownStrategies is the set of strategy tags.
	KnownStrategies []string

	// KnownSpecialists is the set of specialist tags; empty skips the
	// specialist check.
	KnownSpecialists []string
}

// Validate rejects definitions the factory could not build.
func (d *AgentDefinition) Validate(vctx ValidationContext) error {
	if strings.TrimSpace(d.AgentID) == "" {
		return fmt.Errorf("definition needs an agent_id")
	}
	if strings.TrimSpace(d.SystemPrompt) == "" {
		return fmt.Errorf("agent %s: system_prompt is required", d.AgentID)
	}
	if d.MaxSteps < 0 {
		return fmt.Errorf("agent %s: max_steps must not be negative", d.AgentID)
	}

	if d.Strategy != "" && !contains(vctx.KnownStrategies, d.Strategy) {
		return fmt.Errorf("agent %s: unknown strategy %q", d.AgentID, d.Strategy)
	}
	for _, tool := range d.Tools {
		if !contains(vctx.KnownTools, tool) {
			return fmt.Errorf("agent %s: unknown tool %q", d.AgentID, tool)
		}
	}
	if d.Specialist != "" && len(vctx.KnownSpecialists) > 0 && !contains(vctx.KnownSpecialists, d.Specialist) {
		return fmt.Errorf("agent %s: unknown specialist %q", d.AgentID, d.Specialist)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
