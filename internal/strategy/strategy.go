// Package strategy provides the planning strategies layered over the
// agent loop: direct reactive, plan-then-execute, interleaved
// plan-and-act, and sense-plan-act-reflect. All four implement
// agent.Strategy and route every model and tool call through the loop.
package strategy

import (
	"fmt"

	"github.com/skalene/maestro/internal/agent"
	"github.com/skalene/maestro/internal/llm"
)

// Strategy tags accepted by New and agent definitions.
const (
	Direct         = "direct"
	PlanExecute    = "plan_execute"
	Interleaved    = "interleaved"
	PlanActReflect = "sense_plan_act_reflect"
)

// DefaultName is the strategy used when a definition names none.
const DefaultName = Direct

// Options carries optional collaborators for strategies that need them.
type Options struct {
	// ReflectionProvider backs the reflect phase of
	// sense_plan_act_reflect. Nil falls back to marker parsing only.
	ReflectionProvider llm.Provider

	// ReflectionModel names the model for reflection calls.
	ReflectionModel string

	// MaxOuterIterations caps sense-plan-act-reflect cycles. Default: 10.
	MaxOuterIterations int
}

// New constructs a strategy by tag.
func New(name string, opts Options) (agent.Strategy, error) {
	switch name {
	case "", Direct:
		return &DirectStrategy{}, nil
	case PlanExecute:
		return &PlanExecuteStrategy{}, nil
	case Interleaved:
		return &InterleavedStrategy{}, nil
	case PlanActReflect:
		return NewReflectStrategy(opts), nil
	default:
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
}

// Names returns the known strategy tags.
func Names() []string {
	return []string{Direct, PlanExecute, Interleaved, PlanActReflect}
}
