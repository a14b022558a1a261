// Package factory assembles runnable agents from validated definitions:
// tool resolution, strategy selection, and loop wiring against the
// shared stores. It also provides the build hook sub-agent spawning
// uses to construct children.
package factory

import (
	"fmt"
	"log/slog"

	"github.com/skalene/maestro/internal/agent"
	"github.com/skalene/maestro/internal/budget"
	"github.com/skalene/maestro/internal/checkpoint"
	"github.com/skalene/maestro/internal/definitions"
	"github.com/skalene/maestro/internal/history"
	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/internal/results"
	"github.com/skalene/maestro/internal/state"
	"github.com/skalene/maestro/internal/strategy"
	"github.com/skalene/maestro/internal/subagent"
	"github.com/skalene/maestro/internal/tools"
)

// defaultTools are resolved when a definition names none. Every agent
// can plan, ask the user, and pull stored tool outputs.
var defaultTools = []string{"planner", tools.AskUserName, "fetch_result"}

// Profile carries per-deployment defaults a definition may override.
type Profile struct {
	// Name tags the profile in logs.
	Name string

	// Models maps roles (main, summary, reflection, classifier) to
	// model names. Definition entries take precedence.
	Models map[string]string

	// WorkDir confines file and shell tools when the definition names
	// none.
	WorkDir string

	// MaxSteps applies when the definition leaves it zero.
	MaxSteps int

	// ShellRequiresApproval gates the shell tool behind approval.
	ShellRequiresApproval bool
}

// Factory builds agents from registry definitions.
type Factory struct {
	registry    *definitions.Registry
	provider    llm.Provider
	states      state.Store
	results     results.Store
	checkpoints checkpoint.Store
	subagent    subagent.Config
	history     history.Config
	window      int
	estimator   budget.Estimator
	logger      *slog.Logger
}

// Option configures optional factory collaborators.
type Option func(*Factory)

// WithCheckpoints records step checkpoints for built agents.
func WithCheckpoints(store checkpoint.Store) Option {
	return func(f *Factory) { f.checkpoints = store }
}

// WithSubAgentConfig tunes sub-agent spawning.
func WithSubAgentConfig(config subagent.Config) Option {
	return func(f *Factory) { f.subagent = config }
}

// WithHistoryConfig tunes transcript management.
func WithHistoryConfig(config history.Config) Option {
	return func(f *Factory) { f.history = config }
}

// WithContextWindow sets the token budget window for built agents.
func WithContextWindow(tokens int) Option {
	return func(f *Factory) { f.window = tokens }
}

// WithEstimator plugs a model-aware token estimator into the budgeter.
func WithEstimator(e budget.Estimator) Option {
	return func(f *Factory) { f.estimator = e }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) { f.logger = logger }
}

// New creates a factory over the definition registry and shared stores.
func New(
	registry *definitions.Registry,
	provider llm.Provider,
	states state.Store,
	resultStore results.Store,
	opts ...Option,
) *Factory {
	f := &Factory{
		registry: registry,
		provider: provider,
		states:   states,
		results:  resultStore,
		history:  history.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ValidationContext returns the context definitions are validated
// against: the builtin tool names and the known strategy tags.
func ValidationContext() definitions.ValidationContext {
	return definitions.ValidationContext{
		KnownTools:      tools.BuiltinNames(),
		KnownStrategies: strategy.Names(),
	}
}

// Build assembles a runnable agent for the definition under sessionID.
// Extra loop options (sink, identity, approval) pass through to the
// loop.
func (f *Factory) Build(agentID, sessionID string, profile Profile, opts ...agent.LoopOption) (*agent.Loop, error) {
	def, err := f.registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	spawner := f.Spawner(profile)

	workDir := def.WorkDir
	if workDir == "" {
		workDir = profile.WorkDir
	}
	toolNames := def.Tools
	if len(toolNames) == 0 {
		toolNames = defaultTools
	}
	registry, err := tools.Resolve(toolNames, tools.Deps{
		WorkDir:               workDir,
		Results:               f.results,
		SessionID:             sessionID,
		Spawner:               spawner,
		ShellRequiresApproval: profile.ShellRequiresApproval,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}

	strat, err := strategy.New(def.Strategy, strategy.Options{
		ReflectionProvider: f.provider,
		ReflectionModel:    f.modelFor(def, profile, "reflection"),
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}

	config := agent.DefaultLoopConfig()
	config.Model = f.modelFor(def, profile, "main")
	if def.MaxSteps > 0 {
		config.MaxSteps = def.MaxSteps
	} else if profile.MaxSteps > 0 {
		config.MaxSteps = profile.MaxSteps
	}

	var budgetOpts []budget.Option
	if f.estimator != nil {
		budgetOpts = append(budgetOpts, budget.WithEstimator(f.estimator))
	}

	loopOpts := []agent.LoopOption{agent.WithLogger(f.logger)}
	if f.checkpoints != nil {
		loopOpts = append(loopOpts, agent.WithCheckpoints(f.checkpoints))
	}
	if summaryModel := f.modelFor(def, profile, "summary"); summaryModel != "" {
		loopOpts = append(loopOpts, agent.WithSummarizer(agent.NewLLMSummarizer(f.provider, summaryModel, 0)))
	}
	loopOpts = append(loopOpts, opts...)

	return agent.NewLoop(
		config,
		def.AgentID,
		def.SystemPrompt,
		f.provider,
		registry,
		f.states,
		history.NewManager(f.history, f.results),
		budget.New(f.window, budgetOpts...),
		strat,
		loopOpts...,
	), nil
}

// Spawner returns a sub-agent spawner whose children are built against
// the given profile. The epic crew uses this to run planner, worker,
// and judge sessions.
func (f *Factory) Spawner(profile Profile) *subagent.Spawner {
	return subagent.NewSpawner(f.subagent, f.buildFunc(profile), f.provider, f.logger)
}

// buildFunc adapts Build to the spawner's hook. Children inherit the
// profile; the hierarchy lives in session ids, not object references.
func (f *Factory) buildFunc(profile Profile) subagent.BuildFunc {
	return func(role, sessionID string) (subagent.AgentRunner, error) {
		return f.Build(role, sessionID, profile)
	}
}

func (f *Factory) modelFor(def *definitions.AgentDefinition, profile Profile, role string) string {
	if model, ok := def.Models[role]; ok && model != "" {
		return model
	}
	return profile.Models[role]
}
