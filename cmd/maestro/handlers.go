// handlers.go contains the command handlers: runtime assembly from the
// configuration, mission execution, the serve loop, and the inspection
// subcommands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/skalene/maestro/internal/budget"
	"github.com/skalene/maestro/internal/checkpoint"
	"github.com/skalene/maestro/internal/classifier"
	"github.com/skalene/maestro/internal/config"
	"github.com/skalene/maestro/internal/definitions"
	"github.com/skalene/maestro/internal/epic"
	"github.com/skalene/maestro/internal/factory"
	"github.com/skalene/maestro/internal/heartbeat"
	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/internal/observability"
	"github.com/skalene/maestro/internal/providers"
	"github.com/skalene/maestro/internal/results"
	"github.com/skalene/maestro/internal/server"
	"github.com/skalene/maestro/internal/service"
	"github.com/skalene/maestro/internal/state"
	"github.com/skalene/maestro/internal/subagent"
	"github.com/skalene/maestro/internal/tools"
	"github.com/skalene/maestro/internal/workflow"
	"github.com/skalene/maestro/pkg/models"
)

// ============================================================
// Runtime assembly
// ============================================================

// runtime bundles everything a command needs after configuration has
// been loaded and the collaborators wired.
type runtime struct {
	config    *config.Config
	logger    *observability.Logger
	registry  *definitions.Registry
	executor  *service.Executor
	states    state.Store
	workflows *workflow.Runtime
	wfStore   workflow.Store
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	shutdownTracer func(context.Context) error
}

// Close flushes any pending trace spans.
func (rt *runtime) Close(ctx context.Context) {
	if rt.shutdownTracer != nil {
		_ = rt.shutdownTracer(ctx)
	}
}

// loadConfig reads the configuration file, falling back to the
// built-in defaults when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return nil, err
}

type stores struct {
	states    state.Store
	results   results.Store
	workflows workflow.Store
}

// openStores builds the persistence backends selected by the
// configuration. Sessions, tool results, and workflow checkpoints
// share one driver.
func openStores(cfg *config.Config) (stores, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return stores{
			states:    state.NewMemoryStore(),
			results:   results.NewMemoryStore(),
			workflows: workflow.NewMemoryStore(),
		}, nil
	case "sqlite":
		st, err := state.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return stores{}, fmt.Errorf("opening state store: %w", err)
		}
		rs, err := results.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return stores{}, fmt.Errorf("opening result store: %w", err)
		}
		ws, err := workflow.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return stores{}, fmt.Errorf("opening workflow store: %w", err)
		}
		return stores{states: st, results: rs, workflows: ws}, nil
	default:
		return stores{}, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// newProvider builds the configured LLM backend.
func newProvider(cfg *config.Config) (llm.Provider, error) {
	name, pc, err := cfg.Provider("")
	if err != nil {
		return nil, err
	}
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// buildRuntime assembles the full execution stack: provider, stores,
// definition registry, factory, executor, and workflow runtime.
func buildRuntime(configPath string, debug bool) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:          level,
		Format:         cfg.Logging.Format,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	backends, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	registry := definitions.NewRegistry(factory.ValidationContext())
	if err := registry.LoadDir(cfg.Agents.DefinitionsDir); err != nil {
		return nil, fmt.Errorf("loading agent definitions: %w", err)
	}
	if _, err := registry.Get(cfg.Agents.DefaultAgent); err != nil {
		if err := registry.Register(builtinAssistant(cfg.Agents.DefaultAgent)); err != nil {
			return nil, fmt.Errorf("registering default agent: %w", err)
		}
	}

	factoryOpts := []factory.Option{
		factory.WithCheckpoints(checkpoint.NewMemoryStore()),
		factory.WithSubAgentConfig(subagent.Config{
			MaxDepth:           cfg.Agents.SubAgent.MaxDepth,
			SummarizeThreshold: cfg.Agents.SubAgent.SummarizeThreshold,
			SummaryModel:       cfg.Agents.Models["summary"],
		}),
		factory.WithContextWindow(cfg.Agents.ContextWindowTokens),
		factory.WithLogger(logger.Slog()),
	}
	if cfg.Agents.ExactTokenCounts {
		factoryOpts = append(factoryOpts,
			factory.WithEstimator(budget.NewTiktokenEstimator(cfg.Agents.Models["main"])))
	}
	f := factory.New(registry, provider, backends.states, backends.results, factoryOpts...)

	profile := factory.Profile{
		Name:                  "default",
		Models:                cfg.Agents.Models,
		WorkDir:               cfg.Agents.WorkDir,
		MaxSteps:              cfg.Agents.MaxSteps,
		ShellRequiresApproval: cfg.Agents.ShellRequiresApproval,
	}

	rt := &runtime{
		config:   cfg,
		logger:   logger,
		registry: registry,
		states:   backends.states,
		wfStore:  backends.workflows,
	}

	execOpts := []service.ExecutorOption{
		service.WithEpic(epic.Config{
			MaxRounds:   cfg.Epic.MaxRounds,
			WorkerCount: cfg.Epic.WorkerCount,
		}, epic.NewRunStore(cfg.Epic.RunsDir)),
		service.WithHeartbeats(heartbeat.NewRunner(heartbeat.NewMemoryStore(), 0)),
		service.WithExecutorLogger(logger.Slog()),
	}
	if cfg.Agents.AutoEpic.Enabled {
		execOpts = append(execOpts, service.WithClassifier(classifier.New(
			provider,
			cfg.Agents.Models["classifier"],
			cfg.Agents.AutoEpic.ConfidenceThreshold,
			logger.Slog(),
		)))
	}
	if cfg.Observability.Metrics.Enabled {
		rt.metrics = observability.NewMetrics()
		execOpts = append(execOpts, service.WithMetrics(rt.metrics))
	}
	if cfg.Observability.Tracing.Enabled {
		tracer, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    "maestro",
			ServiceVersion: version,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			Insecure:       cfg.Observability.Tracing.Insecure,
		})
		rt.tracer = tracer
		rt.shutdownTracer = shutdown
		execOpts = append(execOpts, service.WithTracer(tracer))
	}

	rt.executor = service.NewExecutor(f, backends.states, cfg.Agents.DefaultAgent, profile, execOpts...)
	rt.workflows = workflow.NewRuntime(workflow.Config{
		DedupWindow:     cfg.Workflow.DedupWindow,
		MaxDedupEntries: cfg.Workflow.MaxDedupEntries,
	}, backends.workflows, nil, rt.executor, nil, logger.Slog())

	return rt, nil
}

// builtinAssistant is registered when the definitions directory does
// not provide the configured default agent, so a fresh install can run
// missions without writing any YAML.
func builtinAssistant(agentID string) *definitions.AgentDefinition {
	return &definitions.AgentDefinition{
		AgentID: agentID,
		Name:    "Assistant",
		SystemPrompt: "You are a capable general-purpose assistant. Work through " +
			"the mission step by step, use the available tools when they help, " +
			"and finish with a clear, complete answer.",
	}
}

// ============================================================
// run / epic
// ============================================================

func runMission(ctx context.Context, configPath, mission, agentID, sessionID, mode string, jsonOut, quiet bool) error {
	rt, err := buildRuntime(configPath, false)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := service.MissionRequest{
		Mission:   mission,
		AgentID:   agentID,
		SessionID: sessionID,
		Mode:      service.Mode(mode),
	}

	var result *models.ExecutionResult
	if quiet {
		result, err = rt.executor.ExecuteMission(ctx, req)
	} else {
		var run *service.StreamingRun
		run, err = rt.executor.ExecuteMissionStreaming(ctx, req)
		if err == nil {
			for event := range run.Events() {
				printEvent(event)
			}
			result, err = run.Wait(ctx)
		}
	}
	if err != nil {
		return err
	}
	return printResult(result, jsonOut)
}

// printEvent renders one stream event for the terminal. Progress goes
// to stderr so stdout carries only the final output.
func printEvent(e *models.StreamEvent) {
	switch e.Type {
	case models.EventThought:
		if e.Thought != nil && strings.TrimSpace(e.Thought.Content) != "" {
			fmt.Fprintf(os.Stderr, "· %s\n", strings.TrimSpace(e.Thought.Content))
		}
	case models.EventAction:
		if e.Action != nil {
			for _, call := range e.Action.ToolCalls {
				fmt.Fprintf(os.Stderr, "→ %s\n", tools.SummarizeCall(call.Name, call.Input))
			}
		}
	case models.EventObservation:
		if e.Observation != nil {
			marker := "✓"
			if !e.Observation.Success {
				marker = "✗"
			}
			fmt.Fprintf(os.Stderr, "%s %s\n", marker, firstLine(e.Observation.Preview))
		}
	case models.EventSubAgentSpawned:
		if e.SubAgent != nil {
			fmt.Fprintf(os.Stderr, "⇲ sub-agent %s: %s\n", e.SubAgent.ChildSessionID, e.SubAgent.MissionPreview)
		}
	case models.EventEpicEscalation:
		if e.Escalation != nil {
			fmt.Fprintf(os.Stderr, "! escalating to epic (%s, confidence %.2f)\n",
				e.Escalation.Complexity, e.Escalation.Confidence)
		}
	case models.EventRoundStarted:
		if e.Round != nil {
			fmt.Fprintf(os.Stderr, "-- round %d --\n", e.Round.RoundNumber)
		}
	case models.EventRoundCompleted:
		if e.Round != nil {
			fmt.Fprintf(os.Stderr, "-- round %d: %s --\n", e.Round.RoundNumber, e.Round.JudgeDecision)
		}
	case models.EventAwaitingInput:
		if e.Awaiting != nil {
			fmt.Fprintf(os.Stderr, "? %s\n", e.Awaiting.Question)
		}
	case models.EventError:
		if e.Error != nil {
			fmt.Fprintf(os.Stderr, "error (%s): %s\n", e.Error.Kind, e.Error.Message)
		}
	}
}

func printResult(result *models.ExecutionResult, jsonOut bool) error {
	if jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	switch result.Status {
	case models.RunCompleted:
		fmt.Println(result.FinalAnswer)
		return nil
	case models.RunWaitingExternal:
		fmt.Fprintf(os.Stderr, "session %s is waiting for input; reply with:\n", result.SessionID)
		fmt.Fprintf(os.Stderr, "  maestro workflows resume %s --payload '{\"answer\":\"...\"}'\n", result.SessionID)
		return nil
	default:
		return fmt.Errorf("run %s: %s", result.Status, result.Error)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

// ============================================================
// serve
// ============================================================

func runServe(ctx context.Context, configPath string, debug bool) error {
	rt, err := buildRuntime(configPath, debug)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := rt.config
	if dir := cfg.Agents.DefinitionsDir; dir != "" {
		go func() {
			if err := rt.registry.Watch(ctx, dir, rt.logger.Slog()); err != nil {
				rt.logger.Warn("definition watcher stopped", "error", err)
			}
		}()
	}

	srvOpts := []server.ServerOption{
		server.WithWorkflows(rt.workflows, rt.wfStore),
		server.WithServerLogger(rt.logger.Slog()),
	}
	if rt.metrics != nil {
		srvOpts = append(srvOpts, server.WithServerMetrics(rt.metrics))
	}
	if rt.tracer != nil {
		srvOpts = append(srvOpts, server.WithServerTracer(rt.tracer))
	}

	srv := server.NewServer(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		JWTSecret:       cfg.Server.Auth.JWTSecret,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, rt.executor, rt.states, srvOpts...)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	rt.logger.Info("maestro serving",
		"addr", srv.Addr(),
		"version", version,
		"auth", cfg.Server.Auth.JWTSecret != "",
		"storage", cfg.Storage.Driver)

	<-ctx.Done()
	rt.logger.Info("shutting down")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ============================================================
// sessions
// ============================================================

func runSessionsList(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	backends, err := openStores(cfg)
	if err != nil {
		return err
	}

	ids, err := backends.states.List(ctx)
	if err != nil {
		return err
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runSessionsShow(ctx context.Context, configPath, sessionID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	backends, err := openStores(cfg)
	if err != nil {
		return err
	}

	st, ver, err := backends.states.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(struct {
		Version int64                `json:"version"`
		State   *models.SessionState `json:"state"`
	}{ver, st}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runSessionsDelete(ctx context.Context, configPath, sessionID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	backends, err := openStores(cfg)
	if err != nil {
		return err
	}

	if err := backends.states.Delete(ctx, sessionID); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", sessionID)
	return nil
}

// ============================================================
// workflows
// ============================================================

func runWorkflowsList(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	backends, err := openStores(cfg)
	if err != nil {
		return err
	}

	checkpoints, err := backends.workflows.List(ctx)
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		fmt.Println("no workflows")
		return nil
	}
	for _, cp := range checkpoints {
		fmt.Printf("%s\t%s\t%s\t%s\n", cp.RunID, cp.Status, cp.NodeID, cp.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runWorkflowsResume(ctx context.Context, configPath, runID, payload string) error {
	rt, err := buildRuntime(configPath, false)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if payload == "" {
		payload = "{}"
	}
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}

	outcome, err := rt.workflows.IngestResumeEvent(ctx, runID, json.RawMessage(payload), nil)
	if err != nil {
		return err
	}
	return printOutcome(outcome)
}

func runWorkflowsResumeAndContinue(ctx context.Context, configPath, runID string) error {
	rt, err := buildRuntime(configPath, false)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	result, err := rt.workflows.ResumeFromCheckpoint(ctx, runID)
	if err != nil {
		return err
	}
	return printResult(result, true)
}

func printOutcome(outcome *workflow.ResumeOutcome) error {
	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if outcome.ValidationError != "" {
		return fmt.Errorf("payload rejected: %s", outcome.ValidationError)
	}
	return nil
}

// ============================================================
// service
// ============================================================

func runServiceInstall(ctx context.Context, configPath string, restart bool) error {
	result, err := service.InstallUserService(configPath, true)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", result.Path)
	for _, line := range result.Instructions {
		fmt.Println(" ", line)
	}

	if restart {
		return runServiceRestart(ctx)
	}
	return nil
}

func runServiceRestart(ctx context.Context) error {
	steps, err := service.RestartUserService(ctx)
	for _, step := range steps {
		fmt.Println("ran:", step)
	}
	return err
}

// ============================================================
// config / token
// ============================================================

func runConfigSchema() error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Println(string(schema))
	return nil
}

func runConfigValidate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", configPath)
	fmt.Printf("  storage: %s\n", cfg.Storage.Driver)
	fmt.Printf("  provider: %s\n", cfg.LLM.DefaultProvider)
	fmt.Printf("  definitions: %s\n", cfg.Agents.DefinitionsDir)
	fmt.Printf("  auth: %v\n", cfg.Server.Auth.JWTSecret != "")
	return nil
}

func runTokenCreate(configPath, subject string, scopes []string, ttl time.Duration) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Server.Auth.JWTSecret == "" {
		return fmt.Errorf("server.auth.jwt_secret is not configured; tokens require a secret")
	}

	tokens := server.NewTokenService(cfg.Server.Auth.JWTSecret, ttl)
	token, err := tokens.Generate(subject, scopes)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
