package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/skalene/maestro/internal/agent"
	"github.com/skalene/maestro/internal/bus"
	"github.com/skalene/maestro/internal/classifier"
	"github.com/skalene/maestro/internal/epic"
	"github.com/skalene/maestro/internal/factory"
	"github.com/skalene/maestro/internal/heartbeat"
	"github.com/skalene/maestro/internal/observability"
	"github.com/skalene/maestro/internal/state"
	"github.com/skalene/maestro/pkg/models"
)

// Executor errors.
var (
	// ErrEmptyMission indicates a request with no mission text.
	ErrEmptyMission = errors.New("service: empty mission")

	// ErrEpicDisabled indicates epic routing was forced but the
	// executor has no epic run store configured.
	ErrEpicDisabled = errors.New("service: epic orchestration not configured")
)

// Mode selects the execution pipeline. ModeAuto defers to the
// classifier; the other two force a pipeline and skip classification.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeSimple Mode = "simple"
	ModeEpic   Mode = "epic"
)

// DefaultStreamBuffer is the bounded event channel capacity for
// streaming runs. A full buffer back-pressures the loop rather than
// dropping events.
const DefaultStreamBuffer = 64

// MissionRequest is one execution request from the CLI or the API.
type MissionRequest struct {
	// Mission is the user's task text. Required.
	Mission string

	// AgentID selects the definition; empty uses the executor default.
	AgentID string

	// SessionID resumes or names the session; empty generates one.
	SessionID string

	// Mode overrides routing. Empty means ModeAuto.
	Mode Mode

	// Identity is attached to tool dispatch for the run.
	Identity *models.Identity
}

// Executor is the top-level entry the CLI and HTTP API drive. It
// routes each mission to the single-agent pipeline or the epic
// orchestrator and owns the run lifecycle around both.
type Executor struct {
	factory      *factory.Factory
	states       state.Store
	profile      factory.Profile
	defaultAgent string

	classifier *classifier.Classifier
	epicConfig epic.Config
	epicRuns   *epic.RunStore
	heartbeats *heartbeat.Runner
	approval   agent.ApprovalChecker
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	streamBuffer int
	logger       *slog.Logger
}

// ExecutorOption configures optional executor collaborators.
type ExecutorOption func(*Executor)

// WithClassifier enables auto-epic routing through the classifier.
func WithClassifier(c *classifier.Classifier) ExecutorOption {
	return func(e *Executor) { e.classifier = c }
}

// WithEpic enables the epic pipeline over the given run store.
func WithEpic(config epic.Config, runs *epic.RunStore) ExecutorOption {
	return func(e *Executor) {
		e.epicConfig = config
		e.epicRuns = runs
	}
}

// WithHeartbeats emits liveness beats for running sessions.
func WithHeartbeats(r *heartbeat.Runner) ExecutorOption {
	return func(e *Executor) { e.heartbeats = r }
}

// WithApproval gates approval-required tools on built agents.
func WithApproval(checker agent.ApprovalChecker) ExecutorOption {
	return func(e *Executor) { e.approval = checker }
}

// WithMetrics records run counters and durations.
func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer opens a span per run.
func WithTracer(t *observability.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithStreamBuffer sets the streaming event channel capacity.
func WithStreamBuffer(n int) ExecutorOption {
	return func(e *Executor) { e.streamBuffer = n }
}

// WithExecutorLogger overrides the default logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an executor over the factory and the shared
// state store. defaultAgent is used when requests name no agent.
func NewExecutor(f *factory.Factory, states state.Store, defaultAgent string, profile factory.Profile, opts ...ExecutorOption) *Executor {
	e := &Executor{
		factory:      f,
		states:       states,
		profile:      profile,
		defaultAgent: defaultAgent,
		epicConfig:   epic.DefaultConfig(),
		streamBuffer: DefaultStreamBuffer,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteMission runs a mission to a terminal condition and returns
// the result.
func (e *Executor) ExecuteMission(ctx context.Context, req MissionRequest) (*models.ExecutionResult, error) {
	return e.execute(ctx, req, nil)
}

// StreamingRun is a mission execution in flight. Events arrive on
// Events in order; Wait blocks for the terminal result.
type StreamingRun struct {
	events <-chan *models.StreamEvent
	done   chan struct{}
	result *models.ExecutionResult
	err    error
}

// Events returns the ordered event channel. It is closed when the run
// finishes; drain it to avoid back-pressuring the loop.
func (r *StreamingRun) Events() <-chan *models.StreamEvent { return r.events }

// Wait blocks until the run finishes or ctx expires.
func (r *StreamingRun) Wait(ctx context.Context) (*models.ExecutionResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.result, r.err
	}
}

// ExecuteMissionStreaming runs a mission and emits its events on a
// bounded channel as they occur. Events within a session are strictly
// ordered by step.
func (e *Executor) ExecuteMissionStreaming(ctx context.Context, req MissionRequest) (*StreamingRun, error) {
	if strings.TrimSpace(req.Mission) == "" {
		return nil, ErrEmptyMission
	}

	sink := agent.NewChannelSink(e.streamBuffer)
	run := &StreamingRun{events: sink.Events(), done: make(chan struct{})}
	go func() {
		defer close(run.done)
		defer sink.Close()
		run.result, run.err = e.execute(ctx, req, sink)
	}()
	return run, nil
}

func (e *Executor) execute(ctx context.Context, req MissionRequest, sink agent.Sink) (*models.ExecutionResult, error) {
	if strings.TrimSpace(req.Mission) == "" {
		return nil, ErrEmptyMission
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = e.defaultAgent
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	mode := e.routeMode(ctx, req, sink)
	if mode == ModeEpic && e.epicRuns == nil {
		return nil, ErrEpicDisabled
	}

	if e.metrics != nil {
		e.metrics.ActiveSessions.Inc()
		defer e.metrics.ActiveSessions.Dec()
	}

	start := time.Now()
	var (
		result *models.ExecutionResult
		err    error
	)
	if mode == ModeEpic {
		result, err = e.runEpic(ctx, req.Mission, sink)
	} else {
		result, err = e.runSimple(ctx, agentID, sessionID, req, sink)
	}
	e.observeRun(agentID, start, result, err)
	return result, err
}

// routeMode decides the pipeline. A forced mode wins; otherwise the
// classifier votes, and anything short of a confident complex verdict
// stays on the simple pipeline. An escalation is announced on the
// stream before any epic work starts.
func (e *Executor) routeMode(ctx context.Context, req MissionRequest, sink agent.Sink) Mode {
	if req.Mode == ModeSimple || req.Mode == ModeEpic {
		return req.Mode
	}
	if e.classifier == nil || e.epicRuns == nil {
		return ModeSimple
	}

	verdict := e.classifier.Classify(ctx, req.Mission)
	if verdict.IsComplex(e.classifier.Threshold()) {
		e.logger.Info("mission routed to epic pipeline",
			"confidence", verdict.Confidence,
			"reason", verdict.Reason,
		)
		if sink != nil {
			sink.Emit(&models.StreamEvent{
				Type:      models.EventEpicEscalation,
				Timestamp: time.Now(),
				Escalation: &models.EscalationPayload{
					Complexity: verdict.Complexity,
					Confidence: verdict.Confidence,
					Reason:     verdict.Reason,
				},
			})
		}
		return ModeEpic
	}
	return ModeSimple
}

func (e *Executor) runSimple(ctx context.Context, agentID, sessionID string, req MissionRequest, sink agent.Sink) (*models.ExecutionResult, error) {
	loopOpts := []agent.LoopOption{}
	if sink != nil {
		loopOpts = append(loopOpts, agent.WithSink(sink))
	}
	if req.Identity != nil {
		loopOpts = append(loopOpts, agent.WithIdentity(req.Identity))
	}
	if e.approval != nil {
		loopOpts = append(loopOpts, agent.WithApproval(e.approval))
	}

	loop, err := e.factory.Build(agentID, sessionID, e.profile, loopOpts...)
	if err != nil {
		return nil, fmt.Errorf("building agent %s: %w", agentID, err)
	}

	if e.heartbeats != nil {
		stop := e.heartbeats.Start(ctx, sessionID)
		defer stop()
	}

	runCtx := ctx
	var span trace.Span
	if e.tracer != nil {
		runCtx, span = e.tracer.TraceRun(ctx, agentID, sessionID)
		defer span.End()
	}
	result, err := loop.Run(runCtx, sessionID, req.Mission)
	if err != nil && e.tracer != nil {
		e.tracer.RecordError(span, err)
	}
	return result, err
}

func (e *Executor) runEpic(ctx context.Context, mission string, sink agent.Sink) (*models.ExecutionResult, error) {
	crew := epic.NewAgentCrew(e.factory.Spawner(e.profile), e.states)
	taskBus := bus.NewInProc(bus.Config{})
	orch := epic.NewOrchestrator(e.epicConfig, crew, taskBus, e.epicRuns, sink, e.logger)
	return orch.Run(ctx, mission)
}

func (e *Executor) observeRun(agentID string, start time.Time, result *models.ExecutionResult, err error) {
	if e.metrics == nil {
		return
	}
	status := "error"
	if result != nil {
		status = string(result.Status)
	}
	e.metrics.RunCounter.WithLabelValues(agentID, status).Inc()
	e.metrics.RunDuration.WithLabelValues(agentID).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.ErrorCounter.WithLabelValues("executor", "run_failed").Inc()
	}
}

// checkpointState is the engine state blob the executor stores in
// workflow checkpoints for sessions parked at a wait gate.
type checkpointState struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Question  string `json:"question,omitempty"`
}

// waitGateSchema is the resume payload contract for wait gates: the
// reply must carry the answer text.
const waitGateSchema = `{"type":"object","properties":{"answer":{"type":"string"}},"required":["answer"]}`

// WaitCheckpoint builds the workflow checkpoint for a session parked
// at a wait gate. The run id doubles as the session id so inbound
// replies address the session directly.
func WaitCheckpoint(agentID, sessionID, question string) *models.WorkflowCheckpoint {
	stateBlob, _ := json.Marshal(checkpointState{
		AgentID:   agentID,
		SessionID: sessionID,
		Question:  question,
	})
	return &models.WorkflowCheckpoint{
		RunID:          sessionID,
		NodeID:         "wait_gate",
		Status:         models.WorkflowWaitingExternal,
		BlockingReason: models.BlockNeedsDecision,
		RequiredInputs: json.RawMessage(waitGateSchema),
		State:          stateBlob,
	}
}

// Resume re-enters a waiting session with the reply payload. It
// implements the workflow runtime's Resumer contract.
func (e *Executor) Resume(ctx context.Context, cp *models.WorkflowCheckpoint, payload json.RawMessage) (*models.ExecutionResult, error) {
	var cs checkpointState
	if len(cp.State) > 0 {
		if err := json.Unmarshal(cp.State, &cs); err != nil {
			return nil, fmt.Errorf("run %s: decoding checkpoint state: %w", cp.RunID, err)
		}
	}
	agentID := cs.AgentID
	if agentID == "" {
		agentID = e.defaultAgent
	}
	sessionID := cs.SessionID
	if sessionID == "" {
		sessionID = cp.RunID
	}

	loop, err := e.factory.Build(agentID, sessionID, e.profile)
	if err != nil {
		return nil, fmt.Errorf("building agent %s for resume: %w", agentID, err)
	}

	if e.heartbeats != nil {
		stop := e.heartbeats.Start(ctx, sessionID)
		defer stop()
	}
	result, err := loop.Run(ctx, sessionID, resumeInput(payload))
	if e.metrics != nil {
		outcome := "failed"
		switch {
		case err != nil:
		case result != nil && result.Status == models.RunCompleted:
			outcome = "completed"
		case result != nil && result.Status == models.RunWaitingExternal:
			outcome = "waiting"
		}
		e.metrics.WorkflowResumeCounter.WithLabelValues(outcome).Inc()
	}
	return result, err
}

// resumeInput flattens the reply payload into the answer text the
// waiting session expects. A payload that is only {"answer": ...}
// passes the answer through verbatim; anything richer is forwarded as
// JSON so no fields are silently dropped.
func resumeInput(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err == nil {
		if answer, ok := m["answer"].(string); ok && len(m) == 1 {
			return answer
		}
	}
	return string(payload)
}
