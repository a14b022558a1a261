package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skalene/maestro/internal/budget"
	"github.com/skalene/maestro/internal/checkpoint"
	"github.com/skalene/maestro/internal/history"
	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/internal/prompt"
	"github.com/skalene/maestro/internal/state"
	"github.com/skalene/maestro/internal/tools"
	"github.com/skalene/maestro/pkg/models"
)

// LoopConfig tunes one agent loop.
type LoopConfig struct {
	// MaxSteps caps model calls per run. Default: 30.
	MaxSteps int

	// Model names the provider model; empty uses the provider default.
	Model string

	// MaxResponseTokens bounds one assistant turn. Default: 4096.
	MaxResponseTokens int

	// LLMRetries is the attempt count for transient provider failures.
	// Default: 3.
	LLMRetries int

	// LLMRetryDelay is the base backoff between attempts, doubled each
	// retry with jitter. Default: 1s.
	LLMRetryDelay time.Duration

	// SaveRetries bounds optimistic-save attempts. Default: 5.
	SaveRetries int

	// Temperature passes through to the provider; -1 means default.
	Temperature float64
}

// DefaultLoopConfig returns the standard loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxSteps:          30,
		MaxResponseTokens: 4096,
		LLMRetries:        3,
		LLMRetryDelay:     time.Second,
		SaveRetries:       5,
		Temperature:       -1,
	}
}

func (c *LoopConfig) sanitize() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 30
	}
	if c.MaxResponseTokens <= 0 {
		c.MaxResponseTokens = 4096
	}
	if c.LLMRetries <= 0 {
		c.LLMRetries = 3
	}
	if c.LLMRetryDelay <= 0 {
		c.LLMRetryDelay = time.Second
	}
	if c.SaveRetries <= 0 {
		c.SaveRetries = 5
	}
}

// Loop drives one session: prompt assembly, model calls, tool dispatch,
// history management, and versioned persistence.
type Loop struct {
	config      LoopConfig
	agentID     string
	system      string
	provider    llm.Provider
	registry    *tools.Registry
	executor    *Executor
	store       state.Store
	history     *history.Manager
	budgeter    *budget.Budgeter
	prompts     *prompt.Builder
	strategy    Strategy
	approval    ApprovalChecker
	summarizer  history.Summarizer
	identity    *models.Identity
	sink        Sink
	docs        []prompt.Doc
	checkpoints checkpoint.Store
	logger      *slog.Logger
}

// LoopOption configures optional loop collaborators.
type LoopOption func(*Loop)

// WithSink attaches an event sink.
func WithSink(sink Sink) LoopOption {
	return func(l *Loop) { l.sink = sink }
}

// WithApproval attaches an approval checker for gated tools.
func WithApproval(checker ApprovalChecker) LoopOption {
	return func(l *Loop) { l.approval = checker }
}

// WithIdentity attaches the caller identity propagated to tools.
func WithIdentity(id *models.Identity) LoopOption {
	return func(l *Loop) { l.identity = id }
}

// WithContextDocs injects orchestrator context documents.
func WithContextDocs(docs []prompt.Doc) LoopOption {
	return func(l *Loop) { l.docs = docs }
}

// WithCheckpoints records step checkpoints to the given store.
func WithCheckpoints(store checkpoint.Store) LoopOption {
	return func(l *Loop) { l.checkpoints = store }
}

// WithSummarizer overrides the default LLM summarizer.
func WithSummarizer(s history.Summarizer) LoopOption {
	return func(l *Loop) { l.summarizer = s }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// NewLoop assembles a loop. provider, registry, and store are required;
// the rest defaults sensibly.
func NewLoop(
	config LoopConfig,
	agentID, systemPrompt string,
	provider llm.Provider,
	registry *tools.Registry,
	store state.Store,
	historyMgr *history.Manager,
	budgeter *budget.Budgeter,
	strategy Strategy,
	opts ...LoopOption,
) *Loop {
	config.sanitize()
	l := &Loop{
		config:   config,
		agentID:  agentID,
		system:   systemPrompt,
		provider: provider,
		registry: registry,
		executor: NewExecutor(registry, nil),
		store:    store,
		history:  historyMgr,
		budgeter: budgeter,
		prompts:  prompt.NewBuilder(0),
		strategy: strategy,
		approval: AllowAll(),
		sink:     NopSink{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.summarizer == nil {
		l.summarizer = NewLLMSummarizer(provider, config.Model, 0)
	}
	return l
}

// Run drives the session until a terminal condition. userInput is the
// new user message, or the answer to a pending question on resume; it
// may be empty when resuming a crashed session.
func (l *Loop) Run(ctx context.Context, sessionID, userInput string) (*models.ExecutionResult, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}

	st, version, err := l.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, &StepError{Phase: PhaseInit, Cause: err}
	}
	em := &emitter{sink: l.sink, sessionID: sessionID}

	l.admitInput(ctx, st, userInput)

	for st.StepCount < l.config.MaxSteps {
		if ctx.Err() != nil {
			return l.terminate(ctx, st, &version, models.RunCancelled, "", models.ErrKindCancelled, ctx.Err().Error())
		}
		step := st.StepCount + 1

		directives, err := l.strategy.PrepareTurn(ctx, st)
		if err != nil {
			return l.terminate(ctx, st, &version, models.RunFailed, "", models.ErrKindInternal, err.Error())
		}

		resp, err := l.callModel(ctx, st, directives)
		if err != nil {
			if errors.Is(err, budget.ErrOverBudget) {
				return l.terminate(ctx, st, &version, models.RunFailed, "", models.ErrKindBudgetExceeded, err.Error())
			}
			if ctx.Err() != nil {
				return l.terminate(ctx, st, &version, models.RunCancelled, "", models.ErrKindCancelled, ctx.Err().Error())
			}
			return l.terminate(ctx, st, &version, models.RunFailed, "", models.ErrKindInternal, err.Error())
		}
		st.StepCount = step
		st.Usage.Add(resp.Usage)

		assistant := &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			CreatedAt: time.Now(),
		}
		l.history.Append(st, assistant)

		if len(resp.ToolCalls) == 0 {
			// A turn with neither content nor tool calls is a stall,
			// never a final answer.
			if strings.TrimSpace(resp.Content) == "" {
				l.logger.Warn("model returned an empty turn, nudging",
					"session_id", st.SessionID, "step", step)
				l.history.Append(st, &models.Message{
					ID:        uuid.NewString(),
					Role:      models.RoleUser,
					Content:   "Your last reply was empty. Continue the mission: call a tool or give the final answer.",
					CreatedAt: time.Now(),
				})
				if err := l.saveWithRetry(ctx, st, &version); err != nil {
					return l.terminate(ctx, st, &version, models.RunFailed, "", models.ErrKindPersistenceConflict, err.Error())
				}
				continue
			}

			stop, nudge := l.strategy.ShouldStop(ctx, st, resp.Content)
			if stop {
				em.emit(ctx, step, &models.StreamEvent{
					Type:  models.EventFinalAnswer,
					Final: &models.FinalPayload{Content: resp.Content, Usage: st.Usage},
				})
				return l.terminate(ctx, st, &version, models.RunCompleted, resp.Content, "", "")
			}
			l.history.Append(st, &models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleUser,
				Content:   nudge,
				CreatedAt: time.Now(),
			})
			if err := l.saveWithRetry(ctx, st, &version); err != nil {
				return l.terminate(ctx, st, &version, models.RunFailed, "", models.ErrKindPersistenceConflict, err.Error())
			}
			continue
		}

		if resp.Content != "" {
			em.emit(ctx, step, &models.StreamEvent{
				Type:    models.EventThought,
				Thought: &models.ThoughtPayload{Content: resp.Content},
			})
		}
		em.emit(ctx, step, &models.StreamEvent{
			Type:   models.EventAction,
			Action: &models.ActionPayload{ToolCalls: resp.ToolCalls},
		})

		regular, askUser := splitAskUser(resp.ToolCalls)

		if err := l.dispatch(ctx, st, em, step, regular); err != nil {
			return l.terminate(ctx, st, &version, models.RunFailed, "", models.ErrKindInternal, err.Error())
		}

		if askUser != nil {
			l.parkAtWaitGate(ctx, st, em, step, askUser)
			if err := l.saveWithRetry(ctx, st, &version); err != nil {
				return l.terminate(ctx, st, &version, models.RunFailed, "", models.ErrKindPersistenceConflict, err.Error())
			}
			return &models.ExecutionResult{
				SessionID: sessionID,
				Status:    models.RunWaitingExternal,
				Steps:     st.StepCount,
				Usage:     st.Usage,
			}, nil
		}

		if err := l.strategy.AfterTurn(ctx, st); err != nil {
			return l.terminate(ctx, st, &version, models.RunFailed, "", models.ErrKindInternal, err.Error())
		}
		l.saveCheckpoint(ctx, st)
		if err := l.saveWithRetry(ctx, st, &version); err != nil {
			return l.terminate(ctx, st, &version, models.RunFailed, "", models.ErrKindPersistenceConflict, err.Error())
		}
	}

	em.emit(ctx, st.StepCount, &models.StreamEvent{
		Type:  models.EventError,
		Error: &models.ErrorPayload{Kind: models.ErrKindMaxSteps, Message: ErrMaxSteps.Error()},
	})
	return l.terminate(ctx, st, &version, models.RunMaxSteps, "", models.ErrKindMaxSteps, ErrMaxSteps.Error())
}

// loadOrCreate fetches the session or initializes a fresh one.
func (l *Loop) loadOrCreate(ctx context.Context, sessionID string) (*models.SessionState, int64, error) {
	st, version, err := l.store.Load(ctx, sessionID)
	if err == nil {
		return st, version, nil
	}
	if errors.Is(err, state.ErrNotFound) {
		return &models.SessionState{
			SessionID: sessionID,
			AgentID:   l.agentID,
		}, 0, nil
	}
	return nil, 0, err
}

// admitInput threads the new user input into the transcript: answering
// a pending question, recovering dangling tool calls, or starting a
// fresh turn.
func (l *Loop) admitInput(ctx context.Context, st *models.SessionState, userInput string) {
	dangling := danglingCalls(st)

	if st.PendingQuestion != nil && userInput != "" {
		for _, call := range dangling {
			if call.Name == tools.AskUserName {
				_ = l.history.AppendToolResult(ctx, st, models.ToolResult{
					ToolCallID: call.ID,
					Content:    userInput,
				})
			}
		}
		st.PendingQuestion = nil
		return
	}

	// Crash recovery: a dangling call without a wait gate means the
	// process died mid-dispatch. Idempotent tools are safe to re-run;
	// anything else is reported so the model can decide.
	for _, call := range dangling {
		if l.metaFor(call.Name).Idempotent {
			dr := l.executor.Execute(tools.WithSession(tools.WithIdentity(ctx, l.identity), st), call)
			obs := ToObservations([]*DispatchResult{dr})
			_ = l.history.AppendToolResult(ctx, st, obs[0])
			continue
		}
		_ = l.history.AppendToolResult(ctx, st, models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool %s was interrupted before producing a result; re-issue the call if still needed", call.Name),
			IsError:    true,
			ErrorKind:  models.ErrKindPartialRecovery,
		})
	}

	if userInput != "" {
		if st.Mission == "" {
			st.Mission = userInput
		}
		l.history.Append(st, &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleUser,
			Content:   userInput,
			CreatedAt: time.Now(),
		})
	}
}

// danglingCalls returns tool calls from the last assistant message that
// have no matching tool result.
func danglingCalls(st *models.SessionState) []models.ToolCall {
	var lastAssistant *models.Message
	answered := map[string]bool{}
	for _, msg := range st.Messages {
		switch msg.Role {
		case models.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				lastAssistant = msg
			}
		case models.RoleTool:
			answered[msg.ToolCallID] = true
		}
	}
	if lastAssistant == nil {
		return nil
	}
	var dangling []models.ToolCall
	for _, call := range lastAssistant.ToolCalls {
		if !answered[call.ID] {
			dangling = append(dangling, call)
		}
	}
	return dangling
}

// callModel builds the prompt, compresses history if needed, checks the
// budget, and calls the provider with retry.
func (l *Loop) callModel(ctx context.Context, st *models.SessionState, directives *TurnDirectives) (*llm.Response, error) {
	schemas := l.registry.Schemas()
	if directives != nil && directives.ForceTool != "" {
		filtered := schemas[:0]
		for _, s := range schemas {
			if s.Name == directives.ForceTool {
				filtered = append(filtered, s)
			}
		}
		schemas = filtered
	}

	system := l.prompts.Build(l.system, st, l.docs)
	if directives != nil && directives.Guidance != "" {
		system += "\n\n" + directives.Guidance
	}

	estimate := l.budgeter.EstimateRequest(system, st.Messages, schemas)
	if l.history.NeedsCompression(st, l.budgeter.ShouldCompress(estimate)) {
		if err := l.history.Compress(ctx, st, l.summarizer); err != nil {
			l.logger.Warn("history compression failed", "session_id", st.SessionID, "error", err)
		}
		system = l.prompts.Build(l.system, st, l.docs)
		if directives != nil && directives.Guidance != "" {
			system += "\n\n" + directives.Guidance
		}
		estimate = l.budgeter.EstimateRequest(system, st.Messages, schemas)
	}
	if err := l.budgeter.Preflight(estimate); err != nil {
		return nil, err
	}

	req := &llm.Request{
		Model:       l.config.Model,
		System:      system,
		Messages:    st.Messages,
		Tools:       schemas,
		MaxTokens:   l.config.MaxResponseTokens,
		Temperature: l.config.Temperature,
	}

	var resp *llm.Response
	var lastErr error
	for attempt := 0; attempt < l.config.LLMRetries; attempt++ {
		if attempt > 0 {
			delay := l.config.LLMRetryDelay * time.Duration(1<<uint(attempt-1))
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		resp, lastErr = l.provider.Complete(ctx, req)
		if lastErr == nil {
			return resp, nil
		}
		if !llm.IsRetryable(lastErr) {
			break
		}
		l.logger.Warn("model call failed, retrying",
			"session_id", st.SessionID, "attempt", attempt+1, "error", lastErr)
	}
	return nil, fmt.Errorf("model call: %w", lastErr)
}

// dispatch runs one turn's regular tool calls and records observations.
func (l *Loop) dispatch(ctx context.Context, st *models.SessionState, em *emitter, step int, calls []models.ToolCall) error {
	if len(calls) == 0 {
		return nil
	}

	execCtx := tools.WithSession(tools.WithIdentity(ctx, l.identity), st)
	execCtx = tools.WithEmitter(execCtx, func(event *models.StreamEvent) {
		em.emit(ctx, step, event)
	})

	approved := make([]models.ToolCall, 0, len(calls))
	observations := make([]*models.ToolResult, len(calls))
	approvedIdx := make([]int, 0, len(calls))

	for i, call := range calls {
		meta := l.metaFor(call.Name)
		if meta.RequiresApproval {
			ok, err := l.approval.Approve(ctx, st.SessionID, call)
			if err != nil {
				return fmt.Errorf("approval check for %s: %w", call.Name, err)
			}
			if !ok {
				observations[i] = &models.ToolResult{
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("tool %s requires approval and was not approved", call.Name),
					IsError:    true,
					ErrorKind:  models.ErrKindNotApproved,
				}
				continue
			}
		}
		approved = append(approved, call)
		approvedIdx = append(approvedIdx, i)
	}

	results := l.executor.ExecuteAll(execCtx, approved)
	for j, obs := range ToObservations(results) {
		o := obs
		observations[approvedIdx[j]] = &o
	}

	planChanged := false
	for i, obs := range observations {
		if obs == nil {
			continue
		}
		if err := l.history.AppendToolResult(ctx, st, *obs); err != nil {
			return err
		}
		recorded := st.Messages[len(st.Messages)-1]
		em.emit(ctx, step, &models.StreamEvent{
			Type: models.EventObservation,
			Observation: &models.ObservationPayload{
				ToolCallID: obs.ToolCallID,
				Success:    !obs.IsError,
				Preview:    previewOf(recorded.Content),
				Handle:     recorded.Handle,
				ErrorKind:  obs.ErrorKind,
			},
		})
		if calls[i].Name == "planner" && !obs.IsError {
			planChanged = true
		}
	}
	if planChanged && st.Plan != nil {
		em.emit(ctx, step, &models.StreamEvent{
			Type: models.EventPlanUpdated,
			Plan: &models.PlanPayload{Snapshot: st.Plan},
		})
	}
	return nil
}

// parkAtWaitGate records the pending question and emits awaiting_input.
func (l *Loop) parkAtWaitGate(ctx context.Context, st *models.SessionState, em *emitter, step int, call *models.ToolCall) {
	var in tools.AskUserParams
	_ = json.Unmarshal(call.Input, &in)
	st.PendingQuestion = &models.PendingQuestion{
		Question:       in.Question,
		RequiredInputs: in.RequiredInputs,
		AskedAt:        time.Now(),
	}
	em.emit(ctx, step, &models.StreamEvent{
		Type: models.EventAwaitingInput,
		Awaiting: &models.AwaitingPayload{
			Question:       in.Question,
			RequiredInputs: string(in.RequiredInputs),
		},
	})
}

// splitAskUser separates the wait-gate call from regular dispatch.
func splitAskUser(calls []models.ToolCall) (regular []models.ToolCall, askUser *models.ToolCall) {
	for i := range calls {
		if calls[i].Name == tools.AskUserName && askUser == nil {
			askUser = &calls[i]
			continue
		}
		regular = append(regular, calls[i])
	}
	return regular, askUser
}

// saveWithRetry persists the state, rebasing onto the stored transcript
// on conflict. A conflict means a concurrent writer appended to this
// session; its messages are kept and the loop's unflushed messages are
// re-applied on top before retrying.
func (l *Loop) saveWithRetry(ctx context.Context, st *models.SessionState, version *int64) error {
	var lastErr error
	for attempt := 0; attempt < l.config.SaveRetries; attempt++ {
		st.UpdatedAt = time.Now()
		newVersion, err := l.store.Save(ctx, st.SessionID, st, *version)
		if err == nil {
			*version = newVersion
			return nil
		}
		lastErr = err
		if !errors.Is(err, state.ErrVersionConflict) {
			return err
		}
		base, current, loadErr := l.store.Load(ctx, st.SessionID)
		if loadErr != nil {
			if !errors.Is(loadErr, state.ErrNotFound) {
				return loadErr
			}
			base = nil
		}
		if base != nil {
			rebaseMessages(st, base)
		}
		*version = current
		l.logger.Warn("session save conflict, rebasing and retrying",
			"session_id", st.SessionID, "attempt", attempt+1)
	}
	return fmt.Errorf("%w: %v", ErrSaveConflict, lastErr)
}

// rebaseMessages replays st's messages that the stored base has not
// seen onto the base transcript, so neither writer's appends are lost.
// The loop's own plan, usage, and pending question stay authoritative.
func rebaseMessages(st, base *models.SessionState) {
	seen := make(map[string]struct{}, len(base.Messages))
	for _, msg := range base.Messages {
		seen[msg.ID] = struct{}{}
	}
	merged := make([]*models.Message, len(base.Messages), len(base.Messages)+len(st.Messages))
	copy(merged, base.Messages)
	for _, msg := range st.Messages {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		merged = append(merged, msg)
	}
	st.Messages = merged
	if base.StepCount > st.StepCount {
		st.StepCount = base.StepCount
	}
}

// terminate saves final state and shapes the execution result.
func (l *Loop) terminate(ctx context.Context, st *models.SessionState, version *int64, status models.RunStatus, finalAnswer string, kind models.ErrorKind, errMsg string) (*models.ExecutionResult, error) {
	// Best effort: a cancelled context must not lose the transcript.
	saveCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := l.saveWithRetry(saveCtx, st, version); err != nil {
		l.logger.Error("final state save failed", "session_id", st.SessionID, "error", err)
		if status == models.RunCompleted {
			status = models.RunFailed
			kind = models.ErrKindPersistenceConflict
			errMsg = err.Error()
		}
	}
	return &models.ExecutionResult{
		SessionID:   st.SessionID,
		Status:      status,
		FinalAnswer: finalAnswer,
		Error:       errMsg,
		ErrorKind:   kind,
		Steps:       st.StepCount,
		Usage:       st.Usage,
	}, nil
}

func (l *Loop) saveCheckpoint(ctx context.Context, st *models.SessionState) {
	if l.checkpoints == nil {
		return
	}
	err := l.checkpoints.Save(ctx, st.SessionID, &checkpoint.Checkpoint{
		Step:  st.StepCount,
		Phase: string(PhaseObservation),
	})
	if err != nil {
		l.logger.Warn("checkpoint save failed", "session_id", st.SessionID, "error", err)
	}
}

func (l *Loop) metaFor(name string) tools.Meta {
	if tool, ok := l.registry.Get(name); ok {
		return tools.MetaFor(tool)
	}
	return tools.Meta{}
}

func previewOf(content string) string {
	const max = 200
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}
