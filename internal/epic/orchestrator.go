// Package epic implements the planner, workers, judge round loop for
// missions too large for a single session.
package epic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skalene/maestro/internal/agent"
	"github.com/skalene/maestro/internal/bus"
	"github.com/skalene/maestro/pkg/models"
)

// Config tunes an epic run.
type Config struct {
	// MaxRounds caps planner/worker/judge rounds. Default: 3.
	MaxRounds int

	// WorkerCount is the number of concurrent workers. Default: 3.
	WorkerCount int

	// PlannerCount is the number of planner agents per round. Default: 1.
	PlannerCount int

	// AllowedTaskTypes restricts worker claims; empty claims any type.
	AllowedTaskTypes []string
}

// DefaultConfig returns the standard epic configuration.
func DefaultConfig() Config {
	return Config{MaxRounds: 3, WorkerCount: 3, PlannerCount: 1}
}

func (c *Config) sanitize() {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 3
	}
	if c.PlannerCount <= 0 {
		c.PlannerCount = 1
	}
}

// Orchestrator drives epic runs over a crew and a task bus.
type Orchestrator struct {
	config Config
	crew   Crew
	bus    bus.Bus
	store  *RunStore
	sink   agent.Sink
	logger *slog.Logger
}

// NewOrchestrator assembles an orchestrator. sink and logger may be nil.
func NewOrchestrator(config Config, crew Crew, taskBus bus.Bus, store *RunStore, sink agent.Sink, logger *slog.Logger) *Orchestrator {
	config.sanitize()
	if sink == nil {
		sink = agent.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		config: config,
		crew:   crew,
		bus:    taskBus,
		store:  store,
		sink:   sink,
		logger: logger,
	}
}

// Run executes the mission through rounds until the judge completes it,
// rounds run out, or the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context, mission string) (*models.ExecutionResult, error) {
	run := &models.EpicRun{
		ID:        "epic_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Mission:   mission,
		MaxRounds: o.config.MaxRounds,
		CreatedAt: time.Now(),
	}
	if err := o.store.Create(run); err != nil {
		return nil, fmt.Errorf("creating epic run: %w", err)
	}
	o.logger.Info("epic run starting", "run_id", run.ID, "max_rounds", run.MaxRounds)

	decision := models.JudgeContinue
	var rounds int
	var totalSteps int
	var usage models.TokenUsage

	for round := 1; round <= o.config.MaxRounds; round++ {
		if ctx.Err() != nil {
			return o.finish(run, rounds, decision, models.RunCancelled, ctx.Err().Error(), totalSteps, usage)
		}
		rounds = round

		currentState, err := o.store.CurrentState(run.ID)
		if err != nil {
			return o.finish(run, rounds, decision, models.RunFailed, err.Error(), totalSteps, usage)
		}

		summaries, roundErr := o.runRound(ctx, run, round, currentState)
		if roundErr != nil {
			return o.finish(run, rounds, decision, models.RunFailed, roundErr.Error(), totalSteps, usage)
		}
		for _, s := range summaries {
			totalSteps += s.Steps
			usage.Add(s.Usage)
		}
		_ = o.store.Update(run.ID, func(r *models.EpicRun) {
			r.Round = round
			r.Summaries = append(r.Summaries, summaries...)
		})

		var newState string
		decision, newState, err = o.crew.Judge(ctx, run, round, currentState, summaries)
		if err != nil {
			// An unusable judge never aborts the run; the round simply
			// continues.
			o.logger.Warn("judge failed, defaulting to continue", "run_id", run.ID, "round", round, "error", err)
			decision = models.JudgeContinue
		}
		if newState != "" {
			if err := o.store.WriteCurrentState(run.ID, newState); err != nil {
				return o.finish(run, rounds, decision, models.RunFailed, err.Error(), totalSteps, usage)
			}
		}
		if err := o.store.AppendMemory(run.ID, round, decision, roundMemoryNote(summaries)); err != nil {
			o.logger.Warn("memory append failed", "run_id", run.ID, "error", err)
		}
		_ = o.store.Update(run.ID, func(r *models.EpicRun) { r.Decision = decision })

		o.emitRound(run.ID, round, models.EventRoundCompleted, len(summaries), decision)
		o.logger.Info("epic round completed",
			"run_id", run.ID, "round", round, "tasks", len(summaries), "decision", decision)

		switch decision {
		case models.JudgeComplete:
			return o.finish(run, rounds, decision, models.RunCompleted, "", totalSteps, usage)
		case models.JudgeFreshStart:
			if err := o.bus.Clear(ctx, bus.TopicTasks); err != nil {
				o.logger.Warn("clearing tasks after fresh start", "run_id", run.ID, "error", err)
			}
		}
	}

	return o.finish(run, rounds, decision, models.RunCompleted, "", totalSteps, usage)
}

// runRound publishes the planners' tasks and drains them with workers.
func (o *Orchestrator) runRound(ctx context.Context, run *models.EpicRun, round int, currentState string) ([]models.WorkerSummary, error) {
	published := 0
	for p := 0; p < o.config.PlannerCount; p++ {
		tasks, err := o.crew.Plan(ctx, run, round, currentState)
		if err != nil {
			return nil, fmt.Errorf("planning round %d: %w", round, err)
		}
		for _, task := range tasks {
			if err := o.bus.PublishTask(ctx, task); err != nil {
				return nil, fmt.Errorf("publishing task: %w", err)
			}
			published++
		}
	}
	o.emitRound(run.ID, round, models.EventRoundStarted, published, "")

	// A no-op round still gets judged; the judge may complete or reset.
	if published == 0 {
		return nil, nil
	}

	var (
		mu        sync.Mutex
		summaries []models.WorkerSummary
		wg        sync.WaitGroup
	)
	for w := 0; w < o.config.WorkerCount; w++ {
		workerID := fmt.Sprintf("%s_worker_%d", run.ID, w+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				task, err := o.bus.RequestTask(ctx, workerID, o.config.AllowedTaskTypes)
				if err != nil || task == nil {
					return
				}
				summary := o.workTask(ctx, run, workerID, task)
				mu.Lock()
				summaries = append(summaries, *summary)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return summaries, nil
}

// workTask executes one claimed task and settles it on the bus.
func (o *Orchestrator) workTask(ctx context.Context, run *models.EpicRun, workerID string, task *models.EpicTask) *models.WorkerSummary {
	summary, err := o.crew.Work(ctx, run, workerID, task)
	if err != nil {
		summary = &models.WorkerSummary{
			RunID:     run.ID,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			WorkerID:  workerID,
			Success:   false,
			Summary:   err.Error(),
			CreatedAt: time.Now(),
		}
	}

	if summary.Success {
		if err := o.bus.CompleteTask(ctx, task.ID, summary.Summary); err != nil {
			o.logger.Warn("completing task", "task_id", task.ID, "error", err)
		}
	} else {
		if err := o.bus.FailTask(ctx, task.ID, summary.Summary); err != nil {
			o.logger.Warn("failing task", "task_id", task.ID, "error", err)
		}
	}
	if err := o.bus.Publish(ctx, bus.TopicSummaries, *summary); err != nil {
		o.logger.Warn("publishing worker summary", "task_id", task.ID, "error", err)
	}
	return summary
}

func (o *Orchestrator) emitRound(runID string, round int, typ models.StreamEventType, taskCount int, decision models.JudgeDecision) {
	o.sink.Emit(&models.StreamEvent{
		Type:      typ,
		SessionID: runID,
		StepID:    round,
		Timestamp: time.Now(),
		Round: &models.RoundPayload{
			RunID:         runID,
			RoundNumber:   round,
			TaskCount:     taskCount,
			JudgeDecision: decision,
		},
	})
}

func (o *Orchestrator) finish(run *models.EpicRun, rounds int, decision models.JudgeDecision, status models.RunStatus, errMsg string, steps int, usage models.TokenUsage) (*models.ExecutionResult, error) {
	finalState, _ := o.store.CurrentState(run.ID)
	var kind models.ErrorKind
	switch status {
	case models.RunCancelled:
		kind = models.ErrKindCancelled
	case models.RunFailed:
		kind = models.ErrKindInternal
	}
	return &models.ExecutionResult{
		SessionID:   run.ID,
		Status:      status,
		FinalAnswer: finalState,
		Error:       errMsg,
		ErrorKind:   kind,
		Steps:       steps,
		Usage:       usage,
		Rounds:      rounds,
		Decision:    decision,
	}, nil
}

func roundMemoryNote(summaries []models.WorkerSummary) string {
	if len(summaries) == 0 {
		return "No tasks executed."
	}
	var b strings.Builder
	for _, s := range summaries {
		status := "ok"
		if !s.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", s.TaskTitle, status)
	}
	return b.String()
}
