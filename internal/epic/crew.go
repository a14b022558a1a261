package epic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skalene/maestro/internal/state"
	"github.com/skalene/maestro/internal/tools"
	"github.com/skalene/maestro/pkg/models"
)

// Crew supplies the three agent roles of an epic round. The agent-backed
// implementation is AgentCrew; tests substitute scripted crews.
type Crew interface {
	// Plan produces the round's task list.
	Plan(ctx context.Context, run *models.EpicRun, round int, currentState string) ([]*models.EpicTask, error)

	// Work executes one claimed task to completion.
	Work(ctx context.Context, run *models.EpicRun, workerID string, task *models.EpicTask) (*models.WorkerSummary, error)

	// Judge evaluates the round and returns the decision plus the new
	// CURRENT_STATE text.
	Judge(ctx context.Context, run *models.EpicRun, round int, currentState string, summaries []models.WorkerSummary) (models.JudgeDecision, string, error)
}

// Specialist role tags used when spawning crew agents.
const (
	RolePlanner = "planner"
	RoleWorker  = "worker"
	RoleJudge   = "judge"
)

// AgentCrew backs the crew roles with spawned sub-agent sessions. The
// planner's structured output is read back from its session plan, so
// planners must carry the planner tool.
type AgentCrew struct {
	spawner tools.SubAgentRunner
	states  state.Store
}

// NewAgentCrew creates a crew over the spawner and the shared state
// store.
func NewAgentCrew(spawner tools.SubAgentRunner, states state.Store) *AgentCrew {
	return &AgentCrew{spawner: spawner, states: states}
}

func (c *AgentCrew) Plan(ctx context.Context, run *models.EpicRun, round int, currentState string) ([]*models.EpicTask, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d of an epic run. Original mission:\n%s\n\n", round, run.Mission)
	if currentState != "" {
		b.WriteString("Current state from the previous round:\n")
		b.WriteString(currentState)
		b.WriteString("\n\n")
	}
	b.WriteString("Break the remaining work into independent tasks using the planner tool. Each item should be self-contained enough for an isolated worker. Use dependencies only where strictly required.")

	result, err := c.spawner.Run(ctx, run.ID, RolePlanner, b.String())
	if err != nil {
		return nil, fmt.Errorf("planner spawn: %w", err)
	}
	if !result.Succeeded() {
		return nil, fmt.Errorf("planner run ended %s: %s", result.Status, result.Error)
	}

	st, _, err := c.states.Load(ctx, result.SessionID)
	if err != nil {
		return nil, fmt.Errorf("loading planner session: %w", err)
	}
	if st.Plan == nil || len(st.Plan.Items) == 0 {
		return nil, nil
	}
	return tasksFromPlan(run.ID, st.Plan), nil
}

func (c *AgentCrew) Work(ctx context.Context, run *models.EpicRun, workerID string, task *models.EpicTask) (*models.WorkerSummary, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are one worker in an epic run for the mission:\n%s\n\n", run.Mission)
	fmt.Fprintf(&b, "Your task: %s\n", task.Title)
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n")
	}
	if len(task.Files) > 0 {
		fmt.Fprintf(&b, "Relevant files: %s\n", strings.Join(task.Files, ", "))
	}
	b.WriteString("\nComplete only this task. Finish with a short report of what you did and found.")

	result, err := c.spawner.Run(ctx, run.ID, RoleWorker, b.String())
	if err != nil {
		return nil, fmt.Errorf("worker spawn: %w", err)
	}

	summary := &models.WorkerSummary{
		RunID:     run.ID,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		WorkerID:  workerID,
		Success:   result.Succeeded(),
		Summary:   result.FinalAnswer,
		Steps:     result.Steps,
		Usage:     result.Usage,
		CreatedAt: time.Now(),
	}
	if !result.Succeeded() && summary.Summary == "" {
		summary.Summary = result.Error
	}
	return summary, nil
}

func (c *AgentCrew) Judge(ctx context.Context, run *models.EpicRun, round int, currentState string, summaries []models.WorkerSummary) (models.JudgeDecision, string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You judge round %d of an epic run. Original mission:\n%s\n\n", round, run.Mission)
	if currentState != "" {
		b.WriteString("State after the previous round:\n")
		b.WriteString(currentState)
		b.WriteString("\n\n")
	}
	if len(summaries) == 0 {
		b.WriteString("No worker produced results this round.\n\n")
	} else {
		b.WriteString("Worker reports this round:\n")
		for _, s := range summaries {
			status := "ok"
			if !s.Success {
				status = "FAILED"
			}
			fmt.Fprintf(&b, "- [%s] %s: %s\n", status, s.TaskTitle, s.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString("Write an updated state summary for the next round, then end with exactly one verdict word on its own line: COMPLETE if the mission is fully satisfied, FRESH_START if the current approach is wrong and pending work should be discarded, or CONTINUE otherwise.")

	result, err := c.spawner.Run(ctx, run.ID, RoleJudge, b.String())
	if err != nil {
		return models.JudgeContinue, "", fmt.Errorf("judge spawn: %w", err)
	}
	if !result.Succeeded() {
		return models.JudgeContinue, "", fmt.Errorf("judge run ended %s: %s", result.Status, result.Error)
	}
	return ParseJudgeDecision(result.FinalAnswer), result.FinalAnswer, nil
}

// ParseJudgeDecision scans a judge reply for a verdict keyword.
// COMPLETE wins over FRESH_START wins over CONTINUE; anything else
// defaults to CONTINUE. Only standalone words count, so prose like
// "incomplete" never reads as a verdict.
func ParseJudgeDecision(text string) models.JudgeDecision {
	words := strings.FieldsFunc(strings.ToUpper(text), func(r rune) bool {
		return r != '_' && (r < 'A' || r > 'Z')
	})
	freshStart := false
	for i, w := range words {
		switch w {
		case "COMPLETE":
			return models.JudgeComplete
		case "FRESH_START":
			freshStart = true
		case "START":
			if i > 0 && words[i-1] == "FRESH" {
				freshStart = true
			}
		}
	}
	if freshStart {
		return models.JudgeFreshStart
	}
	return models.JudgeContinue
}

// tasksFromPlan converts a planner session's plan into bus tasks,
// remapping positional dependencies to task ids.
func tasksFromPlan(runID string, plan *models.Plan) []*models.EpicTask {
	idByPosition := make(map[int]string, len(plan.Items))
	tasks := make([]*models.EpicTask, 0, len(plan.Items))
	for _, item := range plan.Items {
		id := uuid.NewString()
		idByPosition[item.Position] = id
		tasks = append(tasks, &models.EpicTask{
			ID:          id,
			RunID:       runID,
			Title:       item.Description,
			Description: item.AcceptanceCriteria,
			Type:        item.Tool,
			Priority:    5,
			Status:      models.EpicTaskPending,
			CreatedAt:   time.Now(),
		})
	}
	for i, item := range plan.Items {
		for _, dep := range item.DependsOn {
			if depID, ok := idByPosition[dep]; ok {
				tasks[i].DependsOn = append(tasks[i].DependsOn, depID)
			}
		}
	}
	return tasks
}
