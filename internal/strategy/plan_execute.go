package strategy

import (
	"context"
	"fmt"

	"github.com/skalene/maestro/internal/agent"
	"github.com/skalene/maestro/pkg/models"
)

const planningGuidance = `Before doing any work, produce a complete plan for the mission using the planner tool (action "create"). Break the mission into concrete, verifiable steps with dependencies. Do not start executing until the plan exists.`

// PlanExecuteStrategy runs an explicit planning turn first, then works
// the plan item by item. Content without tool calls counts as per-step
// done, not as a final answer, until every item is finished.
type PlanExecuteStrategy struct{}

func (s *PlanExecuteStrategy) Name() string { return PlanExecute }

func (s *PlanExecuteStrategy) PrepareTurn(ctx context.Context, state *models.SessionState) (*agent.TurnDirectives, error) {
	if state.Plan == nil || len(state.Plan.Items) == 0 {
		return &agent.TurnDirectives{
			Guidance:  planningGuidance,
			ForceTool: "planner",
		}, nil
	}
	if current := state.Plan.InProgress(); current != nil {
		return &agent.TurnDirectives{
			Guidance: fmt.Sprintf(
				"You are executing plan item %d: %s\nFocus on this item only. Reply without tool calls when it is done.",
				current.Position, current.Description),
		}, nil
	}
	return nil, nil
}

func (s *PlanExecuteStrategy) ShouldStop(ctx context.Context, state *models.SessionState, finalText string) (bool, string) {
	plan := state.Plan
	if plan == nil || len(plan.Items) == 0 {
		// The planning turn produced text instead of a plan.
		return false, "No plan exists yet. Create one with the planner tool before proceeding."
	}

	// Content without tool calls closes out the current item.
	if current := plan.InProgress(); current != nil {
		current.Status = models.PlanItemCompleted
		current.Result = finalText
	}
	if plan.Finished() {
		return true, ""
	}
	next := plan.NextActionable()
	if next == nil {
		// Remaining items are blocked on failed dependencies. Nothing
		// more can start, so this answer stands as the final one.
		return true, ""
	}
	next.Status = models.PlanItemInProgress
	return false, fmt.Sprintf("Item complete. Continue with plan item %d: %s", next.Position, next.Description)
}

func (s *PlanExecuteStrategy) AfterTurn(ctx context.Context, state *models.SessionState) error {
	plan := state.Plan
	if plan == nil || len(plan.Items) == 0 || plan.Finished() {
		return nil
	}
	if plan.InProgress() == nil {
		if next := plan.NextActionable(); next != nil {
			next.Status = models.PlanItemInProgress
		}
	}
	return nil
}
