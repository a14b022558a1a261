package strategy

import (
	"context"

	"github.com/skalene/maestro/internal/agent"
	"github.com/skalene/maestro/pkg/models"
)

const interleavedFirstTurn = `Start by sketching a plan for the mission with the planner tool, then begin acting on it immediately. Keep the plan current as you work: mark items in progress and completed, add items as you discover new work.`

const interleavedStalePlan = `Your plan has not been updated recently. Review it with the planner tool and bring it in line with what you have actually done before continuing.`

// InterleavedStrategy biases the first turn toward plan creation and
// keeps acting reactively afterwards, expecting the model to maintain
// the plan as it goes.
type InterleavedStrategy struct{}

func (s *InterleavedStrategy) Name() string { return Interleaved }

func (s *InterleavedStrategy) PrepareTurn(ctx context.Context, state *models.SessionState) (*agent.TurnDirectives, error) {
	if state.StepCount == 0 {
		return &agent.TurnDirectives{Guidance: interleavedFirstTurn}, nil
	}
	if state.Plan != nil && len(state.Plan.Items) > 0 && staleness(state) >= 5 {
		return &agent.TurnDirectives{Guidance: interleavedStalePlan}, nil
	}
	return nil, nil
}

func (s *InterleavedStrategy) ShouldStop(ctx context.Context, state *models.SessionState, finalText string) (bool, string) {
	return true, ""
}

func (s *InterleavedStrategy) AfterTurn(ctx context.Context, state *models.SessionState) error {
	return nil
}

// staleness counts assistant turns since the last planner call.
func staleness(state *models.SessionState) int {
	turns := 0
	for i := len(state.Messages) - 1; i >= 0; i-- {
		msg := state.Messages[i]
		if msg.Role != models.RoleAssistant {
			continue
		}
		for _, call := range msg.ToolCalls {
			if call.Name == "planner" {
				return turns
			}
		}
		turns++
	}
	return turns
}
