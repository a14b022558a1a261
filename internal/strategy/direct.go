package strategy

import (
	"context"

	"github.com/skalene/maestro/internal/agent"
	"github.com/skalene/maestro/pkg/models"
)

// DirectStrategy is pure reactive reasoning: no plan phase, every turn
// is a reason/act step, and content without tool calls is the final
// answer.
type DirectStrategy struct{}

func (s *DirectStrategy) Name() string { return Direct }

func (s *DirectStrategy) PrepareTurn(ctx context.Context, state *models.SessionState) (*agent.TurnDirectives, error) {
	return nil, nil
}

func (s *DirectStrategy) ShouldStop(ctx context.Context, state *models.SessionState, finalText string) (bool, string) {
	return true, ""
}

func (s *DirectStrategy) AfterTurn(ctx context.Context, state *models.SessionState) error {
	return nil
}
