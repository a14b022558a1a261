package agent

import (
	"context"

	"github.com/skalene/maestro/pkg/models"
)

// Strategy shapes how the loop reasons across steps. Implementations
// live in internal/strategy; the loop only sees these hooks.
type Strategy interface {
	// Name identifies the strategy for logs and definitions.
	Name() string

	// PrepareTurn runs before each model call and may inject extra
	// system guidance for this turn.
	PrepareTurn(ctx context.Context, state *models.SessionState) (*TurnDirectives, error)

	// ShouldStop inspects an assistant turn that produced no tool
	// calls. Returning false forces another turn with the given nudge.
	ShouldStop(ctx context.Context, state *models.SessionState, finalText string) (stop bool, nudge string)

	// AfterTurn runs once observations are recorded, before the next
	// turn begins.
	AfterTurn(ctx context.Context, state *models.SessionState) error
}

// TurnDirectives carries per-turn strategy adjustments.
type TurnDirectives struct {
	// Guidance is appended to the system prompt for this turn only.
	Guidance string

	// ForceTool restricts the turn to a single tool, when set.
	ForceTool string
}
