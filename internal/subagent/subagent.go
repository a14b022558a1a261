// Package subagent spawns isolated child agent sessions for delegation
// from the call_agent tool and from epic workers.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/internal/tools"
	"github.com/skalene/maestro/pkg/models"
)

// DefaultMaxDepth caps sub-agent nesting. A child at the cap cannot
// spawn further children.
const DefaultMaxDepth = 3

// DefaultSummarizeThreshold is the final-answer length above which the
// child's answer is compressed before returning to the parent.
const DefaultSummarizeThreshold = 4000

// ErrDepthExceeded indicates the nesting cap was hit.
var ErrDepthExceeded = errors.New("sub-agent nesting depth exceeded")

// AgentRunner drives one session to terminal. The factory provides it
// so the spawner stays decoupled from loop wiring.
type AgentRunner interface {
	Run(ctx context.Context, sessionID, mission string) (*models.ExecutionResult, error)
}

// BuildFunc constructs a runnable agent for a role and child session
// id. It is the factory's hook into the spawner.
type BuildFunc func(role, sessionID string) (AgentRunner, error)

// Config tunes the spawner.
type Config struct {
	// MaxDepth is the nesting cap. Default: 3.
	MaxDepth int

	// SummarizeThreshold compresses final answers longer than this many
	// characters. Zero uses the default; negative disables.
	SummarizeThreshold int

	// SummaryModel names the model for answer compression.
	SummaryModel string
}

func (c *Config) sanitize() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.SummarizeThreshold == 0 {
		c.SummarizeThreshold = DefaultSummarizeThreshold
	}
}

// Spawner builds and runs child agents under hierarchical session ids.
// It satisfies tools.SubAgentRunner.
type Spawner struct {
	config   Config
	build    BuildFunc
	provider llm.Provider
	logger   *slog.Logger
}

// NewSpawner creates a spawner. provider is optional and only used for
// result summarization.
func NewSpawner(config Config, build BuildFunc, provider llm.Provider, logger *slog.Logger) *Spawner {
	config.sanitize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Spawner{config: config, build: build, provider: provider, logger: logger}
}

// Run spawns a child for the role, executes the mission to terminal,
// and returns the child's result. The child session is isolated: it
// shares stores through the factory but never the parent's state blob.
func (s *Spawner) Run(ctx context.Context, parentSessionID, role, mission string) (*models.ExecutionResult, error) {
	if models.SessionDepth(parentSessionID) >= s.config.MaxDepth {
		return nil, fmt.Errorf("%w: %s is already at depth %d", ErrDepthExceeded, parentSessionID, s.config.MaxDepth)
	}

	childID := models.ChildSessionID(parentSessionID, role, shortSuffix())
	runner, err := s.build(role, childID)
	if err != nil {
		return nil, fmt.Errorf("building sub-agent %s: %w", role, err)
	}

	s.logger.Info("spawning sub-agent",
		"parent_session_id", parentSessionID,
		"child_session_id", childID,
		"role", role)
	emit := tools.EmitterFrom(ctx)
	emit(&models.StreamEvent{
		Type: models.EventSubAgentSpawned,
		SubAgent: &models.SubAgentPayload{
			ChildSessionID: childID,
			Specialist:     role,
			MissionPreview: missionPreview(mission),
		},
	})

	result, err := runner.Run(ctx, childID, mission)
	if err != nil {
		emit(&models.StreamEvent{
			Type: models.EventSubAgentCompleted,
			SubAgent: &models.SubAgentPayload{
				ChildSessionID: childID,
				Specialist:     role,
			},
		})
		return nil, fmt.Errorf("running sub-agent %s: %w", role, err)
	}
	emit(&models.StreamEvent{
		Type: models.EventSubAgentCompleted,
		SubAgent: &models.SubAgentPayload{
			ChildSessionID: childID,
			Specialist:     role,
			Success:        result.Succeeded(),
			StepsTaken:     result.Steps,
		},
	})

	if s.shouldSummarize(result) {
		if summary, serr := s.summarize(ctx, mission, result.FinalAnswer); serr == nil {
			result.FinalAnswer = summary
		} else {
			s.logger.Warn("sub-agent answer summarization failed",
				"child_session_id", childID, "error", serr)
		}
	}
	return result, nil
}

func (s *Spawner) shouldSummarize(result *models.ExecutionResult) bool {
	return s.provider != nil &&
		s.config.SummarizeThreshold > 0 &&
		result.Status == models.RunCompleted &&
		len(result.FinalAnswer) > s.config.SummarizeThreshold
}

func (s *Spawner) summarize(ctx context.Context, mission, answer string) (string, error) {
	resp, err := s.provider.Complete(ctx, &llm.Request{
		Model:  s.config.SummaryModel,
		System: "You compress a delegated agent's final report for its caller. Preserve all conclusions, facts, and result handles (tr_...). Drop process narration.",
		Messages: []*models.Message{{
			Role:    models.RoleUser,
			Content: "Mission given to the agent:\n" + mission + "\n\nFull report:\n" + answer,
		}},
		MaxTokens:   1000,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", errors.New("empty summary")
	}
	return resp.Content, nil
}

func shortSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func missionPreview(mission string) string {
	const max = 120
	if len(mission) <= max {
		return mission
	}
	return mission[:max] + "..."
}
