package strategy

import (
	"context"
	"strings"
	"sync"

	"github.com/skalene/maestro/internal/agent"
	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/internal/prompt"
	"github.com/skalene/maestro/pkg/models"
)

// Phases of one outer iteration.
type phase string

const (
	phaseSense   phase = "sense"
	phasePlan    phase = "plan"
	phaseAct     phase = "act"
	phaseReflect phase = "reflect"
)

// Reflection decisions, parsed from a DECISION: marker.
const (
	decisionContinue = "CONTINUE"
	decisionReplan   = "REPLAN"
	decisionComplete = "COMPLETE"
)

var phaseGuidance = map[phase]string{
	phaseSense:   "SENSE phase: gather the information you need. Inspect files, fetch resources, read prior results. Do not change anything yet. Reply without tool calls when you have enough context.",
	phasePlan:    "PLAN phase: create or revise the plan with the planner tool so it reflects everything learned so far. Reply without tool calls when the plan is current.",
	phaseAct:     "ACT phase: execute the next actionable plan items. Reply without tool calls when this batch of work is done.",
	phaseReflect: "REFLECT phase: assess progress against the mission. End your reply with exactly one line: DECISION: CONTINUE, DECISION: REPLAN, or DECISION: COMPLETE. Choose COMPLETE only when the mission is fully satisfied.",
}

const reflectionSystemPrompt = `You review an agent's progress on a mission. Given the mission, plan status, and the agent's latest assessment, decide the next move. Reply with exactly one line: DECISION: CONTINUE, DECISION: REPLAN, or DECISION: COMPLETE.`

// ReflectStrategy cycles sense, plan, act, reflect. The reflect phase
// parses an explicit decision marker, optionally delegated to a
// dedicated reflection model, and a cap bounds outer iterations.
type ReflectStrategy struct {
	provider llm.Provider
	model    string
	maxOuter int

	mu     sync.Mutex
	cycles map[string]*cycleState
}

type cycleState struct {
	phase phase
	outer int
}

// NewReflectStrategy creates the strategy from options.
func NewReflectStrategy(opts Options) *ReflectStrategy {
	maxOuter := opts.MaxOuterIterations
	if maxOuter <= 0 {
		maxOuter = 10
	}
	return &ReflectStrategy{
		provider: opts.ReflectionProvider,
		model:    opts.ReflectionModel,
		maxOuter: maxOuter,
		cycles:   map[string]*cycleState{},
	}
}

func (s *ReflectStrategy) Name() string { return PlanActReflect }

func (s *ReflectStrategy) cycle(state *models.SessionState) *cycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[state.SessionID]
	if !ok {
		c = reconstructCycle(state)
		s.cycles[state.SessionID] = c
	}
	return c
}

func (s *ReflectStrategy) forget(sessionID string) {
	s.mu.Lock()
	delete(s.cycles, sessionID)
	s.mu.Unlock()
}

// reconstructCycle rebuilds the phase and iteration count from the
// guidance nudges recorded in the transcript, so a resumed session
// picks up mid-cycle instead of restarting at sense.
func reconstructCycle(state *models.SessionState) *cycleState {
	c := &cycleState{phase: phaseSense, outer: 1}
	prev := phase("")
	for _, msg := range state.Messages {
		if msg.Role != models.RoleUser {
			continue
		}
		p, ok := guidancePhase(msg.Content)
		if !ok {
			continue
		}
		if prev == phaseReflect && (p == phaseSense || p == phasePlan) {
			c.outer++
		}
		c.phase = p
		prev = p
	}
	return c
}

func guidancePhase(content string) (phase, bool) {
	for p, text := range phaseGuidance {
		if content == text {
			return p, true
		}
	}
	return "", false
}

func (s *ReflectStrategy) PrepareTurn(ctx context.Context, state *models.SessionState) (*agent.TurnDirectives, error) {
	c := s.cycle(state)
	return &agent.TurnDirectives{Guidance: phaseGuidance[c.phase]}, nil
}

func (s *ReflectStrategy) ShouldStop(ctx context.Context, state *models.SessionState, finalText string) (bool, string) {
	c := s.cycle(state)

	if c.phase != phaseReflect {
		// Text without tool calls closes the phase, not the run.
		c.phase = nextPhase(c.phase)
		return false, phaseGuidance[c.phase]
	}

	decision := parseDecision(finalText)
	if decision == "" && s.provider != nil {
		decision = s.consultReflector(ctx, state, finalText)
	}

	switch decision {
	case decisionComplete:
		s.forget(state.SessionID)
		return true, ""
	case decisionReplan:
		c.phase = phasePlan
	default:
		c.phase = phaseSense
	}
	c.outer++
	if c.outer > s.maxOuter {
		s.forget(state.SessionID)
		return true, ""
	}
	return false, phaseGuidance[c.phase]
}

func (s *ReflectStrategy) AfterTurn(ctx context.Context, state *models.SessionState) error {
	return nil
}

// consultReflector asks the reflection model for a decision when the
// agent's own reply carried no marker.
func (s *ReflectStrategy) consultReflector(ctx context.Context, state *models.SessionState, assessment string) string {
	var b strings.Builder
	b.WriteString("Mission: ")
	b.WriteString(state.Mission)
	b.WriteString("\n\n")
	if state.Plan != nil {
		b.WriteString(prompt.PlanStatus(state.Plan))
		b.WriteString("\n\n")
	}
	b.WriteString("Latest assessment:\n")
	b.WriteString(assessment)

	resp, err := s.provider.Complete(ctx, &llm.Request{
		Model:       s.model,
		System:      reflectionSystemPrompt,
		Messages:    []*models.Message{{Role: models.RoleUser, Content: b.String()}},
		MaxTokens:   100,
		Temperature: 0,
	})
	if err != nil {
		return ""
	}
	return parseDecision(resp.Content)
}

func parseDecision(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "DECISION:")
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(rest)) {
		case decisionContinue:
			return decisionContinue
		case decisionReplan:
			return decisionReplan
		case decisionComplete:
			return decisionComplete
		}
	}
	return ""
}

func nextPhase(p phase) phase {
	switch p {
	case phaseSense:
		return phasePlan
	case phasePlan:
		return phaseAct
	case phaseAct:
		return phaseReflect
	default:
		return phaseSense
	}
}
