// Package budget estimates token usage for prompts and decides when
// conversation history must be compressed before the next model call.
package budget

import (
	"errors"
	"fmt"

	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/pkg/models"
)

// ErrOverBudget indicates the prompt cannot fit the window even after
// compression.
var ErrOverBudget = errors.New("budget: prompt exceeds token budget")

// Estimation constants. The heuristic deliberately overcounts a little;
// running out of window mid-call is worse than compressing early.
const (
	// CharsPerToken is the approximate character-to-token ratio.
	CharsPerToken = 4

	// MessageOverhead covers role framing per message.
	MessageOverhead = 10

	// ToolCallOverhead covers the call envelope per tool invocation.
	ToolCallOverhead = 50

	// SystemOverhead covers structural framing of the request.
	SystemOverhead = 100

	// DefaultMaxTokens is the fallback context window size.
	DefaultMaxTokens = 100_000

	// DefaultTriggerRatio is the budget fraction at which compression
	// is requested.
	DefaultTriggerRatio = 0.8
)

// Estimator converts text to an approximate token count. The default
// is the character heuristic; a model-aware encoder can be plugged in.
type Estimator interface {
	Estimate(text string) int
}

// HeuristicEstimator counts ceil(len/4).
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// Budgeter tracks a context window and classifies prompt sizes.
type Budgeter struct {
	maxTokens    int
	triggerRatio float64
	estimator    Estimator
}

// Option configures a Budgeter.
type Option func(*Budgeter)

// WithEstimator replaces the default heuristic estimator.
func WithEstimator(e Estimator) Option {
	return func(b *Budgeter) {
		if e != nil {
			b.estimator = e
		}
	}
}

// WithTriggerRatio overrides the compression trigger fraction.
func WithTriggerRatio(ratio float64) Option {
	return func(b *Budgeter) {
		if ratio > 0 && ratio <= 1 {
			b.triggerRatio = ratio
		}
	}
}

// New creates a Budgeter for a context window of maxTokens.
func New(maxTokens int, opts ...Option) *Budgeter {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	b := &Budgeter{
		maxTokens:    maxTokens,
		triggerRatio: DefaultTriggerRatio,
		estimator:    HeuristicEstimator{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxTokens returns the configured window size.
func (b *Budgeter) MaxTokens() int { return b.maxTokens }

// EstimateMessage approximates the token cost of one message including
// its framing and tool calls.
func (b *Budgeter) EstimateMessage(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	total := MessageOverhead + b.estimator.Estimate(msg.Content)
	for _, call := range msg.ToolCalls {
		total += ToolCallOverhead + b.estimator.Estimate(call.Name) + b.estimator.Estimate(string(call.Input))
	}
	return total
}

// EstimateRequest approximates the full prompt cost: system text, every
// message, and the offered tool schemas.
func (b *Budgeter) EstimateRequest(system string, messages []*models.Message, tools []llm.ToolSchema) int {
	total := SystemOverhead + b.estimator.Estimate(system)
	for _, msg := range messages {
		total += b.EstimateMessage(msg)
	}
	for _, tool := range tools {
		total += ToolCallOverhead + b.estimator.Estimate(tool.Name) +
			b.estimator.Estimate(tool.Description) + b.estimator.Estimate(string(tool.InputSchema))
	}
	return total
}

// ShouldCompress reports whether the estimate has crossed the trigger
// fraction of the window.
func (b *Budgeter) ShouldCompress(estimate int) bool {
	return float64(estimate) >= float64(b.maxTokens)*b.triggerRatio
}

// Preflight checks that the estimate fits the window. Callers run this
// after compression; a failure here terminates the step.
func (b *Budgeter) Preflight(estimate int) error {
	if estimate > b.maxTokens {
		return fmt.Errorf("%w: estimated %d tokens, window %d", ErrOverBudget, estimate, b.maxTokens)
	}
	return nil
}
