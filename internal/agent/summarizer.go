package agent

import (
	"context"
	"fmt"

	"github.com/skalene/maestro/internal/history"
	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/pkg/models"
)

const summarySystemPrompt = `You compress agent conversation history. Produce a dense summary that preserves:
- the mission and all decisions made so far
- facts, figures, and file paths discovered
- tool result handles (tr_...) and what each contains
- unresolved questions and next steps
Write plain prose. Do not add commentary.`

// LLMSummarizer implements history.Summarizer with a model call.
type LLMSummarizer struct {
	provider  llm.Provider
	model     string
	maxTokens int
}

// NewLLMSummarizer creates a summarizer on the given provider.
func NewLLMSummarizer(provider llm.Provider, model string, maxTokens int) *LLMSummarizer {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &LLMSummarizer{provider: provider, model: model, maxTokens: maxTokens}
}

var _ history.Summarizer = (*LLMSummarizer)(nil)

func (s *LLMSummarizer) Summarize(ctx context.Context, span []*models.Message) (string, error) {
	if s.provider == nil {
		return "", ErrNoProvider
	}
	resp, err := s.provider.Complete(ctx, &llm.Request{
		Model:  s.model,
		System: summarySystemPrompt,
		Messages: []*models.Message{{
			Role:    models.RoleUser,
			Content: "Summarize this conversation span:\n\n" + history.FormatSpan(span),
		}},
		MaxTokens:   s.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("summarization call: %w", err)
	}
	return resp.Content, nil
}
