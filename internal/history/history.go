// Package history manages conversation transcripts: input sanitization,
// large tool-output offloading behind handles, and compression of old
// turns into summaries when the token budget tightens.
package history

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/skalene/maestro/internal/results"
	"github.com/skalene/maestro/pkg/models"
)

// Defaults.
const (
	// DefaultMaxMessageChars caps any single message's content.
	DefaultMaxMessageChars = 50_000

	// DefaultLargeOutputThreshold is the tool-output size above which
	// the payload moves to the result store and only a preview stays
	// in history.
	DefaultLargeOutputThreshold = 5_000

	// DefaultSummarizeAfter is the message count that triggers
	// compression regardless of token estimates.
	DefaultSummarizeAfter = 20

	// DefaultKeepLast is how many trailing messages survive
	// compression verbatim.
	DefaultKeepLast = 5
)

// Summarizer condenses a span of messages into prose. The agent loop
// provides an LLM-backed implementation; tests use fakes.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message) (string, error)
}

// Config tunes the history manager.
type Config struct {
	MaxMessageChars      int
	LargeOutputThreshold int
	PreviewChars         int
	SummarizeAfter       int
	KeepLast             int
}

// DefaultConfig returns the standard history configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessageChars:      DefaultMaxMessageChars,
		LargeOutputThreshold: DefaultLargeOutputThreshold,
		PreviewChars:         results.DefaultPreviewChars,
		SummarizeAfter:       DefaultSummarizeAfter,
		KeepLast:             DefaultKeepLast,
	}
}

func (c *Config) sanitize() {
	if c.MaxMessageChars <= 0 {
		c.MaxMessageChars = DefaultMaxMessageChars
	}
	if c.LargeOutputThreshold <= 0 {
		c.LargeOutputThreshold = DefaultLargeOutputThreshold
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = results.DefaultPreviewChars
	}
	if c.SummarizeAfter <= 0 {
		c.SummarizeAfter = DefaultSummarizeAfter
	}
	if c.KeepLast <= 0 {
		c.KeepLast = DefaultKeepLast
	}
}

// Manager applies the history policy to a session transcript.
type Manager struct {
	config  Config
	results results.Store
}

// NewManager creates a history manager backed by the given result store.
func NewManager(config Config, store results.Store) *Manager {
	config.sanitize()
	return &Manager{config: config, results: store}
}

// Sanitize strips control characters (keeping newlines and tabs) and
// caps content length, annotating any truncation.
func (m *Manager) Sanitize(content string) string {
	content = stripControl(content)
	if len(content) <= m.config.MaxMessageChars {
		return content
	}
	cut := m.config.MaxMessageChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + fmt.Sprintf("\n[truncated: %d chars total]", len(content))
}

// Append sanitizes msg and adds it to the session transcript.
func (m *Manager) Append(state *models.SessionState, msg *models.Message) {
	msg.Content = m.Sanitize(msg.Content)
	state.Messages = append(state.Messages, msg)
}

// AppendToolResult records a tool observation. Outputs above the large
// threshold are written to the result store; the transcript keeps a
// preview plus the retrieval handle.
func (m *Manager) AppendToolResult(ctx context.Context, state *models.SessionState, result models.ToolResult) error {
	content := stripControl(result.Content)

	msg := &models.Message{
		Role:       models.RoleTool,
		ToolCallID: result.ToolCallID,
		Content:    content,
	}
	if len(content) > m.config.LargeOutputThreshold && m.results != nil && !result.IsError {
		handle, err := m.results.Put(ctx, state.SessionID, []byte(content))
		if err != nil {
			return fmt.Errorf("offloading tool result: %w", err)
		}
		msg.Handle = handle
		msg.Content = results.Preview([]byte(content), m.config.PreviewChars) +
			fmt.Sprintf("\n[full result available via handle %s]", handle)
		state.AddHandle(handle)
	} else {
		msg.Content = m.Sanitize(content)
	}

	state.Messages = append(state.Messages, msg)
	return nil
}

// NeedsCompression reports whether the transcript should be compressed
// before the next model call. budgetSignal carries the budgeter's
// verdict on the estimated prompt size.
func (m *Manager) NeedsCompression(state *models.SessionState, budgetSignal bool) bool {
	if budgetSignal {
		return true
	}
	return len(state.Messages) >= m.config.SummarizeAfter
}

// Compress folds all but the trailing KeepLast messages into a single
// summary message. The summary asks the model to preserve decisions,
// open questions, and tool handles. On summarizer failure it falls back
// to dropping the compressed span with a placeholder note, so the loop
// can always make progress.
func (m *Manager) Compress(ctx context.Context, state *models.SessionState, summarizer Summarizer) error {
	keep := m.config.KeepLast
	if len(state.Messages) <= keep+1 {
		return nil
	}

	head := state.Messages[:len(state.Messages)-keep]
	tail := state.Messages[len(state.Messages)-keep:]

	summary, err := m.summarize(ctx, head, summarizer)
	if err != nil {
		summary = fmt.Sprintf("[%d earlier messages dropped: summarization failed: %v]", len(head), err)
	}

	compressed := &models.Message{
		Role:    models.RoleAssistant,
		Content: summary,
		Summary: true,
	}
	state.Messages = append([]*models.Message{compressed}, tail...)
	return nil
}

func (m *Manager) summarize(ctx context.Context, span []*models.Message, summarizer Summarizer) (string, error) {
	if summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	summary, err := summarizer.Summarize(ctx, span)
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("empty summary")
	}

	// Retrieval handles must survive compression or offloaded results
	// become unreachable.
	var lost []string
	for _, msg := range span {
		if msg.Handle != "" && !strings.Contains(summary, msg.Handle) {
			lost = append(lost, msg.Handle)
		}
	}
	if len(lost) > 0 {
		summary += "\n\nRetained result handles: " + strings.Join(lost, ", ")
	}
	return fmt.Sprintf("[Summary of %d earlier messages]\n%s", len(span), summary), nil
}

// FormatSpan renders messages as plain text for a summarization prompt.
func FormatSpan(span []*models.Message) string {
	var sb strings.Builder
	for _, msg := range span {
		fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, msg.Content)
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&sb, "  tool call %s(%s)\n", call.Name, string(call.Input))
		}
	}
	return sb.String()
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
