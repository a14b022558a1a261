package history

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/skalene/maestro/internal/results"
	"github.com/skalene/maestro/pkg/models"
)

type fakeSummarizer struct {
	summary string
	err     error
	spans   [][]*models.Message
}

func (f *fakeSummarizer) Summarize(ctx context.Context, span []*models.Message) (string, error) {
	f.spans = append(f.spans, span)
	return f.summary, f.err
}

func newState() *models.SessionState {
	return &models.SessionState{SessionID: "sess1"}
}

func TestSanitize_StripsControlAndCaps(t *testing.T) {
	m := NewManager(Config{MaxMessageChars: 20}, nil)

	got := m.Sanitize("a\x00b\x1bc\nd\te")
	if got != "abc\nd\te" {
		t.Fatalf("sanitized = %q", got)
	}

	long := strings.Repeat("x", 100)
	capped := m.Sanitize(long)
	if !strings.HasPrefix(capped, strings.Repeat("x", 20)) {
		t.Fatalf("capped prefix wrong: %q", capped[:30])
	}
	if !strings.Contains(capped, "[truncated: 100 chars total]") {
		t.Fatalf("missing truncation note: %q", capped)
	}
}

func TestAppendToolResult_OffloadsLargeOutput(t *testing.T) {
	store := results.NewMemoryStore()
	m := NewManager(Config{LargeOutputThreshold: 50, PreviewChars: 10}, store)
	state := newState()
	ctx := context.Background()

	payload := strings.Repeat("z", 200)
	err := m.AppendToolResult(ctx, state, models.ToolResult{ToolCallID: "c1", Content: payload})
	if err != nil {
		t.Fatal(err)
	}

	msg := state.Messages[0]
	if msg.Handle == "" {
		t.Fatal("large output not offloaded")
	}
	if len(msg.Content) >= len(payload) {
		t.Fatalf("history kept full payload (%d chars)", len(msg.Content))
	}
	if !strings.Contains(msg.Content, msg.Handle) {
		t.Fatal("preview does not reference handle")
	}

	stored, err := store.Fetch(ctx, "sess1", msg.Handle)
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != payload {
		t.Fatal("stored payload does not round-trip")
	}
	if len(state.Handles) != 1 || state.Handles[0] != msg.Handle {
		t.Fatalf("session handles = %v", state.Handles)
	}
}

func TestAppendToolResult_SmallOutputInline(t *testing.T) {
	m := NewManager(Config{LargeOutputThreshold: 50}, results.NewMemoryStore())
	state := newState()

	if err := m.AppendToolResult(context.Background(), state, models.ToolResult{Content: "short"}); err != nil {
		t.Fatal(err)
	}
	if state.Messages[0].Handle != "" {
		t.Fatal("small output should stay inline")
	}
	if state.Messages[0].Content != "short" {
		t.Fatalf("content = %q", state.Messages[0].Content)
	}
}

func TestNeedsCompression(t *testing.T) {
	m := NewManager(Config{SummarizeAfter: 3}, nil)
	state := newState()

	if m.NeedsCompression(state, false) {
		t.Error("empty transcript flagged")
	}
	if !m.NeedsCompression(state, true) {
		t.Error("budget signal ignored")
	}
	for i := 0; i < 3; i++ {
		state.Messages = append(state.Messages, &models.Message{Role: models.RoleUser, Content: "m"})
	}
	if !m.NeedsCompression(state, false) {
		t.Error("message-count trigger ignored")
	}
}

func TestCompress_KeepsTailAndSummarizesHead(t *testing.T) {
	m := NewManager(Config{KeepLast: 2}, nil)
	state := newState()
	for i := 0; i < 6; i++ {
		state.Messages = append(state.Messages, &models.Message{
			Role:    models.RoleUser,
			Content: strings.Repeat("m", i+1),
		})
	}

	sum := &fakeSummarizer{summary: "the gist"}
	if err := m.Compress(context.Background(), state, sum); err != nil {
		t.Fatal(err)
	}

	if len(state.Messages) != 3 {
		t.Fatalf("messages after compress = %d, want 3", len(state.Messages))
	}
	first := state.Messages[0]
	if !first.Summary || !strings.Contains(first.Content, "the gist") {
		t.Fatalf("summary message = %+v", first)
	}
	if state.Messages[1].Content != "mmmmm" || state.Messages[2].Content != "mmmmmm" {
		t.Fatal("tail not preserved verbatim")
	}
	if len(sum.spans) != 1 || len(sum.spans[0]) != 4 {
		t.Fatalf("summarized span = %d messages, want 4", len(sum.spans[0]))
	}
}

func TestCompress_PreservesHandles(t *testing.T) {
	m := NewManager(Config{KeepLast: 1}, nil)
	state := newState()
	state.Messages = append(state.Messages,
		&models.Message{Role: models.RoleTool, Content: "preview", Handle: "tr_abc123"},
		&models.Message{Role: models.RoleAssistant, Content: "ok"},
		&models.Message{Role: models.RoleUser, Content: "next"},
	)

	sum := &fakeSummarizer{summary: "summary without the handle"}
	if err := m.Compress(context.Background(), state, sum); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(state.Messages[0].Content, "tr_abc123") {
		t.Fatalf("handle lost in compression: %q", state.Messages[0].Content)
	}
}

func TestCompress_FallbackOnSummarizerError(t *testing.T) {
	m := NewManager(Config{KeepLast: 1}, nil)
	state := newState()
	for i := 0; i < 4; i++ {
		state.Messages = append(state.Messages, &models.Message{Role: models.RoleUser, Content: "m"})
	}

	sum := &fakeSummarizer{err: errors.New("model unavailable")}
	if err := m.Compress(context.Background(), state, sum); err != nil {
		t.Fatal(err)
	}
	if len(state.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(state.Messages))
	}
	if !strings.Contains(state.Messages[0].Content, "dropped") {
		t.Fatalf("fallback note missing: %q", state.Messages[0].Content)
	}
}

func TestCompress_NoopWhenShort(t *testing.T) {
	m := NewManager(Config{KeepLast: 5}, nil)
	state := newState()
	state.Messages = append(state.Messages, &models.Message{Role: models.RoleUser, Content: "only"})

	if err := m.Compress(context.Background(), state, nil); err != nil {
		t.Fatal(err)
	}
	if len(state.Messages) != 1 {
		t.Fatal("short transcript was compressed")
	}
}
