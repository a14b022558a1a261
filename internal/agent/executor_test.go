package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skalene/maestro/internal/tools"
	"github.com/skalene/maestro/pkg/models"
)

type mockTool struct {
	name    string
	meta    tools.Meta
	execute func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return "mock tool " + m.name }
func (m *mockTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (m *mockTool) Meta() tools.Meta        { return m.meta }
func (m *mockTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	return m.execute(ctx, params)
}

func newTestRegistry(t *testing.T, toolList ...tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range toolList {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("registering %s: %v", tool.Name(), err)
		}
	}
	return reg
}

func fastConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  time.Second,
		MaxTimeout:      2 * time.Second,
		Retries:         2,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: 5 * time.Millisecond,
	}
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	slow := &mockTool{
		name: "slow",
		meta: tools.Meta{Parallel: true},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			time.Sleep(30 * time.Millisecond)
			return &models.ToolResult{Content: "slow done"}, nil
		},
	}
	fast := &mockTool{
		name: "fast",
		meta: tools.Meta{Parallel: true},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Content: "fast done"}, nil
		},
	}
	exec := NewExecutor(newTestRegistry(t, slow, fast), fastConfig())

	results := exec.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "slow", Input: json.RawMessage(`{}`)},
		{ID: "c2", Name: "fast", Input: json.RawMessage(`{}`)},
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ToolCallID != "c1" || results[1].ToolCallID != "c2" {
		t.Errorf("results out of input order: %s, %s", results[0].ToolCallID, results[1].ToolCallID)
	}
	if results[0].Result == nil || results[0].Result.Content != "slow done" {
		t.Errorf("unexpected first result: %+v", results[0].Result)
	}
}

func TestExecuteTimeout(t *testing.T) {
	hung := &mockTool{
		name: "hung",
		meta: tools.Meta{Parallel: true, Timeout: 20 * time.Millisecond},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			<-ctx.Done()
			time.Sleep(time.Hour)
			return nil, ctx.Err()
		},
	}
	exec := NewExecutor(newTestRegistry(t, hung), &ExecutorConfig{
		MaxConcurrency:  1,
		DefaultTimeout:  time.Second,
		MaxTimeout:      time.Second,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: time.Millisecond,
	})

	result := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "hung", Input: json.RawMessage(`{}`)})

	if result.Error == nil {
		t.Fatal("expected timeout error")
	}
	toolErr, ok := GetToolError(result.Error)
	if !ok {
		t.Fatalf("expected ToolError, got %T", result.Error)
	}
	if toolErr.Kind != models.ErrKindToolTimeout {
		t.Errorf("expected tool_timeout kind, got %s", toolErr.Kind)
	}
	if m := exec.Metrics(); m.TotalTimeouts == 0 {
		t.Error("expected timeout metric to be recorded")
	}
}

func TestExecutePanicRecovery(t *testing.T) {
	panicky := &mockTool{
		name: "panicky",
		meta: tools.Meta{Parallel: true},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			panic("boom")
		},
	}
	exec := NewExecutor(newTestRegistry(t, panicky), fastConfig())

	result := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "panicky", Input: json.RawMessage(`{}`)})

	if result.Error == nil {
		t.Fatal("expected panic to surface as error")
	}
	if !errors.Is(result.Error, ErrToolPanic) {
		t.Errorf("expected ErrToolPanic in chain, got %v", result.Error)
	}
	toolErr, _ := GetToolError(result.Error)
	if toolErr.Kind != models.ErrKindInternal {
		t.Errorf("expected internal kind, got %s", toolErr.Kind)
	}
	if m := exec.Metrics(); m.TotalPanics != 1 {
		t.Errorf("expected 1 panic recorded, got %d", m.TotalPanics)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	attempts := 0
	flaky := &mockTool{
		name: "flaky",
		meta: tools.Meta{Parallel: true},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			return &models.ToolResult{Content: "recovered"}, nil
		},
	}
	exec := NewExecutor(newTestRegistry(t, flaky), fastConfig())

	result := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "flaky", Input: json.RawMessage(`{}`)})

	if result.Error != nil {
		t.Fatalf("expected success after retries, got %v", result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if m := exec.Metrics(); m.TotalRetries != 2 {
		t.Errorf("expected 2 retries recorded, got %d", m.TotalRetries)
	}
}

func TestExecuteDoesNotRetryPermanentFailures(t *testing.T) {
	attempts := 0
	broken := &mockTool{
		name: "broken",
		meta: tools.Meta{Parallel: true},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			attempts++
			return nil, errors.New("file does not exist")
		},
	}
	exec := NewExecutor(newTestRegistry(t, broken), fastConfig())

	result := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "broken", Input: json.RawMessage(`{}`)})

	if result.Error == nil {
		t.Fatal("expected failure")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	tool := &mockTool{
		name: "any",
		meta: tools.Meta{Parallel: true},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Content: "ok"}, nil
		},
	}
	exec := NewExecutor(newTestRegistry(t, tool), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := exec.Execute(ctx, models.ToolCall{ID: "c1", Name: "any", Input: json.RawMessage(`{}`)})
	if result.Error == nil {
		t.Fatal("expected cancellation error")
	}
	toolErr, _ := GetToolError(result.Error)
	if toolErr.Kind != models.ErrKindCancelled {
		t.Errorf("expected cancelled kind, got %s", toolErr.Kind)
	}
}

func TestToObservations(t *testing.T) {
	results := []*DispatchResult{
		{ToolCallID: "c1", Result: &models.ToolResult{Content: "ok", Handle: "tr_abc", Size: 9000}},
		{ToolCallID: "c2", Error: NewToolError("shell", ErrToolTimeout).WithCallID("c2")},
		{ToolCallID: "c3"},
	}

	obs := ToObservations(results)
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(obs))
	}
	if obs[0].IsError || obs[0].Content != "ok" || obs[0].Handle != "tr_abc" {
		t.Errorf("unexpected success observation: %+v", obs[0])
	}
	if !obs[1].IsError || obs[1].ErrorKind != models.ErrKindToolTimeout {
		t.Errorf("unexpected error observation: %+v", obs[1])
	}
	if !obs[2].IsError || obs[2].ErrorKind != models.ErrKindInternal {
		t.Errorf("expected internal error for empty result, got %+v", obs[2])
	}
}

func TestExecuteUnknownToolBecomesObservation(t *testing.T) {
	exec := NewExecutor(newTestRegistry(t), fastConfig())

	result := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "missing", Input: json.RawMessage(`{}`)})

	if result.Error != nil {
		t.Fatalf("unknown tool should yield an error result, not a dispatch error: %v", result.Error)
	}
	if result.Result == nil || !result.Result.IsError {
		t.Fatalf("expected error tool result, got %+v", result.Result)
	}
	if result.Result.ErrorKind != models.ErrKindUnknownTool {
		t.Errorf("expected unknown_tool kind, got %s", result.Result.ErrorKind)
	}
}

func TestExecuteAllRunsSerialToolsInInputOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(id string) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}
	first := &mockTool{
		name: "first",
		meta: tools.Meta{Parallel: false},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			time.Sleep(20 * time.Millisecond)
			record("first")
			return &models.ToolResult{Content: "first done"}, nil
		},
	}
	second := &mockTool{
		name: "second",
		meta: tools.Meta{Parallel: false},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			record("second")
			return &models.ToolResult{Content: "second done"}, nil
		},
	}
	exec := NewExecutor(newTestRegistry(t, first, second), fastConfig())

	results := exec.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "first", Input: json.RawMessage(`{}`)},
		{ID: "c2", Name: "second", Input: json.RawMessage(`{}`)},
	})

	if results[0].Error != nil || results[1].Error != nil {
		t.Fatalf("unexpected errors: %v, %v", results[0].Error, results[1].Error)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("serial tools ran out of input order: %v", order)
	}
}

func TestExecuteDisabledTimeoutOutlivesDefault(t *testing.T) {
	patient := &mockTool{
		name: "patient",
		meta: tools.Meta{Parallel: true, Timeout: -1},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			select {
			case <-time.After(50 * time.Millisecond):
				return &models.ToolResult{Content: "took its time"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	exec := NewExecutor(newTestRegistry(t, patient), &ExecutorConfig{
		MaxConcurrency:  1,
		DefaultTimeout:  5 * time.Millisecond,
		MaxTimeout:      10 * time.Millisecond,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: time.Millisecond,
	})

	result := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "patient", Input: json.RawMessage(`{}`)})

	if result.Error != nil {
		t.Fatalf("disabled timeout must not expire the call: %v", result.Error)
	}
	if result.Result == nil || result.Result.Content != "took its time" {
		t.Fatalf("unexpected result: %+v", result.Result)
	}
}

func TestExecuteDisabledTimeoutStillCancellable(t *testing.T) {
	patient := &mockTool{
		name: "patient",
		meta: tools.Meta{Parallel: true, Timeout: -1},
		execute: func(ctx context.Context, _ json.RawMessage) (*models.ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	exec := NewExecutor(newTestRegistry(t, patient), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	result := exec.Execute(ctx, models.ToolCall{ID: "c1", Name: "patient", Input: json.RawMessage(`{}`)})

	if result.Error == nil {
		t.Fatal("expected cancellation error")
	}
	toolErr, ok := GetToolError(result.Error)
	if !ok || toolErr.Kind != models.ErrKindCancelled {
		t.Fatalf("expected cancelled kind, got %v", result.Error)
	}
}
