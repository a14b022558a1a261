package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/skalene/maestro/internal/results"
	"github.com/skalene/maestro/pkg/models"
)

func TestResolve_BuildsRequestedTools(t *testing.T) {
	reg, err := Resolve([]string{"planner", "file_read", "web_fetch", AskUserName}, Deps{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ask_user", "file_read", "planner", "web_fetch"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("names = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
}

func TestResolve_UnknownTool(t *testing.T) {
	_, err := Resolve([]string{"teleport"}, Deps{})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}

func TestResolve_CallAgentNeedsSpawner(t *testing.T) {
	if _, err := Resolve([]string{"call_agent"}, Deps{}); err == nil {
		t.Fatal("call_agent resolved without spawner")
	}
}

func TestFetchResult_RoundTripAndMissing(t *testing.T) {
	store := results.NewMemoryStore()
	ctx := context.Background()
	handle, err := store.Put(ctx, "s1", []byte("full payload text"))
	if err != nil {
		t.Fatal(err)
	}

	tool := NewFetchResult(store, "s1")
	result, err := tool.Execute(ctx, json.RawMessage(`{"handle": "`+handle+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "full payload text" {
		t.Fatalf("content = %q", result.Content)
	}

	result, err = tool.Execute(ctx, json.RawMessage(`{"handle": "`+handle+`", "offset": 5, "limit": 7}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "payload" {
		t.Fatalf("windowed content = %q", result.Content)
	}

	result, err = tool.Execute(ctx, json.RawMessage(`{"handle": "tr_missing"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || result.ErrorKind != models.ErrKindHandleNotFound {
		t.Fatalf("missing handle result = %+v", result)
	}
}

func TestAskUser_RecordsPendingQuestion(t *testing.T) {
	state := &models.SessionState{}
	ctx := WithSession(context.Background(), state)

	result, err := NewAskUser().Execute(ctx, json.RawMessage(`{"question": "Which env?"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	if state.PendingQuestion == nil || state.PendingQuestion.Question != "Which env?" {
		t.Fatalf("pending = %+v", state.PendingQuestion)
	}
}

type fakeRunner struct {
	result *models.ExecutionResult
	err    error
	role   string
}

func (f *fakeRunner) Run(ctx context.Context, parent, role, mission string) (*models.ExecutionResult, error) {
	f.role = role
	return f.result, f.err
}

func TestCallAgent_ReturnsFinalAnswer(t *testing.T) {
	runner := &fakeRunner{result: &models.ExecutionResult{
		Status:      models.RunCompleted,
		FinalAnswer: "child says done",
	}}
	tool := NewCallAgent(runner, "parent1")

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"agent": "researcher", "mission": "dig"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "child says done" || runner.role != "researcher" {
		t.Fatalf("result = %+v, role = %s", result, runner.role)
	}
}

func TestCallAgent_ChildFailureIsObservation(t *testing.T) {
	runner := &fakeRunner{result: &models.ExecutionResult{
		Status:    models.RunFailed,
		Error:     "boom",
		ErrorKind: models.ErrKindToolFailure,
	}}
	result, err := NewCallAgent(runner, "p").Execute(context.Background(),
		json.RawMessage(`{"agent": "coder", "mission": "x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(result.Content, "boom") {
		t.Fatalf("result = %+v", result)
	}
}
