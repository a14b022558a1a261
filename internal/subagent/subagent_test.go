package subagent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/internal/tools"
	"github.com/skalene/maestro/pkg/models"
)

type fakeRunner struct {
	result *models.ExecutionResult
	err    error
	ran    string
}

func (f *fakeRunner) Run(ctx context.Context, sessionID, mission string) (*models.ExecutionResult, error) {
	f.ran = sessionID
	if f.result != nil {
		f.result.SessionID = sessionID
	}
	return f.result, f.err
}

func TestSpawnRunsChildWithHierarchicalID(t *testing.T) {
	runner := &fakeRunner{result: &models.ExecutionResult{Status: models.RunCompleted, FinalAnswer: "done"}}
	var builtRole, builtID string
	spawner := NewSpawner(Config{}, func(role, sessionID string) (AgentRunner, error) {
		builtRole, builtID = role, sessionID
		return runner, nil
	}, nil, nil)

	result, err := spawner.Run(context.Background(), "root", "researcher", "find the docs")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.RunCompleted {
		t.Errorf("unexpected status %s", result.Status)
	}
	if builtRole != "researcher" {
		t.Errorf("expected researcher role, got %q", builtRole)
	}
	if !strings.HasPrefix(builtID, "root:sub_researcher_") {
		t.Errorf("unexpected child session id %q", builtID)
	}
	if runner.ran != builtID {
		t.Errorf("runner got %q, factory built %q", runner.ran, builtID)
	}
	if models.SessionDepth(builtID) != 1 {
		t.Errorf("expected depth 1, got %d", models.SessionDepth(builtID))
	}
}

func TestSpawnEnforcesDepthCap(t *testing.T) {
	spawner := NewSpawner(Config{MaxDepth: 2}, func(role, sessionID string) (AgentRunner, error) {
		t.Fatal("build must not be called past the depth cap")
		return nil, nil
	}, nil, nil)

	deep := models.ChildSessionID(models.ChildSessionID("root", "a", "x"), "b", "y")
	_, err := spawner.Run(context.Background(), deep, "c", "go deeper")
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestSpawnPropagatesBuildError(t *testing.T) {
	spawner := NewSpawner(Config{}, func(role, sessionID string) (AgentRunner, error) {
		return nil, errors.New("unknown specialist")
	}, nil, nil)

	if _, err := spawner.Run(context.Background(), "root", "ghost", "boo"); err == nil {
		t.Fatal("expected build error to propagate")
	}
}

type summaryProvider struct {
	called bool
}

func (p *summaryProvider) Name() string { return "summary" }
func (p *summaryProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.called = true
	return &llm.Response{Content: "short summary"}, nil
}

func TestSpawnSummarizesLongAnswers(t *testing.T) {
	long := strings.Repeat("x", 200)
	runner := &fakeRunner{result: &models.ExecutionResult{Status: models.RunCompleted, FinalAnswer: long}}
	provider := &summaryProvider{}
	spawner := NewSpawner(Config{SummarizeThreshold: 100}, func(role, sessionID string) (AgentRunner, error) {
		return runner, nil
	}, provider, nil)

	result, err := spawner.Run(context.Background(), "root", "writer", "write a lot")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !provider.called {
		t.Fatal("expected summarization call")
	}
	if result.FinalAnswer != "short summary" {
		t.Errorf("expected compressed answer, got %q", result.FinalAnswer)
	}
}

func TestSpawnSkipsSummarizingShortAnswers(t *testing.T) {
	runner := &fakeRunner{result: &models.ExecutionResult{Status: models.RunCompleted, FinalAnswer: "brief"}}
	provider := &summaryProvider{}
	spawner := NewSpawner(Config{SummarizeThreshold: 100}, func(role, sessionID string) (AgentRunner, error) {
		return runner, nil
	}, provider, nil)

	result, _ := spawner.Run(context.Background(), "root", "writer", "write little")
	if provider.called {
		t.Error("short answers must not be summarized")
	}
	if result.FinalAnswer != "brief" {
		t.Errorf("answer mutated: %q", result.FinalAnswer)
	}
}

func TestSpawnEmitsLifecycleEvents(t *testing.T) {
	runner := &fakeRunner{result: &models.ExecutionResult{Status: models.RunCompleted, FinalAnswer: "done", Steps: 4}}
	spawner := NewSpawner(Config{}, func(role, sessionID string) (AgentRunner, error) {
		return runner, nil
	}, nil, nil)

	var events []*models.StreamEvent
	ctx := tools.WithEmitter(context.Background(), func(ev *models.StreamEvent) {
		events = append(events, ev)
	})

	if _, err := spawner.Run(ctx, "root", "researcher", "find the docs"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected spawned + completed events, got %d", len(events))
	}
	spawned, completed := events[0], events[1]
	if spawned.Type != models.EventSubAgentSpawned {
		t.Fatalf("expected sub_agent_spawned first, got %s", spawned.Type)
	}
	if spawned.SubAgent == nil || spawned.SubAgent.Specialist != "researcher" {
		t.Errorf("unexpected spawned payload: %+v", spawned.SubAgent)
	}
	if spawned.SubAgent.MissionPreview != "find the docs" {
		t.Errorf("unexpected mission preview: %q", spawned.SubAgent.MissionPreview)
	}
	if completed.Type != models.EventSubAgentCompleted {
		t.Fatalf("expected sub_agent_completed, got %s", completed.Type)
	}
	if completed.SubAgent == nil || !completed.SubAgent.Success || completed.SubAgent.StepsTaken != 4 {
		t.Errorf("unexpected completed payload: %+v", completed.SubAgent)
	}
	if completed.SubAgent.ChildSessionID != spawned.SubAgent.ChildSessionID {
		t.Errorf("child session ids differ: %q vs %q",
			completed.SubAgent.ChildSessionID, spawned.SubAgent.ChildSessionID)
	}
}

func TestSpawnWithoutEmitterStaysQuiet(t *testing.T) {
	runner := &fakeRunner{result: &models.ExecutionResult{Status: models.RunCompleted, FinalAnswer: "done"}}
	spawner := NewSpawner(Config{}, func(role, sessionID string) (AgentRunner, error) {
		return runner, nil
	}, nil, nil)

	if _, err := spawner.Run(context.Background(), "root", "researcher", "no sink attached"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
