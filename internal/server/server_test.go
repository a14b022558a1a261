package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skalene/maestro/internal/definitions"
	"github.com/skalene/maestro/internal/factory"
	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/internal/results"
	"github.com/skalene/maestro/internal/service"
	"github.com/skalene/maestro/internal/state"
	"github.com/skalene/maestro/internal/tools"
	"github.com/skalene/maestro/internal/workflow"
	"github.com/skalene/maestro/pkg/models"
)

// scriptProvider replays canned responses in order.
type scriptProvider struct {
	responses []*llm.Response
	calls     int
}

func (p *scriptProvider) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("unexpected model call %d", p.calls+1)
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptProvider) Name() string { return "script" }

func textResp(content string) *llm.Response {
	return &llm.Response{Content: content, StopReason: "end_turn"}
}

func toolResp(id, name, input string) *llm.Response {
	return &llm.Response{
		ToolCalls:  []models.ToolCall{{ID: id, Name: name, Input: json.RawMessage(input)}},
		StopReason: "tool_use",
	}
}

type testEnv struct {
	server   *Server
	states   state.Store
	executor *service.Executor
}

func newTestEnv(t *testing.T, config Config, provider llm.Provider, withWorkflows bool, defs ...*definitions.AgentDefinition) *testEnv {
	t.Helper()
	registry := definitions.NewRegistry(factory.ValidationContext())
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			t.Fatalf("Register %s: %v", def.AgentID, err)
		}
	}
	states := state.NewMemoryStore()
	f := factory.New(registry, provider, states, results.NewMemoryStore())

	defaultAgent := "assistant"
	if len(defs) > 0 {
		defaultAgent = defs[0].AgentID
	}
	executor := service.NewExecutor(f, states, defaultAgent, factory.Profile{})

	opts := []ServerOption{}
	if withWorkflows {
		store := workflow.NewMemoryStore()
		runtime := workflow.NewRuntime(workflow.Config{}, store, nil, executor, nil, nil)
		opts = append(opts, WithWorkflows(runtime, store))
	}
	return &testEnv{
		server:   NewServer(config, executor, states, opts...),
		states:   states,
		executor: executor,
	}
}

func assistantDef() *definitions.AgentDefinition {
	return &definitions.AgentDefinition{
		AgentID:      "assistant",
		SystemPrompt: "You answer directly.",
		Source:       definitions.SourceConfig,
	}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) *models.ExecutionResult {
	t.Helper()
	defer resp.Body.Close()
	var result models.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return &result
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), &scriptProvider{}, false, assistantDef())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestExecuteEndpoint(t *testing.T) {
	provider := &scriptProvider{responses: []*llm.Response{textResp("done")}}
	env := newTestEnv(t, DefaultConfig(), provider, false, assistantDef())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.Client(), ts.URL+"/execute", executeRequest{Mission: "do it", SessionID: "s1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d", resp.StatusCode)
	}
	result := decodeResult(t, resp)
	if result.Status != models.RunCompleted || result.FinalAnswer != "done" {
		t.Fatalf("unexpected result %+v", result)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

func TestExecuteValidation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), &scriptProvider{}, false, assistantDef())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.Client(), ts.URL+"/execute", executeRequest{Mission: ""})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty mission status = %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	config := DefaultConfig()
	config.JWTSecret = "test-secret"
	env := newTestEnv(t, config, &scriptProvider{}, false, assistantDef())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	token, err := env.server.Tokens().Generate("alice", []string{"execute"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestSessionEndpoints(t *testing.T) {
	provider := &scriptProvider{responses: []*llm.Response{textResp("one"), textResp("two")}}
	env := newTestEnv(t, DefaultConfig(), provider, false, assistantDef())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	for _, id := range []string{"sess-a", "sess-b"} {
		resp := postJSON(t, ts.Client(), ts.URL+"/execute", executeRequest{Mission: "go", SessionID: id})
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/sessions?limit=1&offset=1")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	var list sessionListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if list.Total != 2 || len(list.Sessions) != 1 || list.Sessions[0] != "sess-b" {
		t.Fatalf("unexpected listing %+v", list)
	}

	resp, err = http.Get(ts.URL + "/sessions/sess-a")
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	var st models.SessionState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	resp.Body.Close()
	if st.SessionID != "sess-a" || st.AgentID != "assistant" {
		t.Fatalf("unexpected session %+v", st)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/sess-a", nil)
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/sessions/sess-a")
	if err != nil {
		t.Fatalf("GET deleted: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestExecuteStreamSSE(t *testing.T) {
	provider := &scriptProvider{responses: []*llm.Response{textResp("streamed answer")}}
	env := newTestEnv(t, DefaultConfig(), provider, false, assistantDef())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.Client(), ts.URL+"/execute/stream", executeRequest{Mission: "stream", SessionID: "s1"})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "event: final_answer") {
		t.Errorf("missing final_answer event:\n%s", text)
	}
	if !strings.Contains(text, "event: result") || !strings.Contains(text, `"streamed answer"`) {
		t.Errorf("missing terminal result event:\n%s", text)
	}
}

func TestWorkflowResumeFlow(t *testing.T) {
	provider := &scriptProvider{responses: []*llm.Response{
		toolResp("q1", tools.AskUserName, `{"question":"Which region?"}`),
		textResp("Provisioned in eu-west-1."),
	}}
	env := newTestEnv(t, DefaultConfig(), provider, true, &definitions.AgentDefinition{
		AgentID:      "concierge",
		SystemPrompt: "You provision things.",
		Tools:        []string{tools.AskUserName},
		Source:       definitions.SourceConfig,
	})
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.Client(), ts.URL+"/execute", executeRequest{
		Mission:   "set up a cluster",
		AgentID:   "concierge",
		SessionID: "wf-1",
	})
	result := decodeResult(t, resp)
	if result.Status != models.RunWaitingExternal {
		t.Fatalf("expected wait gate, got %+v", result)
	}

	// The parked run must now be visible as a waiting workflow.
	getResp, err := http.Get(ts.URL + "/workflows/wf-1")
	if err != nil {
		t.Fatalf("GET workflow: %v", err)
	}
	var cp models.WorkflowCheckpoint
	if err := json.NewDecoder(getResp.Body).Decode(&cp); err != nil {
		t.Fatalf("decode checkpoint: %v", err)
	}
	getResp.Body.Close()
	if cp.Status != models.WorkflowWaitingExternal {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}

	resumeBody := resumeRequest{
		Payload:        json.RawMessage(`{"answer":"eu-west-1"}`),
		SenderMetadata: map[string]string{"message_id": "m1"},
	}
	resp = postJSON(t, ts.Client(), ts.URL+"/workflows/wf-1/resume", resumeBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume status = %d", resp.StatusCode)
	}
	var outcome workflow.ResumeOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	resp.Body.Close()
	if outcome.Status != models.WorkflowCompleted || outcome.Result == nil || outcome.Result.FinalAnswer != "Provisioned in eu-west-1." {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	// A replayed event returns the original outcome without re-running.
	resp = postJSON(t, ts.Client(), ts.URL+"/workflows/wf-1/resume", resumeBody)
	var dup workflow.ResumeOutcome
	if err := json.NewDecoder(resp.Body).Decode(&dup); err != nil {
		t.Fatalf("decode duplicate outcome: %v", err)
	}
	resp.Body.Close()
	if !dup.Duplicate {
		t.Errorf("expected duplicate outcome, got %+v", dup)
	}
}

func TestWorkflowResumeValidation(t *testing.T) {
	provider := &scriptProvider{responses: []*llm.Response{
		toolResp("q1", tools.AskUserName, `{"question":"Which region?"}`),
	}}
	env := newTestEnv(t, DefaultConfig(), provider, true, &definitions.AgentDefinition{
		AgentID:      "concierge",
		SystemPrompt: "You provision things.",
		Tools:        []string{tools.AskUserName},
		Source:       definitions.SourceConfig,
	})
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.Client(), ts.URL+"/execute", executeRequest{
		Mission:   "set up a cluster",
		AgentID:   "concierge",
		SessionID: "wf-2",
	})
	resp.Body.Close()

	resp = postJSON(t, ts.Client(), ts.URL+"/workflows/wf-2/resume", resumeRequest{
		Payload: json.RawMessage(`{"region":"eu"}`),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on schema mismatch, got %d", resp.StatusCode)
	}
	var outcome workflow.ResumeOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	resp.Body.Close()
	if outcome.Status != models.WorkflowWaitingExternal || outcome.ValidationError == "" {
		t.Fatalf("workflow must stay waiting on mismatch, got %+v", outcome)
	}

	resp, err := http.Get(ts.URL + "/workflows/missing")
	if err != nil {
		t.Fatalf("GET missing workflow: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", resp.StatusCode)
	}
}
