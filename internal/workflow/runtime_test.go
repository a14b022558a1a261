package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

type fakeGateway struct {
	requests []string
}

func (g *fakeGateway) SendRequest(ctx context.Context, runID, recipient, question string, requiredInputs json.RawMessage) error {
	g.requests = append(g.requests, question)
	return nil
}

type fakeResumer struct {
	result  *models.ExecutionResult
	err     error
	resumed []*models.WorkflowCheckpoint
}

func (f *fakeResumer) Resume(ctx context.Context, cp *models.WorkflowCheckpoint, payload json.RawMessage) (*models.ExecutionResult, error) {
	clone := *cp
	f.resumed = append(f.resumed, &clone)
	return f.result, f.err
}

func waitingCheckpoint(runID string) *models.WorkflowCheckpoint {
	return &models.WorkflowCheckpoint{
		RunID:          runID,
		NodeID:         "collect_inputs",
		BlockingReason: models.BlockMissingSupplierData,
		RequiredInputs: json.RawMessage(`{
			"type": "object",
			"properties": {"supplier_id": {"type": "string"}},
			"required": ["supplier_id"]
		}`),
		State: json.RawMessage(`{"step": 4}`),
	}
}

func newTestRuntime(t *testing.T, resumer Resumer) (*Runtime, Store, *fakeGateway) {
	t.Helper()
	store := NewMemoryStore()
	gateway := &fakeGateway{}
	rt := NewRuntime(Config{}, store, gateway, resumer, nil, nil)
	return rt, store, gateway
}

func TestCreateCheckpointSetsWaiting(t *testing.T) {
	rt, store, _ := newTestRuntime(t, nil)
	if err := rt.CreateCheckpoint(context.Background(), waitingCheckpoint("wf1")); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	cp, err := store.Get(context.Background(), "wf1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cp.Status != models.WorkflowWaitingExternal {
		t.Errorf("expected waiting_external, got %s", cp.Status)
	}
}

func TestIngestResumeHappyPath(t *testing.T) {
	resumer := &fakeResumer{result: &models.ExecutionResult{Status: models.RunCompleted, FinalAnswer: "resumed"}}
	rt, store, _ := newTestRuntime(t, resumer)
	_ = rt.CreateCheckpoint(context.Background(), waitingCheckpoint("wf1"))

	outcome, err := rt.IngestResumeEvent(context.Background(), "wf1",
		json.RawMessage(`{"supplier_id": "sup_42"}`), map[string]string{"message_id": "m1"})
	if err != nil {
		t.Fatalf("IngestResumeEvent: %v", err)
	}
	if outcome.Status != models.WorkflowCompleted {
		t.Errorf("expected completed, got %s", outcome.Status)
	}
	if outcome.Result == nil || outcome.Result.FinalAnswer != "resumed" {
		t.Errorf("unexpected result %+v", outcome.Result)
	}

	if len(resumer.resumed) != 1 {
		t.Fatalf("expected 1 resume, got %d", len(resumer.resumed))
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(resumer.resumed[0].State, &merged); err != nil {
		t.Fatalf("merged state not an object: %v", err)
	}
	if _, ok := merged["supplier_id"]; !ok {
		t.Error("payload not merged into checkpoint state")
	}
	if _, ok := merged["step"]; !ok {
		t.Error("original state lost in merge")
	}

	cp, _ := store.Get(context.Background(), "wf1")
	if cp.Status != models.WorkflowCompleted {
		t.Errorf("checkpoint should be completed, got %s", cp.Status)
	}
}

func TestIngestResumeDeduplicates(t *testing.T) {
	resumer := &fakeResumer{result: &models.ExecutionResult{Status: models.RunCompleted}}
	rt, _, _ := newTestRuntime(t, resumer)
	_ = rt.CreateCheckpoint(context.Background(), waitingCheckpoint("wf1"))

	payload := json.RawMessage(`{"supplier_id": "sup_42"}`)
	meta := map[string]string{"message_id": "m1"}

	first, err := rt.IngestResumeEvent(context.Background(), "wf1", payload, meta)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := rt.IngestResumeEvent(context.Background(), "wf1", payload, meta)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if first.Duplicate {
		t.Error("first event must not be a duplicate")
	}
	if !second.Duplicate {
		t.Error("replayed event must be flagged duplicate")
	}
	if len(resumer.resumed) != 1 {
		t.Errorf("duplicate must not resume again, got %d resumes", len(resumer.resumed))
	}
}

func TestIngestResumeDedupsByPayloadHash(t *testing.T) {
	resumer := &fakeResumer{result: &models.ExecutionResult{Status: models.RunCompleted}}
	rt, _, _ := newTestRuntime(t, resumer)
	_ = rt.CreateCheckpoint(context.Background(), waitingCheckpoint("wf1"))

	payload := json.RawMessage(`{"supplier_id": "sup_42"}`)
	if _, err := rt.IngestResumeEvent(context.Background(), "wf1", payload, nil); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	outcome, err := rt.IngestResumeEvent(context.Background(), "wf1", payload, nil)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !outcome.Duplicate {
		t.Error("same payload without message id must dedup by hash")
	}
}

func TestIngestResumeSchemaMismatchKeepsWaiting(t *testing.T) {
	resumer := &fakeResumer{result: &models.ExecutionResult{Status: models.RunCompleted}}
	rt, store, gateway := newTestRuntime(t, resumer)
	_ = rt.CreateCheckpoint(context.Background(), waitingCheckpoint("wf1"))

	outcome, err := rt.IngestResumeEvent(context.Background(), "wf1",
		json.RawMessage(`{"wrong_field": true}`), map[string]string{"message_id": "m1"})
	if err != nil {
		t.Fatalf("IngestResumeEvent: %v", err)
	}
	if outcome.Status != models.WorkflowWaitingExternal {
		t.Errorf("mismatch must keep waiting, got %s", outcome.Status)
	}
	if outcome.ValidationError == "" {
		t.Error("expected validation error in outcome")
	}
	if len(resumer.resumed) != 0 {
		t.Error("mismatch must not reach the resumer")
	}
	if len(gateway.requests) != 1 || !strings.Contains(gateway.requests[0], "required fields") {
		t.Errorf("expected a refined follow-up request, got %v", gateway.requests)
	}

	cp, _ := store.Get(context.Background(), "wf1")
	if cp.Status != models.WorkflowWaitingExternal {
		t.Errorf("checkpoint must stay waiting, got %s", cp.Status)
	}

	// A corrected reply with a new message id still goes through.
	good, err := rt.IngestResumeEvent(context.Background(), "wf1",
		json.RawMessage(`{"supplier_id": "sup_42"}`), map[string]string{"message_id": "m2"})
	if err != nil {
		t.Fatalf("corrected ingest: %v", err)
	}
	if good.Status != models.WorkflowCompleted {
		t.Errorf("corrected reply should complete, got %s", good.Status)
	}
}

func TestIngestResumeUnknownRun(t *testing.T) {
	rt, _, _ := newTestRuntime(t, &fakeResumer{})
	_, err := rt.IngestResumeEvent(context.Background(), "ghost", json.RawMessage(`{}`), nil)
	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestResumeFromCheckpointRequiresWaiting(t *testing.T) {
	resumer := &fakeResumer{result: &models.ExecutionResult{Status: models.RunCompleted}}
	rt, store, _ := newTestRuntime(t, resumer)

	cp := waitingCheckpoint("wf1")
	cp.Status = models.WorkflowCompleted
	cp.CreatedAt = time.Now()
	_ = store.Save(context.Background(), cp)

	if _, err := rt.ResumeFromCheckpoint(context.Background(), "wf1"); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("expected ErrNotWaiting, got %v", err)
	}
}

func TestCheckDeadlinesEscalates(t *testing.T) {
	store := NewMemoryStore()
	var escalated []string
	rt := NewRuntime(Config{}, store, nil, nil, func(cp *models.WorkflowCheckpoint) {
		escalated = append(escalated, cp.RunID)
	}, nil)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	overdue := waitingCheckpoint("overdue")
	overdue.NextDeadline = &past
	_ = rt.CreateCheckpoint(context.Background(), overdue)

	fresh := waitingCheckpoint("fresh")
	fresh.NextDeadline = &future
	_ = rt.CreateCheckpoint(context.Background(), fresh)

	if err := rt.CheckDeadlines(context.Background()); err != nil {
		t.Fatalf("CheckDeadlines: %v", err)
	}
	if len(escalated) != 1 || escalated[0] != "overdue" {
		t.Errorf("expected only the overdue run escalated, got %v", escalated)
	}

	// Escalation never consumes the checkpoint.
	cp, err := store.Get(context.Background(), "overdue")
	if err != nil || cp.Status != models.WorkflowWaitingExternal {
		t.Errorf("overdue checkpoint must remain resumable, got %+v err=%v", cp, err)
	}
}

func TestValidateResumePayload(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["x"]}`)
	if err := ValidateResumePayload(schema, json.RawMessage(`{"x":1}`)); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
	if err := ValidateResumePayload(schema, json.RawMessage(`{}`)); !errors.Is(err, ErrPayloadInvalid) {
		t.Errorf("expected ErrPayloadInvalid, got %v", err)
	}
	if err := ValidateResumePayload(nil, json.RawMessage(`anything`)); err != nil {
		t.Errorf("empty schema must accept anything: %v", err)
	}
}

func TestMergeStateWrapsNonObjects(t *testing.T) {
	merged := MergeState(json.RawMessage(`[1,2]`), json.RawMessage(`{"a":1}`))
	var m map[string]json.RawMessage
	if err := json.Unmarshal(merged, &m); err != nil {
		t.Fatalf("merged not an object: %v", err)
	}
	if _, ok := m["state"]; !ok {
		t.Error("non-object state should be wrapped under \"state\"")
	}
	if _, ok := m["a"]; !ok {
		t.Error("payload keys missing from merge")
	}
}
