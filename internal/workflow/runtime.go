package workflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skalene/maestro/pkg/models"
)

// Runtime errors.
var (
	// ErrNotWaiting indicates a resume targeted a workflow that is not
	// paused at a wait gate.
	ErrNotWaiting = errors.New("workflow is not waiting for input")

	// ErrPayloadInvalid indicates the resume payload failed the
	// checkpoint's required-inputs schema.
	ErrPayloadInvalid = errors.New("resume payload does not satisfy required inputs")
)

// Gateway delivers outbound requests to whoever must answer the wait
// gate. The concrete transport (chat, email, webhook) lives outside the
// core.
type Gateway interface {
	SendRequest(ctx context.Context, runID, recipient, question string, requiredInputs json.RawMessage) error
}

// Resumer re-enters the engine at the checkpoint's node with the merged
// state. The executor service provides it.
type Resumer interface {
	Resume(ctx context.Context, cp *models.WorkflowCheckpoint, payload json.RawMessage) (*models.ExecutionResult, error)
}

// EscalationFunc runs when a checkpoint's deadline passes. The
// checkpoint stays resumable regardless.
type EscalationFunc func(cp *models.WorkflowCheckpoint)

// Config tunes the runtime.
type Config struct {
	// DedupWindow bounds how long resume events are remembered for
	// duplicate detection. Default: 1h.
	DedupWindow time.Duration

	// MaxDedupEntries caps the dedup table. Default: 1024.
	MaxDedupEntries int
}

func (c *Config) sanitize() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Hour
	}
	if c.MaxDedupEntries <= 0 {
		c.MaxDedupEntries = 1024
	}
}

// ResumeOutcome reports what one inbound resume event produced.
type ResumeOutcome struct {
	// Duplicate marks a replayed event; Result carries the original
	// outcome.
	Duplicate bool `json:"duplicate,omitempty"`

	Status models.WorkflowStatus `json:"status"`

	// Result is set when the engine ran to terminal.
	Result *models.ExecutionResult `json:"result,omitempty"`

	// ValidationError explains a schema mismatch; the workflow stays
	// waiting.
	ValidationError string `json:"validation_error,omitempty"`
}

type dedupRecord struct {
	outcome *ResumeOutcome
	at      time.Time
}

// Runtime implements the pause/resume protocol over a checkpoint store.
type Runtime struct {
	config   Config
	store    Store
	gateway  Gateway
	resumer  Resumer
	escalate EscalationFunc
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]*dedupRecord
}

// NewRuntime assembles the runtime. gateway, resumer, and escalate are
// optional; operations needing a missing collaborator fail cleanly.
func NewRuntime(config Config, store Store, gateway Gateway, resumer Resumer, escalate EscalationFunc, logger *slog.Logger) *Runtime {
	config.sanitize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		config:   config,
		store:    store,
		gateway:  gateway,
		resumer:  resumer,
		escalate: escalate,
		logger:   logger,
		seen:     map[string]*dedupRecord{},
	}
}

// CreateCheckpoint persists a wait-gate pause in waiting_external.
func (r *Runtime) CreateCheckpoint(ctx context.Context, cp *models.WorkflowCheckpoint) error {
	if cp == nil || cp.RunID == "" || cp.NodeID == "" {
		return fmt.Errorf("checkpoint needs run id and node id")
	}
	cp.Status = models.WorkflowWaitingExternal
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	return r.store.Save(ctx, cp)
}

// SendRequest dispatches the wait-gate question through the gateway,
// attaching the checkpoint's required-inputs schema.
func (r *Runtime) SendRequest(ctx context.Context, runID, recipient, question string) error {
	if r.gateway == nil {
		return fmt.Errorf("no gateway configured")
	}
	cp, err := r.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	return r.gateway.SendRequest(ctx, runID, recipient, question, cp.RequiredInputs)
}

// IngestResumeEvent runs the full resume pipeline for one inbound
// reply: dedup, schema validation, engine re-entry. A schema mismatch
// leaves the workflow waiting and sends a refined follow-up through the
// gateway when one is configured.
func (r *Runtime) IngestResumeEvent(ctx context.Context, runID string, payload json.RawMessage, senderMeta map[string]string) (*ResumeOutcome, error) {
	event := &models.ResumeEvent{
		RunID:          runID,
		MessageID:      senderMeta["message_id"],
		Payload:        payload,
		SenderMetadata: senderMeta,
		ReceivedAt:     time.Now(),
	}

	key := r.dedupKey(event)
	if prior := r.lookupDedup(key); prior != nil {
		dup := *prior
		dup.Duplicate = true
		return &dup, nil
	}

	cp, err := r.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cp.Status != models.WorkflowWaitingExternal {
		return nil, fmt.Errorf("run %s: %w (status %s)", runID, ErrNotWaiting, cp.Status)
	}

	if err := ValidateResumePayload(cp.RequiredInputs, payload); err != nil {
		outcome := &ResumeOutcome{
			Status:          models.WorkflowWaitingExternal,
			ValidationError: err.Error(),
		}
		r.recordDedup(key, outcome)
		r.sendRefinedRequest(ctx, cp, err)
		return outcome, nil
	}

	result, err := r.resumeAt(ctx, cp, payload)
	if err != nil {
		return nil, err
	}
	outcome := &ResumeOutcome{Status: models.WorkflowCompleted, Result: result}
	if result != nil && result.Status == models.RunWaitingExternal {
		outcome.Status = models.WorkflowWaitingExternal
	} else if result != nil && result.Status != models.RunCompleted {
		outcome.Status = models.WorkflowFailed
	}
	r.recordDedup(key, outcome)
	return outcome, nil
}

// ResumeFromCheckpoint re-enters the engine with no new payload, used
// by administrative resume-and-continue.
func (r *Runtime) ResumeFromCheckpoint(ctx context.Context, runID string) (*models.ExecutionResult, error) {
	cp, err := r.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cp.Status != models.WorkflowWaitingExternal {
		return nil, fmt.Errorf("run %s: %w (status %s)", runID, ErrNotWaiting, cp.Status)
	}
	return r.resumeAt(ctx, cp, nil)
}

func (r *Runtime) resumeAt(ctx context.Context, cp *models.WorkflowCheckpoint, payload json.RawMessage) (*models.ExecutionResult, error) {
	if r.resumer == nil {
		return nil, fmt.Errorf("no resumer configured")
	}
	if len(payload) > 0 {
		cp.State = MergeState(cp.State, payload)
	}

	result, err := r.resumer.Resume(ctx, cp, payload)
	if err != nil {
		cp.Status = models.WorkflowFailed
		_ = r.store.Save(ctx, cp)
		return nil, fmt.Errorf("resuming run %s at %s: %w", cp.RunID, cp.NodeID, err)
	}

	switch {
	case result == nil:
		cp.Status = models.WorkflowCompleted
	case result.Status == models.RunWaitingExternal:
		cp.Status = models.WorkflowWaitingExternal
	case result.Status == models.RunCompleted:
		cp.Status = models.WorkflowCompleted
	default:
		cp.Status = models.WorkflowFailed
	}
	if err := r.store.Save(ctx, cp); err != nil {
		r.logger.Warn("saving checkpoint after resume", "run_id", cp.RunID, "error", err)
	}
	return result, nil
}

// CheckDeadlines fires the escalation hook for waiting checkpoints past
// their deadline. Checkpoints stay resumable until cancelled.
func (r *Runtime) CheckDeadlines(ctx context.Context) error {
	if r.escalate == nil {
		return nil
	}
	cps, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, cp := range cps {
		if cp.Status != models.WorkflowWaitingExternal || cp.NextDeadline == nil {
			continue
		}
		if cp.NextDeadline.Before(now) {
			r.escalate(cp)
		}
	}
	return nil
}

// ValidateResumePayload checks the payload against the required-inputs
// JSON schema. An empty schema accepts anything.
func ValidateResumePayload(requiredInputs, payload json.RawMessage) error {
	if len(requiredInputs) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("required_inputs.json", bytes.NewReader(requiredInputs)); err != nil {
		return fmt.Errorf("%w: bad schema: %v", ErrPayloadInvalid, err)
	}
	schema, err := compiler.Compile("required_inputs.json")
	if err != nil {
		return fmt.Errorf("%w: bad schema: %v", ErrPayloadInvalid, err)
	}

	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	return nil
}

// MergeState shallow-merges the payload's top-level keys into the
// state object. Non-object blobs are wrapped instead.
func MergeState(state, payload json.RawMessage) json.RawMessage {
	var base map[string]json.RawMessage
	if len(state) == 0 || json.Unmarshal(state, &base) != nil || base == nil {
		base = map[string]json.RawMessage{}
		if len(state) > 0 {
			base["state"] = state
		}
	}

	var incoming map[string]json.RawMessage
	if json.Unmarshal(payload, &incoming) != nil || incoming == nil {
		base["resume_payload"] = payload
	} else {
		for k, v := range incoming {
			base[k] = v
		}
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return state
	}
	return merged
}

func (r *Runtime) sendRefinedRequest(ctx context.Context, cp *models.WorkflowCheckpoint, cause error) {
	if r.gateway == nil {
		return
	}
	question := fmt.Sprintf("Your reply did not match what is needed (%v). Please answer again with the required fields.", cause)
	recipient := ""
	if err := r.gateway.SendRequest(ctx, cp.RunID, recipient, question, cp.RequiredInputs); err != nil {
		r.logger.Warn("sending refined request", "run_id", cp.RunID, "error", err)
	}
}

func (r *Runtime) dedupKey(event *models.ResumeEvent) string {
	id := event.MessageID
	if id == "" {
		sum := sha256.Sum256(event.Payload)
		id = hex.EncodeToString(sum[:8])
	}
	return event.RunID + "/" + id
}

func (r *Runtime) lookupDedup(key string) *ResumeOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.seen[key]
	if !ok {
		return nil
	}
	if time.Since(rec.at) > r.config.DedupWindow {
		delete(r.seen, key)
		return nil
	}
	return rec.outcome
}

func (r *Runtime) recordDedup(key string, outcome *ResumeOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) >= r.config.MaxDedupEntries {
		r.evictOldestLocked()
	}
	r.seen[key] = &dedupRecord{outcome: outcome, at: time.Now()}
}

func (r *Runtime) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, rec := range r.seen {
		if oldestKey == "" || rec.at.Before(oldest) {
			oldestKey, oldest = k, rec.at
		}
	}
	if oldestKey != "" {
		delete(r.seen, oldestKey)
	}
}
