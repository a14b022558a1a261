package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/skalene/maestro/internal/results"
	"github.com/skalene/maestro/pkg/models"
)

// FetchResult retrieves an offloaded tool result by its handle so the
// model can read past the preview kept in history.
type FetchResult struct {
	store     results.Store
	sessionID string
}

// NewFetchResult creates the fetch_result tool bound to a session.
func NewFetchResult(store results.Store, sessionID string) *FetchResult {
	return &FetchResult{store: store, sessionID: sessionID}
}

func (f *FetchResult) Name() string { return "fetch_result" }

func (f *FetchResult) Description() string {
	return "Retrieve the full content of a previously offloaded tool result by its handle (tr_...)."
}

func (f *FetchResult) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"handle": {"type": "string", "description": "Result handle, e.g. tr_a1b2c3"},
			"offset": {"type": "integer", "description": "Byte offset to start from", "minimum": 0},
			"limit": {"type": "integer", "description": "Maximum bytes to return", "minimum": 1}
		},
		"required": ["handle"]
	}`)
}

func (f *FetchResult) Meta() Meta {
	return Meta{Parallel: true, Idempotent: true}
}

func (f *FetchResult) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Handle string `json:"handle"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return Errorf(models.ErrKindParamValidation, "decoding params: %v", err), nil
	}

	payload, err := f.store.Fetch(ctx, f.sessionID, in.Handle)
	if err != nil {
		if errors.Is(err, results.ErrHandleNotFound) {
			return Errorf(models.ErrKindHandleNotFound, "no result for handle %s", in.Handle), nil
		}
		return Errorf(models.ErrKindToolFailure, "fetching %s: %v", in.Handle, err), nil
	}

	if in.Offset < 0 || in.Offset > len(payload) {
		in.Offset = 0
	}
	payload = payload[in.Offset:]
	if in.Limit > 0 && in.Limit < len(payload) {
		payload = payload[:in.Limit]
	}
	return &models.ToolResult{Content: string(payload)}, nil
}
