package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

type mockTool struct {
	name     string
	schema   string
	executed json.RawMessage
	result   *models.ToolResult
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return "mock" }
func (m *mockTool) Schema() json.RawMessage {
	if m.schema == "" {
		return nil
	}
	return json.RawMessage(m.schema)
}
func (m *mockTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	m.executed = params
	if m.result != nil {
		return m.result, nil
	}
	return &models.ToolResult{Content: "ok"}, nil
}

const echoSchema = `{
	"type": "object",
	"properties": {"text": {"type": "string"}},
	"required": ["text"]
}`

func TestRegistry_Execute_ValidatesSchema(t *testing.T) {
	reg := NewRegistry()
	tool := &mockTool{name: "echo", schema: echoSchema}
	if err := reg.Register(tool); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	result, err := reg.Execute(ctx, "echo", json.RawMessage(`{"text": 42}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || result.ErrorKind != models.ErrKindParamValidation {
		t.Fatalf("bad params result = %+v", result)
	}
	if tool.executed != nil {
		t.Fatal("tool ran despite failed validation")
	}

	result, err = reg.Execute(ctx, "echo", json.RawMessage(`{"text": "hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError || result.Content != "ok" {
		t.Fatalf("result = %+v", result)
	}
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	reg := NewRegistry()
	result, err := reg.Execute(context.Background(), "ghost", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || result.ErrorKind != models.ErrKindUnknownTool {
		t.Fatalf("result = %+v", result)
	}
}

func TestRegistry_Register_RejectsBadSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&mockTool{name: "bad", schema: `{"type": ["not valid"`})
	if err == nil {
		t.Fatal("expected schema compile error")
	}
}

func TestRegistry_Schemas_SortedAndDefaulted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha"} {
		if err := reg.Register(&mockTool{name: name}); err != nil {
			t.Fatal(err)
		}
	}
	schemas := reg.Schemas()
	if len(schemas) != 2 || schemas[0].Name != "alpha" || schemas[1].Name != "zeta" {
		t.Fatalf("schemas = %+v", schemas)
	}
	if !strings.Contains(string(schemas[0].InputSchema), "object") {
		t.Fatal("missing default schema for schemaless tool")
	}
}

func TestMetaFor(t *testing.T) {
	if MetaFor(&mockTool{name: "plain"}) != (Meta{}) {
		t.Fatal("plain tool should get zero Meta")
	}
	meta := MetaFor(NewShell("", true))
	if !meta.RequiresApproval || meta.Timeout != DefaultShellTimeout {
		t.Fatalf("shell meta = %+v", meta)
	}
	if DefaultShellTimeout != 300*time.Second {
		t.Fatalf("shell timeout = %s, want 300s", DefaultShellTimeout)
	}
	if agentMeta := MetaFor(NewCallAgent(nil, "")); agentMeta.Timeout >= 0 {
		t.Fatalf("call_agent must disable the dispatch timeout, got %s", agentMeta.Timeout)
	}
}
