package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/skalene/maestro/internal/llm"
)

type scriptedProvider struct {
	content string
	err     error
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.content}, nil
}

func TestClassifyComplexVerdict(t *testing.T) {
	provider := &scriptedProvider{content: `{"complexity": "complex", "confidence": 0.9, "reason": "many streams"}`}
	c := New(provider, "fast", 0, nil)

	v := c.Classify(context.Background(), "rebuild everything")
	if !v.IsComplex(c.Threshold()) {
		t.Fatalf("expected complex routing, got %+v", v)
	}
}

func TestClassifyBelowThresholdStaysSimple(t *testing.T) {
	provider := &scriptedProvider{content: `{"complexity": "complex", "confidence": 0.5}`}
	c := New(provider, "fast", 0.7, nil)

	v := c.Classify(context.Background(), "maybe complex")
	if v.IsComplex(c.Threshold()) {
		t.Fatal("confidence below threshold must not route to epic")
	}
}

func TestClassifyToleratesSurroundingProse(t *testing.T) {
	provider := &scriptedProvider{content: "Here is my verdict:\n{\"complexity\": \"simple\", \"confidence\": 0.8}\nHope that helps."}
	c := New(provider, "fast", 0, nil)

	v := c.Classify(context.Background(), "small fix")
	if v.Complexity != Simple || v.Confidence != 0.8 {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

func TestClassifyFallsBackOnError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("model unavailable")}
	c := New(provider, "fast", 0, nil)

	v := c.Classify(context.Background(), "fix the typo in README")
	if v.IsComplex(c.Threshold()) {
		t.Fatal("fallback must not route to epic")
	}
	if !strings.Contains(v.Reason, "heuristic") {
		t.Errorf("expected heuristic reason, got %q", v.Reason)
	}
}

func TestClassifyFallsBackOnMalformedReply(t *testing.T) {
	for _, content := range []string{
		"definitely complex",
		`{"complexity": "enormous", "confidence": 0.9}`,
		`{"complexity": "complex", "confidence": 7}`,
	} {
		provider := &scriptedProvider{content: content}
		c := New(provider, "fast", 0, nil)
		v := c.Classify(context.Background(), "something")
		if v.IsComplex(c.Threshold()) {
			t.Errorf("malformed reply %q must degrade to simple, got %+v", content, v)
		}
	}
}

func TestHeuristicMarkers(t *testing.T) {
	long := "Migrate the entire billing system to the new schema, update every caller " + strings.Repeat("and downstream consumer ", 10)
	v := heuristic(long)
	if v.Complexity != Complex {
		t.Errorf("expected heuristic complex for broad mission, got %+v", v)
	}
	if v.IsComplex(DefaultConfidenceThreshold) {
		t.Error("heuristic confidence must stay below the routing threshold")
	}

	if v := heuristic("fix the typo"); v.Complexity != Simple {
		t.Errorf("expected simple, got %+v", v)
	}
}
