// Package classifier decides whether a mission should route to the
// epic orchestrator or the ordinary agent pipeline.
package classifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/pkg/models"
)

// Complexity values of a verdict.
const (
	Simple  = "simple"
	Complex = "complex"
)

// DefaultConfidenceThreshold gates epic routing.
const DefaultConfidenceThreshold = 0.7

// Verdict is the structured classification of one mission.
type Verdict struct {
	Complexity string  `json:"complexity"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// IsComplex reports whether the verdict routes to the epic pipeline
// under the given threshold.
func (v Verdict) IsComplex(threshold float64) bool {
	return v.Complexity == Complex && v.Confidence >= threshold
}

const classifierSystemPrompt = `You classify missions for an agent runtime. A mission is "complex" when it needs many independent work streams, spans a large scope, or would take a single agent dozens of steps across multiple areas. Otherwise it is "simple".
Reply with only a JSON object: {"complexity": "simple"|"complex", "confidence": 0.0-1.0, "reason": "one short sentence"}`

// Classifier runs one cheap model call per mission, with a heuristic
// fallback when the call fails or the reply is malformed.
type Classifier struct {
	provider  llm.Provider
	model     string
	threshold float64
	logger    *slog.Logger
}

// New creates a classifier. model should name a fast/cheap alias.
func New(provider llm.Provider, model string, threshold float64, logger *slog.Logger) *Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, model: model, threshold: threshold, logger: logger}
}

// Threshold returns the configured confidence gate.
func (c *Classifier) Threshold() float64 { return c.threshold }

// Classify returns the verdict for a mission. Any failure degrades to a
// simple verdict; classification never blocks execution.
func (c *Classifier) Classify(ctx context.Context, mission string) Verdict {
	if c.provider == nil {
		return heuristic(mission)
	}

	resp, err := c.provider.Complete(ctx, &llm.Request{
		Model:  c.model,
		System: classifierSystemPrompt,
		Messages: []*models.Message{{
			Role:    models.RoleUser,
			Content: "Mission:\n" + mission,
		}},
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("classifier call failed, using heuristic", "error", err)
		return heuristic(mission)
	}

	verdict, ok := parseVerdict(resp.Content)
	if !ok {
		c.logger.Warn("classifier reply unparseable, using heuristic")
		return heuristic(mission)
	}
	return verdict
}

// parseVerdict extracts the JSON verdict, tolerating surrounding prose.
func parseVerdict(text string) (Verdict, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Verdict{}, false
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return Verdict{}, false
	}
	v.Complexity = strings.ToLower(strings.TrimSpace(v.Complexity))
	if v.Complexity != Simple && v.Complexity != Complex {
		return Verdict{}, false
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return Verdict{}, false
	}
	return v, true
}

// Heuristic markers of multi-stream scope.
var complexMarkers = []string{
	"entire", "all of", "every", "migrate", "refactor the whole",
	"end to end", "end-to-end", "across the codebase", "multiple",
}

// heuristic is the no-model fallback: long missions with scope markers
// lean complex, with confidence pinned below the routing threshold so
// the fallback alone never forces the epic pipeline.
func heuristic(mission string) Verdict {
	lower := strings.ToLower(mission)
	hits := 0
	for _, marker := range complexMarkers {
		if strings.Contains(lower, marker) {
			hits++
		}
	}
	if hits >= 2 && len(mission) > 200 {
		return Verdict{Complexity: Complex, Confidence: 0.5, Reason: "heuristic: broad scope markers"}
	}
	return Verdict{Complexity: Simple, Confidence: 0.5, Reason: "heuristic fallback"}
}
