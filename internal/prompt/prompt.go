// Package prompt assembles the system prompt for a model call: the
// agent's base instructions, the current plan status, and any context
// pack documents supplied by an orchestrator.
package prompt

import (
	"fmt"
	"strings"

	"github.com/skalene/maestro/pkg/models"
)

// DefaultMaxContextPackChars caps injected context pack text.
const DefaultMaxContextPackChars = 10_000

// Doc is one named context document (e.g. an epic's mission brief).
type Doc struct {
	Name    string
	Content string
}

// Builder renders system prompts.
type Builder struct {
	maxContextPackChars int
}

// NewBuilder creates a prompt builder.
func NewBuilder(maxContextPackChars int) *Builder {
	if maxContextPackChars <= 0 {
		maxContextPackChars = DefaultMaxContextPackChars
	}
	return &Builder{maxContextPackChars: maxContextPackChars}
}

// Build renders the full system prompt. base is the agent definition's
// system prompt; docs are orchestrator-provided context, truncated as a
// group to the configured cap.
func (b *Builder) Build(base string, state *models.SessionState, docs []Doc) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(base))

	if state != nil && state.Mission != "" {
		sb.WriteString("\n\n## Mission\n")
		sb.WriteString(state.Mission)
	}

	if state != nil && state.Plan != nil && len(state.Plan.Items) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(PlanStatus(state.Plan))
	}

	if pack := b.renderDocs(docs); pack != "" {
		sb.WriteString("\n\n## Context\n")
		sb.WriteString(pack)
	}

	if state != nil && state.PendingQuestion != nil {
		sb.WriteString("\n\n## Pending question\n")
		sb.WriteString("You previously asked: ")
		sb.WriteString(state.PendingQuestion.Question)
		sb.WriteString("\nThe latest user message answers it. Continue from there.")
	}

	return sb.String()
}

// PlanStatus renders the plan as a checklist block the model can track.
func PlanStatus(plan *models.Plan) string {
	var sb strings.Builder
	sb.WriteString("## Plan status\n")
	for _, item := range plan.Items {
		marker := " "
		switch item.Status {
		case models.PlanItemCompleted:
			marker = "x"
		case models.PlanItemInProgress:
			marker = ">"
		case models.PlanItemFailed:
			marker = "!"
		case models.PlanItemSkipped:
			marker = "-"
		}
		fmt.Fprintf(&sb, "- [%s] %d. %s", marker, item.Position, item.Description)
		if len(item.DependsOn) > 0 {
			deps := make([]string, len(item.DependsOn))
			for i, d := range item.DependsOn {
				deps[i] = fmt.Sprintf("%d", d)
			}
			fmt.Fprintf(&sb, " (after %s)", strings.Join(deps, ", "))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) renderDocs(docs []Doc) string {
	if len(docs) == 0 {
		return ""
	}
	var sb strings.Builder
	remaining := b.maxContextPackChars
	for _, doc := range docs {
		if remaining <= 0 {
			sb.WriteString("[additional context omitted]\n")
			break
		}
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		if len(content) > remaining {
			content = content[:remaining] + "\n[truncated]"
			remaining = 0
		} else {
			remaining -= len(content)
		}
		fmt.Fprintf(&sb, "### %s\n%s\n", doc.Name, content)
	}
	return strings.TrimRight(sb.String(), "\n")
}
