package prompt

import (
	"strings"
	"testing"

	"github.com/skalene/maestro/pkg/models"
)

func TestBuild_BaseOnly(t *testing.T) {
	b := NewBuilder(0)
	got := b.Build("You are an assistant.", nil, nil)
	if got != "You are an assistant." {
		t.Fatalf("prompt = %q", got)
	}
}

func TestBuild_IncludesPlanStatus(t *testing.T) {
	b := NewBuilder(0)
	state := &models.SessionState{
		Mission: "ship the feature",
		Plan: &models.Plan{Items: []*models.PlanItem{
			{Position: 1, Description: "research", Status: models.PlanItemCompleted},
			{Position: 2, Description: "implement", Status: models.PlanItemInProgress, DependsOn: []int{1}},
			{Position: 3, Description: "verify", Status: models.PlanItemPending},
		}},
	}

	got := b.Build("base", state, nil)
	for _, want := range []string{
		"## Mission",
		"ship the feature",
		"## Plan status",
		"- [x] 1. research",
		"- [>] 2. implement (after 1)",
		"- [ ] 3. verify",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestBuild_ContextPackCapped(t *testing.T) {
	b := NewBuilder(100)
	docs := []Doc{
		{Name: "MISSION", Content: strings.Repeat("a", 80)},
		{Name: "MEMORY", Content: strings.Repeat("b", 80)},
	}
	got := b.Build("base", nil, docs)
	if !strings.Contains(got, "### MISSION") {
		t.Fatal("first doc missing")
	}
	if !strings.Contains(got, "[truncated]") {
		t.Fatalf("second doc not truncated:\n%s", got)
	}
	if strings.Count(got, "b") > 25 {
		t.Fatal("cap not enforced")
	}
}

func TestBuild_PendingQuestion(t *testing.T) {
	b := NewBuilder(0)
	state := &models.SessionState{
		PendingQuestion: &models.PendingQuestion{Question: "Which region?"},
	}
	got := b.Build("base", state, nil)
	if !strings.Contains(got, "Which region?") {
		t.Fatalf("pending question missing:\n%s", got)
	}
}
