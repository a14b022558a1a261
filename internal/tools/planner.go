package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// Planner lets the model create and maintain the session plan. It
// mutates the live session state attached to the dispatch context; the
// loop persists the change and emits the plan update event.
type Planner struct{}

// NewPlanner creates the planner tool.
func NewPlanner() *Planner { return &Planner{} }

func (p *Planner) Name() string { return "planner" }

func (p *Planner) Description() string {
	return "Create and maintain the execution plan. Actions: create, add_item, update_status, reorder, get. " +
		"Items may declare depends_on positions; an item cannot start until its dependencies are completed."
}

func (p *Planner) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["create", "add_item", "update_status", "reorder", "get"]
			},
			"items": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"description": {"type": "string"},
						"acceptance_criteria": {"type": "string"},
						"depends_on": {"type": "array", "items": {"type": "integer"}}
					},
					"required": ["description"]
				}
			},
			"position": {"type": "integer"},
			"status": {
				"type": "string",
				"enum": ["pending", "in_progress", "completed", "failed", "skipped"]
			},
			"order": {"type": "array", "items": {"type": "integer"}}
		},
		"required": ["action"]
	}`)
}

func (p *Planner) Meta() Meta {
	return Meta{Parallel: false, Idempotent: false}
}

type plannerParams struct {
	Action string `json:"action"`
	Items  []struct {
		Description        string `json:"description"`
		AcceptanceCriteria string `json:"acceptance_criteria"`
		DependsOn          []int  `json:"depends_on"`
	} `json:"items"`
	Position int                   `json:"position"`
	Status   models.PlanItemStatus `json:"status"`
	Order    []int                 `json:"order"`
}

func (p *Planner) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	state := SessionFrom(ctx)
	if state == nil {
		return Errorf(models.ErrKindInternal, "planner requires a session"), nil
	}

	var in plannerParams
	if err := json.Unmarshal(params, &in); err != nil {
		return Errorf(models.ErrKindParamValidation, "decoding params: %v", err), nil
	}

	switch in.Action {
	case "create":
		return p.create(state, in)
	case "add_item":
		return p.addItems(state, in)
	case "update_status":
		return p.updateStatus(state, in)
	case "reorder":
		return p.reorder(state, in)
	case "get":
		return p.render(state), nil
	default:
		return Errorf(models.ErrKindParamValidation, "unknown action %q", in.Action), nil
	}
}

func (p *Planner) create(state *models.SessionState, in plannerParams) (*models.ToolResult, error) {
	now := time.Now()
	plan := &models.Plan{CreatedAt: now, UpdatedAt: now}
	for i, item := range in.Items {
		plan.Items = append(plan.Items, &models.PlanItem{
			Position:           i + 1,
			Description:        item.Description,
			AcceptanceCriteria: item.AcceptanceCriteria,
			DependsOn:          item.DependsOn,
			Status:             models.PlanItemPending,
		})
	}
	if err := plan.Validate(); err != nil {
		return Errorf(models.ErrKindParamValidation, "invalid plan: %v", err), nil
	}
	state.Plan = plan
	return p.render(state), nil
}

func (p *Planner) addItems(state *models.SessionState, in plannerParams) (*models.ToolResult, error) {
	if state.Plan == nil {
		state.Plan = &models.Plan{CreatedAt: time.Now()}
	}
	next := len(state.Plan.Items) + 1

	// Validate against a candidate before committing so a bad add_item
	// leaves the existing plan untouched.
	candidate := &models.Plan{Items: append([]*models.PlanItem(nil), state.Plan.Items...)}
	for i, item := range in.Items {
		candidate.Items = append(candidate.Items, &models.PlanItem{
			Position:           next + i,
			Description:        item.Description,
			AcceptanceCriteria: item.AcceptanceCriteria,
			DependsOn:          item.DependsOn,
			Status:             models.PlanItemPending,
		})
	}
	if err := candidate.Validate(); err != nil {
		return Errorf(models.ErrKindParamValidation, "invalid plan: %v", err), nil
	}
	candidate.CreatedAt = state.Plan.CreatedAt
	candidate.UpdatedAt = time.Now()
	state.Plan = candidate
	return p.render(state), nil
}

func (p *Planner) updateStatus(state *models.SessionState, in plannerParams) (*models.ToolResult, error) {
	if state.Plan == nil {
		return Errorf(models.ErrKindParamValidation, "no plan exists"), nil
	}
	item, err := state.Plan.Item(in.Position)
	if err != nil {
		return Errorf(models.ErrKindParamValidation, "%v", err), nil
	}
	if in.Status == models.PlanItemInProgress {
		ok, err := state.Plan.CanStart(in.Position)
		if err != nil {
			return Errorf(models.ErrKindParamValidation, "%v", err), nil
		}
		if !ok {
			return Errorf(models.ErrKindParamValidation,
				"item %d has unfinished dependencies", in.Position), nil
		}
	}
	item.Status = in.Status
	state.Plan.UpdatedAt = time.Now()
	return p.render(state), nil
}

func (p *Planner) reorder(state *models.SessionState, in plannerParams) (*models.ToolResult, error) {
	if state.Plan == nil {
		return Errorf(models.ErrKindParamValidation, "no plan exists"), nil
	}
	if len(in.Order) != len(state.Plan.Items) {
		return Errorf(models.ErrKindParamValidation,
			"order lists %d positions, plan has %d items", len(in.Order), len(state.Plan.Items)), nil
	}

	byPos := map[int]*models.PlanItem{}
	for _, item := range state.Plan.Items {
		byPos[item.Position] = item
	}

	reordered := &models.Plan{CreatedAt: state.Plan.CreatedAt, UpdatedAt: time.Now()}
	for newPos, oldPos := range in.Order {
		item, ok := byPos[oldPos]
		if !ok {
			return Errorf(models.ErrKindParamValidation, "unknown position %d in order", oldPos), nil
		}
		moved := *item
		moved.Position = newPos + 1
		moved.DependsOn = remapDeps(item.DependsOn, in.Order)
		reordered.Items = append(reordered.Items, &moved)
	}
	if err := reordered.Validate(); err != nil {
		return Errorf(models.ErrKindParamValidation, "invalid reorder: %v", err), nil
	}
	state.Plan = reordered
	return p.render(state), nil
}

// remapDeps translates dependency positions through the reorder.
func remapDeps(deps []int, order []int) []int {
	if len(deps) == 0 {
		return nil
	}
	newPos := map[int]int{}
	for i, oldPos := range order {
		newPos[oldPos] = i + 1
	}
	out := make([]int, 0, len(deps))
	for _, d := range deps {
		if np, ok := newPos[d]; ok {
			out = append(out, np)
		}
	}
	return out
}

func (p *Planner) render(state *models.SessionState) *models.ToolResult {
	if state.Plan == nil || len(state.Plan.Items) == 0 {
		return &models.ToolResult{Content: "no plan"}
	}
	out, _ := json.Marshal(state.Plan)
	return &models.ToolResult{Content: fmt.Sprintf("plan updated:\n%s", out)}
}
