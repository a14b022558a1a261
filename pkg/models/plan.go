package models

import (
	"errors"
	"fmt"
	"time"
)

// PlanItemStatus represents the state of a single plan item.
type PlanItemStatus string

const (
	PlanItemPending    PlanItemStatus = "pending"
	PlanItemInProgress PlanItemStatus = "in_progress"
	PlanItemCompleted  PlanItemStatus = "completed"
	PlanItemFailed     PlanItemStatus = "failed"
	PlanItemSkipped    PlanItemStatus = "skipped"
)

// Finished reports whether the status is terminal for dependency purposes.
func (s PlanItemStatus) Finished() bool {
	switch s {
	case PlanItemCompleted, PlanItemFailed, PlanItemSkipped:
		return true
	default:
		return false
	}
}

// Satisfied reports whether a dependency in this status unblocks dependents.
// Completed and skipped items satisfy dependencies; failed items do not.
func (s PlanItemStatus) Satisfied() bool {
	return s == PlanItemCompleted || s == PlanItemSkipped
}

// PlanItem is one entry in a session-scoped plan.
type PlanItem struct {
	// Position is the 1-based position within the plan. Dependencies
	// reference positions of prior items.
	Position int `json:"position"`

	Description        string `json:"description"`
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`

	// DependsOn lists positions of items that must be completed or
	// skipped before this item may start.
	DependsOn []int `json:"depends_on,omitempty"`

	Status PlanItemStatus `json:"status"`

	// Tool optionally names the tool chosen for this item.
	Tool string `json:"tool,omitempty"`

	// Result holds an execution result snapshot once the item finishes.
	Result string `json:"result,omitempty"`
}

// Plan is a session-scoped ordered list of items with an acyclic
// dependency graph.
type Plan struct {
	Items     []*PlanItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Plan validation errors.
var (
	ErrPlanCycle        = errors.New("plan dependency graph contains a cycle")
	ErrPlanItemNotFound = errors.New("plan item not found")
	ErrDependencyGate   = errors.New("item has unfinished dependencies")
)

// Item returns the item at the given position.
func (p *Plan) Item(position int) (*PlanItem, error) {
	for _, it := range p.Items {
		if it.Position == position {
			return it, nil
		}
	}
	return nil, fmt.Errorf("%w: position %d", ErrPlanItemNotFound, position)
}

// Validate checks positional uniqueness, dependency references, and
// acyclicity of the dependency graph.
func (p *Plan) Validate() error {
	seen := make(map[int]*PlanItem, len(p.Items))
	for _, it := range p.Items {
		if _, dup := seen[it.Position]; dup {
			return fmt.Errorf("duplicate plan position %d", it.Position)
		}
		seen[it.Position] = it
	}
	for _, it := range p.Items {
		for _, dep := range it.DependsOn {
			if dep == it.Position {
				return fmt.Errorf("%w: item %d depends on itself", ErrPlanCycle, it.Position)
			}
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("item %d depends on unknown position %d", it.Position, dep)
			}
		}
	}
	return p.checkAcyclic(seen)
}

// checkAcyclic runs a depth-first search over the dependency edges.
func (p *Plan) checkAcyclic(items map[int]*PlanItem) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(items))

	var visit func(pos int) error
	visit = func(pos int) error {
		switch color[pos] {
		case gray:
			return fmt.Errorf("%w: via item %d", ErrPlanCycle, pos)
		case black:
			return nil
		}
		color[pos] = gray
		for _, dep := range items[pos].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[pos] = black
		return nil
	}

	for pos := range items {
		if err := visit(pos); err != nil {
			return err
		}
	}
	return nil
}

// CanStart reports whether every dependency of the item at position is
// completed or skipped.
func (p *Plan) CanStart(position int) (bool, error) {
	it, err := p.Item(position)
	if err != nil {
		return false, err
	}
	for _, dep := range it.DependsOn {
		depItem, err := p.Item(dep)
		if err != nil {
			return false, err
		}
		if !depItem.Status.Satisfied() {
			return false, nil
		}
	}
	return true, nil
}

// NextActionable returns the first pending item whose dependencies are
// all satisfied, or nil if no item is actionable.
func (p *Plan) NextActionable() *PlanItem {
	for _, it := range p.Items {
		if it.Status != PlanItemPending {
			continue
		}
		ok, err := p.CanStart(it.Position)
		if err == nil && ok {
			return it
		}
	}
	return nil
}

// Finished reports whether every item is completed, failed, or skipped.
func (p *Plan) Finished() bool {
	if len(p.Items) == 0 {
		return false
	}
	for _, it := range p.Items {
		if !it.Status.Finished() {
			return false
		}
	}
	return true
}

// InProgress returns the item currently marked in_progress, if any.
func (p *Plan) InProgress() *PlanItem {
	for _, it := range p.Items {
		if it.Status == PlanItemInProgress {
			return it
		}
	}
	return nil
}
