package task

import "fmt"

// Plan is a finite set of tasks plus their derived dependency relation.
// A Plan is immutable once handed to the scheduler.
type Plan struct {
	tasks map[string]Task
	order []string // insertion order, the order Tasks returns
}

// NewPlan validates tasks and returns an immutable Plan.
//
// Invariants enforced: every task ID is unique, every DependsOn entry
// resolves to a declared task in the same plan, and the dependency relation
// is acyclic.
func NewPlan(tasks []Task) (*Plan, error) {
	p := &Plan{tasks: make(map[string]Task, len(tasks))}
	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task: empty task id")
		}
		if _, exists := p.tasks[t.ID]; exists {
			return nil, fmt.Errorf("task: duplicate task id %q", t.ID)
		}
		p.tasks[t.ID] = t
		p.order = append(p.order, t.ID)
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := p.tasks[dep]; !ok {
				return nil, fmt.Errorf("task: %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	if err := ValidateAcyclic(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Task returns the task with the given ID and whether it was found.
func (p *Plan) Task(id string) (Task, bool) {
	t, ok := p.tasks[id]
	return t, ok
}

// Tasks returns all tasks in the plan in insertion order.
func (p *Plan) Tasks() []Task {
	out := make([]Task, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.tasks[id])
	}
	return out
}

// Len returns the number of tasks in the plan.
func (p *Plan) Len() int {
	return len(p.tasks)
}

// CycleError reports a dependency cycle found while validating a plan.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("task: dependency cycle detected: %v", e.Path)
}
