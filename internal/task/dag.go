package task

import "sort"

// color markers for the recursive tri-color cycle check.
type color int

const (
	white color = iota
	gray
	black
)

// BuildGraph computes the forward adjacency (dependency -> dependents),
// in-degree (number of unresolved dependencies per task), and reverse
// adjacency (task -> its dependencies) for a plan.
func BuildGraph(p *Plan) (adjacency map[string][]string, inDegree map[string]int, reverseAdj map[string][]string) {
	tasks := p.Tasks()
	adjacency = make(map[string][]string, len(tasks))
	inDegree = make(map[string]int, len(tasks))
	reverseAdj = make(map[string][]string, len(tasks))

	for _, t := range tasks {
		if _, ok := inDegree[t.ID]; !ok {
			inDegree[t.ID] = 0
		}
		reverseAdj[t.ID] = append(reverseAdj[t.ID], t.DependsOn...)
		for _, dep := range t.DependsOn {
			adjacency[dep] = append(adjacency[dep], t.ID)
			inDegree[t.ID]++
		}
	}
	return adjacency, inDegree, reverseAdj
}

// ValidateAcyclic performs a recursive depth-first traversal with a
// white/gray/black marker. Encountering a gray node along the current path
// reports a CycleError naming that path.
func ValidateAcyclic(p *Plan) error {
	colors := make(map[string]color, p.Len())
	for _, t := range p.Tasks() {
		if colors[t.ID] == white {
			if err := visit(p, t.ID, colors, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func visit(p *Plan, id string, colors map[string]color, path []string) error {
	colors[id] = gray
	path = append(path, id)

	t, _ := p.Task(id)
	for _, dep := range t.DependsOn {
		switch colors[dep] {
		case white:
			if err := visit(p, dep, colors, path); err != nil {
				return err
			}
		case gray:
			cycle := append(append([]string{}, path...), dep)
			return &CycleError{Path: cycle}
		case black:
			// already fully explored, no cycle through here
		}
	}

	colors[id] = black
	return nil
}

// TopologicalBatches runs Kahn's algorithm: repeatedly collect all
// zero-in-degree nodes into a batch, emit the batch, decrement the
// in-degree of their successors, and stop when the graph is empty.
//
// Within a batch, order is unspecified by the algorithm; this
// implementation sorts each batch by priority then identifier so that
// batches are deterministic for tests.
func TopologicalBatches(p *Plan) ([][]string, error) {
	adjacency, inDegree, _ := BuildGraph(p)
	remaining := len(inDegree)

	var batches [][]string
	for remaining > 0 {
		var batch []string
		for id, deg := range inDegree {
			if deg == 0 {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			return nil, &CycleError{Path: remainingIDs(inDegree)}
		}

		sortBatch(p, batch)

		for _, id := range batch {
			delete(inDegree, id)
			remaining--
			for _, succ := range adjacency[id] {
				if _, ok := inDegree[succ]; ok {
					inDegree[succ]--
				}
			}
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func sortBatch(p *Plan, batch []string) {
	sort.Slice(batch, func(i, j int) bool {
		ti, _ := p.Task(batch[i])
		tj, _ := p.Task(batch[j])
		if ti.Priority != tj.Priority {
			return ti.Priority < tj.Priority
		}
		return batch[i] < batch[j]
	})
}

func remainingIDs(inDegree map[string]int) []string {
	out := make([]string, 0, len(inDegree))
	for id := range inDegree {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
