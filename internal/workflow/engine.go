package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"taskforge/internal/approval"
	"taskforge/internal/checkpoint"
	"taskforge/internal/events"
	"taskforge/internal/logging"
)

// Engine executes a Graph over a State, checkpointing before every node
// dispatch and suspending HUMAN nodes on an approval.Gate.
type Engine struct {
	checkpoints checkpoint.Manager
	gate        *approval.Gate
	bus         *events.Bus
	logger      *logging.Logger
}

// New returns an Engine. gate may be nil if the graph contains no HUMAN
// nodes; bus may be nil to run without event publication.
func New(checkpoints checkpoint.Manager, gate *approval.Gate, bus *events.Bus) *Engine {
	return &Engine{
		checkpoints: checkpoints,
		gate:        gate,
		bus:         bus,
		logger:      logging.NewComponentLogger("workflow-engine"),
	}
}

// Execute runs graph from its Start node with the given initial state until
// it reaches an END node or a node's Action fails.
func (e *Engine) Execute(ctx context.Context, graph *Graph, initial State, executionID string) (State, error) {
	if err := graph.Validate(); err != nil {
		return initial, err
	}
	initial.Status = StatusRunning
	state, _, err := e.runFrom(ctx, graph, graph.Start, initial, executionID, "")
	return state, err
}

// Resume reloads executionID's checkpoint and retries from its CurrentNode.
// Loading a FAILED checkpoint forgives the recorded error and keeps the
// completed history, per spec.md §7's resume policy: this is the only place
// failure state is forgiven.
func (e *Engine) Resume(ctx context.Context, graph *Graph, executionID string) (State, error) {
	if err := graph.Validate(); err != nil {
		return State{}, err
	}
	cp, err := e.checkpoints.Load(executionID)
	if err != nil {
		return State{}, fmt.Errorf("workflow: resume %s: %w", executionID, err)
	}

	state := State{
		History: append([]string(nil), cp.Completed...),
		Data:    cloneData(dataFromCheckpoint(cp)),
		Status:  StatusRunning,
	}
	current := cp.CurrentNode
	if current == "" {
		current = graph.Start
	}

	result, _, err := e.runFrom(ctx, graph, current, state, executionID, "")
	return result, err
}

func dataFromCheckpoint(cp checkpoint.Checkpoint) map[string]any {
	if d, ok := cp.Data["state_data"].(map[string]any); ok {
		return d
	}
	return map[string]any{}
}

// runFrom is the single stepper every execution path uses: the top-level
// Execute/Resume, a LOOP node's body, and each PARALLEL branch. It writes a
// RUNNING checkpoint before every dispatch and returns once it reaches an
// END node or stopAt (used by LOOP bodies and PARALLEL branches to halt at
// their own boundary rather than recursing past it).
func (e *Engine) runFrom(ctx context.Context, graph *Graph, start string, state State, executionID, stopAt string) (State, string, error) {
	current := start
	for {
		if ctx.Err() != nil {
			return state, current, ctx.Err()
		}
		if current == stopAt && stopAt != "" {
			return state, current, nil
		}
		node, ok := graph.Nodes[current]
		if !ok {
			return state, current, fmt.Errorf("workflow: node %q not found in graph %q", current, graph.ID)
		}

		e.writeCheckpoint(graph, executionID, checkpoint.StatusRunning, current, state)

		next, err := e.dispatch(ctx, graph, node, &state, executionID)
		if err != nil {
			state.Status = StatusFailed
			e.writeCheckpointWithError(graph, executionID, current, state, err)
			return state, current, err
		}
		// A PARALLEL node returns no successor when one of its branches ran
		// through an END node, which ends the execution just as END does.
		if node.Kind == KindEnd || (node.Kind == KindParallel && next == "") {
			state.Status = StatusCompleted
			if stopAt == "" {
				e.writeCheckpoint(graph, executionID, checkpoint.StatusCompleted, current, state)
			}
			return state, current, nil
		}
		current = next
	}
}

// dispatch runs one node's kind-specific behavior and returns the id of the
// next node to execute. This is the closed sum type's single dispatch
// function; no runtime type inspection is used.
func (e *Engine) dispatch(ctx context.Context, graph *Graph, node *Node, state *State, executionID string) (string, error) {
	switch node.Kind {
	case KindStart:
		state.History = append(state.History, node.ID)
		return node.Next, nil

	case KindTask:
		newState, err := node.Action(ctx, *state)
		if err != nil {
			return "", fmt.Errorf("workflow: task %q: %w", node.ID, err)
		}
		newState.History = append(newState.History, node.ID)
		*state = newState
		return node.Next, nil

	case KindCondition:
		state.History = append(state.History, node.ID)
		for _, p := range node.Predicates {
			if p.Test(*state) {
				return p.Next, nil
			}
		}
		return node.Default, nil

	case KindLoop:
		return e.runLoop(ctx, graph, node, state, executionID)

	case KindHuman:
		return e.runHuman(ctx, node, state, executionID)

	case KindParallel:
		return e.runParallel(ctx, graph, node, state, executionID)

	case KindJoin:
		state.History = append(state.History, node.ID)
		return node.Next, nil

	case KindEnd:
		state.History = append(state.History, node.ID)
		return "", nil

	default:
		return "", fmt.Errorf("workflow: node %q has unknown kind %q", node.ID, node.Kind)
	}
}

// runLoop repeats node.Body until LoopPredicate returns false or
// MaxIterations is reached. MaxIterations == 0 never enters the body.
func (e *Engine) runLoop(ctx context.Context, graph *Graph, node *Node, state *State, executionID string) (string, error) {
	state.History = append(state.History, node.ID)
	for iteration := 0; iteration < node.MaxIterations; iteration++ {
		if node.LoopPredicate != nil && !node.LoopPredicate(*state, iteration) {
			break
		}
		newState, _, err := e.runFrom(ctx, graph, node.Body, *state, executionID, node.ID)
		if err != nil {
			return "", err
		}
		*state = newState
	}
	return node.Exit, nil
}

// runHuman requests a decision from the gate and routes state according to
// spec.md §4.9 and Scenario F: approve takes OnApprove unchanged,
// edit-and-approve overlays the decision payload onto state.Data before
// taking OnApprove, and anything else (reject, or no gate configured)
// records the reason under "human:<nodeId>" and takes OnReject.
func (e *Engine) runHuman(ctx context.Context, node *Node, state *State, executionID string) (string, error) {
	state.History = append(state.History, node.ID)

	if e.gate == nil {
		if state.Data == nil {
			state.Data = map[string]any{}
		}
		state.Data["human:"+node.ID] = map[string]any{"reason": "no approval gate configured"}
		return node.OnReject, nil
	}

	var payload map[string]any
	if node.PayloadFunc != nil {
		payload = node.PayloadFunc(*state)
	}

	decision := e.gate.Request(ctx, approval.Request{
		ID:          executionID + ":" + node.ID,
		ExecutionID: executionID,
		NodeID:      node.ID,
		Payload:     payload,
		Timeout:     time.Duration(node.Timeout) * time.Second,
		RequestedAt: time.Now(),
	})

	if state.Data == nil {
		state.Data = map[string]any{}
	}

	switch decision.Decision {
	case approval.DecisionApprove:
		return node.OnApprove, nil
	case approval.DecisionEditApprove:
		for k, v := range decision.Payload {
			state.Data[k] = v
		}
		return node.OnApprove, nil
	default:
		state.Data["human:"+node.ID] = map[string]any{"reason": decision.Reason}
		return node.OnReject, nil
	}
}

// runParallel runs every branch from its own cloned State concurrently,
// then merges at the JOIN. A branch that reaches END directly bypasses the
// join — its State becomes the execution's final state and other branches
// are not waited on further than errgroup already requires.
func (e *Engine) runParallel(ctx context.Context, graph *Graph, node *Node, state *State, executionID string) (string, error) {
	join, err := graph.detectJoin(node)
	if err != nil {
		return "", err
	}

	trunk := append([]string(nil), state.History...)
	trunk = append(trunk, node.ID)
	branchBase := State{Data: cloneData(state.Data), Status: state.Status}

	// Branches run from a shared base but with their own empty History so
	// the trunk's nodes are never duplicated once branch trails are
	// concatenated back onto it below. Index order stands in for
	// completion order: real goroutine finish order is not tracked, which
	// keeps the merge deterministic across re-runs (testable property 9)
	// rather than reintroducing the nondeterminism a true race would add.
	branchStates := make([]State, len(node.Branches))
	endedEarly := make([]bool, len(node.Branches))

	g, gctx := errgroup.WithContext(ctx)
	for i, branchStart := range node.Branches {
		i, branchStart := i, branchStart
		g.Go(func() error {
			branchState := cloneState(branchBase)
			result, haltedAt, err := e.runFrom(gctx, graph, branchStart, branchState, executionID, join)
			if err != nil {
				return fmt.Errorf("workflow: parallel branch %q: %w", branchStart, err)
			}
			branchStates[i] = result
			endedEarly[i] = haltedAt != join
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	for i, early := range endedEarly {
		if early {
			final := branchStates[i]
			final.History = append(trunk, final.History...)
			*state = final
			return "", nil
		}
	}

	merged := e.mergeBranches(node, branchStates)
	merged.History = append(trunk, merged.History...)
	merged.History = append(merged.History, join)
	*state = merged
	return graph.Nodes[join].Next, nil
}

// mergeBranches combines every branch's final State into one: node.Merge
// fully overrides the default policy when set; otherwise Data is overlaid
// key-wise in branch order with later branches winning, and History gets
// each branch's own trail appended in that same order.
func (e *Engine) mergeBranches(node *Node, branches []State) State {
	merged := State{Data: map[string]any{}, Status: StatusRunning}

	if node.Merge != nil {
		merged.Data = node.Merge(branches)
	} else {
		for _, b := range branches {
			for k, v := range b.Data {
				merged.Data[k] = v
			}
		}
	}
	for _, b := range branches {
		merged.History = append(merged.History, b.History...)
	}
	return merged
}

func cloneState(s State) State {
	return State{
		History: append([]string(nil), s.History...),
		Data:    cloneData(s.Data),
		Status:  s.Status,
	}
}

func cloneData(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (e *Engine) writeCheckpoint(graph *Graph, executionID string, status checkpoint.Status, current string, state State) {
	if e.checkpoints == nil {
		return
	}
	completed := map[string]bool{}
	for _, id := range state.History {
		completed[id] = true
	}
	cp := checkpoint.Checkpoint{
		WorkflowID:  graph.ID,
		GraphID:     graph.ID,
		ExecutionID: executionID,
		Status:      status,
		CurrentNode: current,
		Completed:   append([]string(nil), state.History...),
		Pending:     graph.reachableFrom(current, completed),
		Data:        map[string]any{"state_data": cloneData(state.Data)},
		Timestamp:   time.Now(),
	}
	if _, err := e.checkpoints.Save(cp); err != nil {
		e.logger.Warn("failed to write checkpoint for %s at %s: %v", executionID, current, err)
		return
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Kind:        events.KindCheckpointWritten,
			Timestamp:   cp.Timestamp,
			ExecutionID: executionID,
			Payload:     cp,
		})
	}
}

func (e *Engine) writeCheckpointWithError(graph *Graph, executionID, current string, state State, err error) {
	if e.checkpoints == nil {
		return
	}
	completed := map[string]bool{}
	for _, id := range state.History {
		completed[id] = true
	}
	cp := checkpoint.Checkpoint{
		WorkflowID:  graph.ID,
		GraphID:     graph.ID,
		ExecutionID: executionID,
		Status:      checkpoint.StatusFailed,
		CurrentNode: current,
		Completed:   append([]string(nil), state.History...),
		Pending:     graph.reachableFrom(current, completed),
		Data:        map[string]any{"state_data": cloneData(state.Data)},
		Error:       err.Error(),
		Timestamp:   time.Now(),
	}
	if _, saveErr := e.checkpoints.Save(cp); saveErr != nil {
		e.logger.Warn("failed to write failure checkpoint for %s at %s: %v", executionID, current, saveErr)
	}
}
