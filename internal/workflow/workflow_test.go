package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"taskforge/internal/approval"
	"taskforge/internal/checkpoint"
	"taskforge/internal/events"
)

func appendTask(id, next string) *Node {
	return &Node{
		ID:   id,
		Kind: KindTask,
		Next: next,
		Action: func(_ context.Context, s State) (State, error) {
			if s.Data == nil {
				s.Data = map[string]any{}
			}
			return s, nil
		},
	}
}

// Scenario B: start -> fan-out {p1, p2, p3} -> join -> end. The join sees
// an in-degree equal to the branch count and merges each branch's data.
func TestExecute_ScenarioB_FanOutAndJoin(t *testing.T) {
	g := NewGraph("fanout")
	g.Start = "start"
	require.NoError(t, g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "split"}))
	require.NoError(t, g.AddNode(&Node{
		ID: "split", Kind: KindParallel,
		Branches: []string{"p1", "p2", "p3"},
	}))
	for i, id := range []string{"p1", "p2", "p3"} {
		key := fmt.Sprintf("k%d", i)
		idx := i
		require.NoError(t, g.AddNode(&Node{
			ID: id, Kind: KindTask, Next: "join",
			Action: func(_ context.Context, s State) (State, error) {
				if s.Data == nil {
					s.Data = map[string]any{}
				}
				s.Data[key] = idx
				return s, nil
			},
		}))
	}
	require.NoError(t, g.AddNode(&Node{ID: "join", Kind: KindJoin, Next: "end"}))
	require.NoError(t, g.AddNode(&Node{ID: "end", Kind: KindEnd}))
	require.NoError(t, g.Validate())

	eng := New(checkpoint.NewFileManager(t.TempDir()), nil, nil)
	result, err := eng.Execute(context.Background(), g, State{}, "exec-b")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, 0, result.Data["k0"])
	require.Equal(t, 1, result.Data["k1"])
	require.Equal(t, 2, result.Data["k2"])
	require.Contains(t, result.History, "join")
	require.Contains(t, result.History, "end")
	require.Equal(t, "end", result.History[len(result.History)-1])
}

// Scenario F: start -> A -> H -> {approve: B, reject: C} -> end.
func scenarioFGraph() *Graph {
	g := NewGraph("scenario-f")
	g.Start = "start"
	_ = g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "A"})
	_ = g.AddNode(appendTask("A", "H"))
	_ = g.AddNode(&Node{
		ID: "H", Kind: KindHuman,
		Timeout: 5, OnApprove: "B", OnReject: "C",
	})
	_ = g.AddNode(appendTask("B", "end"))
	_ = g.AddNode(appendTask("C", "end"))
	_ = g.AddNode(&Node{ID: "end", Kind: KindEnd})
	return g
}

func TestExecute_ScenarioF_ApprovePath(t *testing.T) {
	g := scenarioFGraph()
	require.NoError(t, g.Validate())

	bus := events.NewBus()
	gate := approval.NewGate(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go approval.Pump(ctx, gate, bus, approval.NewNoOpDecider())

	eng := New(checkpoint.NewFileManager(t.TempDir()), gate, bus)
	result, err := eng.Execute(context.Background(), g, State{}, "exec-f-approve")
	require.NoError(t, err)
	require.Equal(t, []string{"start", "A", "H", "B", "end"}, result.History)
	_, hasReason := result.Data["human:H"]
	require.False(t, hasReason)
}

type rejectDecider struct{}

func (rejectDecider) Decide(_ context.Context, req approval.Request) approval.DecisionMsg {
	return approval.DecisionMsg{RequestID: req.ID, Decision: approval.DecisionReject, Reason: "not today"}
}

func TestExecute_ScenarioF_RejectPath(t *testing.T) {
	g := scenarioFGraph()
	require.NoError(t, g.Validate())

	bus := events.NewBus()
	gate := approval.NewGate(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go approval.Pump(ctx, gate, bus, rejectDecider{})

	eng := New(checkpoint.NewFileManager(t.TempDir()), gate, bus)
	result, err := eng.Execute(context.Background(), g, State{}, "exec-f-reject")
	require.NoError(t, err)
	require.Equal(t, []string{"start", "A", "H", "C", "end"}, result.History)
	reason, ok := result.Data["human:H"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "not today", reason["reason"])
}

// Property 14: LOOP with MaxIterations == 0 never enters the body.
func TestExecute_LoopWithZeroMaxIterationsSkipsBody(t *testing.T) {
	g := NewGraph("loop-zero")
	g.Start = "start"
	require.NoError(t, g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "loop"}))
	require.NoError(t, g.AddNode(&Node{
		ID: "loop", Kind: KindLoop,
		Body: "body", Exit: "end",
		MaxIterations: 0,
		LoopPredicate: func(State, int) bool { return true },
	}))
	require.NoError(t, g.AddNode(appendTask("body", "loop")))
	require.NoError(t, g.AddNode(&Node{ID: "end", Kind: KindEnd}))
	require.NoError(t, g.Validate())

	eng := New(checkpoint.NewFileManager(t.TempDir()), nil, nil)
	result, err := eng.Execute(context.Background(), g, State{}, "exec-loop-zero")
	require.NoError(t, err)
	require.NotContains(t, result.History, "body")
	require.Equal(t, []string{"start", "loop", "end"}, result.History)
}

func TestExecute_LoopRunsUntilPredicateFalse(t *testing.T) {
	g := NewGraph("loop-count")
	g.Start = "start"
	require.NoError(t, g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "loop"}))
	require.NoError(t, g.AddNode(&Node{
		ID: "loop", Kind: KindLoop,
		Body: "body", Exit: "end",
		MaxIterations: 5,
		LoopPredicate: func(s State, iteration int) bool {
			n, _ := s.Data["count"].(int)
			return n < 3
		},
	}))
	require.NoError(t, g.AddNode(&Node{
		ID: "body", Kind: KindTask, Next: "loop",
		Action: func(_ context.Context, s State) (State, error) {
			if s.Data == nil {
				s.Data = map[string]any{}
			}
			n, _ := s.Data["count"].(int)
			s.Data["count"] = n + 1
			return s, nil
		},
	}))
	require.NoError(t, g.AddNode(&Node{ID: "end", Kind: KindEnd}))
	require.NoError(t, g.Validate())

	eng := New(checkpoint.NewFileManager(t.TempDir()), nil, nil)
	result, err := eng.Execute(context.Background(), g, State{}, "exec-loop-count")
	require.NoError(t, err)
	require.Equal(t, 3, result.Data["count"])
}

// Property 9: re-running the same deterministic graph from the same
// initial state yields identical history.
func TestExecute_DeterministicReRunYieldsIdenticalHistory(t *testing.T) {
	build := func() *Graph {
		g := NewGraph("det")
		g.Start = "start"
		_ = g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "a"})
		_ = g.AddNode(appendTask("a", "cond"))
		_ = g.AddNode(&Node{
			ID: "cond", Kind: KindCondition,
			Predicates: []Predicate{{Test: func(State) bool { return false }, Next: "never"}},
			Default:    "b",
		})
		_ = g.AddNode(appendTask("b", "end"))
		_ = g.AddNode(&Node{ID: "end", Kind: KindEnd})
		return g
	}

	eng := New(checkpoint.NewFileManager(t.TempDir()), nil, nil)
	r1, err := eng.Execute(context.Background(), build(), State{}, "exec-det-1")
	require.NoError(t, err)
	r2, err := eng.Execute(context.Background(), build(), State{}, "exec-det-2")
	require.NoError(t, err)
	require.Equal(t, r1.History, r2.History)
}

// Property 13 analogue: after a fan-out of N siblings, the final checkpoint
// is COMPLETED and records every branch node alongside the trunk nodes.
func TestExecute_ChecksPointsPerNodeIncludingBranches(t *testing.T) {
	g := NewGraph("fanout-checkpoint")
	g.Start = "start"
	require.NoError(t, g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "split"}))
	require.NoError(t, g.AddNode(&Node{ID: "split", Kind: KindParallel, Branches: []string{"p1", "p2"}}))
	require.NoError(t, g.AddNode(appendTask("p1", "join")))
	require.NoError(t, g.AddNode(appendTask("p2", "join")))
	require.NoError(t, g.AddNode(&Node{ID: "join", Kind: KindJoin, Next: "end"}))
	require.NoError(t, g.AddNode(&Node{ID: "end", Kind: KindEnd}))
	require.NoError(t, g.Validate())

	cps := checkpoint.NewFileManager(t.TempDir())
	eng := New(cps, nil, nil)
	_, err := eng.Execute(context.Background(), g, State{}, "exec-checkpoint-fanout")
	require.NoError(t, err)

	cp, err := cps.Load("exec-checkpoint-fanout")
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusCompleted, cp.Status)
	require.ElementsMatch(t, []string{"start", "split", "p1", "p2", "join", "end"}, cp.Completed)
}

func TestExecute_FailedTaskWritesFailedCheckpointWithCurrentNode(t *testing.T) {
	g := NewGraph("fail")
	g.Start = "start"
	require.NoError(t, g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "boom"}))
	require.NoError(t, g.AddNode(&Node{
		ID: "boom", Kind: KindTask, Next: "end",
		Action: func(_ context.Context, s State) (State, error) {
			return s, fmt.Errorf("explosion")
		},
	}))
	require.NoError(t, g.AddNode(&Node{ID: "end", Kind: KindEnd}))
	require.NoError(t, g.Validate())

	cps := checkpoint.NewFileManager(t.TempDir())
	eng := New(cps, nil, nil)
	_, err := eng.Execute(context.Background(), g, State{}, "exec-fail")
	require.Error(t, err)

	cp, loadErr := cps.Load("exec-fail")
	require.NoError(t, loadErr)
	require.Equal(t, checkpoint.StatusFailed, cp.Status)
	require.Equal(t, "boom", cp.CurrentNode)
	require.Contains(t, cp.Error, "explosion")
}

func TestResume_RetriesFailedNodeAndForgivesError(t *testing.T) {
	attempts := 0
	g := NewGraph("resume")
	g.Start = "start"
	require.NoError(t, g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "flaky"}))
	require.NoError(t, g.AddNode(&Node{
		ID: "flaky", Kind: KindTask, Next: "end",
		Action: func(_ context.Context, s State) (State, error) {
			attempts++
			if attempts < 2 {
				return s, fmt.Errorf("transient")
			}
			return s, nil
		},
	}))
	require.NoError(t, g.AddNode(&Node{ID: "end", Kind: KindEnd}))
	require.NoError(t, g.Validate())

	cps := checkpoint.NewFileManager(t.TempDir())
	eng := New(cps, nil, nil)

	_, err := eng.Execute(context.Background(), g, State{}, "exec-resumable")
	require.Error(t, err)

	result, err := eng.Resume(context.Background(), g, "exec-resumable")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, 2, attempts)

	cp, loadErr := cps.Load("exec-resumable")
	require.NoError(t, loadErr)
	require.Equal(t, checkpoint.StatusCompleted, cp.Status)
}

func TestMergeBranches_MergeFuncOverridesDefaultOverlay(t *testing.T) {
	node := &Node{
		ID: "join", Kind: KindJoin,
		Merge: func(branches []State) map[string]any {
			return map[string]any{"custom": len(branches)}
		},
	}
	eng := New(nil, nil, nil)
	merged := eng.mergeBranches(node, []State{
		{Data: map[string]any{"a": 1}},
		{Data: map[string]any{"a": 2}},
	})
	require.Equal(t, map[string]any{"custom": 2}, merged.Data)
}

func TestMergeBranches_DefaultRightBiasedOverlay(t *testing.T) {
	node := &Node{ID: "join", Kind: KindJoin}
	eng := New(nil, nil, nil)
	merged := eng.mergeBranches(node, []State{
		{Data: map[string]any{"a": 1, "shared": "first"}, History: []string{"b1"}},
		{Data: map[string]any{"a": 2, "shared": "second"}, History: []string{"b2"}},
	})
	require.Equal(t, 2, merged.Data["a"])
	require.Equal(t, "second", merged.Data["shared"])
	require.Equal(t, []string{"b1", "b2"}, merged.History)
}

func TestGraph_ValidateRejectsDanglingEdge(t *testing.T) {
	g := NewGraph("bad")
	g.Start = "start"
	require.NoError(t, g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "ghost"}))
	require.Error(t, g.Validate())
}

func TestGraph_ValidateRejectsParallelWithoutJoin(t *testing.T) {
	g := NewGraph("bad-parallel")
	g.Start = "start"
	require.NoError(t, g.AddNode(&Node{ID: "start", Kind: KindStart, Next: "split"}))
	require.NoError(t, g.AddNode(&Node{ID: "split", Kind: KindParallel}))
	require.Error(t, g.Validate())
}
