// Package workflow implements the Workflow Engine: a DAG of typed node
// kinds (START, TASK, CONDITION, LOOP, HUMAN, PARALLEL, JOIN, END) executed
// over a WorkflowState that accumulates history and a free-form data map,
// checkpointing before every node so a run can resume from where it left
// off. Node dispatch is a closed sum type with a single dispatch function
// per spec.md §9's design note, rather than runtime type inspection.
package workflow

import (
	"context"
)

// Kind is the closed set of node variants a Graph may contain.
type Kind string

const (
	KindStart     Kind = "START"
	KindTask      Kind = "TASK"
	KindCondition Kind = "CONDITION"
	KindLoop      Kind = "LOOP"
	KindHuman     Kind = "HUMAN"
	KindParallel  Kind = "PARALLEL"
	KindJoin      Kind = "JOIN"
	KindEnd       Kind = "END"
)

// Status is the terminal disposition of a workflow execution.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// State is the value threaded through the graph: each node receives it by
// value and returns an updated copy, so parallel branches never share
// mutable state until a JOIN merges them.
type State struct {
	History []string
	Data    map[string]any
	Status  Status
}

// Action is the function a TASK node runs. It may invoke an agent (§4.1)
// and must return a new State; the engine appends the node's own
// identifier to History afterward.
type Action func(ctx context.Context, state State) (State, error)

// Predicate is one ordered branch test a CONDITION node evaluates; the
// first one whose Test returns true selects Next.
type Predicate struct {
	Test func(state State) bool
	Next string
}

// LoopPredicate decides whether a LOOP node runs another iteration of its
// body, given the state after the previous iteration and the 0-based
// iteration number about to run.
type LoopPredicate func(state State, iteration int) bool

// PayloadFunc derives the payload a HUMAN node's ApprovalRequest carries
// from the current state.
type PayloadFunc func(state State) map[string]any

// MergeFunc merges every parallel branch's final State at a JOIN. If set
// on a Node, it fully determines the merged Data map and the default
// right-biased overlay never runs (spec.md §9 Open Question: the two
// policies are never both applied to the same JOIN).
type MergeFunc func(branches []State) map[string]any

// Node is one vertex in a Graph. Only the fields relevant to Kind are
// meaningful for a given node; Graph.Validate checks each node carries
// what its Kind requires.
type Node struct {
	ID   string
	Kind Kind

	// START, TASK, JOIN: single successor.
	Next string

	// TASK.
	Action Action

	// CONDITION: evaluated in order; Default is taken if none match.
	Predicates []Predicate
	Default    string

	// LOOP: Body is the entry node of the loop body; the body's own final
	// node must name this LOOP node as its successor, closing the
	// back-edge. Exit is taken once Predicate returns false or
	// MaxIterations is reached.
	Body          string
	LoopPredicate LoopPredicate
	MaxIterations int
	Exit          string

	// HUMAN: suspends via the approval Gate.
	Timeout     int // seconds; 0 means "decide immediately" (instant reject)
	OnApprove   string
	OnReject    string
	PayloadFunc PayloadFunc

	// PARALLEL: Branches are the entry node ids of each concurrent
	// sub-sequence. Join names the matching JOIN node explicitly; if
	// empty, the engine detects it as the first JOIN-kind node common to
	// every branch's reachable set.
	Branches []string
	Join     string

	// JOIN: Merge overrides the default right-biased overlay.
	Merge MergeFunc
}
