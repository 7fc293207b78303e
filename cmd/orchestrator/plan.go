package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"taskforge/internal/decompose"
	"taskforge/internal/task"
)

// planItem mirrors the decomposition JSON schema from spec.md §6. A plan
// file supplied to `run`/`resume` uses the same shape as the LLM-produced
// plan internal/decompose parses, plus two fields (agent, timeout_secs)
// that only make sense for a hand-authored plan, since a decomposition
// call never has a reason to pin either.
type planItem struct {
	TaskID      string   `json:"task_id"`
	Prompt      string   `json:"prompt"`
	DependsOn   []string `json:"depends_on"`
	Priority    int      `json:"priority"`
	Type        string   `json:"type"`
	Agent       string   `json:"agent,omitempty"`
	TimeoutSecs int      `json:"timeout_secs,omitempty"`
}

// loadPlanFile parses path as a JSON array of planItems and builds a
// task.Plan, relying on task.NewPlan for the acyclic/unique-id/resolvable
// invariants spec.md §8 Scenario C tests against.
func loadPlanFile(path string) (*task.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reading plan file: %w", err)
	}

	var items []planItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("orchestrator: parsing plan JSON: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("orchestrator: plan file %q contains no tasks", path)
	}

	tasks := make([]task.Task, 0, len(items))
	for _, item := range items {
		if item.TaskID == "" || item.Prompt == "" {
			return nil, fmt.Errorf("orchestrator: task missing task_id or prompt in %q", path)
		}
		typ := task.Type(item.Type)
		if !typ.Valid() {
			typ = task.TypeGeneral
		}
		priority := item.Priority
		if priority < 1 {
			priority = 1
		}
		var timeout time.Duration
		if item.TimeoutSecs > 0 {
			timeout = time.Duration(item.TimeoutSecs) * time.Second
		}
		tasks = append(tasks, task.Task{
			ID:        item.TaskID,
			Prompt:    item.Prompt,
			Type:      typ,
			DependsOn: item.DependsOn,
			Agent:     item.Agent,
			Priority:  priority,
			Timeout:   timeout,
		})
	}

	return task.NewPlan(tasks)
}

// resolvePlan implements spec.md §6's `run <plan.json|userText>` dispatch:
// a path ending in .json that exists on disk is loaded as a hand-authored
// plan; anything else is handed to the Meta-Decomposer, which always
// returns a usable plan (falling back to a single-task identity plan on
// any decomposition failure, per spec.md §4.4).
func (cli *CLI) resolvePlan(ctx context.Context, input string) (*task.Plan, error) {
	if looksLikePlanFile(input) {
		return loadPlanFile(input)
	}

	agentName := cli.decomposerAgent()
	d := decompose.New(cli.invoker, agentName, cli.workspaceRoot, cli.cfg.DefaultTimeout)
	return d.Decompose(ctx, input), nil
}

// decomposerAgent picks the agent the Meta-Decomposer calls: the first
// enabled agent in flag/config order, falling back to "claude" if none is
// configured (matching spec.md §6's default agent set).
func (cli *CLI) decomposerAgent() string {
	if len(cli.enabledAgents) > 0 {
		return cli.enabledAgents[0]
	}
	return "claude"
}
