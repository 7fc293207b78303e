// Package decompose turns a user request into a task.Plan by asking an
// LLM agent to produce a JSON array of subtasks, validating the result, and
// always falling back to a usable single-task plan on any failure.
package decompose

import (
	"context"
	"encoding/json"
	"strings"

	"taskforge/internal/agent"
	"taskforge/internal/logging"
	"taskforge/internal/task"
)

const instructionPreamble = `Decompose the following request into a JSON array of subtasks. ` +
	`Return ONLY a JSON array, no surrounding prose. Each element must have fields: ` +
	`"task_id" (string), "prompt" (string), "depends_on" (array of string task_ids), ` +
	`"priority" (integer >= 1), and "type" (one of: coding, analysis, simple, general, testing).

Request:
`

// planItem mirrors the decomposition JSON schema from spec.md §6.
type planItem struct {
	TaskID    string   `json:"task_id"`
	Prompt    string   `json:"prompt"`
	DependsOn []string `json:"depends_on"`
	Priority  int      `json:"priority"`
	Type      string   `json:"type"`
}

// Decomposer calls an LLM agent to produce a TaskPlan for a user request.
type Decomposer struct {
	invoker       *agent.Invoker
	agentName     string
	workspaceRoot string
	timeoutSecs   int
	logger        *logging.Logger
}

// New returns a Decomposer that consults agentName through invoker.
// Workspaces for the decomposition call itself live under workspaceRoot.
func New(invoker *agent.Invoker, agentName, workspaceRoot string, timeoutSecs int) *Decomposer {
	return &Decomposer{
		invoker:       invoker,
		agentName:     agentName,
		workspaceRoot: workspaceRoot,
		timeoutSecs:   timeoutSecs,
		logger:        logging.NewComponentLogger("decomposer"),
	}
}

// Decompose always returns a usable *task.Plan: on any failure to produce,
// parse, or validate a multi-task plan, it falls back to a single-task
// identity plan whose prompt is userText verbatim.
func (d *Decomposer) Decompose(ctx context.Context, userText string) *task.Plan {
	res := d.invoker.Invoke(ctx, d.agentName, instructionPreamble+userText, d.workspaceRoot, d.timeoutSecs)
	if !res.Success {
		d.logger.Warn("Decomposition agent call failed, falling back to identity plan: %s", res.Error)
		return identityPlan(userText)
	}

	items, ok := parsePlanItems(res.Output)
	if !ok {
		d.logger.Warn("Decomposition output did not parse as a JSON array, falling back to identity plan")
		return identityPlan(userText)
	}

	plan, err := toTaskPlan(items)
	if err != nil {
		d.logger.Warn("Decomposition plan failed validation (%v), falling back to identity plan", err)
		return identityPlan(userText)
	}
	return plan
}

// identityPlan is the fallback: a single task whose prompt is userText,
// type general, no dependencies.
func identityPlan(userText string) *task.Plan {
	plan, err := task.NewPlan([]task.Task{
		{ID: "t1", Prompt: userText, Type: task.TypeGeneral},
	})
	if err != nil {
		// A single task with no dependencies can never fail validation.
		panic("decompose: identity plan construction failed: " + err.Error())
	}
	return plan
}

// parsePlanItems tries json.Unmarshal on the whole text first, then falls
// back to locating the first balanced [...] substring.
func parsePlanItems(text string) ([]planItem, bool) {
	var items []planItem
	if err := json.Unmarshal([]byte(text), &items); err == nil {
		return items, true
	}

	sub, ok := firstBalancedBrackets(text)
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal([]byte(sub), &items); err != nil {
		return nil, false
	}
	return items, true
}

// firstBalancedBrackets locates the first top-level balanced [...]
// substring in text, ignoring bracket characters that appear inside string
// literals.
func firstBalancedBrackets(text string) (string, bool) {
	start := strings.IndexByte(text, '[')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

const maxPlanSize = 50

var allowedTypes = map[string]task.Type{
	"coding":   task.TypeCoding,
	"analysis": task.TypeAnalysis,
	"simple":   task.TypeSimple,
	"general":  task.TypeGeneral,
	"testing":  task.TypeTesting,
}

// toTaskPlan validates and converts raw JSON items into a *task.Plan.
// Validation: 1 <= |plan| <= 50, unique ids, resolvable deps, acyclic —
// the acyclic/resolvable checks are enforced again by task.NewPlan itself.
func toTaskPlan(items []planItem) (*task.Plan, error) {
	if len(items) == 0 || len(items) > maxPlanSize {
		return nil, errPlanSize
	}

	tasks := make([]task.Task, 0, len(items))
	for _, item := range items {
		if item.TaskID == "" || item.Prompt == "" {
			return nil, errMissingField
		}
		typ, ok := allowedTypes[item.Type]
		if !ok {
			typ = task.TypeGeneral
		}
		priority := item.Priority
		if priority < 1 {
			priority = 1
		}
		tasks = append(tasks, task.Task{
			ID:        item.TaskID,
			Prompt:    item.Prompt,
			DependsOn: item.DependsOn,
			Priority:  priority,
			Type:      typ,
		})
	}

	return task.NewPlan(tasks)
}
