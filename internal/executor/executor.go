// Package executor drives a bounded agent<->tool dialogue: the agent calls
// tools from a fixed set (shell, SQL, filesystem) across rounds until it emits a
// sentinel final-answer marker or the round budget runs out.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"taskforge/internal/agent"
	"taskforge/internal/logging"
)

// FinalAnswerSentinel is matched case-insensitively against the trimmed
// head of an agent reply.
const FinalAnswerSentinel = "FINAL_ANSWER:"

// DefaultMaxRounds is used when a caller passes maxRounds <= 0.
const DefaultMaxRounds = 20

// ToolCall is one agent-requested tool invocation, parsed out of a reply.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolHandler executes one tool call and always returns a result string: a
// failing tool returns a structured error string rather than a Go error,
// so a single bad call never aborts the round loop.
type ToolHandler func(ctx context.Context, call ToolCall) string

// Toolset maps a tool name to its handler.
type Toolset map[string]ToolHandler

// RoundLog records what happened in one round of the dialogue.
type RoundLog struct {
	Round     int
	AgentText string
	ToolCalls []ToolCall
	ToolText  []string
}

// ExecutorResult is the outcome of a full Run.
type ExecutorResult struct {
	Success     bool
	FinalAnswer string
	Rounds      int
	Log         []RoundLog
	Reason      string // populated on failure: "no conclusion" | "round limit"
}

// Task is the minimal shape the executor needs from a task description.
type Task struct {
	ID            string
	Prompt        string
	AgentName     string
	WorkspacePath string
	TimeoutSecs   int
}

// Executor drives the multi-round dialogue over an Invoker.
type Executor struct {
	invoker *agent.Invoker
	logger  *logging.Logger
}

// New returns an Executor that dispatches agent turns through invoker.
func New(invoker *agent.Invoker) *Executor {
	return &Executor{invoker: invoker, logger: logging.NewComponentLogger("executor")}
}

// Run drives the dialogue for task against toolset, bounded by maxRounds
// (DefaultMaxRounds if <= 0).
func (e *Executor) Run(ctx context.Context, task Task, toolset Toolset, maxRounds int) ExecutorResult {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	conversation := buildSystemPreamble(toolset) + "\n\n" + task.Prompt
	var roundLog []RoundLog

	for round := 1; round <= maxRounds; round++ {
		res := e.invoker.Invoke(ctx, task.AgentName, conversation, task.WorkspacePath, task.TimeoutSecs)
		if !res.Success {
			return ExecutorResult{
				Success: false,
				Rounds:  round,
				Log:     roundLog,
				Reason:  fmt.Sprintf("agent invocation failed: %s", res.Error),
			}
		}

		calls := parseToolCalls(res.Output)
		entry := RoundLog{Round: round, AgentText: res.Output, ToolCalls: calls}

		if len(calls) == 0 {
			if answer, ok := matchFinalAnswer(res.Output); ok {
				entry.ToolText = nil
				roundLog = append(roundLog, entry)
				return ExecutorResult{Success: true, FinalAnswer: answer, Rounds: round, Log: roundLog}
			}
			if round == maxRounds {
				roundLog = append(roundLog, entry)
				return ExecutorResult{Success: false, Rounds: round, Log: roundLog, Reason: "no conclusion"}
			}
			conversation = conversation + "\n\n" + res.Output +
				"\n\n[nudge] Call a tool or reply with \"" + FinalAnswerSentinel + " <answer>\"."
			roundLog = append(roundLog, entry)
			continue
		}

		for _, call := range calls {
			handler, ok := toolset[call.Name]
			var result string
			if !ok {
				result = fmt.Sprintf(`{"error":"unknown tool %q"}`, call.Name)
			} else {
				result = handler(ctx, call)
			}
			entry.ToolText = append(entry.ToolText, result)
			conversation = conversation + "\n\n[tool_result name=" + call.Name + "] " + result
		}
		roundLog = append(roundLog, entry)

		if round == maxRounds {
			return ExecutorResult{Success: false, Rounds: round, Log: roundLog, Reason: "round limit"}
		}
	}

	return ExecutorResult{Success: false, Rounds: maxRounds, Log: roundLog, Reason: "round limit"}
}

func buildSystemPreamble(toolset Toolset) string {
	var names []string
	for name := range toolset {
		names = append(names, name)
	}
	return fmt.Sprintf(
		"You may call tools (%s) by emitting a line starting with \"TOOL_CALL: \" followed by a JSON object "+
			"{\"name\": \"...\", \"args\": {...}}, one per line. "+
			"When you have a final answer, reply with a line starting with \"%s\" followed by the answer.",
		strings.Join(names, ", "), FinalAnswerSentinel)
}

// matchFinalAnswer checks the trimmed head of reply for the sentinel,
// case-insensitively, and returns the text following it.
func matchFinalAnswer(reply string) (string, bool) {
	trimmed := strings.TrimSpace(reply)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, FinalAnswerSentinel) {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(FinalAnswerSentinel):]), true
}

// parseToolCalls scans reply for "TOOL_CALL: {json}" lines.
func parseToolCalls(reply string) []ToolCall {
	var calls []ToolCall
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "TOOL_CALL:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "TOOL_CALL:"))
		var call ToolCall
		if err := json.Unmarshal([]byte(payload), &call); err != nil {
			continue
		}
		if call.Name != "" {
			calls = append(calls, call)
		}
	}
	return calls
}
