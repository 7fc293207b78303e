package main

import (
	"encoding/json"
	"fmt"

	"taskforge/internal/checkpoint"
	"taskforge/internal/task"
)

// taskSummary is the per-task slice of the JSON summary spec.md §7
// requires on stdout: "a machine-readable JSON summary ... containing
// per-task status plus the terminal Checkpoint."
type taskSummary struct {
	Status     task.Status `json:"status"`
	Agent      string      `json:"agent,omitempty"`
	Message    string      `json:"message,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

type runSummary struct {
	ExecutionID  string                 `json:"execution_id"`
	Mode         task.Mode              `json:"mode"`
	SuccessCount int                    `json:"success_count"`
	FailureCount int                    `json:"failure_count"`
	DurationMs   int64                  `json:"duration_ms"`
	Tasks        map[string]taskSummary `json:"tasks"`
	Checkpoint   *checkpoint.Checkpoint `json:"checkpoint,omitempty"`
}

// reportResult renders result as the stdout JSON summary, prints a
// colorized one-line verdict, sets cli.exitCode per spec.md §6's five-way
// contract, and returns the error cobra should surface (nil unless the
// scheduler itself returned a Go error, which only happens for an
// InputError caught before any task was dispatched).
func (cli *CLI) reportResult(executionID string, result task.ExecutionResult, runErr error) error {
	cp, loadErr := cli.checkpoints.Load(executionID)
	var cpPtr *checkpoint.Checkpoint
	if loadErr == nil {
		cpPtr = &cp
	}

	summary := runSummary{
		ExecutionID:  executionID,
		Mode:         result.Mode,
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
		DurationMs:   result.Duration.Milliseconds(),
		Tasks:        make(map[string]taskSummary, len(result.Results)),
		Checkpoint:   cpPtr,
	}
	for id, res := range result.Results {
		summary.Tasks[id] = taskSummary{
			Status:     res.Status,
			Agent:      res.Agent,
			Message:    res.Message(),
			DurationMs: res.Duration().Milliseconds(),
		}
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err == nil {
		fmt.Println(string(data))
	}

	if runErr != nil {
		cli.exitCode = exitInvalidInput
		return newCLIError(exitInvalidInput, runErr)
	}

	switch {
	case cpPtr != nil && cpPtr.Status == checkpoint.StatusCancelled:
		cli.exitCode = exitCancelled
		fmt.Printf("%s execution %s was cancelled\n", yellow("!"), bold(executionID))
	case result.FailureCount == 0:
		cli.exitCode = exitSuccess
		fmt.Printf("%s execution %s completed (%d succeeded)\n", green("✓"), bold(executionID), result.SuccessCount)
	case result.SuccessCount == 0:
		cli.exitCode = exitTotalFailure
		fmt.Printf("%s execution %s failed (%d task(s))\n", red("✗"), bold(executionID), result.FailureCount)
	default:
		cli.exitCode = exitPartialFail
		fmt.Printf("%s execution %s partially failed (%d/%d succeeded)\n", yellow("!"), bold(executionID), result.SuccessCount, result.SuccessCount+result.FailureCount)
	}
	return nil
}
