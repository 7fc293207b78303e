package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskforge/internal/checkpoint"
)

// newCancelCommand implements spec.md §6's `cancel <executionId>`.
//
// This CLI is a one-shot process: `run`/`resume` block synchronously until
// the scheduler finishes, so a SIGINT/SIGTERM delivered to that same
// process is the only way to interrupt a run in flight (wired in
// withCancelSignal). `cancel` therefore targets an execution from a
// *different* invocation: it marks the stored checkpoint CANCELLED so
// `status`/`list` report it accurately and a later `resume` attempt is an
// informed choice, rather than attempting to signal a process that may no
// longer exist (no cross-process execution registry is in scope — see
// spec.md §1's "multi-host distributed scheduling" non-goal).
func (cli *CLI) newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <executionId>",
		Short: "Mark an execution as cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return newCLIError(exitInvalidInput, err)
			}

			executionID := args[0]
			cp, err := cli.checkpoints.Load(executionID)
			if err != nil {
				if errors.Is(err, checkpoint.ErrNotFound) {
					return newCLIError(exitInvalidInput, fmt.Errorf("orchestrator: no checkpoint found for execution %q", executionID))
				}
				return newCLIError(exitInvalidInput, err)
			}

			if isTerminal(cp.Status) {
				fmt.Printf("%s execution %s is already %s\n", yellow("!"), bold(executionID), cp.Status)
				cli.exitCode = exitSuccess
				return nil
			}

			cp.Status = checkpoint.StatusCancelled
			cp.Error = "cancelled by user"
			cp.Timestamp = time.Now()
			if _, err := cli.checkpoints.Save(cp); err != nil {
				return newCLIError(exitTotalFailure, fmt.Errorf("orchestrator: writing cancellation checkpoint: %w", err))
			}

			fmt.Printf("%s execution %s marked cancelled\n", green("✓"), bold(executionID))
			cli.exitCode = exitCancelled
			return nil
		},
	}
}

func isTerminal(status checkpoint.Status) bool {
	switch status {
	case checkpoint.StatusCompleted, checkpoint.StatusFailed, checkpoint.StatusCancelled:
		return true
	default:
		return false
	}
}
