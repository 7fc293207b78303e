package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"taskforge/internal/checkpoint"
)

// newStatusCommand implements spec.md §6's `status <executionId>`: print
// the terminal Checkpoint for an execution as JSON.
func (cli *CLI) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <executionId>",
		Short: "Show the latest checkpoint for an execution",
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

			data, err := json.MarshalIndent(cp, "", "  ")
			if err != nil {
				return newCLIError(exitTotalFailure, err)
			}
			fmt.Println(string(data))

			switch cp.Status {
			case checkpoint.StatusCompleted:
				cli.exitCode = exitSuccess
			case checkpoint.StatusCancelled:
				cli.exitCode = exitCancelled
			case checkpoint.StatusFailed:
				cli.exitCode = exitTotalFailure
			default:
				cli.exitCode = exitSuccess
			}
			return nil
		},
	}
}
