package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskforge/internal/checkpoint"
)

// colorizeStatus renders a checkpoint status with the color its outcome
// suggests — mirroring the teacher's DeepCodingSuccess/DeepCodingError
// palette rather than inventing a new one.
func colorizeStatus(status checkpoint.Status) string {
	switch status {
	case checkpoint.StatusCompleted:
		return green(string(status))
	case checkpoint.StatusFailed:
		return red(string(status))
	case checkpoint.StatusCancelled:
		return yellow(string(status))
	default:
		return blue(string(status))
	}
}

// newListCommand implements spec.md §6's `list`: every known execution,
// newest last, colorized by terminal status the way the teacher's
// showConfig/showProviders color-code CLI tables.
func (cli *CLI) newListCommand() *cobra.Command {
	var workflowFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known executions and their latest status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return newCLIError(exitInvalidInput, err)
			}

			metas, err := cli.checkpoints.List(workflowFilter)
			if err != nil {
				return newCLIError(exitTotalFailure, err)
			}

			if len(metas) == 0 {
				fmt.Println(gray("no executions recorded"))
				cli.exitCode = exitSuccess
				return nil
			}

			for _, m := range metas {
				fmt.Printf("%s  v%04d  %-10s  %s\n", bold(m.ExecutionID), m.Version, colorizeStatus(m.Status), m.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
			}
			cli.exitCode = exitSuccess
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowFilter, "workflow", "", "Restrict to executions belonging to this workflow id")
	return cmd
}
