package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newRunCommand implements spec.md §6's `run <plan.json|userText>`: a new
// execution identifier is minted (google/uuid, the same way the teacher's
// domain packages mint session/execution identifiers), the input is
// resolved to a task.Plan, and the scheduler runs it from scratch.
func (cli *CLI) newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <plan.json|userText>",
		Short: "Execute a task plan file or a free-text request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return newCLIError(exitInvalidInput, err)
			}

			input := joinArgs(args)
			plan, err := cli.resolvePlan(cmd.Context(), input)
			if err != nil {
				return newCLIError(exitInvalidInput, err)
			}

			executionID := uuid.NewString()
			fmt.Printf("%s execution %s starting (%d task(s))\n", blue("▶"), bold(executionID), plan.Len())

			ctx, cancel := withCancelSignal(cmd.Context())
			defer cancel()

			result, err := cli.scheduler.Run(ctx, plan, executionID, cli.schedulerConfig())
			return cli.reportResult(executionID, result, err)
		},
	}
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
