package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newResumeCommand implements spec.md §6's `resume <executionId>`: the
// caller must resupply the same plan that was originally run (checkpoints
// persist progress, not the plan itself — see scheduler.Resume's doc
// comment), so resume also takes the plan.json/userText argument.
func (cli *CLI) newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <executionId> <plan.json|userText>",
		Short: "Continue a previously interrupted execution",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return newCLIError(exitInvalidInput, err)
			}

			executionID := args[0]
			input := joinArgs(args[1:])

			plan, err := cli.resolvePlan(cmd.Context(), input)
			if err != nil {
				return newCLIError(exitInvalidInput, err)
			}

			fmt.Printf("%s resuming execution %s\n", blue("▶"), bold(executionID))

			ctx, cancel := withCancelSignal(cmd.Context())
			defer cancel()

			result, err := cli.scheduler.Resume(ctx, executionID, plan, cli.schedulerConfig())
			return cli.reportResult(executionID, result, err)
		},
	}
}
