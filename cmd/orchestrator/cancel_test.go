package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskforge/internal/checkpoint"
)

func TestIsTerminal(t *testing.T) {
	require.True(t, isTerminal(checkpoint.StatusCompleted))
	require.True(t, isTerminal(checkpoint.StatusFailed))
	require.True(t, isTerminal(checkpoint.StatusCancelled))
	require.False(t, isTerminal(checkpoint.StatusRunning))
	require.False(t, isTerminal(checkpoint.StatusPaused))
}

func TestCancelCommandMarksRunningCheckpointCancelled(t *testing.T) {
	cli := testCLIWithCheckpoints(t)
	_, err := cli.checkpoints.Save(checkpoint.Checkpoint{ExecutionID: "exec-running", Status: checkpoint.StatusRunning})
	require.NoError(t, err)

	cmd := cli.newCancelCommand()
	require.NoError(t, cmd.RunE(cmd, []string{"exec-running"}))
	require.Equal(t, exitCancelled, cli.exitCode)

	cp, err := cli.checkpoints.Load("exec-running")
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusCancelled, cp.Status)
	require.Equal(t, "cancelled by user", cp.Error)
}

func TestCancelCommandIsNoOpOnTerminalCheckpoint(t *testing.T) {
	cli := testCLIWithCheckpoints(t)
	_, err := cli.checkpoints.Save(checkpoint.Checkpoint{ExecutionID: "exec-done", Status: checkpoint.StatusCompleted})
	require.NoError(t, err)

	cmd := cli.newCancelCommand()
	require.NoError(t, cmd.RunE(cmd, []string{"exec-done"}))
	require.Equal(t, exitSuccess, cli.exitCode)

	cp, err := cli.checkpoints.Load("exec-done")
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusCompleted, cp.Status)
}

func TestCancelCommandRejectsUnknownExecution(t *testing.T) {
	cli := testCLIWithCheckpoints(t)
	cmd := cli.newCancelCommand()
	err := cmd.RunE(cmd, []string{"does-not-exist"})
	require.Error(t, err)
}
