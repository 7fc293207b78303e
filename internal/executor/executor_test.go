package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"taskforge/internal/agent"
)

// scriptedAgent returns an Invoker backed by a tiny shell script that reads
// stdin (discarding it) and emits replies[n] on its n-th invocation, where n
// is tracked in a counter file. This stands in for a real LLM CLI across a
// multi-round dialogue without depending on one being installed.
func scriptedAgent(t *testing.T, replies []string) *agent.Invoker {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "scripted-agent")
	counter := filepath.Join(dir, "counter")

	for i, reply := range replies {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("reply-%d", i)), []byte(reply), 0o644))
	}

	script := fmt.Sprintf(`#!/bin/bash
cat >/dev/null
n=0
if [ -f %q ]; then n=$(cat %q); fi
cat %q/reply-$n
echo $((n+1)) > %q
`, counter, counter, dir, counter)
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	inv := agent.NewInvoker(map[string]string{"scripted": bin})
	inv.RegisterProfile(agent.Profile{Name: "scripted", PromptViaStdin: true})
	return inv
}

func TestRun_FinalAnswerOnFirstRound(t *testing.T) {
	inv := scriptedAgent(t, []string{"FINAL_ANSWER: 42"})
	ex := New(inv)

	res := ex.Run(context.Background(), Task{AgentName: "scripted", Prompt: "what is the answer", WorkspacePath: t.TempDir(), TimeoutSecs: 5}, nil, 5)
	require.True(t, res.Success)
	require.Equal(t, "42", res.FinalAnswer)
	require.Equal(t, 1, res.Rounds)
}

func TestRun_SentinelIsCaseInsensitive(t *testing.T) {
	inv := scriptedAgent(t, []string{"final_answer: done"})
	ex := New(inv)

	res := ex.Run(context.Background(), Task{AgentName: "scripted", Prompt: "x", WorkspacePath: t.TempDir(), TimeoutSecs: 5}, nil, 5)
	require.True(t, res.Success)
	require.Equal(t, "done", res.FinalAnswer)
}

func TestRun_ToolCallThenFinalAnswer(t *testing.T) {
	inv := scriptedAgent(t, []string{
		`TOOL_CALL: {"name":"shell","args":{"command":"echo hi"}}`,
		"FINAL_ANSWER: hi",
	})
	ex := New(inv)

	calls := 0
	toolset := Toolset{"shell": func(ctx context.Context, call ToolCall) string {
		calls++
		return `{"output":"hi"}`
	}}

	res := ex.Run(context.Background(), Task{AgentName: "scripted", Prompt: "x", WorkspacePath: t.TempDir(), TimeoutSecs: 5}, toolset, 5)
	require.True(t, res.Success)
	require.Equal(t, "hi", res.FinalAnswer)
	require.Equal(t, 1, calls)
	require.Equal(t, 2, res.Rounds)
}

func TestRun_RoundLimitReachedWithoutConclusion(t *testing.T) {
	inv := scriptedAgent(t, []string{"thinking...", "still thinking...", "more thinking..."})
	ex := New(inv)

	res := ex.Run(context.Background(), Task{AgentName: "scripted", Prompt: "x", WorkspacePath: t.TempDir(), TimeoutSecs: 5}, nil, 3)
	require.False(t, res.Success)
	require.Equal(t, "no conclusion", res.Reason)
	require.Equal(t, 3, res.Rounds)
}

func TestRun_UnknownToolReturnsStructuredError(t *testing.T) {
	inv := scriptedAgent(t, []string{
		`TOOL_CALL: {"name":"nonexistent","args":{}}`,
		"FINAL_ANSWER: ok",
	})
	ex := New(inv)

	res := ex.Run(context.Background(), Task{AgentName: "scripted", Prompt: "x", WorkspacePath: t.TempDir(), TimeoutSecs: 5}, Toolset{}, 5)
	require.True(t, res.Success)
	require.Len(t, res.Log[0].ToolText, 1)
	require.Contains(t, res.Log[0].ToolText[0], "unknown tool")
}

func TestDefaultMaxRounds(t *testing.T) {
	require.Equal(t, 20, DefaultMaxRounds)
}
