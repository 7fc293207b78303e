// Package agent launches an external agent CLI as a child process in a
// scoped workspace, collecting its output under a timeout and a
// cancellation contract.
package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"taskforge/internal/logging"
	"taskforge/internal/retry"
	"taskforge/internal/subprocess"
)

// Status is the terminal disposition of one Invoke call.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
	StatusCancelled Status = "CANCELLED"
)

// Result is the outcome of one agent invocation.
type Result struct {
	Success    bool
	Output     string
	Error      string
	DurationMs int64
	Status     Status
}

// Profile describes how to run one named agent: whether the prompt is
// passed as an argv entry or written to stdin, the flags that request a
// non-interactive single-shot run, and how to recognize an auth failure.
type Profile struct {
	Name            string
	PromptViaStdin  bool
	ExtraArgs       []string
	AuthFailureText []string // substrings in stderr/output that mean "not authenticated"
}

// defaultProfiles are the three agents required by the external interface
// contract: claude and codex read the prompt from stdin in non-interactive
// mode; gemini takes it as a trailing argv entry.
var defaultProfiles = map[string]Profile{
	"claude": {
		Name:            "claude",
		PromptViaStdin:  true,
		ExtraArgs:       []string{"--print"},
		AuthFailureText: []string{"not logged in", "authentication", "please run"},
	},
	"codex": {
		Name:            "codex",
		PromptViaStdin:  true,
		ExtraArgs:       []string{"exec"},
		AuthFailureText: []string{"not authenticated", "login required"},
	},
	"gemini": {
		Name:            "gemini",
		PromptViaStdin:  false,
		ExtraArgs:       nil,
		AuthFailureText: []string{"api key", "unauthorized"},
	},
}

// Invoker launches agent CLIs as subprocesses.
type Invoker struct {
	binaries map[string]string
	profiles map[string]Profile
	logger   *logging.Logger
}

// NewInvoker returns an Invoker resolving agent names to binaries via
// binaries (as produced by config.Config.AgentBinaries). Unknown agent
// names fall back to a stdin-fed profile with no special flags.
func NewInvoker(binaries map[string]string) *Invoker {
	return &Invoker{
		binaries: binaries,
		profiles: defaultProfiles,
		logger:   logging.NewComponentLogger("agent-invoker"),
	}
}

// RegisterProfile overrides or adds a profile for an agent name, letting
// callers extend beyond claude/codex/gemini.
func (inv *Invoker) RegisterProfile(p Profile) {
	inv.profiles[p.Name] = p
}

func (inv *Invoker) profileFor(agentName string) Profile {
	if p, ok := inv.profiles[agentName]; ok {
		return p
	}
	return Profile{Name: agentName, PromptViaStdin: true}
}

// Invoke launches agentName in workspacePath with prompt, honoring
// timeoutSeconds (0 means no timeout). It always returns a Result, never an
// error — every failure mode surfaces as Result.Success == false with a
// Status and Error describing why, per the Agent Invoker's contract.
func (inv *Invoker) Invoke(ctx context.Context, agentName, prompt, workspacePath string, timeoutSeconds int) Result {
	start := time.Now()

	bin, ok := inv.binaries[agentName]
	if !ok || bin == "" {
		bin = agentName
	}
	profile := inv.profileFor(agentName)

	if err := os.MkdirAll(workspacePath, 0o755); err != nil {
		return Result{
			Success:    false,
			Error:      fmt.Sprintf("workspace creation failed: %v", err),
			Status:     StatusFailed,
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	args := append([]string{}, profile.ExtraArgs...)
	if !profile.PromptViaStdin {
		args = append(args, prompt)
	}

	var timeout time.Duration
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	proc := subprocess.New(subprocess.Config{
		Command:    bin,
		Args:       args,
		WorkingDir: workspacePath,
		Timeout:    timeout,
	})

	if err := proc.Start(ctx); err != nil {
		inv.logger.Warn("Spawn failed for agent %s: %v", agentName, err)
		return Result{
			Success:    false,
			Error:      fmt.Sprintf("spawn failed: %v", err),
			Status:     StatusFailed,
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	if profile.PromptViaStdin {
		if err := proc.Write([]byte(prompt)); err != nil {
			_ = proc.Stop()
			return Result{
				Success:    false,
				Error:      fmt.Sprintf("stdin write failed: %v", err),
				Status:     StatusFailed,
				DurationMs: time.Since(start).Milliseconds(),
			}
		}
		_ = proc.CloseStdin()
	}

	var cancelled bool
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancelled = true
			_ = proc.Stop()
		case <-done:
		}
	}()

	waitErr := proc.Wait()
	close(done)

	durationMs := time.Since(start).Milliseconds()
	output := proc.Stdout()

	switch proc.Reason() {
	case subprocess.ReasonTimeout:
		return Result{
			Success:    false,
			Output:     output,
			Error:      "agent invocation timed out",
			Status:     StatusTimeout,
			DurationMs: durationMs,
		}
	case subprocess.ReasonCancelled:
		if cancelled {
			return Result{
				Success:    false,
				Output:     output,
				Error:      "agent invocation cancelled",
				Status:     StatusCancelled,
				DurationMs: durationMs,
			}
		}
	}

	if waitErr != nil {
		tail := proc.StderrTail()
		if isAuthFailure(profile, tail+output) {
			return Result{
				Success:    false,
				Output:     output,
				Error:      fmt.Sprintf("auth required: %s", strings.TrimSpace(tail)),
				Status:     StatusFailed,
				DurationMs: durationMs,
			}
		}
		errText := fmt.Sprintf("%v: %s", waitErr, strings.TrimSpace(tail))
		inv.logger.Debug("Agent %s exited non-zero: %s", agentName, errText)
		return Result{
			Success:    false,
			Output:     output,
			Error:      errText,
			Status:     StatusFailed,
			DurationMs: durationMs,
		}
	}

	return Result{
		Success:    true,
		Output:     output,
		Status:     StatusSuccess,
		DurationMs: durationMs,
	}
}

func isAuthFailure(profile Profile, haystack string) bool {
	lower := strings.ToLower(haystack)
	for _, marker := range profile.AuthFailureText {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// ClassifyResult maps a Result to a retry.FailureKind for the Retry/
// Recovery Policy, used by callers (Multi-Round Executor, scheduler) that
// need to decide whether to retry.
func ClassifyResult(r Result) retry.FailureKind {
	if r.Success {
		return retry.FailureUnknown
	}
	switch r.Status {
	case StatusTimeout:
		return retry.FailureTimeout
	case StatusCancelled:
		return retry.FailureCancelled
	default:
		lower := strings.ToLower(r.Error)
		switch {
		case strings.Contains(lower, "spawn failed"):
			return retry.FailureSpawn
		case strings.Contains(lower, "workspace creation failed"):
			return retry.FailureWorkspace
		default:
			return retry.Classify(fmt.Errorf("%s", r.Error))
		}
	}
}
