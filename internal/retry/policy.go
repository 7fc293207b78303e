package retry

import (
	stderrors "errors"
	"math"
	"strings"
	"time"
)

// FailureKind classifies why a task invocation failed, independent of the
// underlying error's Go type. The scheduler (through Loop) uses this to
// decide whether a failure is worth retrying at all before falling
// back to the generic TransientError/PermanentError heuristics in errors.go.
type FailureKind int

const (
	FailureSpawn FailureKind = iota
	FailureWorkspace
	FailureTimeout
	FailureTransientExit
	FailureExit
	FailureLoopLimit
	FailureToolError
	FailureCancelled
	FailureUnknown
)

func (k FailureKind) String() string {
	switch k {
	case FailureSpawn:
		return "spawn_failure"
	case FailureWorkspace:
		return "workspace_failure"
	case FailureTimeout:
		return "agent_timeout"
	case FailureTransientExit:
		return "transient_exit"
	case FailureExit:
		return "exit_failure"
	case FailureLoopLimit:
		return "loop_limit"
	case FailureToolError:
		return "tool_error"
	case FailureCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Policy is the retry disposition for one FailureKind.
type Policy struct {
	Retriable   bool
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// policies mirrors the decision table: spawn and workspace failures never
// retry, timeouts get two attempts at a 2s/30s backoff, transient-marker
// exits get three attempts at a tighter 1s/15s backoff, everything else
// surfaces immediately.
var policies = map[FailureKind]Policy{
	FailureSpawn:         {Retriable: false},
	FailureWorkspace:     {Retriable: false},
	FailureTimeout:       {Retriable: true, MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
	FailureTransientExit: {Retriable: true, MaxAttempts: 3, BaseDelay: 1 * time.Second, MaxDelay: 15 * time.Second},
	FailureExit:          {Retriable: false},
	FailureLoopLimit:     {Retriable: false},
	FailureToolError:     {Retriable: false},
	FailureCancelled:     {Retriable: false},
	FailureUnknown:       {Retriable: false},
}

// Backoff returns the delay before retry attempt number attempt (0-based)
// under p: base delay doubling each attempt, capped at p.MaxDelay. Callers
// driving their own retry loop around a Policy (rather than the
// Loop in backoff.go) use this directly.
func Backoff(attempt int, p Policy) time.Duration {
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// PolicyFor returns the retry policy for a FailureKind.
func PolicyFor(kind FailureKind) Policy {
	if p, ok := policies[kind]; ok {
		return p
	}
	return policies[FailureUnknown]
}

// transientExitMarkers are substrings that, found in a non-zero-exit
// failure's stderr/error text, mark it as a transient exit rather than a
// flat permanent exit.
var transientExitMarkers = []string{
	"rate_limit",
	"429",
	"econnreset",
}

// spawnError, workspaceError, loopLimitError, toolError, and cancelledError
// let callers tag a raw error with the FailureKind the caller already knows
// (e.g. the Agent Invoker knows a spawn failure when it sees one; Classify
// only has to guess from text for failures it didn't originate).
type spawnError struct{ err error }

func (e *spawnError) Error() string { return e.err.Error() }
func (e *spawnError) Unwrap() error { return e.err }

type workspaceError struct{ err error }

func (e *workspaceError) Error() string { return e.err.Error() }
func (e *workspaceError) Unwrap() error { return e.err }

type loopLimitError struct{ err error }

func (e *loopLimitError) Error() string { return e.err.Error() }
func (e *loopLimitError) Unwrap() error { return e.err }

type toolExecError struct{ err error }

func (e *toolExecError) Error() string { return e.err.Error() }
func (e *toolExecError) Unwrap() error { return e.err }

type cancelledError struct{ err error }

func (e *cancelledError) Error() string { return e.err.Error() }
func (e *cancelledError) Unwrap() error { return e.err }

// NewSpawnError, NewWorkspaceError, NewLoopLimitError, NewToolError, and
// NewCancelledError tag an error with an explicit FailureKind so Classify
// does not have to infer it from message text.
func NewSpawnError(err error) error     { return &spawnError{err: err} }
func NewWorkspaceError(err error) error { return &workspaceError{err: err} }
func NewLoopLimitError(err error) error { return &loopLimitError{err: err} }
func NewToolError(err error) error      { return &toolExecError{err: err} }
func NewCancelledError(err error) error { return &cancelledError{err: err} }

// Classify maps an error to the FailureKind from §4.10's decision table.
// Explicitly tagged errors (NewSpawnError et al.) are recognized first;
// anything else is judged on a cancellation marker, a timeout marker, the
// transient-exit substrings, an exit-status marker, or the existing
// IsTransient heuristic in errors.go, in that order.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	var spawnErr *spawnError
	if stderrors.As(err, &spawnErr) {
		return FailureSpawn
	}
	var wsErr *workspaceError
	if stderrors.As(err, &wsErr) {
		return FailureWorkspace
	}
	var loopErr *loopLimitError
	if stderrors.As(err, &loopErr) {
		return FailureLoopLimit
	}
	var toolErr *toolExecError
	if stderrors.As(err, &toolErr) {
		return FailureToolError
	}
	var cancelErr *cancelledError
	if stderrors.As(err, &cancelErr) {
		return FailureCancelled
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "context canceled") || strings.Contains(lower, "cancelled") || strings.Contains(lower, "canceled") {
		return FailureCancelled
	}
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		return FailureTimeout
	}
	for _, marker := range transientExitMarkers {
		if strings.Contains(lower, marker) {
			return FailureTransientExit
		}
	}
	if strings.Contains(lower, "exit status") || strings.Contains(lower, "exited with") {
		return FailureExit
	}

	if IsTransient(err) {
		return FailureTransientExit
	}
	return FailureUnknown
}
