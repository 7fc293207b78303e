// Loop is the retry loop every retriable call in this module runs under: it
// classifies failures with Classify and consults the FailureKind policy
// table in policy.go, rather than a generic IsTransient/jitter heuristic
// detached from §4.10's decision table.
package retry

import (
	"context"
	"time"

	"taskforge/internal/logging"
)

// Loop runs fn, retrying while Classify(err)'s Policy says to, sleeping
// Backoff(attempt, policy) between attempts with ctx-cancellation support.
// It returns whatever fn last produced on success or on policy exhaustion.
// onCancelled builds the value to return if ctx is already done before an
// attempt or is cancelled mid-backoff; it receives the most recent value fn
// produced (the zero value if no attempt has run yet) so callers whose
// result type carries bookkeeping fields (e.g. a started-at timestamp) can
// carry them forward instead of Loop inventing its own convention for them.
func Loop[T any](ctx context.Context, logger *logging.Logger, onCancelled func(last T) T, fn func(ctx context.Context, attempt int) (T, error)) T {
	var last T
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return onCancelled(last)
		}

		value, err := fn(ctx, attempt)
		last = value
		if err == nil {
			return value
		}

		kind := Classify(err)
		policy := PolicyFor(kind)
		if !policy.Retriable || attempt >= policy.MaxAttempts {
			return value
		}

		delay := Backoff(attempt, policy)
		if logger != nil {
			logger.Warn("attempt %d failed (%s), retrying in %v (max %d attempts)", attempt+1, kind, delay, policy.MaxAttempts)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return onCancelled(last)
		}
	}
}
