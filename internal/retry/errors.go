// Package retry classifies failures as transient or permanent and drives
// exponential-backoff retry loops around them.
package retry

import (
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError represents an error that can be retried
type TransientError struct {
	Err           error
	RetryAfter    int    // Seconds to wait before retry (from Retry-After header)
	StatusCode    int    // HTTP status code if applicable
	SuggestedWait int    // Suggested wait time in seconds
	Message       string // LLM-friendly message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError represents an error that should not be retried
type PermanentError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	Message    string // LLM-friendly message
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsTransient checks if an error is retry-able
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check if explicitly marked as transient
	var transientErr *TransientError
	if stderrors.As(err, &transientErr) {
		return true
	}

	// Check if explicitly marked as permanent
	var permanentErr *PermanentError
	if stderrors.As(err, &permanentErr) {
		return false
	}

	// Network errors (connection refused, timeout, etc.)
	if isNetworkError(err) {
		return true
	}

	// HTTP status codes
	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isTransientHTTPStatus(statusCode)
	}

	// Syscall errors
	if isSyscallError(err) {
		return true
	}

	// Default: not transient
	return false
}

// IsPermanent checks if an error is non-retry-able
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	// Check if explicitly marked as permanent
	var permanentErr *PermanentError
	if stderrors.As(err, &permanentErr) {
		return true
	}

	// Check if explicitly marked as transient
	var transientErr *TransientError
	if stderrors.As(err, &transientErr) {
		return false
	}

	// HTTP status codes
	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isPermanentHTTPStatus(statusCode)
	}

	// Common permanent errors
	errStr := err.Error()
	permanentPatterns := []string{
		"not found",
		"permission denied",
		"invalid",
		"unauthorized",
		"forbidden",
		"bad request",
		"tool not found",
		"file not found",
	}

	lowerErr := strings.ToLower(errStr)
	for _, pattern := range permanentPatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}

	return false
}

// FormatForLLM renders a task/agent failure as an actionable, orchestrator-
// domain message suitable for CLI status output (task.Result.Message),
// rather than surfacing the raw wrapped error text.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}

	var transientErr *TransientError
	if stderrors.As(err, &transientErr) && transientErr.Message != "" {
		return transientErr.Message
	}
	var permanentErr *PermanentError
	if stderrors.As(err, &permanentErr) && permanentErr.Message != "" {
		return permanentErr.Message
	}

	errStr := err.Error()
	switch Classify(err) {
	case FailureSpawn:
		return "agent process failed to start: " + errStr
	case FailureWorkspace:
		return "workspace could not be prepared: " + errStr
	case FailureTimeout:
		return "agent timed out; consider raising the task timeout or breaking the task down further: " + errStr
	case FailureTransientExit:
		return "agent exited with a transient condition and exhausted its retries: " + errStr
	case FailureExit:
		return "agent exited with an error: " + errStr
	case FailureLoopLimit:
		return "agent hit the multi-round loop limit without producing a final answer: " + errStr
	case FailureToolError:
		return "a tool call failed during execution: " + errStr
	case FailureCancelled:
		return "execution was cancelled: " + errStr
	default:
		return errStr
	}
}

// Helper functions

func isNetworkError(err error) bool {
	// net.Error with Timeout or Temporary
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	// Connection errors
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return true
	}

	// DNS errors
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	// Check error strings for common network error patterns
	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"network",
		"dns",
		"connection reset",
		"broken pipe",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func isSyscallError(err error) bool {
	// Connection reset, broken pipe, etc.
	var syscallErr syscall.Errno
	if stderrors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	}
	return false
}

func isPermanentHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest, // 400
		http.StatusUnauthorized,        // 401
		http.StatusForbidden,           // 403
		http.StatusNotFound,            // 404
		http.StatusMethodNotAllowed,    // 405
		http.StatusConflict,            // 409
		http.StatusGone,                // 410
		http.StatusUnprocessableEntity: // 422
		return true
	}
	return false
}

func extractHTTPStatusCode(err error) int {
	errStr := err.Error()

	// Try to extract status code from error message
	// Format: "API error 429: ..." or "HTTP 500: ..."
	patterns := []string{
		"status 429", "429", "status 400", "400", "status 401", "401",
		"status 403", "403", "status 404", "404", "status 500", "500",
		"status 502", "502", "status 503", "503", "status 504", "504",
	}

	lowerErr := strings.ToLower(errStr)
	for _, pattern := range patterns {
		if strings.Contains(lowerErr, pattern) {
			// Extract the number
			if strings.HasPrefix(pattern, "status ") {
				code := strings.TrimPrefix(pattern, "status ")
				switch code {
				case "400":
					return 400
				case "401":
					return 401
				case "403":
					return 403
				case "404":
					return 404
				case "429":
					return 429
				case "500":
					return 500
				case "502":
					return 502
				case "503":
					return 503
				case "504":
					return 504
				}
			} else {
				// Just the number
				switch pattern {
				case "400":
					return 400
				case "401":
					return 401
				case "403":
					return 403
				case "404":
					return 404
				case "429":
					return 429
				case "500":
					return 500
				case "502":
					return 502
				case "503":
					return 503
				case "504":
					return 504
				}
			}
		}
	}

	return 0
}

// Helper constructors

// NewTransientError creates a new transient error with LLM-friendly message
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{
		Err:     err,
		Message: message,
	}
}

// NewPermanentError creates a new permanent error with LLM-friendly message
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{
		Err:     err,
		Message: message,
	}
}
