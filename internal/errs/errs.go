// Package errs defines the engine-facing error taxonomy (§7) and a small
// structured error type modeled on the teacher's
// runtime/agent/toolerrors.ToolError: errors that chain via Unwrap so
// errors.Is/As keep working across retries and activity boundaries, while
// still carrying a classifiable Kind for routing decisions.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for retry/routing purposes (§7 taxonomy).
type Kind string

const (
	KindTimeout             Kind = "timeout"
	KindNetwork             Kind = "network"
	KindFileIO              Kind = "file_io"
	KindCreditExhausted     Kind = "credit_exhausted"
	KindLLMDown             Kind = "llm_down"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindRateLimit           Kind = "rate_limit"
	KindToolFailed          Kind = "tool_failed"
	KindAgentNotFound       Kind = "agent_not_found"
	KindAuthentication      Kind = "authentication"
	KindUnknown             Kind = "unknown"
	KindNone                Kind = "none"
)

// retryable is the set from §4.7.4: these kinds trigger backoff-retry.
var retryable = map[Kind]bool{
	KindTimeout:             true,
	KindNetwork:             true,
	KindLLMDown:             true,
	KindProviderUnavailable: true,
	KindRateLimit:           true,
}

// Retryable reports whether errors of this Kind should be retried with
// backoff (§4.7.4) rather than surfaced immediately.
func (k Kind) Retryable() bool {
	return retryable[k]
}

// Error is a structured failure carrying a Kind and an optional cause chain.
// Cause links to an underlying Error so wrapping preserves classification
// across layers (workflow node -> engine -> orchestrator), the same role the
// teacher's ToolError.Cause plays for tool failures.
type Error struct {
	Kind    Kind
	Message string
	Cause   *Error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Wrap converts an arbitrary error into an Error chain, classifying the
// outermost layer with kind and preserving any existing *Error cause.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: kind, Message: e.Message, Cause: e}
	}
	return &Error{Kind: kind, Message: err.Error()}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying cause, supporting errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Classify maps a human error message string to a Kind via substring scan
// (§4.7.5). Order matters: the first matching substring wins.
func Classify(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return KindTimeout
	case strings.Contains(lower, "network"), strings.Contains(lower, "connection"):
		return KindNetwork
	case strings.Contains(lower, "rate limit"):
		return KindRateLimit
	case strings.Contains(lower, "credit"), strings.Contains(lower, "quota"):
		return KindCreditExhausted
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "authentication"):
		return KindAuthentication
	case strings.Contains(lower, "agent not found"):
		return KindAgentNotFound
	default:
		return KindUnknown
	}
}

// ClassifyErr classifies an error, preferring an existing *Error Kind over
// re-scanning its message.
func ClassifyErr(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err.Error())
}

// Errorf builds an Error with a formatted message and the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}
