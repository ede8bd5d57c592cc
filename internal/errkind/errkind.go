// Package errkind classifies failures across the research pipeline so that
// retry loops, fallback chains, and the degradation controller can react to
// the category of a failure without inspecting provider-specific errors.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the failure category attached to an error.
type Kind string

const (
	// Transient failures are safe to retry with backoff.
	Transient Kind = "transient"
	// RateLimited failures are retried with a longer backoff.
	RateLimited Kind = "rate_limited"
	// Permanent failures must not be retried on the same provider.
	Permanent Kind = "permanent"
	// ProviderExhausted means one provider's retry budget is spent and the
	// caller should advance the fallback chain.
	ProviderExhausted Kind = "provider_exhausted"
	// ModelCallExhausted means the whole fallback chain failed.
	ModelCallExhausted Kind = "model_call_exhausted"
	// ScrapeFailed is recorded in run state; the run continues.
	ScrapeFailed Kind = "scrape_failed"
	// PlanInvalid aborts the run: the planner produced nothing usable.
	PlanInvalid Kind = "plan_invalid"
	// CheckpointCorrupt triggers recovery from an older checkpoint.
	CheckpointCorrupt Kind = "checkpoint_corrupt"
	// BudgetExceeded forces the PARTIAL tier.
	BudgetExceeded Kind = "budget_exceeded"
	// Cancelled is a cooperative shutdown, not a failure.
	Cancelled Kind = "cancelled"
	// ConfigInvalid is a startup-only failure (CLI exit code 2).
	ConfigInvalid Kind = "config_invalid"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and the operation that produced it.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf walks the error chain and returns the first Kind found.
// Untagged errors classify as Transient when they look like I/O hiccups
// (timeouts, temporary net errors, context deadline) and Permanent otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	return Permanent
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the same call may be retried on the same provider.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, RateLimited:
		return true
	}
	return false
}

// FromHTTPStatus maps an HTTP response code to a failure kind.
func FromHTTPStatus(code int) Kind {
	switch {
	case code == 429:
		return RateLimited
	case code >= 500:
		return Transient
	case code == 408:
		return Transient
	default:
		return Permanent
	}
}
