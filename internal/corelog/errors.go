package corelog

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error-kind taxonomy in the design (§7), matched
// with errors.Is. Not every failure is wrapped in one: the dispatcher
// also classifies some errors by matching on their message text.
var (
	ErrTransientNetwork = errors.New("transient network error")
	ErrProtocolDecode   = errors.New("protocol decode error")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrUnknownAgent     = errors.New("unknown agent")
	ErrAuthFailure      = errors.New("authentication failure")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrValidationFailed = errors.New("validation failed")
	ErrFatalInvariant   = errors.New("fatal invariant violated")
	ErrBudgetExceeded   = errors.New("budget exceeded")
)

// RuntimeError carries structured context about a failure: which
// operation failed, which kind of failure it was, and the underlying
// cause, so it can be logged once and classified many times.
type RuntimeError struct {
	Op      string
	Kind    string
	ID      string
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// NewRuntimeError wraps err with operation/kind context.
func NewRuntimeError(op, kind string, err error) *RuntimeError {
	return &RuntimeError{Op: op, Kind: kind, Err: err}
}

// IsTransient reports whether err should be retried by the dispatcher and
// counted as a failure by the circuit breaker.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrCircuitOpen)
}

// IsAuthFailure reports whether err is an unrecoverable 401-class failure.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthFailure)
}

// IsFatalInvariant reports whether err should abort a plan without retry.
func IsFatalInvariant(err error) bool {
	return errors.Is(err, ErrFatalInvariant)
}
