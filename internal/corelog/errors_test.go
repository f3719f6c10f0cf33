package corelog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeErrorUnwrapsToSentinel(t *testing.T) {
	err := NewRuntimeError("llm_request", "network", ErrTransientNetwork)
	assert.ErrorIs(t, err, ErrTransientNetwork)
	assert.Contains(t, err.Error(), "llm_request")
}

func TestRuntimeErrorWithIDIncludesItInMessage(t *testing.T) {
	err := &RuntimeError{Op: "delegate_task", ID: "researcher", Err: fmt.Errorf("boom")}
	assert.Contains(t, err.Error(), "[researcher]")
}

func TestIsTransientMatchesNetworkAndCircuitOpen(t *testing.T) {
	assert.True(t, IsTransient(ErrTransientNetwork))
	assert.True(t, IsTransient(ErrCircuitOpen))
	assert.False(t, IsTransient(ErrAuthFailure))
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, IsAuthFailure(fmt.Errorf("wrapped: %w", ErrAuthFailure)))
	assert.False(t, IsAuthFailure(errors.New("plain error")))
}

func TestIsFatalInvariant(t *testing.T) {
	assert.True(t, IsFatalInvariant(ErrFatalInvariant))
	assert.False(t, IsFatalInvariant(ErrValidationFailed))
}
