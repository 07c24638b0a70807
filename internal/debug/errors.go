package debug

import (
	"errors"
	"fmt"
)

// Standard errors returned by the debug services.
var (
	// ErrNotStopped indicates a step or inspection operation was
	// attempted while the engine is running.
	ErrNotStopped = errors.New("debugger is not stopped")

	// ErrHandshakeInProgress indicates a launch or attach handshake is
	// already in flight.
	ErrHandshakeInProgress = errors.New("launch/attach handshake already in progress")

	// ErrHandshakeNotStarted indicates configurationDone arrived without
	// a pending launch or attach.
	ErrHandshakeNotStarted = errors.New("no launch/attach handshake in progress")

	// ErrNoSuchContainer indicates a variables request referenced an
	// unknown container id.
	ErrNoSuchContainer = errors.New("no variable container with that id")

	// ErrNoSuchVariable indicates a set-variable request named a
	// variable that is not in the container.
	ErrNoSuchVariable = errors.New("no variable with that name in container")
)

// InvalidExpressionError is a user-input failure: a breakpoint
// condition, hit count, or assigned value that the engine cannot
// accept. The message is human-readable and, for conditions using
// C-style comparison operators, carries the operator hint.
type InvalidExpressionError struct {
	// Expression is the offending input text.
	Expression string

	// Reason is the human-readable explanation, hint included.
	Reason string
}

// Error implements the error interface.
func (e *InvalidExpressionError) Error() string {
	return e.Reason
}

// NewInvalidExpressionError builds an InvalidExpressionError.
func NewInvalidExpressionError(expr, format string, args ...any) *InvalidExpressionError {
	return &InvalidExpressionError{
		Expression: expr,
		Reason:     fmt.Sprintf(format, args...),
	}
}
