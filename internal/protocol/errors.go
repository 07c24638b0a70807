package protocol

import (
	"errors"
	"fmt"
)

// Standard errors returned by the editor connection.
var (
	// ErrShutdown indicates the connection has been closed.
	ErrShutdown = errors.New("editor connection shut down")

	// ErrInvalidResponse indicates a malformed response from the editor.
	ErrInvalidResponse = errors.New("invalid response from editor")
)

// RPCError represents a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeRequestCancelled is returned for requests aborted by the caller.
	CodeRequestCancelled = -32800

	// CodeHandlerError is returned when a request handler fails with an
	// ordinary error.
	CodeHandlerError = -32000
)

// NewInvalidParamsError builds an invalid-params RPC error.
func NewInvalidParamsError(msg string) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: msg}
}

// NewHandlerError wraps a handler failure into an RPC error. If err is
// already an *RPCError it is returned unchanged so typed protocol
// errors keep their codes.
func NewHandlerError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &RPCError{Code: CodeHandlerError, Message: err.Error()}
}
