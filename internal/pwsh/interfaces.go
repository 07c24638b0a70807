package pwsh

import "context"

// ExecOptions controls how an Executor runs a command.
type ExecOptions struct {
	// WriteOutputToHost echoes pipeline output to the host console.
	WriteOutputToHost bool

	// ThrowOnError converts non-terminating errors into a returned error.
	ThrowOnError bool
}

// Executor runs a command on the engine's single pipeline thread and
// returns its typed results. The pipeline is not reentrant-safe, so
// implementations serialize all executions internally; callers must
// treat every call as a suspension point.
//
// Result element types depend on the command: breakpoint cmdlets yield
// *Breakpoint, variable queries yield VariableRecord, the call-stack
// script yields CallFrameRecord, and expression evaluation yields the
// formatted output strings.
type Executor interface {
	Execute(ctx context.Context, cmd *Command, opts ExecOptions) ([]any, error)
}

// Debugger is the native debugger handle. Breakpoint primitives are
// scoped to a runspace by ID; the empty ID targets the default
// runspace.
//
// SupportsBreakpointAPIs is a capability probe: engines below the
// direct-API version return false, and callers must marshal breakpoint
// mutations as commands through the Executor instead.
type Debugger interface {
	// SupportsBreakpointAPIs reports whether the direct breakpoint
	// primitives below may be used.
	SupportsBreakpointAPIs() bool

	// GetBreakpoints lists the breakpoints currently set in a runspace.
	GetBreakpoints(ctx context.Context, runspaceID string) ([]*Breakpoint, error)

	// SetBreakpoint creates a breakpoint from the given recipe and
	// returns the engine's breakpoint with its assigned ID.
	SetBreakpoint(ctx context.Context, runspaceID string, bp *Breakpoint) (*Breakpoint, error)

	// RemoveBreakpoint deletes a breakpoint by ID.
	RemoveBreakpoint(ctx context.Context, runspaceID string, id int) error

	// EnableBreakpoint activates a breakpoint and returns its new state.
	EnableBreakpoint(ctx context.Context, runspaceID string, id int) (*Breakpoint, error)

	// DisableBreakpoint deactivates a breakpoint and returns its new state.
	DisableBreakpoint(ctx context.Context, runspaceID string, id int) (*Breakpoint, error)

	// Resume leaves the stopped state with the given action. It is only
	// valid while the debugger is stopped.
	Resume(ctx context.Context, action ResumeAction) error

	// Break requests the engine to halt at the next sequence point.
	Break(ctx context.Context) error
}

// ValueConverter is an optional capability of the host environment: a
// variable may declare a value-transform that must run before
// assignment (the engine's strongly-typed argument transformation).
// Hosts that support it implement this alongside Executor; callers
// discover it with a type assertion.
type ValueConverter interface {
	// ConvertValue transforms a candidate value string for the named
	// variable, returning the value to assign.
	ConvertValue(ctx context.Context, name, value string) (string, error)
}
