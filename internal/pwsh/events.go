package pwsh

// InvocationInfo describes the script position the debugger stopped at.
type InvocationInfo struct {
	// ScriptPath is the file being executed, empty for interactive input.
	ScriptPath string

	// Line and Column are 1-based.
	Line   int
	Column int
}

// DebuggerStopped is raised when the engine halts. It carries the stop
// position and the breakpoints that were hit, if any.
type DebuggerStopped struct {
	// Runspace is the execution context the stop happened in.
	Runspace RunspaceInfo

	// Invocation is the halt position.
	Invocation InvocationInfo

	// Reason is the engine's stop reason ("breakpoint", "step", "break").
	Reason string

	// HitBreakpointIDs are the native IDs of breakpoints hit at this stop.
	HitBreakpointIDs []int
}

// DebuggerResuming is raised when the engine is about to resume.
type DebuggerResuming struct {
	// Action is how the debugger is resuming.
	Action ResumeAction
}

// BreakpointUpdated is raised when the engine changes a breakpoint on
// its own, for example while breaking into a DSC resource.
type BreakpointUpdated struct {
	// Breakpoint is the engine's view of the breakpoint after the change.
	Breakpoint *Breakpoint

	// Type says what happened.
	Type UpdateType

	// RunspaceID is the runspace the change happened in.
	RunspaceID string
}

// RunspaceChanged is raised when the active runspace is pushed, popped,
// or permanently gone.
type RunspaceChanged struct {
	// Kind is the transition kind.
	Kind RunspaceChangeKind

	// Runspace is the runspace entered (for pushes) or left (for pops
	// and detaches).
	Runspace RunspaceInfo
}

// RunspaceChangeKind enumerates runspace transitions.
type RunspaceChangeKind int

const (
	// RunspacePushed means a nested runspace became active.
	RunspacePushed RunspaceChangeKind = iota
	// RunspacePopped means control returned to the default runspace.
	RunspacePopped
	// RunspaceDetached means the runspace is permanently gone and its
	// breakpoint map can be dropped.
	RunspaceDetached
)
