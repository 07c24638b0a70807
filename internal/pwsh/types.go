// Package pwsh defines the contracts and data types of the PowerShell
// engine collaborators: the command executor running on the single
// pipeline thread, the native debugger handle, and the records those
// return. The engine implementation itself lives behind these
// interfaces; everything in internal/debug is written against them.
package pwsh

import "fmt"

// BreakpointKind is the kind of a native breakpoint.
type BreakpointKind int

const (
	// KindLine breaks at a script file position.
	KindLine BreakpointKind = iota
	// KindCommand breaks when a named command or function is invoked.
	KindCommand
	// KindVariable breaks when a variable is read and/or written.
	KindVariable
)

// String returns the kind name.
func (k BreakpointKind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindCommand:
		return "command"
	case KindVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// VariableAccessMode is the access that triggers a variable breakpoint.
type VariableAccessMode int

const (
	// AccessRead triggers on variable reads.
	AccessRead VariableAccessMode = iota
	// AccessWrite triggers on variable writes.
	AccessWrite
	// AccessReadWrite triggers on both.
	AccessReadWrite
)

// String returns the access mode name.
func (m VariableAccessMode) String() string {
	switch m {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "readWrite"
	default:
		return "unknown"
	}
}

// CmdletValue returns the mode as Set-PSBreakpoint's -Mode parameter
// expects it.
func (m VariableAccessMode) CmdletValue() string {
	switch m {
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	default:
		return "ReadWrite"
	}
}

// Breakpoint is the engine-native breakpoint object. The integer ID is
// its immutable identity; Enabled is the only mutable flag. Kind
// selects which of the kind-specific fields are meaningful.
type Breakpoint struct {
	// ID is the engine-assigned breakpoint identifier. Zero means the
	// breakpoint has not been created in the engine yet.
	ID int

	// Kind selects line, command, or variable semantics.
	Kind BreakpointKind

	// Enabled reports whether the breakpoint is active.
	Enabled bool

	// Action is the condition/logpoint action script, empty if none.
	Action string

	// Script, Line, Column locate a line breakpoint.
	Script string
	Line   int
	Column int

	// Command names the target of a command breakpoint.
	Command string

	// Variable and AccessMode describe a variable breakpoint.
	Variable   string
	AccessMode VariableAccessMode
}

// Clone returns a copy of the breakpoint.
func (b *Breakpoint) Clone() *Breakpoint {
	if b == nil {
		return nil
	}
	copied := *b
	return &copied
}

// String returns a short diagnostic description.
func (b *Breakpoint) String() string {
	switch b.Kind {
	case KindLine:
		return fmt.Sprintf("line breakpoint %d at %s:%d", b.ID, b.Script, b.Line)
	case KindCommand:
		return fmt.Sprintf("command breakpoint %d on %q", b.ID, b.Command)
	case KindVariable:
		return fmt.Sprintf("variable breakpoint %d on $%s (%s)", b.ID, b.Variable, b.AccessMode)
	default:
		return fmt.Sprintf("breakpoint %d", b.ID)
	}
}

// UpdateType describes how the engine changed a breakpoint.
type UpdateType int

const (
	// UpdateSet means the breakpoint was created.
	UpdateSet UpdateType = iota
	// UpdateRemoved means the breakpoint was deleted.
	UpdateRemoved
	// UpdateEnabled means the breakpoint was enabled.
	UpdateEnabled
	// UpdateDisabled means the breakpoint was disabled.
	UpdateDisabled
)

// String returns the update type name.
func (t UpdateType) String() string {
	switch t {
	case UpdateSet:
		return "set"
	case UpdateRemoved:
		return "removed"
	case UpdateEnabled:
		return "enabled"
	case UpdateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ResumeAction tells the debugger how to leave the stopped state.
type ResumeAction int

const (
	// ResumeContinue resumes normal execution.
	ResumeContinue ResumeAction = iota
	// ResumeStepInto executes the next statement, descending into calls.
	ResumeStepInto
	// ResumeStepOver executes the next statement without descending.
	ResumeStepOver
	// ResumeStepOut runs until the current frame returns.
	ResumeStepOut
	// ResumeStop aborts execution entirely.
	ResumeStop
)

// String returns the resume action name.
func (a ResumeAction) String() string {
	switch a {
	case ResumeContinue:
		return "continue"
	case ResumeStepInto:
		return "stepInto"
	case ResumeStepOver:
		return "stepOver"
	case ResumeStepOut:
		return "stepOut"
	case ResumeStop:
		return "stop"
	default:
		return "unknown"
	}
}

// RunspaceInfo identifies an execution context of the engine.
type RunspaceInfo struct {
	// ID is a stable opaque identifier. The default (top-level,
	// un-pushed) runspace has the empty ID.
	ID string

	// Name is the display name, if the engine provides one.
	Name string

	// Pushed reports whether this is a nested runspace entered during
	// an attach or Enter-PSHostProcess style operation.
	Pushed bool

	// Remote reports whether the runspace lives in another process or
	// machine, which forces fixed-depth serialization of inspection
	// results.
	Remote bool
}

// DefaultRunspace is the RunspaceInfo of the top-level session runspace.
var DefaultRunspace = RunspaceInfo{}
