package pwsh

// VariableRecord is a variable as returned by the engine's inspection
// queries. For remote runspaces the engine serializes the record tree
// at a fixed depth, so Children may already be populated; the snapshot
// layer assigns its own ids lazily on top of this tree.
type VariableRecord struct {
	// Name is the variable name without the leading '$'.
	Name string

	// Value is the display string of the value.
	Value string

	// TypeName is the value's type, if known.
	TypeName string

	// Expandable reports whether the value has child properties or
	// elements.
	Expandable bool

	// Children are the child records, populated to the engine's
	// serialization depth. Empty with Expandable=true means the engine
	// truncated at depth.
	Children []VariableRecord

	// ReadOnly and Constant mirror the engine's variable options; the
	// snapshot filters constant/read-only built-ins out of scope
	// listings.
	ReadOnly bool
	Constant bool
}

// CallFrameRecord is one frame of the scripted call-stack query. The
// query captures each frame's local variable dictionary alongside the
// position, because a naive Get-PSCallStack invocation yields only
// formatted strings.
type CallFrameRecord struct {
	// FunctionName is the frame's command or function name.
	FunctionName string

	// ScriptPath is the source file, empty for prompt input.
	ScriptPath string

	// Line and Column are the frame's 1-based position.
	Line   int
	Column int

	// Locals is the frame's local variable dictionary.
	Locals []VariableRecord
}
