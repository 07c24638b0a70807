package debug

// Location is a source position in an editor document, identified by
// URI. Line and Column are 1-based.
type Location struct {
	URI    string
	Line   int
	Column int
}

// ClientBreakpoint is the editor-facing breakpoint descriptor. Exactly
// one of Location and FunctionName is populated per logical breakpoint
// kind: Location for line breakpoints, FunctionName for command
// breakpoints and for variable breakpoints in "$name!R|W|RW" form.
type ClientBreakpoint struct {
	// ID is assigned by the editor on creation; empty until the
	// breakpoint has been acknowledged.
	ID string

	// Enabled reports whether the breakpoint is active.
	Enabled bool

	// Condition is the break condition expression, if any.
	Condition string

	// HitCondition is the required hit count as a string, if any.
	HitCondition string

	// LogMessage is the logpoint message, if any.
	LogMessage string

	// Location is set for line breakpoints.
	Location *Location

	// FunctionName is set for command and variable breakpoints.
	FunctionName string

	// Verified and Message are the backend's verdict: whether the
	// breakpoint was created in the engine, and why not if it wasn't.
	// They are excluded from structural equality.
	Verified bool
	Message  string
}

// Equal reports structural equality of the logical breakpoint fields.
// Verified, Message, and ID are excluded so an unchanged breakpoint in
// an incoming batch can be skipped.
func (b ClientBreakpoint) Equal(o ClientBreakpoint) bool {
	if b.Enabled != o.Enabled ||
		b.Condition != o.Condition ||
		b.HitCondition != o.HitCondition ||
		b.LogMessage != o.LogMessage ||
		b.FunctionName != o.FunctionName {
		return false
	}
	if (b.Location == nil) != (o.Location == nil) {
		return false
	}
	if b.Location != nil && *b.Location != *o.Location {
		return false
	}
	return true
}

// EqualExceptEnabled reports whether the two breakpoints differ only in
// their Enabled flags, which allows a cheap enable/disable toggle
// instead of a remove and re-add.
func (b ClientBreakpoint) EqualExceptEnabled(o ClientBreakpoint) bool {
	if b.Equal(o) {
		return false
	}
	aligned := o
	aligned.Enabled = b.Enabled
	return b.Equal(aligned)
}
