package protocol

// Methods the backend sends to the editor.
const (
	// MethodSetBreakpoint is a server→editor request issued when the
	// engine sets a breakpoint the editor did not ask for; the editor
	// replies with the client ID it assigned.
	MethodSetBreakpoint = "powerShell/setBreakpoint"

	// MethodBreakpointUpdated notifies the editor of an engine-driven
	// breakpoint change.
	MethodBreakpointUpdated = "powerShell/breakpointUpdated"

	// MethodDebuggerStopped notifies the editor that the engine halted.
	MethodDebuggerStopped = "powerShell/debuggerStopped"

	// MethodDebuggerResumed notifies the editor that the engine resumed.
	MethodDebuggerResumed = "powerShell/debuggerResumed"
)

// Methods the backend handles from the editor.
const (
	MethodSetBreakpoints    = "debug/setBreakpoints"
	MethodClearBreakpoints  = "debug/clearBreakpoints"
	MethodAddBreakpoints    = "debug/addBreakpoints"
	MethodLaunch            = "debug/launch"
	MethodAttach            = "debug/attach"
	MethodConfigurationDone = "debug/configurationDone"
	MethodThreads           = "debug/threads"
	MethodStackTrace        = "debug/stackTrace"
	MethodScopes            = "debug/scopes"
	MethodVariables         = "debug/variables"
	MethodSetVariable       = "debug/setVariable"
	MethodEvaluate          = "debug/evaluate"
	MethodContinue          = "debug/continue"
	MethodNext              = "debug/next"
	MethodStepIn            = "debug/stepIn"
	MethodStepOut           = "debug/stepOut"
	MethodPause             = "debug/pause"
	MethodAbort             = "debug/abort"
	MethodDisconnect        = "debug/disconnect"
)

// BreakpointData is the wire form of an editor-facing breakpoint.
type BreakpointData struct {
	// ID is the editor-assigned identifier, empty until acknowledged.
	ID string `json:"id,omitempty"`

	// Enabled reports whether the breakpoint is active.
	Enabled bool `json:"enabled"`

	// Condition is the break condition expression, if any.
	Condition string `json:"condition,omitempty"`

	// HitCondition is the hit count as a string, if any.
	HitCondition string `json:"hitCondition,omitempty"`

	// LogMessage is the logpoint message, if any.
	LogMessage string `json:"logMessage,omitempty"`

	// Source, Line, Column locate a source breakpoint.
	Source string `json:"source,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`

	// FunctionName names a command breakpoint, or a variable
	// breakpoint in "$name!R|W|RW" form.
	FunctionName string `json:"functionName,omitempty"`

	// Verified and Message carry the backend's verdict back.
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

// SetBreakpointsParams is the editor's desired-breakpoint batch for one
// source or function group. The batch is a superset, not a delta.
type SetBreakpointsParams struct {
	Breakpoints []BreakpointData `json:"breakpoints"`
}

// SetBreakpointsResponse returns the per-breakpoint results.
type SetBreakpointsResponse struct {
	Breakpoints []BreakpointData `json:"breakpoints"`
}

// SetBreakpointParams is the body of the server→editor setBreakpoint
// request.
type SetBreakpointParams struct {
	Breakpoint BreakpointData `json:"breakpoint"`
}

// SetBreakpointResponse carries the editor-assigned client ID back.
type SetBreakpointResponse struct {
	ID string `json:"id"`
}

// BreakpointUpdatedParams notifies the editor of an engine-driven change.
type BreakpointUpdatedParams struct {
	Breakpoint BreakpointData `json:"breakpoint"`
	UpdateType string         `json:"updateType"`
}

// DebuggerStoppedParams describes a halt to the editor.
type DebuggerStoppedParams struct {
	Reason     string `json:"reason"`
	ScriptPath string `json:"scriptPath,omitempty"`
	Line       int    `json:"line,omitempty"`
	Column     int    `json:"column,omitempty"`
}

// LaunchParams and AttachParams open a debug session.
type LaunchParams struct {
	ScriptPath string   `json:"scriptPath"`
	Args       []string `json:"args,omitempty"`
}

// AttachParams attaches to an existing runspace.
type AttachParams struct {
	RunspaceID string `json:"runspaceId"`
	Remote     bool   `json:"remote,omitempty"`
}

// ThreadsResponse lists execution threads. The engine debugs a single
// pipeline, so there is always exactly one.
type ThreadsResponse struct {
	Threads []ThreadData `json:"threads"`
}

// ThreadData is the wire form of a thread.
type ThreadData struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// StackTraceResponse lists the frames captured at the current stop.
type StackTraceResponse struct {
	Frames []StackFrameData `json:"frames"`
}

// StackFrameData is the wire form of a stack frame.
type StackFrameData struct {
	FunctionName     string `json:"functionName"`
	ScriptPath       string `json:"scriptPath,omitempty"`
	Line             int    `json:"line"`
	Column           int    `json:"column"`
	AutoVariablesID  int    `json:"autoVariablesId"`
	LocalVariablesID int    `json:"localVariablesId"`
}

// ScopesResponse lists the variable scopes of the current stop.
type ScopesResponse struct {
	Scopes []ScopeData `json:"scopes"`
}

// ScopeData is the wire form of a variable scope.
type ScopeData struct {
	Name               string `json:"name"`
	VariablesReference int    `json:"variablesReference"`
}

// VariablesParams requests the children of a variable container.
type VariablesParams struct {
	VariablesReference int `json:"variablesReference"`
}

// VariablesResponse lists the resolved variables.
type VariablesResponse struct {
	Variables []VariableData `json:"variables"`
}

// VariableData is the wire form of a variable.
type VariableData struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// SetVariableParams assigns a new value to a variable in a container.
type SetVariableParams struct {
	VariablesReference int    `json:"variablesReference"`
	Name               string `json:"name"`
	Value              string `json:"value"`
}

// SetVariableResponse returns the value after assignment.
type SetVariableResponse struct {
	Value string `json:"value"`
}

// EvaluateParams evaluates an expression while stopped. Context "hover"
// or "watch" resolves the expression as an expandable variable instead
// of formatted output.
type EvaluateParams struct {
	Expression    string `json:"expression"`
	Context       string `json:"context,omitempty"`
	WriteAsOutput bool   `json:"writeAsOutput,omitempty"`
}

// EvaluateResponse returns the evaluation result text and, for hover
// and watch evaluations, the container id of an expandable result.
type EvaluateResponse struct {
	Result             string `json:"result"`
	VariablesReference int    `json:"variablesReference,omitempty"`
}
