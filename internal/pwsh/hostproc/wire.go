package hostproc

import (
	"encoding/json"
	"fmt"

	"github.com/psbridge/psbridge/internal/pwsh"
)

// The host process speaks newline-delimited JSON over its stdio: one
// request per line in, one response or asynchronous event per line out.
// Every outbound line carries a "type" discriminator.

// request is one command sent to the host.
type request struct {
	ID                int64  `json:"id"`
	Command           string `json:"command"`
	WriteOutputToHost bool   `json:"writeOutputToHost,omitempty"`
	ThrowOnError      bool   `json:"throwOnError,omitempty"`
}

// message is one line read from the host.
type message struct {
	Type string `json:"type"`

	// Response fields.
	ID      int64        `json:"id,omitempty"`
	Error   string       `json:"error,omitempty"`
	Results []wireResult `json:"results,omitempty"`

	// Event fields.
	Event json.RawMessage `json:"event,omitempty"`

	// Ready fields.
	PSVersion      string `json:"psVersion,omitempty"`
	BreakpointAPIs bool   `json:"breakpointApis,omitempty"`
}

// Message type discriminators.
const (
	typeReady    = "ready"
	typeResponse = "response"
	typeEvent    = "event"
)

// wireResult is one typed pipeline result.
type wireResult struct {
	Kind string `json:"kind"`

	// Text result.
	Text string `json:"text,omitempty"`

	// Breakpoint result.
	Breakpoint *wireBreakpoint `json:"breakpoint,omitempty"`

	// Variable result.
	Variable *wireVariable `json:"variable,omitempty"`

	// Call frame result.
	Frame *wireFrame `json:"frame,omitempty"`
}

// Result kinds.
const (
	kindText       = "text"
	kindBreakpoint = "breakpoint"
	kindVariable   = "variable"
	kindFrame      = "frame"
)

type wireBreakpoint struct {
	ID       int    `json:"id"`
	Kind     string `json:"kind"`
	Enabled  bool   `json:"enabled"`
	Action   string `json:"action,omitempty"`
	Script   string `json:"script,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Command  string `json:"command,omitempty"`
	Variable string `json:"variable,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

type wireVariable struct {
	Name       string         `json:"name"`
	Value      string         `json:"value"`
	TypeName   string         `json:"typeName,omitempty"`
	Expandable bool           `json:"expandable,omitempty"`
	ReadOnly   bool           `json:"readOnly,omitempty"`
	Constant   bool           `json:"constant,omitempty"`
	Children   []wireVariable `json:"children,omitempty"`
}

type wireFrame struct {
	FunctionName string         `json:"functionName"`
	ScriptPath   string         `json:"scriptPath,omitempty"`
	Line         int            `json:"line"`
	Column       int            `json:"column"`
	Locals       []wireVariable `json:"locals,omitempty"`
}

// Event payloads. The "event" object carries its own "name" field.
type wireEvent struct {
	Name string `json:"name"`

	// debuggerStopped
	Reason     string `json:"reason,omitempty"`
	ScriptPath string `json:"scriptPath,omitempty"`
	Line       int    `json:"line,omitempty"`
	Column     int    `json:"column,omitempty"`
	HitIDs     []int  `json:"hitBreakpointIds,omitempty"`

	// debuggerResuming
	Action string `json:"action,omitempty"`

	// breakpointUpdated
	Breakpoint *wireBreakpoint `json:"breakpoint,omitempty"`
	UpdateType string          `json:"updateType,omitempty"`

	// runspaceChanged and the runspace half of debuggerStopped
	Change     string `json:"change,omitempty"`
	RunspaceID string `json:"runspaceId,omitempty"`
	Runspace   string `json:"runspaceName,omitempty"`
	Pushed     bool   `json:"pushed,omitempty"`
	Remote     bool   `json:"remote,omitempty"`
}

// toBreakpoint converts the wire form into the engine type.
func (w *wireBreakpoint) toBreakpoint() *pwsh.Breakpoint {
	bp := &pwsh.Breakpoint{
		ID:      w.ID,
		Enabled: w.Enabled,
		Action:  w.Action,
	}
	switch w.Kind {
	case "command":
		bp.Kind = pwsh.KindCommand
		bp.Command = w.Command
	case "variable":
		bp.Kind = pwsh.KindVariable
		bp.Variable = w.Variable
		bp.AccessMode = parseAccessMode(w.Mode)
	default:
		bp.Kind = pwsh.KindLine
		bp.Script = w.Script
		bp.Line = w.Line
		bp.Column = w.Column
	}
	return bp
}

func parseAccessMode(mode string) pwsh.VariableAccessMode {
	switch mode {
	case "Read", "read":
		return pwsh.AccessRead
	case "Write", "write":
		return pwsh.AccessWrite
	default:
		return pwsh.AccessReadWrite
	}
}

func (w *wireVariable) toRecord() pwsh.VariableRecord {
	rec := pwsh.VariableRecord{
		Name:       w.Name,
		Value:      w.Value,
		TypeName:   w.TypeName,
		Expandable: w.Expandable,
		ReadOnly:   w.ReadOnly,
		Constant:   w.Constant,
	}
	for _, child := range w.Children {
		rec.Children = append(rec.Children, child.toRecord())
	}
	return rec
}

func (w *wireFrame) toRecord() pwsh.CallFrameRecord {
	frame := pwsh.CallFrameRecord{
		FunctionName: w.FunctionName,
		ScriptPath:   w.ScriptPath,
		Line:         w.Line,
		Column:       w.Column,
	}
	for _, local := range w.Locals {
		frame.Locals = append(frame.Locals, local.toRecord())
	}
	return frame
}

// decodeResults converts a response's typed results into the values
// the Executor contract promises.
func decodeResults(results []wireResult) ([]any, error) {
	out := make([]any, 0, len(results))
	for _, res := range results {
		switch res.Kind {
		case kindText:
			out = append(out, res.Text)
		case kindBreakpoint:
			if res.Breakpoint == nil {
				return nil, fmt.Errorf("breakpoint result without payload")
			}
			out = append(out, res.Breakpoint.toBreakpoint())
		case kindVariable:
			if res.Variable == nil {
				return nil, fmt.Errorf("variable result without payload")
			}
			out = append(out, res.Variable.toRecord())
		case kindFrame:
			if res.Frame == nil {
				return nil, fmt.Errorf("frame result without payload")
			}
			out = append(out, res.Frame.toRecord())
		default:
			return nil, fmt.Errorf("unknown result kind %q", res.Kind)
		}
	}
	return out, nil
}

// decodeEvent maps a host event line to the engine event published on
// the bus, returning nil for events the backend does not consume.
func decodeEvent(raw json.RawMessage) (any, error) {
	var evt wireEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	switch evt.Name {
	case "debuggerStopped":
		return pwsh.DebuggerStopped{
			Runspace: pwsh.RunspaceInfo{
				ID:     evt.RunspaceID,
				Name:   evt.Runspace,
				Pushed: evt.Pushed,
				Remote: evt.Remote,
			},
			Invocation: pwsh.InvocationInfo{
				ScriptPath: evt.ScriptPath,
				Line:       evt.Line,
				Column:     evt.Column,
			},
			Reason:           evt.Reason,
			HitBreakpointIDs: evt.HitIDs,
		}, nil

	case "debuggerResuming":
		return pwsh.DebuggerResuming{Action: parseResumeAction(evt.Action)}, nil

	case "breakpointUpdated":
		if evt.Breakpoint == nil {
			return nil, fmt.Errorf("breakpointUpdated event without breakpoint")
		}
		return pwsh.BreakpointUpdated{
			Breakpoint: evt.Breakpoint.toBreakpoint(),
			Type:       parseUpdateType(evt.UpdateType),
			RunspaceID: evt.RunspaceID,
		}, nil

	case "runspaceChanged":
		return pwsh.RunspaceChanged{
			Kind: parseRunspaceChange(evt.Change),
			Runspace: pwsh.RunspaceInfo{
				ID:     evt.RunspaceID,
				Name:   evt.Runspace,
				Pushed: evt.Pushed,
				Remote: evt.Remote,
			},
		}, nil
	}
	return nil, nil
}

func parseResumeAction(s string) pwsh.ResumeAction {
	switch s {
	case "stepInto":
		return pwsh.ResumeStepInto
	case "stepOver":
		return pwsh.ResumeStepOver
	case "stepOut":
		return pwsh.ResumeStepOut
	case "stop":
		return pwsh.ResumeStop
	default:
		return pwsh.ResumeContinue
	}
}

func parseUpdateType(s string) pwsh.UpdateType {
	switch s {
	case "removed":
		return pwsh.UpdateRemoved
	case "enabled":
		return pwsh.UpdateEnabled
	case "disabled":
		return pwsh.UpdateDisabled
	default:
		return pwsh.UpdateSet
	}
}

func parseRunspaceChange(s string) pwsh.RunspaceChangeKind {
	switch s {
	case "popped":
		return pwsh.RunspacePopped
	case "detached":
		return pwsh.RunspaceDetached
	default:
		return pwsh.RunspacePushed
	}
}
