package debug

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/psbridge/psbridge/internal/protocol"
)

// RegisterHandlers wires the editor's debug requests to the service.
// Must run before the connection starts reading.
func RegisterHandlers(conn *protocol.Conn, svc *Service) {
	conn.Handle(protocol.MethodSetBreakpoints, handleSetBreakpoints(svc))
	conn.Handle(protocol.MethodAddBreakpoints, handleAddBreakpoints(svc))
	conn.Handle(protocol.MethodClearBreakpoints, handleClearBreakpoints(svc))

	conn.Handle(protocol.MethodLaunch, handleLaunch(svc))
	conn.Handle(protocol.MethodAttach, handleAttach(svc))
	conn.Handle(protocol.MethodConfigurationDone, handleConfigurationDone(svc))
	conn.Handle(protocol.MethodDisconnect, handleDisconnect(svc))

	conn.Handle(protocol.MethodThreads, handleThreads())
	conn.Handle(protocol.MethodStackTrace, handleStackTrace(svc))
	conn.Handle(protocol.MethodScopes, handleScopes(svc))
	conn.Handle(protocol.MethodVariables, handleVariables(svc))
	conn.Handle(protocol.MethodSetVariable, handleSetVariable(svc))
	conn.Handle(protocol.MethodEvaluate, handleEvaluate(svc))

	conn.Handle(protocol.MethodContinue, handleResume(svc.Continue))
	conn.Handle(protocol.MethodNext, handleResume(svc.StepOver))
	conn.Handle(protocol.MethodStepIn, handleResume(svc.StepIn))
	conn.Handle(protocol.MethodStepOut, handleResume(svc.StepOut))
	conn.Handle(protocol.MethodPause, handleResume(svc.Break))
	conn.Handle(protocol.MethodAbort, handleResume(svc.Abort))
}

func handleSetBreakpoints(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params protocol.SetBreakpointsParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}

		batch := make([]ClientBreakpoint, len(params.Breakpoints))
		for i, data := range params.Breakpoints {
			batch[i] = fromWire(data)
		}

		results, err := svc.Sync.UpdatedByClient(ctx, batch)
		if err != nil {
			return nil, err
		}
		return breakpointsResponse(results), nil
	}
}

func handleAddBreakpoints(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params protocol.SetBreakpointsParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}

		batch := make([]ClientBreakpoint, len(params.Breakpoints))
		for i, data := range params.Breakpoints {
			batch[i] = fromWire(data)
		}

		results, err := svc.Sync.FromClient(ctx, batch)
		if err != nil {
			return nil, err
		}
		return breakpointsResponse(results), nil
	}
}

func handleClearBreakpoints(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params protocol.SetBreakpointsParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}

		batch := make([]ClientBreakpoint, len(params.Breakpoints))
		for i, data := range params.Breakpoints {
			batch[i] = fromWire(data)
		}

		if err := svc.Sync.RemovedFromClient(ctx, batch); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
}

func handleLaunch(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params protocol.LaunchParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}
		if err := svc.Launch(params.ScriptPath, params.Args); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
}

func handleAttach(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params protocol.AttachParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}
		if err := svc.Attach(params.RunspaceID, params.Remote); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
}

func handleConfigurationDone(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		if err := svc.ConfigurationDone(); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
}

func handleDisconnect(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		if err := svc.Disconnect(ctx); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
}

func handleThreads() protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		// One pipeline, one thread.
		return protocol.ThreadsResponse{
			Threads: []protocol.ThreadData{{ID: 1, Name: "PowerShell"}},
		}, nil
	}
}

func handleStackTrace(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		frames, err := svc.Snapshot.GetStackFrames()
		if err != nil {
			return nil, err
		}

		resp := protocol.StackTraceResponse{Frames: make([]protocol.StackFrameData, len(frames))}
		for i, frame := range frames {
			resp.Frames[i] = protocol.StackFrameData{
				FunctionName:     frame.FunctionName,
				ScriptPath:       frame.ScriptPath,
				Line:             frame.Line,
				Column:           frame.Column,
				AutoVariablesID:  frame.AutoVariablesID,
				LocalVariablesID: frame.LocalVariablesID,
			}
		}
		return resp, nil
	}
}

func handleScopes(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		scopes, err := svc.Snapshot.Scopes()
		if err != nil {
			return nil, err
		}

		resp := protocol.ScopesResponse{Scopes: make([]protocol.ScopeData, len(scopes))}
		for i, scope := range scopes {
			resp.Scopes[i] = protocol.ScopeData{
				Name:               scope.Name,
				VariablesReference: scope.VariablesID,
			}
		}
		return resp, nil
	}
}

func handleVariables(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params protocol.VariablesParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}

		vars, err := svc.Snapshot.GetVariables(ctx, params.VariablesReference)
		if err != nil {
			return nil, err
		}

		resp := protocol.VariablesResponse{Variables: make([]protocol.VariableData, len(vars))}
		for i, v := range vars {
			resp.Variables[i] = protocol.VariableData{
				Name:               v.Name,
				Value:              v.Value,
				Type:               v.TypeName,
				VariablesReference: v.ID,
			}
		}
		return resp, nil
	}
}

func handleSetVariable(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params protocol.SetVariableParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}

		value, err := svc.Snapshot.SetVariable(ctx, params.VariablesReference, params.Name, params.Value)
		if err != nil {
			return nil, err
		}
		return protocol.SetVariableResponse{Value: value}, nil
	}
}

func handleEvaluate(svc *Service) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params protocol.EvaluateParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams(err)
		}
		if !svc.IsStopped() {
			return nil, ErrNotStopped
		}

		if params.Context == "hover" || params.Context == "watch" {
			v, err := svc.Snapshot.GetVariableFromExpression(ctx, params.Expression)
			if err != nil {
				return nil, err
			}
			return protocol.EvaluateResponse{Result: v.Value, VariablesReference: v.ID}, nil
		}

		result, err := svc.Snapshot.Evaluate(ctx, params.Expression, params.WriteAsOutput)
		if err != nil {
			return nil, err
		}
		return protocol.EvaluateResponse{Result: result}, nil
	}
}

func handleResume(op func(ctx context.Context) error) protocol.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		if err := op(ctx); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
}

func breakpointsResponse(results []ClientBreakpoint) protocol.SetBreakpointsResponse {
	resp := protocol.SetBreakpointsResponse{Breakpoints: make([]protocol.BreakpointData, len(results))}
	for i, bp := range results {
		resp.Breakpoints[i] = toWire(bp)
	}
	return resp
}

func invalidParams(err error) error {
	return protocol.NewInvalidParamsError(fmt.Sprintf("invalid params: %v", err))
}
