package debug

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/psbridge/psbridge/internal/event"
	"github.com/psbridge/psbridge/internal/protocol"
	"github.com/psbridge/psbridge/internal/pwsh"
)

// Service is the debug session facade: it owns the sync, snapshot, and
// state services, consumes engine events from the bus, and exposes the
// execution-control operations the editor drives.
type Service struct {
	logger   *zap.Logger
	bus      *event.Bus
	debugger pwsh.Debugger
	executor pwsh.Executor
	editor   EditorConnection

	Sync     *SyncService
	Snapshot *SnapshotService
	State    *StateService

	ctx    context.Context
	cancel context.CancelFunc

	stopped atomic.Bool
	subs    []*event.Subscription
}

// NewService builds the full debug service stack and subscribes it to
// the engine event bus. Close unsubscribes and stops background work.
func NewService(logger *zap.Logger, bus *event.Bus, debugger pwsh.Debugger, executor pwsh.Executor, editor EditorConnection) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	gate := NewGate()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		logger:   logger,
		bus:      bus,
		debugger: debugger,
		executor: executor,
		editor:   editor,
		Sync:     NewSyncService(logger, gate, NewTranslator(nil), debugger, executor, editor),
		Snapshot: NewSnapshotService(logger, executor),
		State:    NewStateService(gate),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.subs = []*event.Subscription{
		bus.Subscribe(event.TopicDebuggerStopped, s.guarded("debugger stopped", s.onDebuggerStopped)),
		bus.Subscribe(event.TopicDebuggerResuming, s.guarded("debugger resuming", s.onDebuggerResuming)),
		bus.Subscribe(event.TopicBreakpointUpdated, s.guarded("breakpoint updated", s.onBreakpointUpdated)),
		bus.Subscribe(event.TopicRunspaceChanged, s.guarded("runspace changed", s.onRunspaceChanged)),
	}
	return s
}

// Close unsubscribes from the bus and cancels background work.
func (s *Service) Close() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
	s.cancel()
}

// IsStopped reports whether the engine is halted in the debugger.
func (s *Service) IsStopped() bool {
	return s.stopped.Load()
}

// guarded wraps an event handler so that a failing or panicking handler
// can never tear the session down: panics are recovered, cancellations
// pass silently, and any other error is logged and swallowed.
func (s *Service) guarded(name string, fn func(ctx context.Context, evt any) error) event.Handler {
	return func(ctx context.Context, evt any) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("event handler panicked", zap.String("event", name), zap.Any("panic", r))
			}
		}()

		if err := fn(ctx, evt); err != nil {
			if isCancellation(err) {
				return
			}
			s.logger.Error("event handler failed", zap.String("event", name), zap.Error(err))
		}
	}
}

func (s *Service) onDebuggerStopped(ctx context.Context, evt any) error {
	stop, ok := evt.(pwsh.DebuggerStopped)
	if !ok {
		return nil
	}

	s.stopped.Store(true)

	if err := s.Snapshot.Rebuild(ctx, stop); err != nil {
		return err
	}

	params := protocol.DebuggerStoppedParams{
		Reason:     stop.Reason,
		ScriptPath: stop.Invocation.ScriptPath,
		Line:       stop.Invocation.Line,
		Column:     stop.Invocation.Column,
	}
	return s.editor.Notify(protocol.MethodDebuggerStopped, params)
}

func (s *Service) onDebuggerResuming(ctx context.Context, evt any) error {
	s.stopped.Store(false)
	s.Snapshot.Clear()
	return s.editor.Notify(protocol.MethodDebuggerResumed, struct{}{})
}

func (s *Service) onBreakpointUpdated(ctx context.Context, evt any) error {
	upd, ok := evt.(pwsh.BreakpointUpdated)
	if !ok {
		return nil
	}
	return s.Sync.UpdatedByServer(ctx, upd)
}

func (s *Service) onRunspaceChanged(ctx context.Context, evt any) error {
	change, ok := evt.(pwsh.RunspaceChanged)
	if !ok {
		return nil
	}

	switch change.Kind {
	case pwsh.RunspacePushed:
		return s.Sync.SyncServerAfterAttach(ctx, change.Runspace)
	case pwsh.RunspacePopped:
		return s.Sync.SyncServerAfterRunspacePop(ctx)
	case pwsh.RunspaceDetached:
		s.Sync.DropRunspace(change.Runspace.ID)
		return nil
	default:
		return nil
	}
}

// Launch starts the configuration handshake for a script launch and
// runs the script once the editor signals configurationDone. The script
// runs in the background; stops and output flow back through events.
func (s *Service) Launch(scriptPath string, args []string) error {
	if err := s.State.StartHandshake(); err != nil {
		return err
	}

	go func() {
		if err := s.State.WaitForHandshake(s.ctx); err != nil {
			if !isCancellation(err) {
				s.logger.Error("launch handshake", zap.Error(err))
			}
			return
		}

		cmd := pwsh.NewScript(launchScript(scriptPath, args))
		if _, err := s.executor.Execute(s.ctx, cmd, pwsh.ExecOptions{WriteOutputToHost: true}); err != nil {
			if !isCancellation(err) {
				s.logger.Error("launch script", zap.Error(err), zap.String("script", scriptPath))
			}
		}
	}()
	return nil
}

// Attach starts the configuration handshake for an attach and, once
// configurationDone arrives, re-creates the session's breakpoints in
// the target runspace.
func (s *Service) Attach(runspaceID string, remote bool) error {
	if err := s.State.StartHandshake(); err != nil {
		return err
	}
	s.State.SetAttachTarget(runspaceID, remote)

	go func() {
		if err := s.State.WaitForHandshake(s.ctx); err != nil {
			if !isCancellation(err) {
				s.logger.Error("attach handshake", zap.Error(err))
			}
			return
		}

		rs := pwsh.RunspaceInfo{ID: runspaceID, Pushed: runspaceID != "", Remote: remote}
		if err := s.Sync.SyncServerAfterAttach(s.ctx, rs); err != nil {
			if !isCancellation(err) {
				s.logger.Error("attach breakpoint sync", zap.Error(err))
			}
		}
	}()
	return nil
}

// ConfigurationDone completes the pending launch/attach handshake.
func (s *Service) ConfigurationDone() error {
	return s.State.CompleteHandshake()
}

// Disconnect tears the session down: aborts a stopped debugger and
// clears the attach metadata.
func (s *Service) Disconnect(ctx context.Context) error {
	defer s.State.ClearAttachTarget()

	if s.stopped.Load() {
		if err := s.debugger.Resume(ctx, pwsh.ResumeStop); err != nil {
			return err
		}
		s.stopped.Store(false)
	}
	s.Snapshot.Clear()
	return nil
}

// Continue resumes normal execution.
func (s *Service) Continue(ctx context.Context) error {
	return s.resume(ctx, pwsh.ResumeContinue)
}

// StepOver executes the next statement without descending into calls.
func (s *Service) StepOver(ctx context.Context) error {
	return s.resume(ctx, pwsh.ResumeStepOver)
}

// StepIn executes the next statement, descending into calls.
func (s *Service) StepIn(ctx context.Context) error {
	return s.resume(ctx, pwsh.ResumeStepInto)
}

// StepOut runs until the current frame returns.
func (s *Service) StepOut(ctx context.Context) error {
	return s.resume(ctx, pwsh.ResumeStepOut)
}

// Abort terminates the debugged script. Only valid while stopped; the
// engine unwinds by resuming with the stop action.
func (s *Service) Abort(ctx context.Context) error {
	return s.resume(ctx, pwsh.ResumeStop)
}

// Break asks the engine to halt at the next sequence point. Valid while
// running, unlike the step operations.
func (s *Service) Break(ctx context.Context) error {
	if s.stopped.Load() {
		return nil
	}
	return s.debugger.Break(ctx)
}

func (s *Service) resume(ctx context.Context, action pwsh.ResumeAction) error {
	if !s.stopped.Load() {
		return ErrNotStopped
	}
	return s.debugger.Resume(ctx, action)
}

// launchScript renders the dot-sourced launch invocation.
func launchScript(scriptPath string, args []string) string {
	text := ". " + pwsh.QuoteSingle(scriptPath)
	for _, arg := range args {
		text += " " + pwsh.QuoteSingle(arg)
	}
	return text
}
