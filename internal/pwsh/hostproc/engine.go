// Package hostproc runs the PowerShell engine as a child process. An
// embedded host script executes commands on the engine's single
// pipeline thread and streams typed results and debugger events back
// over newline-delimited JSON.
package hostproc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	_ "embed"

	"go.uber.org/zap"

	"github.com/psbridge/psbridge/internal/event"
	"github.com/psbridge/psbridge/internal/pwsh"
)

//go:embed host.ps1
var hostScript string

// ErrEngineClosed indicates the host process is gone.
var ErrEngineClosed = errors.New("powershell host process closed")

// Options configures the host process.
type Options struct {
	// Executable is the engine binary, e.g. "pwsh".
	Executable string

	// Args are extra arguments placed before the host script flags.
	Args []string

	// StartupTimeout bounds the wait for the host's ready line.
	StartupTimeout time.Duration

	// SnapshotDepth is how many levels of a variable tree the host
	// serializes per query. Zero keeps the host default.
	SnapshotDepth int

	Logger *zap.Logger
	Bus    *event.Bus
}

// Engine is the running host process. It implements pwsh.Executor and
// pwsh.Debugger and publishes engine events to the bus.
type Engine struct {
	logger *zap.Logger
	bus    *event.Bus

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	scriptPath string

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *message

	// Engine events queue here and a dedicated goroutine publishes them
	// in arrival order. Publishing straight from the read loop would
	// wedge the session: a subscriber that issues a request from its
	// handler waits on a response only the read loop can deliver.
	eventMu   sync.Mutex
	eventQ    []any
	eventWake chan struct{}

	ready          chan struct{}
	psVersion      string
	breakpointAPIs bool

	closed atomic.Bool
	done   chan struct{}
}

// Start launches the host process and waits for it to report ready.
func Start(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Executable == "" {
		opts.Executable = "pwsh"
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}

	scriptFile, err := os.CreateTemp("", "psbridge-host-*.ps1")
	if err != nil {
		return nil, fmt.Errorf("write host script: %w", err)
	}
	if _, err := scriptFile.WriteString(hostScript); err != nil {
		scriptFile.Close()
		os.Remove(scriptFile.Name())
		return nil, fmt.Errorf("write host script: %w", err)
	}
	if err := scriptFile.Close(); err != nil {
		os.Remove(scriptFile.Name())
		return nil, fmt.Errorf("write host script: %w", err)
	}

	args := append([]string{}, opts.Args...)
	args = append(args, "-NoProfile", "-NonInteractive", "-File", scriptFile.Name())
	cmd := exec.CommandContext(ctx, opts.Executable, args...)
	cmd.Env = os.Environ()
	if opts.SnapshotDepth > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("PSBRIDGE_SNAPSHOT_DEPTH=%d", opts.SnapshotDepth))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(scriptFile.Name())
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(scriptFile.Name())
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(scriptFile.Name())
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		os.Remove(scriptFile.Name())
		return nil, fmt.Errorf("start %s: %w", opts.Executable, err)
	}

	e := newEngine(opts.Logger, opts.Bus)
	e.cmd = cmd
	e.stdin = stdin
	e.scriptPath = scriptFile.Name()

	go e.readLoop(stdout)
	go e.eventLoop()
	go e.drainStderr(stderr)

	select {
	case <-e.ready:
		e.logger.Info("powershell host ready",
			zap.String("psVersion", e.psVersion),
			zap.Bool("breakpointApis", e.breakpointAPIs))
		return e, nil
	case <-time.After(opts.StartupTimeout):
		e.Close()
		return nil, fmt.Errorf("powershell host did not report ready within %s", opts.StartupTimeout)
	case <-ctx.Done():
		e.Close()
		return nil, ctx.Err()
	case <-e.done:
		return nil, fmt.Errorf("powershell host exited during startup")
	}
}

// newEngine wires the message plumbing without spawning a process.
func newEngine(logger *zap.Logger, bus *event.Bus) *Engine {
	return &Engine{
		logger:    logger,
		bus:       bus,
		pending:   make(map[int64]chan *message),
		eventWake: make(chan struct{}, 1),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Close terminates the host process.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	var err error
	if e.stdin != nil {
		e.stdin.Close()
	}
	if e.cmd != nil {
		err = e.cmd.Process.Kill()
	}
	if e.scriptPath != "" {
		os.Remove(e.scriptPath)
	}

	// Release everyone still waiting on a response.
	e.mu.Lock()
	for id, ch := range e.pending {
		close(ch)
		delete(e.pending, id)
	}
	e.mu.Unlock()

	return err
}

// PSVersion returns the engine version string from the ready line.
func (e *Engine) PSVersion() string {
	return e.psVersion
}

// SupportsBreakpointAPIs reports whether the engine exposes the direct
// breakpoint APIs (PowerShell 7+).
func (e *Engine) SupportsBreakpointAPIs() bool {
	return e.breakpointAPIs
}

// Execute runs a command on the host's pipeline thread.
func (e *Engine) Execute(ctx context.Context, cmd *pwsh.Command, opts pwsh.ExecOptions) ([]any, error) {
	resp, err := e.roundTrip(ctx, request{
		Command:           cmd.Text(),
		WriteOutputToHost: opts.WriteOutputToHost,
		ThrowOnError:      opts.ThrowOnError,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return decodeResults(resp.Results)
}

// roundTrip sends one request and waits for its response.
func (e *Engine) roundTrip(ctx context.Context, req request) (*message, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	req.ID = e.nextID.Add(1)
	ch := make(chan *message, 1)

	e.mu.Lock()
	e.pending[req.ID] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, req.ID)
		e.mu.Unlock()
	}()

	if err := e.send(req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrEngineClosed
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrEngineClosed
		}
		return resp, nil
	}
}

// send writes one request line. Writes serialize on writeMu so two
// requests never interleave on the pipe.
func (e *Engine) send(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, err := e.stdin.Write(data); err != nil {
		return fmt.Errorf("write to host: %w", err)
	}
	return nil
}

// readLoop consumes host output lines until the process exits.
func (e *Engine) readLoop(stdout io.Reader) {
	defer close(e.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			e.logger.Warn("malformed host line", zap.Error(err))
			continue
		}
		e.dispatch(&msg)
	}

	if err := scanner.Err(); err != nil && !e.closed.Load() {
		e.logger.Error("host stdout read failed", zap.Error(err))
	}
}

func (e *Engine) dispatch(msg *message) {
	switch msg.Type {
	case typeReady:
		e.psVersion = msg.PSVersion
		e.breakpointAPIs = msg.BreakpointAPIs
		close(e.ready)

	case typeResponse:
		e.mu.Lock()
		ch, ok := e.pending[msg.ID]
		if ok {
			delete(e.pending, msg.ID)
		}
		e.mu.Unlock()
		if ok {
			ch <- msg
		}

	case typeEvent:
		evt, err := decodeEvent(msg.Event)
		if err != nil {
			e.logger.Warn("malformed host event", zap.Error(err))
			return
		}
		if evt == nil {
			return
		}
		e.enqueueEvent(evt)

	default:
		e.logger.Warn("unknown host message type", zap.String("type", msg.Type))
	}
}

// enqueueEvent hands an event to the publishing goroutine. The queue is
// unbounded so the read loop never blocks behind a slow subscriber.
func (e *Engine) enqueueEvent(evt any) {
	e.eventMu.Lock()
	e.eventQ = append(e.eventQ, evt)
	e.eventMu.Unlock()

	select {
	case e.eventWake <- struct{}{}:
	default:
	}
}

// eventLoop publishes queued events in arrival order. Subscribers run
// on this goroutine, so a stop handler can round-trip requests through
// the engine while the read loop keeps delivering responses.
func (e *Engine) eventLoop() {
	for {
		select {
		case <-e.done:
			return
		case <-e.eventWake:
		}

		for {
			e.eventMu.Lock()
			if len(e.eventQ) == 0 {
				e.eventMu.Unlock()
				break
			}
			evt := e.eventQ[0]
			e.eventQ = e.eventQ[1:]
			e.eventMu.Unlock()
			e.publish(evt)
		}
	}
}

func (e *Engine) publish(evt any) {
	ctx := context.Background()
	switch evt.(type) {
	case pwsh.DebuggerStopped:
		e.bus.Publish(ctx, event.TopicDebuggerStopped, evt)
	case pwsh.DebuggerResuming:
		e.bus.Publish(ctx, event.TopicDebuggerResuming, evt)
	case pwsh.BreakpointUpdated:
		e.bus.Publish(ctx, event.TopicBreakpointUpdated, evt)
	case pwsh.RunspaceChanged:
		e.bus.Publish(ctx, event.TopicRunspaceChanged, evt)
	}
}

func (e *Engine) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		e.logger.Warn("host stderr", zap.String("line", scanner.Text()))
	}
}

// --- pwsh.Debugger ----------------------------------------------------

// executeBreakpointCmd runs a breakpoint cmdlet and returns its first
// breakpoint result, if any.
func (e *Engine) executeBreakpointCmd(ctx context.Context, cmd *pwsh.Command) (*pwsh.Breakpoint, error) {
	results, err := e.Execute(ctx, cmd, pwsh.ExecOptions{ThrowOnError: true})
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if bp, ok := res.(*pwsh.Breakpoint); ok {
			return bp, nil
		}
	}
	return nil, nil
}

// withRunspace scopes a breakpoint cmdlet to a runspace. The -Runspace
// parameter takes a runspace object, not an id, so the instance id is
// resolved in-engine.
func withRunspace(cmd *pwsh.Command, runspaceID string) *pwsh.Command {
	if runspaceID != "" {
		cmd.Arg("Runspace", pwsh.Raw("(Get-Runspace -InstanceId "+pwsh.QuoteSingle(runspaceID)+")"))
	}
	return cmd
}

// GetBreakpoints lists a runspace's breakpoints.
func (e *Engine) GetBreakpoints(ctx context.Context, runspaceID string) ([]*pwsh.Breakpoint, error) {
	cmd := withRunspace(pwsh.NewCommand("Get-PSBreakpoint"), runspaceID)
	results, err := e.Execute(ctx, cmd, pwsh.ExecOptions{ThrowOnError: true})
	if err != nil {
		return nil, err
	}

	bps := make([]*pwsh.Breakpoint, 0, len(results))
	for _, res := range results {
		if bp, ok := res.(*pwsh.Breakpoint); ok {
			bps = append(bps, bp)
		}
	}
	return bps, nil
}

// SetBreakpoint creates a breakpoint from the recipe.
func (e *Engine) SetBreakpoint(ctx context.Context, runspaceID string, bp *pwsh.Breakpoint) (*pwsh.Breakpoint, error) {
	cmd := pwsh.NewCommand("Set-PSBreakpoint")
	switch bp.Kind {
	case pwsh.KindLine:
		cmd.Arg("Script", bp.Script).Arg("Line", bp.Line)
		if bp.Column > 0 {
			cmd.Arg("Column", bp.Column)
		}
	case pwsh.KindCommand:
		cmd.Arg("Command", bp.Command)
	case pwsh.KindVariable:
		cmd.Arg("Variable", bp.Variable).Arg("Mode", bp.AccessMode.CmdletValue())
	}
	if bp.Action != "" {
		// Action binds as [scriptblock]; a quoted string is rejected.
		cmd.Arg("Action", pwsh.ScriptBlock(bp.Action))
	}
	withRunspace(cmd, runspaceID)

	created, err := e.executeBreakpointCmd(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("engine returned no breakpoint")
	}
	return created, nil
}

// RemoveBreakpoint deletes a breakpoint by id.
func (e *Engine) RemoveBreakpoint(ctx context.Context, runspaceID string, id int) error {
	cmd := withRunspace(pwsh.NewCommand("Remove-PSBreakpoint").Arg("Id", id), runspaceID)
	_, err := e.Execute(ctx, cmd, pwsh.ExecOptions{ThrowOnError: true})
	return err
}

// EnableBreakpoint activates a breakpoint.
func (e *Engine) EnableBreakpoint(ctx context.Context, runspaceID string, id int) (*pwsh.Breakpoint, error) {
	cmd := withRunspace(pwsh.NewCommand("Enable-PSBreakpoint").Arg("Id", id).Arg("PassThru", true), runspaceID)
	return e.executeBreakpointCmd(ctx, cmd)
}

// DisableBreakpoint deactivates a breakpoint.
func (e *Engine) DisableBreakpoint(ctx context.Context, runspaceID string, id int) (*pwsh.Breakpoint, error) {
	cmd := withRunspace(pwsh.NewCommand("Disable-PSBreakpoint").Arg("Id", id).Arg("PassThru", true), runspaceID)
	return e.executeBreakpointCmd(ctx, cmd)
}

// Resume leaves the stopped state. The host intercepts this command
// instead of running it on the pipeline.
func (e *Engine) Resume(ctx context.Context, action pwsh.ResumeAction) error {
	cmd := pwsh.NewCommand("__PSBridge-Resume").Arg("Action", action.String())
	_, err := e.Execute(ctx, cmd, pwsh.ExecOptions{})
	return err
}

// Break requests a halt at the next sequence point.
func (e *Engine) Break(ctx context.Context) error {
	_, err := e.Execute(ctx, pwsh.NewCommand("__PSBridge-Break"), pwsh.ExecOptions{})
	return err
}
