package debug

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/psbridge/psbridge/internal/protocol"
	"github.com/psbridge/psbridge/internal/pwsh"
)

// fakeDebugger is an in-memory engine debugger with per-runspace
// breakpoint stores and an operation log.
type fakeDebugger struct {
	mu       sync.Mutex
	supports bool
	nextID   int
	spaces   map[string]map[int]*pwsh.Breakpoint
	ops      []string
}

func newFakeDebugger() *fakeDebugger {
	return &fakeDebugger{
		supports: true,
		spaces:   make(map[string]map[int]*pwsh.Breakpoint),
	}
}

func (d *fakeDebugger) space(runspaceID string) map[int]*pwsh.Breakpoint {
	s, ok := d.spaces[runspaceID]
	if !ok {
		s = make(map[int]*pwsh.Breakpoint)
		d.spaces[runspaceID] = s
	}
	return s
}

func (d *fakeDebugger) SupportsBreakpointAPIs() bool { return d.supports }

func (d *fakeDebugger) GetBreakpoints(ctx context.Context, runspaceID string) ([]*pwsh.Breakpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*pwsh.Breakpoint
	for _, bp := range d.space(runspaceID) {
		out = append(out, bp.Clone())
	}
	return out, nil
}

func (d *fakeDebugger) SetBreakpoint(ctx context.Context, runspaceID string, bp *pwsh.Breakpoint) (*pwsh.Breakpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	created := bp.Clone()
	created.ID = d.nextID
	d.space(runspaceID)[created.ID] = created
	d.ops = append(d.ops, fmt.Sprintf("set:%d", created.ID))
	return created.Clone(), nil
}

func (d *fakeDebugger) RemoveBreakpoint(ctx context.Context, runspaceID string, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.space(runspaceID)[id]; !ok {
		return fmt.Errorf("no breakpoint %d in runspace %q", id, runspaceID)
	}
	delete(d.space(runspaceID), id)
	d.ops = append(d.ops, fmt.Sprintf("remove:%d", id))
	return nil
}

func (d *fakeDebugger) EnableBreakpoint(ctx context.Context, runspaceID string, id int) (*pwsh.Breakpoint, error) {
	return d.toggle(runspaceID, id, true)
}

func (d *fakeDebugger) DisableBreakpoint(ctx context.Context, runspaceID string, id int) (*pwsh.Breakpoint, error) {
	return d.toggle(runspaceID, id, false)
}

func (d *fakeDebugger) toggle(runspaceID string, id int, enable bool) (*pwsh.Breakpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bp, ok := d.space(runspaceID)[id]
	if !ok {
		return nil, fmt.Errorf("no breakpoint %d in runspace %q", id, runspaceID)
	}
	updated := bp.Clone()
	updated.Enabled = enable
	d.space(runspaceID)[id] = updated
	if enable {
		d.ops = append(d.ops, fmt.Sprintf("enable:%d", id))
	} else {
		d.ops = append(d.ops, fmt.Sprintf("disable:%d", id))
	}
	return updated.Clone(), nil
}

func (d *fakeDebugger) Resume(ctx context.Context, action pwsh.ResumeAction) error { return nil }
func (d *fakeDebugger) Break(ctx context.Context) error                           { return nil }

func (d *fakeDebugger) opLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

func (d *fakeDebugger) count(prefix string) int {
	n := 0
	for _, op := range d.opLog() {
		if strings.HasPrefix(op, prefix+":") {
			n++
		}
	}
	return n
}

// fakeExecutor answers cmdlet invocations for engines without direct
// breakpoint APIs. By default it fails so direct-API tests notice
// accidental fallback.
type fakeExecutor struct {
	mu      sync.Mutex
	execute func(cmd *pwsh.Command) ([]any, error)
	cmds    []*pwsh.Command
}

func (e *fakeExecutor) Execute(ctx context.Context, cmd *pwsh.Command, opts pwsh.ExecOptions) ([]any, error) {
	e.mu.Lock()
	e.cmds = append(e.cmds, cmd)
	fn := e.execute
	e.mu.Unlock()
	if fn == nil {
		return nil, errors.New("unexpected executor invocation")
	}
	return fn(cmd)
}

// fakeEditor records notifications and answers setBreakpoint requests
// with generated client ids.
type fakeEditor struct {
	mu            sync.Mutex
	notifications []string
	updateParams  []protocol.BreakpointUpdatedParams
	calls         int
	nextID        int
	failCalls     bool
}

func (e *fakeEditor) Notify(method string, params any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifications = append(e.notifications, method)
	if upd, ok := params.(protocol.BreakpointUpdatedParams); ok {
		e.updateParams = append(e.updateParams, upd)
	}
	return nil
}

func (e *fakeEditor) Call(ctx context.Context, method string, params, result any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failCalls {
		return errors.New("editor unavailable")
	}
	if resp, ok := result.(*protocol.SetBreakpointResponse); ok {
		e.nextID++
		resp.ID = fmt.Sprintf("client-%d", e.nextID)
	}
	return nil
}

func newTestSync(dbg *fakeDebugger, exec *fakeExecutor, editor *fakeEditor) *SyncService {
	return NewSyncService(nil, NewGate(), NewTranslator(nil), dbg, exec, editor)
}

func lineBreakpoint(id string, line int) ClientBreakpoint {
	return ClientBreakpoint{
		ID:       id,
		Enabled:  true,
		Location: &Location{URI: "file:///tmp/test.ps1", Line: line},
	}
}

func TestUpdatedByClientAddsAndAssignsID(t *testing.T) {
	dbg := newFakeDebugger()
	editor := &fakeEditor{}
	svc := newTestSync(dbg, &fakeExecutor{}, editor)

	results, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{lineBreakpoint("", 5)})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Verified {
		t.Errorf("breakpoint not verified: %+v", results[0])
	}
	if results[0].ID == "" {
		t.Error("no client id assigned")
	}
	if editor.calls != 1 {
		t.Errorf("editor setBreakpoint calls = %d, want exactly 1", editor.calls)
	}
	if dbg.count("set") != 1 {
		t.Errorf("native set calls = %d, want 1", dbg.count("set"))
	}

	sb, ok := svc.TryGetBreakpointByClientID(results[0].ID)
	if !ok {
		t.Fatal("pairing not registered")
	}
	if _, ok := svc.TryGetBreakpointByServerID(sb.Server.ID); !ok {
		t.Error("pairing not reachable by server id")
	}
}

func TestUpdatedByClientSkipsUnchanged(t *testing.T) {
	dbg := newFakeDebugger()
	svc := newTestSync(dbg, &fakeExecutor{}, &fakeEditor{})

	first, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{lineBreakpoint("", 5)})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}

	if _, err := svc.UpdatedByClient(context.Background(), first); err != nil {
		t.Fatalf("second UpdatedByClient failed: %v", err)
	}
	if got := dbg.count("set"); got != 1 {
		t.Errorf("native set calls = %d, want 1 (unchanged breakpoint re-created)", got)
	}
	if got := dbg.count("remove"); got != 0 {
		t.Errorf("native remove calls = %d, want 0", got)
	}
}

func TestUpdatedByClientTogglesEnabledOnly(t *testing.T) {
	dbg := newFakeDebugger()
	svc := newTestSync(dbg, &fakeExecutor{}, &fakeEditor{})

	first, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{lineBreakpoint("", 5)})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}

	toggled := first[0]
	toggled.Enabled = false
	if _, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{toggled}); err != nil {
		t.Fatalf("toggle batch failed: %v", err)
	}

	if got := dbg.count("disable"); got != 1 {
		t.Errorf("disable calls = %d, want 1", got)
	}
	if got := dbg.count("set"); got != 1 {
		t.Errorf("set calls = %d, want 1 (toggle must not re-create)", got)
	}
	if got := dbg.count("remove"); got != 0 {
		t.Errorf("remove calls = %d, want 0 (toggle must not remove)", got)
	}

	sb, ok := svc.TryGetBreakpointByClientID(first[0].ID)
	if !ok {
		t.Fatal("pairing lost after toggle")
	}
	if sb.Client.Enabled || sb.Server.Enabled {
		t.Errorf("pairing still enabled after toggle: %+v", sb)
	}
}

func TestUpdatedByClientReplacesChanged(t *testing.T) {
	dbg := newFakeDebugger()
	svc := newTestSync(dbg, &fakeExecutor{}, &fakeEditor{})

	first, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{lineBreakpoint("", 5)})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}
	oldServerID := 1

	changed := first[0]
	changed.Condition = "$i -gt 3"
	if _, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{changed}); err != nil {
		t.Fatalf("changed batch failed: %v", err)
	}

	ops := dbg.opLog()
	if len(ops) != 3 || ops[1] != fmt.Sprintf("remove:%d", oldServerID) || !strings.HasPrefix(ops[2], "set:") {
		t.Errorf("op log = %v, want set, remove:1, set", ops)
	}

	sb, ok := svc.TryGetBreakpointByClientID(first[0].ID)
	if !ok {
		t.Fatal("pairing lost after replace")
	}
	if sb.Server.Action == "" {
		t.Error("replacement breakpoint lost its condition action")
	}
}

func TestUpdatedByClientOrdering(t *testing.T) {
	dbg := newFakeDebugger()
	svc := newTestSync(dbg, &fakeExecutor{}, &fakeEditor{})

	first, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{
		lineBreakpoint("", 5),
		lineBreakpoint("", 6),
	})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}

	// One toggle, one structural change, one brand-new breakpoint in a
	// single batch: removals must precede additions, toggles come last.
	toggled := first[0]
	toggled.Enabled = false
	changed := first[1]
	changed.Condition = "$x"
	batch := []ClientBreakpoint{toggled, changed, lineBreakpoint("", 7)}

	if _, err := svc.UpdatedByClient(context.Background(), batch); err != nil {
		t.Fatalf("mixed batch failed: %v", err)
	}

	ops := dbg.opLog()[2:] // skip the initial two sets
	want := []string{"remove:2", "set:3", "set:4", "disable:1"}
	if len(ops) != len(want) {
		t.Fatalf("op log = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("op log = %v, want %v", ops, want)
		}
	}
}

func TestUpdatedByClientInvalidConditionIsLocal(t *testing.T) {
	dbg := newFakeDebugger()
	svc := newTestSync(dbg, &fakeExecutor{}, &fakeEditor{})

	bad := lineBreakpoint("", 5)
	bad.Condition = "$i == 3"
	good := lineBreakpoint("", 6)

	results, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{bad, good})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}

	if results[0].Verified {
		t.Error("invalid condition verified")
	}
	if !strings.Contains(results[0].Message, "Use '-eq' instead of '=='.") {
		t.Errorf("message = %q, want the operator hint", results[0].Message)
	}
	if !results[1].Verified {
		t.Error("valid breakpoint in the same batch was not created")
	}
	if got := dbg.count("set"); got != 1 {
		t.Errorf("native set calls = %d, want 1", got)
	}
}

func TestRemovedFromClientIgnoresUnknown(t *testing.T) {
	dbg := newFakeDebugger()
	svc := newTestSync(dbg, &fakeExecutor{}, &fakeEditor{})

	err := svc.RemovedFromClient(context.Background(), []ClientBreakpoint{{ID: "never-seen"}})
	if err != nil {
		t.Fatalf("RemovedFromClient failed: %v", err)
	}
	if got := dbg.count("remove"); got != 0 {
		t.Errorf("remove calls = %d, want 0", got)
	}
}

func TestUpdatedByServerUnknownRemovedIsNoop(t *testing.T) {
	dbg := newFakeDebugger()
	editor := &fakeEditor{}
	svc := newTestSync(dbg, &fakeExecutor{}, editor)

	err := svc.UpdatedByServer(context.Background(), pwsh.BreakpointUpdated{
		Breakpoint: &pwsh.Breakpoint{ID: 99},
		Type:       pwsh.UpdateRemoved,
	})
	if err != nil {
		t.Fatalf("UpdatedByServer failed: %v", err)
	}
	if len(editor.notifications) != 0 {
		t.Errorf("notifications = %v, want none", editor.notifications)
	}
	if len(svc.GetSyncedBreakpoints()) != 0 {
		t.Error("pairing appeared out of nowhere")
	}
}

func TestUpdatedByServerUnknownSetSynthesizes(t *testing.T) {
	dbg := newFakeDebugger()
	editor := &fakeEditor{}
	svc := newTestSync(dbg, &fakeExecutor{}, editor)

	err := svc.UpdatedByServer(context.Background(), pwsh.BreakpointUpdated{
		Breakpoint: &pwsh.Breakpoint{ID: 7, Kind: pwsh.KindCommand, Command: "Invoke-DscResource", Enabled: true},
		Type:       pwsh.UpdateSet,
	})
	if err != nil {
		t.Fatalf("UpdatedByServer failed: %v", err)
	}
	if editor.calls != 1 {
		t.Errorf("editor setBreakpoint calls = %d, want 1", editor.calls)
	}

	sb, ok := svc.TryGetBreakpointByServerID(7)
	if !ok {
		t.Fatal("synthesized pairing not registered")
	}
	if sb.Client.ID == "" {
		t.Error("synthesized breakpoint has no client id")
	}
	if sb.Client.FunctionName != "Invoke-DscResource" {
		t.Errorf("FunctionName = %q, want Invoke-DscResource", sb.Client.FunctionName)
	}
}

func TestUpdatedByServerFallsBackToGeneratedID(t *testing.T) {
	dbg := newFakeDebugger()
	editor := &fakeEditor{failCalls: true}
	svc := newTestSync(dbg, &fakeExecutor{}, editor)

	err := svc.UpdatedByServer(context.Background(), pwsh.BreakpointUpdated{
		Breakpoint: &pwsh.Breakpoint{ID: 7, Kind: pwsh.KindCommand, Command: "Test-Thing", Enabled: true},
		Type:       pwsh.UpdateSet,
	})
	if err != nil {
		t.Fatalf("UpdatedByServer failed: %v", err)
	}

	sb, ok := svc.TryGetBreakpointByServerID(7)
	if !ok {
		t.Fatal("pairing not registered")
	}
	if sb.Client.ID == "" {
		t.Error("no generated client id when the editor is unavailable")
	}
}

func TestUpdatedByServerKnownRemoved(t *testing.T) {
	dbg := newFakeDebugger()
	editor := &fakeEditor{}
	svc := newTestSync(dbg, &fakeExecutor{}, editor)

	results, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{lineBreakpoint("", 5)})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}
	sb, _ := svc.TryGetBreakpointByClientID(results[0].ID)

	err = svc.UpdatedByServer(context.Background(), pwsh.BreakpointUpdated{
		Breakpoint: sb.Server,
		Type:       pwsh.UpdateRemoved,
	})
	if err != nil {
		t.Fatalf("UpdatedByServer failed: %v", err)
	}

	if _, ok := svc.TryGetBreakpointByClientID(results[0].ID); ok {
		t.Error("pairing survived server removal")
	}
	if len(editor.updateParams) != 1 || editor.updateParams[0].UpdateType != "removed" {
		t.Errorf("update notifications = %+v, want one 'removed'", editor.updateParams)
	}
}

func TestUpdatedByServerKnownDisabled(t *testing.T) {
	dbg := newFakeDebugger()
	editor := &fakeEditor{}
	svc := newTestSync(dbg, &fakeExecutor{}, editor)

	results, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{lineBreakpoint("", 5)})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}
	sb, _ := svc.TryGetBreakpointByClientID(results[0].ID)

	disabled := sb.Server.Clone()
	disabled.Enabled = false
	err = svc.UpdatedByServer(context.Background(), pwsh.BreakpointUpdated{
		Breakpoint: disabled,
		Type:       pwsh.UpdateDisabled,
	})
	if err != nil {
		t.Fatalf("UpdatedByServer failed: %v", err)
	}

	updated, ok := svc.TryGetBreakpointByClientID(results[0].ID)
	if !ok {
		t.Fatal("pairing lost after server disable")
	}
	if updated.Client.Enabled {
		t.Error("client side still enabled after server disable")
	}
	if len(editor.updateParams) != 1 || editor.updateParams[0].UpdateType != "disabled" {
		t.Errorf("update notifications = %+v, want one 'disabled'", editor.updateParams)
	}
}

func TestSyncServerAfterAttach(t *testing.T) {
	dbg := newFakeDebugger()
	svc := newTestSync(dbg, &fakeExecutor{}, &fakeEditor{})

	results, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{
		lineBreakpoint("", 5),
		lineBreakpoint("", 9),
	})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}

	// The attach target already carries a stale breakpoint that must be
	// wiped before the session's breakpoints are re-created.
	if _, err := dbg.SetBreakpoint(context.Background(), "rs-1", &pwsh.Breakpoint{Kind: pwsh.KindLine, Script: "/old.ps1", Line: 1, Enabled: true}); err != nil {
		t.Fatalf("seed stale breakpoint: %v", err)
	}

	rs := pwsh.RunspaceInfo{ID: "rs-1", Pushed: true}
	if err := svc.SyncServerAfterAttach(context.Background(), rs); err != nil {
		t.Fatalf("SyncServerAfterAttach failed: %v", err)
	}

	native, _ := dbg.GetBreakpoints(context.Background(), "rs-1")
	if len(native) != 2 {
		t.Fatalf("runspace has %d native breakpoints, want 2", len(native))
	}
	for _, bp := range native {
		if bp.Script == "/old.ps1" {
			t.Error("stale breakpoint survived attach")
		}
	}

	for _, res := range results {
		sb, ok := svc.TryGetBreakpointByClientID(res.ID)
		if !ok {
			t.Fatalf("client %s not paired in attached runspace", res.ID)
		}
		if sb.Server.ID == 0 {
			t.Error("attached pairing has no server id")
		}
	}
}

func TestSyncServerAfterRunspacePop(t *testing.T) {
	dbg := newFakeDebugger()
	svc := newTestSync(dbg, &fakeExecutor{}, &fakeEditor{})

	rs := pwsh.RunspaceInfo{ID: "rs-1", Pushed: true}
	if err := svc.SyncServerAfterAttach(context.Background(), rs); err != nil {
		t.Fatalf("SyncServerAfterAttach failed: %v", err)
	}

	// Breakpoint added while inside the pushed runspace is queued for
	// replay against the default session.
	results, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{lineBreakpoint("", 5)})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}

	if err := svc.SyncServerAfterRunspacePop(context.Background()); err != nil {
		t.Fatalf("SyncServerAfterRunspacePop failed: %v", err)
	}

	defaultNative, _ := dbg.GetBreakpoints(context.Background(), "")
	if len(defaultNative) != 1 {
		t.Fatalf("default runspace has %d native breakpoints, want 1", len(defaultNative))
	}

	sb, ok := svc.TryGetBreakpointByClientID(results[0].ID)
	if !ok {
		t.Fatal("replayed pairing missing from the default map")
	}
	if sb.Server.ID != defaultNative[0].ID {
		t.Errorf("pairing server id = %d, want %d", sb.Server.ID, defaultNative[0].ID)
	}
}

func TestCmdletFallbackWhenNoDirectAPIs(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.supports = false

	exec := &fakeExecutor{}
	exec.execute = func(cmd *pwsh.Command) ([]any, error) {
		if cmd.Name != "Set-PSBreakpoint" {
			return nil, fmt.Errorf("unexpected command %q", cmd.Name)
		}
		line, _ := cmd.Param("Line")
		return []any{&pwsh.Breakpoint{
			ID:      42,
			Kind:    pwsh.KindLine,
			Enabled: true,
			Script:  "/tmp/test.ps1",
			Line:    line.(int),
		}}, nil
	}

	svc := newTestSync(dbg, exec, &fakeEditor{})
	results, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{lineBreakpoint("", 5)})
	if err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}
	if !results[0].Verified {
		t.Errorf("breakpoint not verified via cmdlet path: %+v", results[0])
	}
	if dbg.count("set") != 0 {
		t.Error("direct API used despite the capability probe saying no")
	}

	sb, ok := svc.TryGetBreakpointByServerID(42)
	if !ok {
		t.Fatal("cmdlet-created breakpoint not registered")
	}
	if sb.Server.Line != 5 {
		t.Errorf("server line = %d, want 5", sb.Server.Line)
	}
}

func TestCmdletFallbackRendersActionAsScriptBlock(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.supports = false

	exec := &fakeExecutor{}
	exec.execute = func(cmd *pwsh.Command) ([]any, error) {
		return []any{&pwsh.Breakpoint{
			ID:      7,
			Kind:    pwsh.KindLine,
			Enabled: true,
			Script:  "/tmp/test.ps1",
			Line:    5,
		}}, nil
	}

	svc := newTestSync(dbg, exec, &fakeEditor{})
	bp := lineBreakpoint("", 5)
	bp.Condition = "$count -gt 3"
	if _, err := svc.UpdatedByClient(context.Background(), []ClientBreakpoint{bp}); err != nil {
		t.Fatalf("UpdatedByClient failed: %v", err)
	}

	exec.mu.Lock()
	cmds := append([]*pwsh.Command(nil), exec.cmds...)
	exec.mu.Unlock()
	if len(cmds) == 0 {
		t.Fatal("no cmdlet reached the executor")
	}
	text := cmds[0].Text()
	// Set-PSBreakpoint's Action parameter binds as [scriptblock]; a
	// single-quoted string fails parameter binding.
	if !strings.Contains(text, "-Action { ") {
		t.Errorf("action not rendered as a script block: %q", text)
	}
	if strings.Contains(text, "-Action '") {
		t.Errorf("action rendered as a quoted string: %q", text)
	}
}
