package debug

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psbridge/psbridge/internal/pwsh"
)

// snapshotExecutor answers the scope, call-stack, and expansion queries
// the snapshot issues, and counts expansions per expression.
type snapshotExecutor struct {
	mu         sync.Mutex
	expansions map[string]int
	assigned   map[string]string
}

func newSnapshotExecutor() *snapshotExecutor {
	return &snapshotExecutor{
		expansions: make(map[string]int),
		assigned:   make(map[string]string),
	}
}

func (e *snapshotExecutor) Execute(ctx context.Context, cmd *pwsh.Command, opts pwsh.ExecOptions) ([]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cmd.Name == "Get-Variable" {
		scope, _ := cmd.Param("Scope")
		switch scope {
		case "Global":
			return []any{
				pwsh.VariableRecord{Name: "HOME", Value: "/root", ReadOnly: true},
				pwsh.VariableRecord{Name: "total", Value: "42", TypeName: "System.Int32"},
			}, nil
		case "Script":
			return nil, nil
		case "Local":
			return []any{
				pwsh.VariableRecord{Name: "items", Value: "{1, 2}", TypeName: "System.Object[]", Expandable: true},
			}, nil
		}
		return nil, fmt.Errorf("unexpected scope %v", scope)
	}

	script := cmd.Script
	switch {
	case script == callStackScript:
		return []any{
			pwsh.CallFrameRecord{
				FunctionName: "Get-Widget",
				ScriptPath:   "/tmp/widgets.ps1",
				Line:         12,
				Column:       5,
				Locals: []pwsh.VariableRecord{
					{Name: "_", Value: "widget-1"},
					{Name: "items", Value: "{1, 2}", TypeName: "System.Object[]", Expandable: true},
				},
			},
			pwsh.CallFrameRecord{
				FunctionName: "<ScriptBlock>",
				ScriptPath:   "/tmp/widgets.ps1",
				Line:         30,
				Column:       1,
			},
		}, nil

	case script == "$items":
		e.expansions[script]++
		return []any{pwsh.VariableRecord{
			Name: "items", Value: "{1, 2}", Expandable: true,
			Children: []pwsh.VariableRecord{
				{Name: "[0]", Value: "1", TypeName: "System.Int32"},
				{Name: "[1]", Value: "2", TypeName: "System.Int32"},
			},
		}}, nil

	case strings.Contains(script, " = "):
		parts := strings.SplitN(script, " = ", 2)
		e.assigned[parts[0]] = parts[1]
		return nil, nil

	case script == "$total":
		if v, ok := e.assigned["$total"]; ok {
			return []any{pwsh.VariableRecord{Name: "total", Value: v, TypeName: "System.Int32"}}, nil
		}
		return []any{pwsh.VariableRecord{Name: "total", Value: "42", TypeName: "System.Int32"}}, nil

	case script == "2 + 2":
		return []any{"4"}, nil
	}
	return nil, fmt.Errorf("unexpected script %q", script)
}

func newBuiltSnapshot(t *testing.T, remote bool) (*SnapshotService, *snapshotExecutor) {
	t.Helper()
	exec := newSnapshotExecutor()
	snap := NewSnapshotService(nil, exec)
	stop := pwsh.DebuggerStopped{Runspace: pwsh.RunspaceInfo{Remote: remote}, Reason: "breakpoint"}
	if err := snap.Rebuild(context.Background(), stop); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	return snap, exec
}

func TestSnapshotRebuildScopesAndFrames(t *testing.T) {
	snap, _ := newBuiltSnapshot(t, false)

	scopes, err := snap.Scopes()
	if err != nil {
		t.Fatalf("Scopes failed: %v", err)
	}
	if len(scopes) != 3 {
		t.Fatalf("got %d scopes, want 3", len(scopes))
	}
	wantOrder := []string{"Global", "Script", "Local"}
	for i, scope := range scopes {
		if scope.Name != wantOrder[i] {
			t.Errorf("scope[%d] = %q, want %q", i, scope.Name, wantOrder[i])
		}
		if scope.VariablesID == VariableIDNone {
			t.Errorf("scope %q has the sentinel id", scope.Name)
		}
	}

	frames, err := snap.GetStackFrames()
	if err != nil {
		t.Fatalf("GetStackFrames failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].FunctionName != "Get-Widget" || frames[0].Line != 12 {
		t.Errorf("frame[0] = %+v", frames[0])
	}
}

func TestSnapshotSentinelNeverResolves(t *testing.T) {
	snap, _ := newBuiltSnapshot(t, false)

	if _, err := snap.GetVariables(context.Background(), VariableIDNone); !errors.Is(err, ErrNoSuchContainer) {
		t.Errorf("GetVariables(0) = %v, want ErrNoSuchContainer", err)
	}
	if _, err := snap.GetVariables(context.Background(), 9999); !errors.Is(err, ErrNoSuchContainer) {
		t.Errorf("GetVariables(9999) = %v, want ErrNoSuchContainer", err)
	}
}

func TestSnapshotScopeFiltersReadOnly(t *testing.T) {
	snap, _ := newBuiltSnapshot(t, false)

	scopes, _ := snap.Scopes()
	vars, err := snap.GetVariables(context.Background(), scopes[0].VariablesID)
	if err != nil {
		t.Fatalf("GetVariables failed: %v", err)
	}

	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	if len(vars) != 1 || vars[0].Name != "total" {
		t.Errorf("global scope = %v, want only total", names)
	}
	if vars[0].ID != VariableIDNone {
		t.Errorf("scalar variable carries container id %d", vars[0].ID)
	}
}

func TestSnapshotAutoVariablesSplit(t *testing.T) {
	snap, _ := newBuiltSnapshot(t, false)

	frames, _ := snap.GetStackFrames()
	auto, err := snap.GetVariables(context.Background(), frames[0].AutoVariablesID)
	if err != nil {
		t.Fatalf("GetVariables(auto) failed: %v", err)
	}
	locals, err := snap.GetVariables(context.Background(), frames[0].LocalVariablesID)
	if err != nil {
		t.Fatalf("GetVariables(locals) failed: %v", err)
	}

	if len(auto) != 1 || auto[0].Name != "_" {
		t.Errorf("auto container = %+v, want only $_", auto)
	}
	if len(locals) != 1 || locals[0].Name != "items" {
		t.Errorf("locals container = %+v, want only $items", locals)
	}
}

func TestSnapshotLazyExpansionMemoized(t *testing.T) {
	snap, exec := newBuiltSnapshot(t, false)

	frames, _ := snap.GetStackFrames()
	locals, _ := snap.GetVariables(context.Background(), frames[0].LocalVariablesID)
	itemsID := locals[0].ID
	if itemsID == VariableIDNone {
		t.Fatal("expandable variable has the sentinel id")
	}

	for i := 0; i < 2; i++ {
		children, err := snap.GetVariables(context.Background(), itemsID)
		if err != nil {
			t.Fatalf("GetVariables(items) #%d failed: %v", i+1, err)
		}
		if len(children) != 2 || children[0].Name != "[0]" {
			t.Fatalf("children = %+v, want [0] and [1]", children)
		}
	}

	if got := exec.expansions["$items"]; got != 1 {
		t.Errorf("expansion queries = %d, want 1 (memoized)", got)
	}
}

func TestSnapshotRemoteTruncatesAtDepth(t *testing.T) {
	snap, exec := newBuiltSnapshot(t, true)

	frames, _ := snap.GetStackFrames()
	locals, _ := snap.GetVariables(context.Background(), frames[0].LocalVariablesID)

	children, err := snap.GetVariables(context.Background(), locals[0].ID)
	if err != nil {
		t.Fatalf("GetVariables failed: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("remote truncated value produced %d children", len(children))
	}
	if got := exec.expansions["$items"]; got != 0 {
		t.Errorf("remote snapshot re-queried the engine %d times", got)
	}
}

func TestSnapshotClear(t *testing.T) {
	snap, _ := newBuiltSnapshot(t, false)
	snap.Clear()

	if _, err := snap.GetStackFrames(); !errors.Is(err, ErrNotStopped) {
		t.Errorf("GetStackFrames after Clear = %v, want ErrNotStopped", err)
	}
	if _, err := snap.Scopes(); !errors.Is(err, ErrNotStopped) {
		t.Errorf("Scopes after Clear = %v, want ErrNotStopped", err)
	}
	if _, err := snap.GetVariables(context.Background(), 1); !errors.Is(err, ErrNotStopped) {
		t.Errorf("GetVariables after Clear = %v, want ErrNotStopped", err)
	}
}

func TestSnapshotSetVariable(t *testing.T) {
	snap, exec := newBuiltSnapshot(t, false)

	scopes, _ := snap.Scopes()
	value, err := snap.SetVariable(context.Background(), scopes[0].VariablesID, "total", "99")
	if err != nil {
		t.Fatalf("SetVariable failed: %v", err)
	}
	if value != "99" {
		t.Errorf("value = %q, want 99", value)
	}
	if exec.assigned["$total"] != "99" {
		t.Errorf("assignment = %q, want 99", exec.assigned["$total"])
	}

	if _, err := snap.SetVariable(context.Background(), scopes[0].VariablesID, "missing", "1"); !errors.Is(err, ErrNoSuchVariable) {
		t.Errorf("SetVariable(missing) = %v, want ErrNoSuchVariable", err)
	}
}

func TestSnapshotEvaluate(t *testing.T) {
	snap, _ := newBuiltSnapshot(t, false)

	result, err := snap.Evaluate(context.Background(), "2 + 2", false)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result != "4" {
		t.Errorf("result = %q, want 4", result)
	}
}

// parkingExecutor wraps another executor and parks one specific query
// until released, so a concurrent caller can be lined up deterministically.
type parkingExecutor struct {
	inner   pwsh.Executor
	script  string
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *parkingExecutor) Execute(ctx context.Context, cmd *pwsh.Command, opts pwsh.ExecOptions) ([]any, error) {
	if p.armed.Load() && cmd.Script == p.script {
		p.once.Do(func() { close(p.entered) })
		<-p.release
	}
	return p.inner.Execute(ctx, cmd, opts)
}

func TestSnapshotExpansionExcludesRebuild(t *testing.T) {
	exec := &parkingExecutor{
		inner:   newSnapshotExecutor(),
		script:  "$items",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	snap := NewSnapshotService(nil, exec)
	stop := pwsh.DebuggerStopped{Reason: "breakpoint"}
	if err := snap.Rebuild(context.Background(), stop); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	frames, _ := snap.GetStackFrames()
	locals, err := snap.GetVariables(context.Background(), frames[0].LocalVariablesID)
	if err != nil {
		t.Fatalf("GetVariables(locals) failed: %v", err)
	}
	itemsID := locals[0].ID

	exec.armed.Store(true)
	expanded := make(chan error, 1)
	go func() {
		_, err := snap.GetVariables(context.Background(), itemsID)
		expanded <- err
	}()
	<-exec.entered

	// The in-flight expansion holds the snapshot gate, so a rebuild
	// cannot swap the variable table out from under it.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := snap.Rebuild(ctx, stop); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Rebuild during expansion = %v, want context.DeadlineExceeded", err)
	}

	close(exec.release)
	if err := <-expanded; err != nil {
		t.Fatalf("expansion failed: %v", err)
	}
}

func TestSnapshotGetVariableFromExpression(t *testing.T) {
	snap, _ := newBuiltSnapshot(t, false)

	v, err := snap.GetVariableFromExpression(context.Background(), "$items")
	if err != nil {
		t.Fatalf("GetVariableFromExpression failed: %v", err)
	}
	if v.Name != "items" {
		t.Errorf("name = %q, want items", v.Name)
	}
	if v.ID == VariableIDNone {
		t.Error("expandable expression result has the sentinel id")
	}
}
