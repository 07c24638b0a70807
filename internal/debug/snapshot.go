package debug

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/psbridge/psbridge/internal/pwsh"
)

// VariableIDNone is the sentinel container id meaning "no children".
// It is never assigned to a real container and never resolves.
const VariableIDNone = 0

// Variable is a resolved variable as handed to the editor. ID is
// VariableIDNone when the value has nothing to expand.
type Variable struct {
	ID       int
	Name     string
	Value    string
	TypeName string
}

// Scope is one of the variable scopes captured at a stop.
type Scope struct {
	Name        string
	VariablesID int
}

// StackFrame is one frame of the captured call stack, with the ids of
// its auto-variables and local-variables containers.
type StackFrame struct {
	FunctionName     string
	ScriptPath       string
	Line             int
	Column           int
	AutoVariablesID  int
	LocalVariablesID int
}

// autoVariableNames are the engine automatic variables surfaced in a
// frame's auto-variables container rather than its locals.
var autoVariableNames = map[string]bool{
	"_":                 true,
	"PSItem":            true,
	"args":              true,
	"PSBoundParameters": true,
	"input":             true,
	"MyInvocation":      true,
}

// callStackScript captures each frame's position together with its
// local variable dictionary. A plain Get-PSCallStack invocation only
// yields formatted strings, so the frames are reshaped in-engine.
const callStackScript = `Get-PSCallStack | ForEach-Object {
	[pscustomobject]@{
		FunctionName = $_.Command
		ScriptPath   = $_.ScriptName
		Line         = $_.ScriptLineNumber
		Column       = $_.Position.StartColumnNumber
		Locals       = $_.GetFrameVariables()
	}
}`

// variableEntry is the snapshot's internal node: a scope container, a
// listed variable, or a lazily expanded child.
type variableEntry struct {
	id   int
	name string
	// path is the engine expression that re-resolves this node, for
	// example "$items" or "($items).Count". Empty for scope containers.
	path   string
	record pwsh.VariableRecord

	// childIDs memoizes the expansion. nil means not expanded yet;
	// non-nil (possibly empty) means done.
	childIDs []int
}

// SnapshotService owns the debug-session snapshot: the variable scopes
// and call stack captured at each stop. The snapshot is rebuilt
// wholesale on every stop under its own gate, independent of the
// breakpoint mutation gate, and ids from a previous stop never survive
// into the next.
type SnapshotService struct {
	logger   *zap.Logger
	gate     *Gate
	executor pwsh.Executor

	mu      sync.Mutex
	built   bool
	remote  bool
	nextID  int
	entries map[int]*variableEntry
	scopes  []Scope
	frames  []StackFrame
}

// NewSnapshotService creates an empty snapshot bound to the executor.
func NewSnapshotService(logger *zap.Logger, executor pwsh.Executor) *SnapshotService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotService{
		logger:   logger,
		gate:     NewGate(),
		executor: executor,
		entries:  make(map[int]*variableEntry),
	}
}

// Rebuild discards the previous snapshot and captures scopes and call
// stack for the current stop. Safe to call on every stop; concurrent
// rebuilds serialize on the snapshot gate.
func (s *SnapshotService) Rebuild(ctx context.Context, stop pwsh.DebuggerStopped) error {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	s.built = false
	s.remote = stop.Runspace.Remote
	s.nextID = VariableIDNone
	s.entries = make(map[int]*variableEntry)
	s.scopes = nil
	s.frames = nil
	s.mu.Unlock()

	for _, scope := range []string{"Global", "Script", "Local"} {
		id, err := s.captureScope(ctx, scope)
		if err != nil {
			if isCancellation(err) {
				return err
			}
			s.logger.Error("capture scope", zap.Error(err), zap.String("scope", scope))
			continue
		}
		s.mu.Lock()
		s.scopes = append(s.scopes, Scope{Name: scope, VariablesID: id})
		s.mu.Unlock()
	}

	if err := s.captureCallStack(ctx); err != nil {
		if isCancellation(err) {
			return err
		}
		s.logger.Error("capture call stack", zap.Error(err))
	}

	s.mu.Lock()
	s.built = true
	s.mu.Unlock()
	return nil
}

// Clear drops the snapshot when the engine resumes.
func (s *SnapshotService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.built = false
	s.entries = make(map[int]*variableEntry)
	s.scopes = nil
	s.frames = nil
}

// Scopes returns the captured scopes.
func (s *SnapshotService) Scopes() ([]Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.built {
		return nil, ErrNotStopped
	}
	return append([]Scope(nil), s.scopes...), nil
}

// GetStackFrames returns the captured call stack.
func (s *SnapshotService) GetStackFrames() ([]StackFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.built {
		return nil, ErrNotStopped
	}
	return append([]StackFrame(nil), s.frames...), nil
}

// GetVariables resolves a container's children, expanding lazily on
// first access and memoizing the result. VariableIDNone never resolves.
func (s *SnapshotService) GetVariables(ctx context.Context, id int) ([]Variable, error) {
	// The gate comes first: resolving the entry before holding it would
	// let a rebuild slot in and the stale entry expand into the fresh
	// table.
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	built := s.built
	entry, ok := s.entries[id]
	s.mu.Unlock()
	if !built {
		return nil, ErrNotStopped
	}
	if id == VariableIDNone || !ok {
		return nil, ErrNoSuchContainer
	}

	childIDs, err := s.expand(ctx, entry)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Variable, 0, len(childIDs))
	for _, cid := range childIDs {
		if child, ok := s.entries[cid]; ok {
			result = append(result, child.variable())
		}
	}
	return result, nil
}

// GetVariableFromExpression evaluates an expression and exposes the
// result as a snapshot variable, expandable like any other. Used for
// hover and watch requests while stopped.
func (s *SnapshotService) GetVariableFromExpression(ctx context.Context, expr string) (Variable, error) {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return Variable{}, err
	}
	defer release()

	s.mu.Lock()
	built := s.built
	s.mu.Unlock()
	if !built {
		return Variable{}, ErrNotStopped
	}

	rec, err := s.queryRecord(ctx, expr)
	if err != nil {
		return Variable{}, err
	}
	if rec == nil {
		return Variable{}, NewInvalidExpressionError(expr, "Expression '%s' produced no value.", expr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.registerLocked(*rec, expr)
	return entry.variable(), nil
}

// SetVariable assigns a new value to a named variable inside a
// container and returns the value as the engine now renders it. When
// the host declares a value converter, the raw input runs through it
// before assignment.
func (s *SnapshotService) SetVariable(ctx context.Context, containerID int, name, value string) (string, error) {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	s.mu.Lock()
	built := s.built
	container, ok := s.entries[containerID]
	s.mu.Unlock()
	if !built {
		return "", ErrNotStopped
	}
	if containerID == VariableIDNone || !ok {
		return "", ErrNoSuchContainer
	}

	target, err := s.findChild(container, name)
	if err != nil {
		return "", err
	}

	if converter, ok := s.executor.(pwsh.ValueConverter); ok {
		converted, err := converter.ConvertValue(ctx, name, value)
		if err != nil {
			return "", NewInvalidExpressionError(value, "Error converting value for '%s': %s", name, err.Error())
		}
		value = converted
	}

	assign := pwsh.NewScript(fmt.Sprintf("%s = %s", target.path, value))
	if _, err := s.executor.Execute(ctx, assign, pwsh.ExecOptions{ThrowOnError: true}); err != nil {
		return "", err
	}

	rec, err := s.queryRecord(ctx, target.path)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return value, nil
	}

	// Copy-and-replace the entry so readers never see a half-updated
	// record; the expansion memo is invalidated with it.
	s.mu.Lock()
	updated := *target
	updated.record = *rec
	updated.record.Name = target.record.Name
	updated.childIDs = nil
	s.entries[target.id] = &updated
	s.mu.Unlock()

	return rec.Value, nil
}

// Evaluate runs an expression on the pipeline thread and returns its
// formatted output.
func (s *SnapshotService) Evaluate(ctx context.Context, expr string, writeToHost bool) (string, error) {
	results, err := s.executor.Execute(ctx, pwsh.NewScript(expr), pwsh.ExecOptions{
		WriteOutputToHost: writeToHost,
	})
	if err != nil {
		return "", err
	}

	var lines []string
	for _, res := range results {
		switch v := res.(type) {
		case string:
			lines = append(lines, v)
		case pwsh.VariableRecord:
			lines = append(lines, v.Value)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// captureScope lists one scope's variables and registers them under a
// new container. Constant and read-only engine built-ins are filtered
// out unless they are well-known automatic variables.
func (s *SnapshotService) captureScope(ctx context.Context, scope string) (int, error) {
	cmd := pwsh.NewCommand("Get-Variable").Arg("Scope", scope)
	results, err := s.executor.Execute(ctx, cmd, pwsh.ExecOptions{ThrowOnError: true})
	if err != nil {
		return VariableIDNone, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	container := s.newContainerLocked(scope)
	for _, res := range results {
		rec, ok := res.(pwsh.VariableRecord)
		if !ok {
			continue
		}
		if (rec.Constant || rec.ReadOnly) && !autoVariableNames[rec.Name] {
			continue
		}
		// Hide the backend's own hit-count globals.
		if strings.HasPrefix(rec.Name, "__psbridge") {
			continue
		}
		child := s.registerLocked(rec, "$"+rec.Name)
		container.childIDs = append(container.childIDs, child.id)
	}
	return container.id, nil
}

// captureCallStack runs the scripted stack query and registers each
// frame's auto and local containers.
func (s *SnapshotService) captureCallStack(ctx context.Context) error {
	results, err := s.executor.Execute(ctx, pwsh.NewScript(callStackScript), pwsh.ExecOptions{ThrowOnError: true})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, res := range results {
		frame, ok := res.(pwsh.CallFrameRecord)
		if !ok {
			continue
		}

		auto := s.newContainerLocked(frame.FunctionName + " (auto)")
		local := s.newContainerLocked(frame.FunctionName + " (locals)")
		for _, rec := range frame.Locals {
			child := s.registerLocked(rec, "$"+rec.Name)
			if autoVariableNames[rec.Name] {
				auto.childIDs = append(auto.childIDs, child.id)
			} else {
				local.childIDs = append(local.childIDs, child.id)
			}
		}

		s.frames = append(s.frames, StackFrame{
			FunctionName:     frame.FunctionName,
			ScriptPath:       frame.ScriptPath,
			Line:             frame.Line,
			Column:           frame.Column,
			AutoVariablesID:  auto.id,
			LocalVariablesID: local.id,
		})
	}
	return nil
}

// expand resolves an entry's children, memoized. Children the engine
// already serialized (remote fixed-depth trees) are used as-is; a local
// expandable value with no serialized children is re-queried through
// its path expression.
func (s *SnapshotService) expand(ctx context.Context, entry *variableEntry) ([]int, error) {
	s.mu.Lock()
	if entry.childIDs != nil {
		ids := entry.childIDs
		s.mu.Unlock()
		return ids, nil
	}
	children := entry.record.Children
	expandable := entry.record.Expandable
	s.mu.Unlock()

	if len(children) == 0 && expandable && entry.path != "" {
		if s.remote {
			// The remote serialization already truncated at depth;
			// there is nothing more to fetch.
			children = nil
		} else {
			rec, err := s.queryRecord(ctx, entry.path)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				children = rec.Children
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.childIDs != nil {
		return entry.childIDs, nil
	}

	ids := make([]int, 0, len(children))
	for _, rec := range children {
		child := s.registerLocked(rec, childPath(entry.path, rec.Name))
		ids = append(ids, child.id)
	}
	entry.childIDs = ids
	return ids, nil
}

// queryRecord evaluates an expression and returns its first variable
// record, nil when the expression produced none.
func (s *SnapshotService) queryRecord(ctx context.Context, expr string) (*pwsh.VariableRecord, error) {
	results, err := s.executor.Execute(ctx, pwsh.NewScript(expr), pwsh.ExecOptions{ThrowOnError: true})
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if rec, ok := res.(pwsh.VariableRecord); ok {
			return &rec, nil
		}
	}
	return nil, nil
}

// findChild locates a named variable inside a container, which must
// already have been listed by the editor.
func (s *SnapshotService) findChild(container *variableEntry, name string) (*variableEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cid := range container.childIDs {
		child, ok := s.entries[cid]
		if ok && child.record.Name == name {
			return child, nil
		}
	}
	return nil, ErrNoSuchVariable
}

// newContainerLocked creates an empty synthetic container entry.
// Callers hold s.mu.
func (s *SnapshotService) newContainerLocked(name string) *variableEntry {
	s.nextID++
	entry := &variableEntry{
		id:       s.nextID,
		name:     name,
		record:   pwsh.VariableRecord{Name: name, Expandable: true},
		childIDs: []int{},
	}
	s.entries[entry.id] = entry
	return entry
}

// registerLocked assigns an id to a record and stores it. Callers hold
// s.mu.
func (s *SnapshotService) registerLocked(rec pwsh.VariableRecord, path string) *variableEntry {
	s.nextID++
	entry := &variableEntry{
		id:     s.nextID,
		name:   rec.Name,
		path:   path,
		record: rec,
	}
	s.entries[entry.id] = entry
	return entry
}

// variable renders the entry in editor-facing form.
func (e *variableEntry) variable() Variable {
	id := VariableIDNone
	if e.record.Expandable {
		id = e.id
	}
	return Variable{
		ID:       id,
		Name:     e.record.Name,
		Value:    e.record.Value,
		TypeName: e.record.TypeName,
	}
}

// childPath composes the expression that re-resolves a child: indexed
// children ("[0]") append directly, named properties dot in.
func childPath(parent, childName string) string {
	if parent == "" {
		return ""
	}
	if strings.HasPrefix(childName, "[") {
		return fmt.Sprintf("(%s)%s", parent, childName)
	}
	return fmt.Sprintf("(%s).%s", parent, childName)
}
