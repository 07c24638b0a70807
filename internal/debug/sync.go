package debug

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psbridge/psbridge/internal/protocol"
	"github.com/psbridge/psbridge/internal/pwsh"
)

// EditorConnection is the slice of the editor protocol connection the
// sync engine needs: fire-and-forget notifications, and the single
// request used to obtain a client ID for a server-originated
// breakpoint. *protocol.Conn satisfies it.
type EditorConnection interface {
	Notify(method string, params any) error
	Call(ctx context.Context, method string, params, result any) error
}

// SyncService reconciles the editor's breakpoints with the engine's.
// Client-originated batches and engine-originated events serialize
// through one mutation gate; per-runspace breakpoint maps hold the
// paired truth.
type SyncService struct {
	logger     *zap.Logger
	gate       *Gate
	maps       *MapRegistry
	translator *Translator
	debugger   pwsh.Debugger
	executor   pwsh.Executor
	editor     EditorConnection

	mu            sync.Mutex
	active        pwsh.RunspaceInfo
	pendingAdd    []SyncedBreakpoint
	pendingRemove []SyncedBreakpoint
}

// NewSyncService wires the sync engine. The gate is shared with the
// state service so IsSettingBreakpoints reflects these mutations.
func NewSyncService(logger *zap.Logger, gate *Gate, translator *Translator, debugger pwsh.Debugger, executor pwsh.Executor, editor EditorConnection) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		logger:     logger,
		gate:       gate,
		maps:       NewMapRegistry(),
		translator: translator,
		debugger:   debugger,
		executor:   executor,
		editor:     editor,
	}
}

// Gate returns the mutation gate.
func (s *SyncService) Gate() *Gate {
	return s.gate
}

// ActiveRunspace returns the runspace mutations currently target.
func (s *SyncService) ActiveRunspace() pwsh.RunspaceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *SyncService) currentMap() *BreakpointMap {
	return s.maps.ForRunspace(s.ActiveRunspace().ID)
}

// GetSyncedBreakpoints returns the active runspace's pairings.
func (s *SyncService) GetSyncedBreakpoints() []SyncedBreakpoint {
	return s.currentMap().All()
}

// TryGetBreakpointByClientID looks up a pairing in the active runspace.
func (s *SyncService) TryGetBreakpointByClientID(id string) (SyncedBreakpoint, bool) {
	return s.currentMap().GetByClientID(id)
}

// TryGetBreakpointByServerID looks up a pairing in the active runspace.
func (s *SyncService) TryGetBreakpointByServerID(id int) (SyncedBreakpoint, bool) {
	return s.currentMap().GetByServerID(id)
}

// DropRunspace discards a runspace's map once the runspace is known to
// be permanently gone.
func (s *SyncService) DropRunspace(runspaceID string) {
	s.maps.Drop(runspaceID)
}

// register records a pairing in the active runspace's map. Inside a
// pushed runspace the pairing is also queued for replay against the
// default session when the runspace pops.
func (s *SyncService) register(sb SyncedBreakpoint) {
	s.mu.Lock()
	rs := s.active
	if rs.Pushed {
		s.pendingAdd = append(s.pendingAdd, sb)
	}
	s.mu.Unlock()

	s.maps.ForRunspace(rs.ID).Register(sb)
}

// unregister removes a pairing from the active runspace's map,
// queueing it for replay when inside a pushed runspace.
func (s *SyncService) unregister(sb SyncedBreakpoint) {
	s.mu.Lock()
	rs := s.active
	if rs.Pushed {
		s.pendingRemove = append(s.pendingRemove, sb)
	}
	s.mu.Unlock()

	s.maps.ForRunspace(rs.ID).Unregister(sb)
}

// UpdatedByClient applies a desired-breakpoint batch from the editor.
// The batch carries superset semantics: every breakpoint the editor
// wants for some source or function group, not a delta.
//
// Classification per incoming breakpoint: unseen client IDs are
// translated and added; structurally identical ones are skipped; an
// Enabled-only difference becomes a cheap native toggle; anything else
// is removed and re-added. Removals run before additions, additions
// before toggles, so a single location never briefly holds two
// breakpoints.
func (s *SyncService) UpdatedByClient(ctx context.Context, batch []ClientBreakpoint) ([]ClientBreakpoint, error) {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	m := s.currentMap()
	results := make([]ClientBreakpoint, len(batch))

	type addOp struct {
		bp  ClientBreakpoint
		idx int
	}
	type toggleOp struct {
		sb      SyncedBreakpoint
		enabled bool
		idx     int
	}
	var removals []SyncedBreakpoint
	var adds []addOp
	var toggles []toggleOp

	for i, bp := range batch {
		results[i] = bp

		if bp.ID != "" {
			if existing, ok := m.GetByClientID(bp.ID); ok {
				switch {
				case existing.Client.Equal(bp):
					results[i] = existing.Client
				case existing.Client.EqualExceptEnabled(bp):
					toggles = append(toggles, toggleOp{sb: existing, enabled: bp.Enabled, idx: i})
				default:
					removals = append(removals, existing)
					adds = append(adds, addOp{bp: bp, idx: i})
				}
				continue
			}
		}
		adds = append(adds, addOp{bp: bp, idx: i})
	}

	for _, sb := range removals {
		if err := s.removeSynced(ctx, sb); err != nil {
			if isCancellation(err) {
				return results, err
			}
			s.logger.Error("remove breakpoint during update", zap.Error(err), zap.Int("serverId", sb.Server.ID))
		}
	}

	for _, op := range adds {
		updated, err := s.addSynced(ctx, op.bp)
		results[op.idx] = updated
		if err != nil {
			if isCancellation(err) {
				return results, err
			}
			s.logger.Error("add breakpoint during update", zap.Error(err), zap.String("clientId", op.bp.ID))
		}
	}

	for _, op := range toggles {
		updated, err := s.toggleSynced(ctx, op.sb, op.enabled)
		results[op.idx] = updated.Client
		if err != nil {
			if isCancellation(err) {
				return results, err
			}
			s.logger.Error("toggle breakpoint during update", zap.Error(err), zap.Int("serverId", op.sb.Server.ID))
		}
	}

	return results, nil
}

// FromClient translates and adds a batch of breakpoints the editor
// knows to be new.
func (s *SyncService) FromClient(ctx context.Context, batch []ClientBreakpoint) ([]ClientBreakpoint, error) {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	results := make([]ClientBreakpoint, len(batch))
	for i, bp := range batch {
		updated, err := s.addSynced(ctx, bp)
		results[i] = updated
		if err != nil {
			if isCancellation(err) {
				return results, err
			}
			s.logger.Error("add breakpoint", zap.Error(err), zap.String("clientId", bp.ID))
		}
	}
	return results, nil
}

// RemovedFromClient removes a batch of breakpoints by client ID.
// Unknown IDs are ignored.
func (s *SyncService) RemovedFromClient(ctx context.Context, batch []ClientBreakpoint) error {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	m := s.currentMap()
	for _, bp := range batch {
		sb, ok := m.GetByClientID(bp.ID)
		if !ok {
			continue
		}
		if err := s.removeSynced(ctx, sb); err != nil {
			if isCancellation(err) {
				return err
			}
			s.logger.Error("remove breakpoint", zap.Error(err), zap.String("clientId", bp.ID))
		}
	}
	return nil
}

// UpdatedByServer reconciles an engine-originated breakpoint change.
// The engine is the source of truth here: the map and the editor are
// brought in line with what it reports.
func (s *SyncService) UpdatedByServer(ctx context.Context, upd pwsh.BreakpointUpdated) error {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	m := s.currentMap()
	existing, known := m.GetByServerID(upd.Breakpoint.ID)

	switch {
	case !known && upd.Type == pwsh.UpdateRemoved:
		// The editor never learned about it; nothing to reconcile.
		return nil

	case !known:
		// The engine set a breakpoint the editor didn't request, for
		// example while breaking into a DSC resource. Synthesize the
		// client side and ask the editor for an ID.
		client := clientFromServer(upd.Breakpoint)
		id, err := s.requestClientID(ctx, client, upd.Breakpoint)
		if err != nil {
			if isCancellation(err) {
				return err
			}
			s.logger.Warn("editor did not assign a breakpoint id, generating one", zap.Error(err))
			id = uuid.NewString()
		}
		client.ID = id
		s.register(SyncedBreakpoint{Client: client, Server: upd.Breakpoint.Clone()})
		return nil

	case upd.Type == pwsh.UpdateRemoved:
		s.unregister(existing)
		s.notifyUpdated(existing.Client, upd.Type)
		return nil

	case upd.Type == pwsh.UpdateEnabled || upd.Type == pwsh.UpdateDisabled:
		s.notifyUpdated(existing.Client, upd.Type)
		updated := existing.WithEnabled(upd.Type == pwsh.UpdateEnabled)
		m.Unregister(existing)
		m.Register(updated)
		return nil

	default:
		// A duplicate "set" for an already-synced breakpoint is an
		// internal inconsistency. Dump both sides and do nothing; this
		// must never tear the session down.
		s.logger.Error("server reported set for an already-synced breakpoint",
			zap.Int("serverId", upd.Breakpoint.ID),
			zap.String("server", upd.Breakpoint.String()),
			zap.Bool("serverEnabled", upd.Breakpoint.Enabled),
			zap.String("serverAction", upd.Breakpoint.Action),
			zap.String("clientId", existing.Client.ID),
			zap.Bool("clientEnabled", existing.Client.Enabled),
			zap.String("clientCondition", existing.Client.Condition),
			zap.String("clientHitCondition", existing.Client.HitCondition),
			zap.String("clientFunction", existing.Client.FunctionName),
		)
		return nil
	}
}

// SyncServerAfterAttach rebuilds a freshly attached runspace's debugger
// from the default session's breakpoints: wipe whatever the runspace
// has, re-create every default-map breakpoint against it, and register
// the new pairings in the runspace's own map.
//
// The gate is only probed, not awaited: attach transitions are not
// expected to race user-initiated edits, and the small window is an
// accepted race.
func (s *SyncService) SyncServerAfterAttach(ctx context.Context, rs pwsh.RunspaceInfo) error {
	if release, ok := s.gate.TryAcquire(); ok {
		defer release()
	}

	s.mu.Lock()
	s.active = rs
	s.mu.Unlock()

	existing, err := s.getNative(ctx, rs.ID)
	if err != nil {
		s.logger.Error("list breakpoints after attach", zap.Error(err), zap.String("runspaceId", rs.ID))
	}
	for _, bp := range existing {
		if err := s.removeNative(ctx, rs.ID, bp.ID); err != nil {
			if isCancellation(err) {
				return err
			}
			s.logger.Error("clear breakpoint after attach", zap.Error(err), zap.Int("serverId", bp.ID))
		}
	}

	rsMap := s.maps.ForRunspace(rs.ID)
	for _, sb := range s.maps.Default().All() {
		recipe := sb.Server.Clone()
		recipe.ID = 0
		native, err := s.setNative(ctx, rs.ID, recipe)
		if err != nil {
			if isCancellation(err) {
				return err
			}
			s.logger.Error("re-create breakpoint after attach", zap.Error(err), zap.String("clientId", sb.Client.ID))
			continue
		}
		rsMap.Register(SyncedBreakpoint{Client: sb.Client, Server: native})
	}
	return nil
}

// SyncServerAfterRunspacePop replays the mutations queued while inside
// a pushed runspace against the default session: pending removals
// first, then pending additions. Same non-blocking gate probe as
// attach.
func (s *SyncService) SyncServerAfterRunspacePop(ctx context.Context) error {
	if release, ok := s.gate.TryAcquire(); ok {
		defer release()
	}

	s.mu.Lock()
	s.active = pwsh.DefaultRunspace
	removals := s.pendingRemove
	adds := s.pendingAdd
	s.pendingRemove = nil
	s.pendingAdd = nil
	s.mu.Unlock()

	def := s.maps.Default()

	for _, sb := range removals {
		def.Unregister(sb)
		if err := s.removeNative(ctx, pwsh.DefaultRunspace.ID, sb.Server.ID); err != nil {
			if isCancellation(err) {
				return err
			}
			s.logger.Error("replay breakpoint removal after pop", zap.Error(err), zap.Int("serverId", sb.Server.ID))
		}
	}

	for _, sb := range adds {
		recipe := sb.Server.Clone()
		recipe.ID = 0
		native, err := s.setNative(ctx, pwsh.DefaultRunspace.ID, recipe)
		if err != nil {
			if isCancellation(err) {
				return err
			}
			s.logger.Error("replay breakpoint addition after pop", zap.Error(err), zap.String("clientId", sb.Client.ID))
			continue
		}
		def.Register(SyncedBreakpoint{Client: sb.Client, Server: native})
	}
	return nil
}

// addSynced translates one client breakpoint, creates it natively, and
// registers the pairing. Translation failures mark the breakpoint
// unverified and are not errors; engine failures are returned.
func (s *SyncService) addSynced(ctx context.Context, bp ClientBreakpoint) (ClientBreakpoint, error) {
	info, err := s.translator.Translate(bp)
	if err != nil {
		var exprErr *InvalidExpressionError
		if errors.As(err, &exprErr) {
			bp.Verified = false
			bp.Message = exprErr.Reason
			return bp, nil
		}
		return bp, err
	}
	if info == nil {
		// Untranslatable: silently dropped.
		bp.Verified = false
		return bp, nil
	}

	rsID := s.ActiveRunspace().ID
	native, err := s.setNative(ctx, rsID, info.Native(bp.Enabled))
	if err != nil {
		bp.Verified = false
		bp.Message = err.Error()
		return bp, err
	}

	if !bp.Enabled && native.Enabled {
		toggled, err := s.toggleNative(ctx, rsID, native.ID, false)
		if err != nil {
			s.logger.Error("disable freshly created breakpoint", zap.Error(err), zap.Int("serverId", native.ID))
		} else if toggled != nil {
			native = toggled
		} else {
			native.Enabled = false
		}
	}

	bp.Verified = true
	bp.Message = ""
	if bp.ID == "" {
		id, err := s.requestClientID(ctx, bp, native)
		if err != nil {
			if isCancellation(err) {
				return bp, err
			}
			s.logger.Warn("editor did not assign a breakpoint id, generating one", zap.Error(err))
			id = uuid.NewString()
		}
		bp.ID = id
	}

	s.register(SyncedBreakpoint{Client: bp, Server: native})
	return bp, nil
}

// removeSynced unregisters a pairing and deletes its native side.
func (s *SyncService) removeSynced(ctx context.Context, sb SyncedBreakpoint) error {
	s.unregister(sb)
	return s.removeNative(ctx, s.ActiveRunspace().ID, sb.Server.ID)
}

// toggleSynced flips only the Enabled flag: one native enable/disable
// call and a copy-and-replace of the map entry, no remove/re-add.
func (s *SyncService) toggleSynced(ctx context.Context, sb SyncedBreakpoint, enabled bool) (SyncedBreakpoint, error) {
	native, err := s.toggleNative(ctx, s.ActiveRunspace().ID, sb.Server.ID, enabled)
	if err != nil {
		return sb, err
	}

	updated := sb.WithEnabled(enabled)
	if native != nil {
		updated.Server = native
	}

	m := s.currentMap()
	m.Unregister(sb)
	m.Register(updated)
	return updated, nil
}

// requestClientID asks the editor to assign a client ID for a
// breakpoint it has not seen yet. This is the only server→editor
// request the sync engine issues.
func (s *SyncService) requestClientID(ctx context.Context, bp ClientBreakpoint, native *pwsh.Breakpoint) (string, error) {
	params := protocol.SetBreakpointParams{Breakpoint: toWire(bp)}
	var resp protocol.SetBreakpointResponse
	if err := s.editor.Call(ctx, protocol.MethodSetBreakpoint, params, &resp); err != nil {
		return "", fmt.Errorf("request breakpoint id for server breakpoint %d: %w", native.ID, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("editor returned empty breakpoint id for server breakpoint %d", native.ID)
	}
	return resp.ID, nil
}

// notifyUpdated pushes an engine-driven change to the editor.
func (s *SyncService) notifyUpdated(bp ClientBreakpoint, updType pwsh.UpdateType) {
	params := protocol.BreakpointUpdatedParams{
		Breakpoint: toWire(bp),
		UpdateType: updType.String(),
	}
	if err := s.editor.Notify(protocol.MethodBreakpointUpdated, params); err != nil {
		s.logger.Warn("notify breakpoint update", zap.Error(err), zap.String("clientId", bp.ID))
	}
}

// clientFromServer synthesizes an editor-facing breakpoint from a
// native one the editor never requested.
func clientFromServer(bp *pwsh.Breakpoint) ClientBreakpoint {
	client := ClientBreakpoint{
		Enabled:  bp.Enabled,
		Verified: true,
	}
	switch bp.Kind {
	case pwsh.KindLine:
		client.Location = &Location{URI: bp.Script, Line: bp.Line, Column: bp.Column}
	case pwsh.KindCommand:
		client.FunctionName = bp.Command
	case pwsh.KindVariable:
		suffix := ""
		switch bp.AccessMode {
		case pwsh.AccessRead:
			suffix = "!R"
		case pwsh.AccessWrite:
			suffix = "!W"
		}
		client.FunctionName = "$" + bp.Variable + suffix
	}
	return client
}

// toWire converts a client breakpoint to its protocol form.
func toWire(bp ClientBreakpoint) protocol.BreakpointData {
	data := protocol.BreakpointData{
		ID:           bp.ID,
		Enabled:      bp.Enabled,
		Condition:    bp.Condition,
		HitCondition: bp.HitCondition,
		LogMessage:   bp.LogMessage,
		FunctionName: bp.FunctionName,
		Verified:     bp.Verified,
		Message:      bp.Message,
	}
	if bp.Location != nil {
		data.Source = bp.Location.URI
		data.Line = bp.Location.Line
		data.Column = bp.Location.Column
	}
	return data
}

// fromWire converts a protocol breakpoint to the client form.
func fromWire(data protocol.BreakpointData) ClientBreakpoint {
	bp := ClientBreakpoint{
		ID:           data.ID,
		Enabled:      data.Enabled,
		Condition:    data.Condition,
		HitCondition: data.HitCondition,
		LogMessage:   data.LogMessage,
		FunctionName: data.FunctionName,
	}
	if data.Source != "" {
		bp.Location = &Location{URI: data.Source, Line: data.Line, Column: data.Column}
	}
	return bp
}

// isCancellation reports whether err is a context cancellation, which
// propagates to the caller untouched instead of being contained.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// --- native execution indirection -----------------------------------
//
// Engines with direct breakpoint APIs take the direct path; older ones
// get the equivalent cmdlet marshaled through the executor. Both paths
// meet in runNative so the sync logic above is version-agnostic.

// nativeOp is one breakpoint mutation expressed both ways.
type nativeOp struct {
	direct  func(ctx context.Context) (*pwsh.Breakpoint, error)
	command *pwsh.Command
}

func (s *SyncService) runNative(ctx context.Context, op nativeOp) (*pwsh.Breakpoint, error) {
	if s.debugger.SupportsBreakpointAPIs() {
		return op.direct(ctx)
	}

	results, err := s.executor.Execute(ctx, op.command, pwsh.ExecOptions{ThrowOnError: true})
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

func (s *SyncService) setNative(ctx context.Context, runspaceID string, recipe *pwsh.Breakpoint) (*pwsh.Breakpoint, error) {
	cmd := pwsh.NewCommand("Set-PSBreakpoint")
	switch recipe.Kind {
	case pwsh.KindLine:
		cmd.Arg("Script", recipe.Script).Arg("Line", recipe.Line)
		if recipe.Column > 0 {
			cmd.Arg("Column", recipe.Column)
		}
	case pwsh.KindCommand:
		cmd.Arg("Command", recipe.Command)
	case pwsh.KindVariable:
		cmd.Arg("Variable", recipe.Variable).Arg("Mode", recipe.AccessMode.CmdletValue())
	}
	if recipe.Action != "" {
		// Action binds as [scriptblock]; a quoted string is rejected.
		cmd.Arg("Action", pwsh.ScriptBlock(recipe.Action))
	}

	native, err := s.runNative(ctx, nativeOp{
		direct: func(ctx context.Context) (*pwsh.Breakpoint, error) {
			return s.debugger.SetBreakpoint(ctx, runspaceID, recipe)
		},
		command: cmd,
	})
	if err != nil {
		return nil, err
	}
	if native == nil {
		return nil, fmt.Errorf("engine returned no breakpoint for %s", strings.ToLower(recipe.Kind.String()))
	}
	return native, nil
}

func (s *SyncService) removeNative(ctx context.Context, runspaceID string, id int) error {
	_, err := s.runNative(ctx, nativeOp{
		direct: func(ctx context.Context) (*pwsh.Breakpoint, error) {
			return nil, s.debugger.RemoveBreakpoint(ctx, runspaceID, id)
		},
		command: pwsh.NewCommand("Remove-PSBreakpoint").Arg("Id", id),
	})
	return err
}

func (s *SyncService) toggleNative(ctx context.Context, runspaceID string, id int, enable bool) (*pwsh.Breakpoint, error) {
	name := "Disable-PSBreakpoint"
	direct := s.debugger.DisableBreakpoint
	if enable {
		name = "Enable-PSBreakpoint"
		direct = s.debugger.EnableBreakpoint
	}

	return s.runNative(ctx, nativeOp{
		direct: func(ctx context.Context) (*pwsh.Breakpoint, error) {
			return direct(ctx, runspaceID, id)
		},
		command: pwsh.NewCommand(name).Arg("Id", id).Arg("PassThru", true),
	})
}

func (s *SyncService) getNative(ctx context.Context, runspaceID string) ([]*pwsh.Breakpoint, error) {
	if s.debugger.SupportsBreakpointAPIs() {
		return s.debugger.GetBreakpoints(ctx, runspaceID)
	}

	results, err := s.executor.Execute(ctx, pwsh.NewCommand("Get-PSBreakpoint"), pwsh.ExecOptions{ThrowOnError: true})
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
