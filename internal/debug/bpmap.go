package debug

import (
	"sync"

	"github.com/psbridge/psbridge/internal/pwsh"
)

// SyncedBreakpoint pairs the editor's view of a breakpoint with the
// engine's. It never exists with only one side populated; it is the
// unit of truth in the breakpoint map.
//
// Synced breakpoints are treated as immutable: updates replace the
// whole pairing (unregister old, register new) so concurrent readers
// never observe a half-updated record.
type SyncedBreakpoint struct {
	// Client is the editor-facing breakpoint, ID assigned.
	Client ClientBreakpoint

	// Server is the engine-native breakpoint, ID assigned.
	Server *pwsh.Breakpoint
}

// WithEnabled returns a copy of the pairing with both sides' Enabled
// flags set to the given value.
func (s SyncedBreakpoint) WithEnabled(enabled bool) SyncedBreakpoint {
	copied := s
	copied.Client.Enabled = enabled
	copied.Server = s.Server.Clone()
	copied.Server.Enabled = enabled
	return copied
}

// BreakpointMap is a bidirectional index over one runspace's synced
// breakpoints: by client ID and by server ID. Every entry reachable
// through one index is reachable through the other; Register and
// Unregister keep both sides consistent under one lock.
type BreakpointMap struct {
	mu       sync.RWMutex
	byClient map[string]SyncedBreakpoint
	byServer map[int]SyncedBreakpoint
}

// NewBreakpointMap creates an empty map.
func NewBreakpointMap() *BreakpointMap {
	return &BreakpointMap{
		byClient: make(map[string]SyncedBreakpoint),
		byServer: make(map[int]SyncedBreakpoint),
	}
}

// Register upserts a pairing into both indexes, evicting any prior
// entry that shares either the client or the server ID.
func (m *BreakpointMap) Register(sb SyncedBreakpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.byClient[sb.Client.ID]; ok {
		delete(m.byServer, prior.Server.ID)
	}
	if prior, ok := m.byServer[sb.Server.ID]; ok {
		delete(m.byClient, prior.Client.ID)
	}

	m.byClient[sb.Client.ID] = sb
	m.byServer[sb.Server.ID] = sb
}

// Unregister removes the pairing from both indexes, each by its own
// ID. Safe to call when one or both sides are already absent.
func (m *BreakpointMap) Unregister(sb SyncedBreakpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byClient, sb.Client.ID)
	delete(m.byServer, sb.Server.ID)
}

// GetByClientID looks a pairing up by client ID.
func (m *BreakpointMap) GetByClientID(id string) (SyncedBreakpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.byClient[id]
	return sb, ok
}

// GetByServerID looks a pairing up by server ID.
func (m *BreakpointMap) GetByServerID(id int) (SyncedBreakpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.byServer[id]
	return sb, ok
}

// All returns a snapshot of every registered pairing.
func (m *BreakpointMap) All() []SyncedBreakpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]SyncedBreakpoint, 0, len(m.byClient))
	for _, sb := range m.byClient {
		result = append(result, sb)
	}
	return result
}

// Len returns the number of registered pairings.
func (m *BreakpointMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byClient)
}

// MapRegistry holds one BreakpointMap per runspace identity. Maps are
// created lazily on first use and dropped explicitly when a runspace
// is known to be permanently gone.
type MapRegistry struct {
	mu   sync.Mutex
	maps map[string]*BreakpointMap
}

// NewMapRegistry creates an empty registry.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{
		maps: make(map[string]*BreakpointMap),
	}
}

// ForRunspace returns the map for a runspace identity, creating it on
// first use. The empty ID addresses the default runspace.
func (r *MapRegistry) ForRunspace(runspaceID string) *BreakpointMap {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.maps[runspaceID]
	if !ok {
		m = NewBreakpointMap()
		r.maps[runspaceID] = m
	}
	return m
}

// Default returns the default runspace's map.
func (r *MapRegistry) Default() *BreakpointMap {
	return r.ForRunspace(pwsh.DefaultRunspace.ID)
}

// Drop removes a runspace's map. Called when the runspace is
// permanently gone; the default map is never dropped.
func (r *MapRegistry) Drop(runspaceID string) {
	if runspaceID == pwsh.DefaultRunspace.ID {
		return
	}
	r.mu.Lock()
	delete(r.maps, runspaceID)
	r.mu.Unlock()
}
