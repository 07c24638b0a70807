package debug

import (
	"context"
	"sync"
)

// StateService tracks per-session debug state: whether a breakpoint
// mutation is in progress, the one-shot launch/attach configuration
// handshake, and the attach target metadata.
type StateService struct {
	gate *Gate

	mu        sync.Mutex
	handshake chan struct{}

	attachRunspaceID string
	remoteAttach     bool
}

// NewStateService creates state bound to the mutation gate, so the
// mutating flag is always derived from the gate's true state.
func NewStateService(gate *Gate) *StateService {
	return &StateService{gate: gate}
}

// IsSettingBreakpoints reports whether a breakpoint mutation holds the
// gate right now. This is a probe of the lock itself, never a separate
// flag that could desync.
func (s *StateService) IsSettingBreakpoints() bool {
	return s.gate.Held()
}

// StartHandshake begins the launch/attach configuration handshake.
// Only one may be in flight; starting a second fails.
func (s *StateService) StartHandshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handshake != nil {
		return ErrHandshakeInProgress
	}
	s.handshake = make(chan struct{})
	return nil
}

// CompleteHandshake signals the pending handshake (configurationDone).
// Fails if none is in flight, or if it was already completed.
func (s *StateService) CompleteHandshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handshake == nil {
		return ErrHandshakeNotStarted
	}
	select {
	case <-s.handshake:
		return ErrHandshakeNotStarted
	default:
	}
	close(s.handshake)
	return nil
}

// WaitForHandshake blocks until the pending handshake completes or the
// context is cancelled. The handshake is consumed: a subsequent launch
// or attach may start a new one.
func (s *StateService) WaitForHandshake(ctx context.Context) error {
	s.mu.Lock()
	ch := s.handshake
	s.mu.Unlock()

	if ch == nil {
		return ErrHandshakeNotStarted
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
	}

	s.mu.Lock()
	if s.handshake == ch {
		s.handshake = nil
	}
	s.mu.Unlock()
	return nil
}

// SetAttachTarget records the runspace targeted by an attach and
// whether it is remote.
func (s *StateService) SetAttachTarget(runspaceID string, remote bool) {
	s.mu.Lock()
	s.attachRunspaceID = runspaceID
	s.remoteAttach = remote
	s.mu.Unlock()
}

// AttachTarget returns the attach metadata.
func (s *StateService) AttachTarget() (runspaceID string, remote bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachRunspaceID, s.remoteAttach
}

// ClearAttachTarget resets the attach metadata on detach.
func (s *StateService) ClearAttachTarget() {
	s.mu.Lock()
	s.attachRunspaceID = ""
	s.remoteAttach = false
	s.mu.Unlock()
}
