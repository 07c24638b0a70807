package debug

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStateHandshakeLifecycle(t *testing.T) {
	s := NewStateService(NewGate())

	if err := s.StartHandshake(); err != nil {
		t.Fatalf("StartHandshake failed: %v", err)
	}
	if err := s.StartHandshake(); !errors.Is(err, ErrHandshakeInProgress) {
		t.Errorf("second StartHandshake = %v, want ErrHandshakeInProgress", err)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- s.WaitForHandshake(ctx)
	}()

	if err := s.CompleteHandshake(); err != nil {
		t.Fatalf("CompleteHandshake failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("WaitForHandshake = %v, want nil", err)
	}

	// The handshake is consumed; a second completion has nothing to
	// signal.
	if err := s.CompleteHandshake(); !errors.Is(err, ErrHandshakeNotStarted) {
		t.Errorf("duplicate CompleteHandshake = %v, want ErrHandshakeNotStarted", err)
	}

	// A new session may start a fresh handshake.
	if err := s.StartHandshake(); err != nil {
		t.Errorf("StartHandshake after consume = %v, want nil", err)
	}
}

func TestStateCompleteWithoutStart(t *testing.T) {
	s := NewStateService(NewGate())

	if err := s.CompleteHandshake(); !errors.Is(err, ErrHandshakeNotStarted) {
		t.Errorf("CompleteHandshake = %v, want ErrHandshakeNotStarted", err)
	}
	if err := s.WaitForHandshake(context.Background()); !errors.Is(err, ErrHandshakeNotStarted) {
		t.Errorf("WaitForHandshake = %v, want ErrHandshakeNotStarted", err)
	}
}

func TestStateIsSettingBreakpointsTracksGate(t *testing.T) {
	gate := NewGate()
	s := NewStateService(gate)

	if s.IsSettingBreakpoints() {
		t.Error("reports mutating with a free gate")
	}

	release, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !s.IsSettingBreakpoints() {
		t.Error("does not report mutating with a held gate")
	}
	release()
	if s.IsSettingBreakpoints() {
		t.Error("still reports mutating after release")
	}
}

func TestStateAttachTarget(t *testing.T) {
	s := NewStateService(NewGate())

	s.SetAttachTarget("rs-7", true)
	id, remote := s.AttachTarget()
	if id != "rs-7" || !remote {
		t.Errorf("AttachTarget = %q/%v, want rs-7/true", id, remote)
	}

	s.ClearAttachTarget()
	id, remote = s.AttachTarget()
	if id != "" || remote {
		t.Errorf("AttachTarget after clear = %q/%v, want empty/false", id, remote)
	}
}
