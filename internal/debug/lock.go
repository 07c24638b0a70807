package debug

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate is a cancellable mutual-exclusion lock built on a weighted
// semaphore. One instance serializes all breakpoint mutations; a
// second, independent instance guards the debug snapshot.
//
// Acquisition returns a release function that is safe to call exactly
// once per acquisition and idempotent beyond that, so callers can defer
// it on every exit path.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates an unlocked gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the gate is free or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return g.releaseOnce(), nil
}

// TryAcquire takes the gate without blocking. When it returns false
// the gate was contended and no release is owed.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	return g.releaseOnce(), true
}

// Held reports whether the gate is currently held. Derived from a
// probe-and-release rather than a separate flag, so it can never drift
// from the true lock state.
func (g *Gate) Held() bool {
	if g.sem.TryAcquire(1) {
		g.sem.Release(1)
		return false
	}
	return true
}

func (g *Gate) releaseOnce() func() {
	var once sync.Once
	return func() {
		once.Do(func() { g.sem.Release(1) })
	}
}
