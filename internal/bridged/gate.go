// ABOUTME: One-shot readiness gate that holds deferred operations until connect succeeds.

package bridged

import (
	"context"
	"sync"
)

// gate opens exactly once. Waiters block until it opens and are woken one
// after another in the order they arrived: each waiter hands the gate to
// the next before its Wait returns. Work done after Wait runs concurrently.
type gate struct {
	mu      sync.Mutex
	open    bool
	waiters []chan struct{}
}

// Wait blocks until the gate opens and every earlier waiter has been woken,
// or until ctx is done.
func (g *gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.open && len(g.waiters) == 0 {
		g.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		g.handOff()
		return nil
	case <-ctx.Done():
		if g.drop(ch) {
			return ctx.Err()
		}
		// Woken while cancelling: pass the gate on anyway.
		g.handOff()
		return nil
	}
}

// Open wakes the first waiter. It reports false if the gate was already open.
func (g *gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open {
		return false
	}
	g.open = true
	if len(g.waiters) > 0 {
		close(g.waiters[0])
	}
	return true
}

// handOff removes the woken head waiter and wakes the next one.
func (g *gate) handOff() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.waiters = g.waiters[1:]
	if len(g.waiters) > 0 {
		close(g.waiters[0])
	} else {
		g.waiters = nil
	}
}

// IsOpen reports whether Open has been called.
func (g *gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

func (g *gate) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// drop removes a waiter that has not been woken yet. It reports false if
// the waiter was already woken and now owns the hand-off.
func (g *gate) drop(ch chan struct{}) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, w := range g.waiters {
		if w != ch {
			continue
		}
		if i == 0 && g.open {
			return false
		}
		g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
		return true
	}
	return true
}
