// Package gate provides a single-fire wait gate.
//
// A Gate starts unset. Fire sets it once and releases every waiter; later
// calls are no-ops. A fired gate can't be re-armed: callers that need a new
// wait cycle replace it with New.
package gate

import (
	"sync"
	"time"
)

// Gate is a single-fire latch
type Gate struct {
	once sync.Once
	done chan struct{}
}

// New returns an unset gate
func New() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Fire sets the gate; idempotent.
// Returns true only for the call that actually set it.
func (g *Gate) Fire() bool {
	fired := false
	g.once.Do(func() {
		close(g.done)
		fired = true
	})
	return fired
}

// Fired reports whether the gate has been set
func (g *Gate) Fired() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the gate fires
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the gate fires or timeout elapses.
// A non-positive timeout only checks the current state.
func (g *Gate) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return g.Fired()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.done:
		return true
	case <-timer.C:
		return false
	}
}
