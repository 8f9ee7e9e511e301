package sequencer

import "sync"

// Gate is the counting release semaphore between the driver and one
// worker.
//
// Contract:
//   - Signal never blocks and never decreases the count.
//   - Wait consumes exactly one unit, blocking while the count is zero.
//   - Close is the shutdown forced wake: it unblocks the waiter without
//     adding a consumable unit, so it can never be mistaken for a
//     release. Pending real releases are still consumed after Close.
//
// The critical section is a counter increment, so signaling from the
// driver's tick path is bounded and cannot invert priorities: the worker
// never holds the lock across its work, only across the counter check.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	count  uint64
	closed bool
}

func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Signal releases one unit. Safe from any goroutine; never blocks.
func (g *Gate) Signal() {
	g.mu.Lock()
	g.count++
	g.mu.Unlock()
	g.cond.Signal()
}

// Close marks the gate aborted and wakes the waiter. Idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Wait blocks until a unit is available or the gate is closed. It
// reports whether a unit was consumed; false means the wake was the
// shutdown signal and the caller must exit. Only the owning worker may
// call Wait.
func (g *Gate) Wait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.count == 0 && !g.closed {
		g.cond.Wait()
	}
	if g.count > 0 {
		g.count--
		return true
	}
	return false
}

// Pending reports the current unconsumed release count.
func (g *Gate) Pending() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Closed reports whether the shutdown wake has been issued.
func (g *Gate) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
