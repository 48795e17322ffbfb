package claims

import (
	"context"
	"sync"
)

// Gate lets at most one run execute at a time. A run requested while another is in flight is
// dropped, not queued.
type Gate struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// TryRun executes fn unless a run is already in flight. ran is false when the call was dropped.
func (g *Gate) TryRun(ctx context.Context, fn func(context.Context) error) (ran bool, err error) {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return false, nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.running = true
	g.cancel = cancel
	g.mu.Unlock()

	defer func() {
		cancel()
		g.mu.Lock()
		g.running = false
		g.cancel = nil
		g.mu.Unlock()
	}()

	return true, fn(runCtx)
}

// Cancel cancels the in-flight run, if any.
func (g *Gate) Cancel() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether a run is in flight.
func (g *Gate) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}
