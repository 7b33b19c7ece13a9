package task

import "sync"

// PauseGate is checked by the coordinator before each task start. Pausing
// never interrupts a process that is already running.
type PauseGate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{} // closed while the gate is open
}

func NewPauseGate() *PauseGate {
	ch := make(chan struct{})
	close(ch)
	return &PauseGate{resumed: ch}
}

// SetPaused flips the gate and reports whether the state changed.
// Repeating the current state is a no-op.
func (g *PauseGate) SetPaused(paused bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused == paused {
		return false
	}
	g.paused = paused
	if paused {
		g.resumed = make(chan struct{})
	} else {
		close(g.resumed)
	}
	return true
}

func (g *PauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks while the gate is paused. It returns true once the gate is
// open, or false if done is closed first.
func (g *PauseGate) Wait(done <-chan struct{}) bool {
	for {
		g.mu.Lock()
		ch, paused := g.resumed, g.paused
		g.mu.Unlock()

		if !paused {
			return true
		}
		select {
		case <-ch:
		case <-done:
			return false
		}
	}
}

// CancelToken is a one-shot stop signal for a batch.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel arms the token. It reports true only for the call that did so.
func (c *CancelToken) Cancel() bool {
	fired := false
	c.once.Do(func() {
		close(c.done)
		fired = true
	})
	return fired
}

func (c *CancelToken) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed once the token is cancelled.
func (c *CancelToken) Done() <-chan struct{} {
	return c.done
}
