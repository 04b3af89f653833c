package notice

import "sync"

// LoginGate de-duplicates the "please log in" prompt for one view.
// Each view owns its gate; there is no process-wide flag.
type LoginGate struct {
	mu    sync.Mutex
	shown bool
}

// ShouldPrompt reports true once until Reset is called.
func (g *LoginGate) ShouldPrompt() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shown {
		return false
	}
	g.shown = true
	return true
}

// Reset re-arms the gate, typically after a successful login.
func (g *LoginGate) Reset() {
	g.mu.Lock()
	g.shown = false
	g.mu.Unlock()
}
