// Package notice holds user-visible error indicators.
//
// Errors scoped to a session are shown only while that session is current;
// the caller decides that with the still-current flag returned by
// session.Store.Refresh. Authentication errors live in a global slot.
package notice

import (
	"sync"
	"time"
)

// Notice is one dismissible error indicator.
type Notice struct {
	SessionID string
	Err       error
	At        time.Time
}

// Board keeps at most one notice per session plus one global notice.
type Board struct {
	mu        sync.Mutex
	scoped    map[string]Notice
	global    *Notice
	listeners []func(Notice)
}

func NewBoard() *Board {
	return &Board{scoped: make(map[string]Notice)}
}

// OnPost registers a listener called after every Post or PostGlobal.
func (b *Board) OnPost(fn func(Notice)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Post sets the notice for a session, replacing any earlier one.
func (b *Board) Post(sessionID string, err error) {
	if err == nil {
		return
	}
	n := Notice{SessionID: sessionID, Err: err, At: time.Now()}
	b.mu.Lock()
	b.scoped[sessionID] = n
	listeners := append([]func(Notice){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(n)
	}
}

// PostGlobal sets the global notice.
func (b *Board) PostGlobal(err error) {
	if err == nil {
		return
	}
	n := Notice{Err: err, At: time.Now()}
	b.mu.Lock()
	b.global = &n
	listeners := append([]func(Notice){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(n)
	}
}

// Scoped returns the notice for a session.
func (b *Board) Scoped(sessionID string) (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.scoped[sessionID]
	return n, ok
}

// Global returns the global notice.
func (b *Board) Global() (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.global == nil {
		return Notice{}, false
	}
	return *b.global, true
}

// Dismiss clears the notice of a session.
func (b *Board) Dismiss(sessionID string) {
	b.mu.Lock()
	delete(b.scoped, sessionID)
	b.mu.Unlock()
}

// DismissGlobal clears the global notice.
func (b *Board) DismissGlobal() {
	b.mu.Lock()
	b.global = nil
	b.mu.Unlock()
}
