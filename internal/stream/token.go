package stream

import (
	"context"
	"sync"
)

// Token is an explicit cancellation signal threaded through a streaming or
// polling loop. Loops check it at every suspension point.
type Token struct {
	once sync.Once
	ch   chan struct{}
}

func NewToken() *Token {
	return &Token{ch: make(chan struct{})}
}

// TokenFromContext returns a token cancelled when ctx is done.
func TokenFromContext(ctx context.Context) *Token {
	t := NewToken()
	go func() {
		select {
		case <-ctx.Done():
			t.Cancel()
		case <-t.ch:
		}
	}()
	return t
}

// Cancel is idempotent.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

func (t *Token) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

func (t *Token) Done() <-chan struct{} {
	return t.ch
}
