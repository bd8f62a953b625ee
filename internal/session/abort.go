package session

import (
	"context"
	"sync"
)

// AbortToken wraps a cancelable context so a session can be aborted from
// outside the generator goroutine. Abort is safe to call repeatedly and
// from any goroutine. Each generator run gets a fresh token; a token is
// never reused, so a run can never start already cancelled.
type AbortToken struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	aborted bool
}

// NewAbortToken derives a token from parent.
func NewAbortToken(parent context.Context) *AbortToken {
	ctx, cancel := context.WithCancel(parent)
	return &AbortToken{ctx: ctx, cancel: cancel}
}

// Context returns the token's context for passing into blocking calls.
func (t *AbortToken) Context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// Abort cancels the token.
func (t *AbortToken) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.aborted {
		return
	}
	t.aborted = true
	t.cancel()
}

// IsAborted reports whether Abort has been called.
func (t *AbortToken) IsAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}
