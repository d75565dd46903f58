package core

import (
	"context"
	"sync"
)

// CancellationToken is shared by every message context of a run. Cancelling
// it makes all agents observe cancellation at their next suspension point.
// The token is backed by a context so handlers can pass Context() straight
// into blocking calls.
type CancellationToken struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	callbacks []func()
	fired     bool
}

// NewCancellationToken derives a token from parent. Cancelling parent cancels
// the token as well.
func NewCancellationToken(parent context.Context) *CancellationToken {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	t := &CancellationToken{ctx: ctx, cancel: cancel}
	context.AfterFunc(ctx, t.fire)
	return t
}

// Cancel requests cancellation. It is idempotent.
func (t *CancellationToken) Cancel() { t.cancel() }

// IsCancelled reports whether cancellation has been requested.
func (t *CancellationToken) IsCancelled() bool { return t.ctx.Err() != nil }

// Done returns a channel closed on cancellation.
func (t *CancellationToken) Done() <-chan struct{} { return t.ctx.Done() }

// Err returns the cancellation cause, or nil while the token is live.
func (t *CancellationToken) Err() error { return t.ctx.Err() }

// Context exposes the token as a context for blocking calls.
func (t *CancellationToken) Context() context.Context { return t.ctx }

// OnCancel registers fn to run once the token is cancelled. If the token is
// already cancelled fn runs immediately in the caller's goroutine.
func (t *CancellationToken) OnCancel(fn func()) {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}

func (t *CancellationToken) fire() {
	t.mu.Lock()
	t.fired = true
	cbs := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()
	for _, fn := range cbs {
		fn()
	}
}
