package query

import (
	"context"
	"sync/atomic"
)

// CancelToken is the one-way cancellation signal from a controller to a
// worker. The flag is polled at every step and chunk boundary; the context
// is handed to the engine so a statement in flight may stop early.
type CancelToken struct {
	flag   atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancelToken derives a token from parent.
func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Cancel requests cancellation. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.flag.Store(true)
	t.cancel()
}

// Cancelled reports whether cancellation was requested or the parent
// context ended.
func (t *CancelToken) Cancelled() bool {
	return t.flag.Load() || t.ctx.Err() != nil
}

// Context returns the context passed to engine calls.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// Done is closed once the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} {
	return t.ctx.Done()
}
