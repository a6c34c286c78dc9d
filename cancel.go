package llmstream

import (
	"context"
	"sync/atomic"
)

// Canceller is a poll-based cancellation signal. The normalizer checks it
// between fragments, never mid-fragment, so cancellation is cooperative:
// an upstream read already in flight is not aborted here, the loop simply
// stops consuming once control returns to it.
type Canceller struct {
	cancelled atomic.Bool
	ctx       context.Context
}

// NewCanceller creates a canceller that only trips when Cancel is called.
func NewCanceller() *Canceller {
	return &Canceller{}
}

// NewContextCanceller creates a canceller that also trips when the given
// context is done.
func NewContextCanceller(ctx context.Context) *Canceller {
	return &Canceller{ctx: ctx}
}

// Cancel trips the signal. Safe to call multiple times and from any
// goroutine.
func (c *Canceller) Cancel() {
	c.cancelled.Store(true)
}

// IsCancelled reports whether the signal has tripped.
func (c *Canceller) IsCancelled() bool {
	if c == nil {
		return false
	}
	if c.cancelled.Load() {
		return true
	}
	if c.ctx != nil {
		select {
		case <-c.ctx.Done():
			return true
		default:
		}
	}
	return false
}
