package llmstream

import (
	"context"
	"testing"
)

func TestCanceller_Flag(t *testing.T) {
	c := NewCanceller()
	if c.IsCancelled() {
		t.Error("fresh canceller must not be cancelled")
	}
	c.Cancel()
	if !c.IsCancelled() {
		t.Error("Cancel did not trip the signal")
	}
	c.Cancel() // repeat calls are safe
	if !c.IsCancelled() {
		t.Error("signal must stay tripped")
	}
}

func TestCanceller_Context(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewContextCanceller(ctx)
	if c.IsCancelled() {
		t.Error("live context must not trip the signal")
	}
	cancel()
	if !c.IsCancelled() {
		t.Error("context cancellation must trip the signal")
	}
}

func TestCanceller_NilIsInert(t *testing.T) {
	var c *Canceller
	if c.IsCancelled() {
		t.Error("nil canceller must report not cancelled")
	}
}
