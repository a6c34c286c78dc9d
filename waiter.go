package llmstream

import (
	"time"
)

// WaitForCompletion blocks until no block in the store is streaming, then
// holds for a short idle grace period so in-flight finalize events can land,
// and returns the conversation snapshot.
//
// The wait is bounded: on timeout the current state is returned as-is, never
// an error. Poll interval and grace period come from opts; zero values fall
// back to the embedded defaults.
func WaitForCompletion(store *ConversationStore, timeout time.Duration, opts Options) ConversationSnapshot {
	defaults := DefaultOptions()
	poll := opts.WaiterPoll
	if poll <= 0 {
		poll = defaults.WaiterPoll
	}
	grace := opts.WaiterGrace
	if grace <= 0 {
		grace = defaults.WaiterGrace
	}

	deadline := time.Now().Add(timeout)
	for store.IsStreamingActive() {
		if time.Now().After(deadline) {
			return store.Snapshot()
		}
		time.Sleep(poll)
	}

	// Grace period: finalize events for the last block may still be in
	// flight on the producing goroutine.
	remaining := time.Until(deadline)
	if remaining > 0 {
		if grace > remaining {
			grace = remaining
		}
		time.Sleep(grace)
	}
	return store.Snapshot()
}
