package llmstream

import (
	"context"
)

// SourceID represents a unique fragment source identifier.
// Using a typed constant prevents typos and provides compile-time safety.
type SourceID string

// Known source identifiers
const (
	// SourceAnthropic adapts Anthropic's Messages streaming API
	SourceAnthropic SourceID = "anthropic"

	// SourceOpenRouter adapts OpenRouter chat-completions SSE streams
	SourceOpenRouter SourceID = "openrouter"

	// SourceLorem is the fake lorem ipsum source for testing
	SourceLorem SourceID = "lorem"

	// SourceReplay replays a recorded fragment sequence
	SourceReplay SourceID = "replay"
)

// String returns the string representation of the source ID
func (s SourceID) String() string {
	return string(s)
}

// IsValid returns true if the source ID is a known source
func (s SourceID) IsValid() bool {
	switch s {
	case SourceAnthropic, SourceOpenRouter, SourceLorem, SourceReplay:
		return true
	default:
		return false
	}
}

// FragmentSource is the interface upstream adapters implement. A source
// owns one vendor connection and exposes its incremental output as an
// ordered fragment sequence.
//
// The returned channel is closed when the stream completes or fails; a
// failure is delivered in-band as an ErrorFragment before the close, so the
// normalizer observes it at its regular suspension point. Fragments arrive
// in emission order; the final fragment (or a trailing DoneFragment)
// carries usage and result metadata when the vendor provides any.
type FragmentSource interface {
	// Fragments starts the stream and returns the fragment channel.
	Fragments(ctx context.Context) (<-chan Fragment, error)

	// Name returns the source identifier
	Name() SourceID
}
