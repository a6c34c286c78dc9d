package llmstream

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
// These can be checked with errors.Is().
var (
	// ErrUnknownMessage indicates a store operation referenced a message id
	// that does not exist in the conversation.
	ErrUnknownMessage = errors.New("llmstream: unknown message id")

	// ErrUnknownBlock indicates a store operation referenced a block id that
	// does not exist in the conversation.
	ErrUnknownBlock = errors.New("llmstream: unknown block id")

	// ErrStreamClosed indicates an operation on a source whose fragment
	// stream has already terminated.
	ErrStreamClosed = errors.New("llmstream: stream closed")

	// ErrInvalidAPIKey indicates a source was constructed with an empty or
	// malformed API key.
	ErrInvalidAPIKey = errors.New("llmstream: invalid API key")
)

// SourceError represents a failure of an upstream vendor connection.
// The normalizer converts it into an ErrorOccurred event rather than
// returning it; sources surface it through an ErrorFragment.
type SourceError struct {
	Source  string // The source identifier (e.g. "anthropic", "openrouter")
	Message string // Human-readable explanation
	Err     error  // Wrapped cause
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source '%s' error: %s (%v)", e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("source '%s' error: %s", e.Source, e.Message)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// RecordingError represents a failure reading or writing a fragment
// recording.
type RecordingError struct {
	Op      string // "encode", "decode", "read", "write"
	Line    int    // 1-based line number for decode failures, 0 otherwise
	Message string // Human-readable explanation
	Err     error  // Wrapped cause
}

func (e *RecordingError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("recording %s failed at line %d: %s", e.Op, e.Line, e.Message)
	}
	return fmt.Sprintf("recording %s failed: %s", e.Op, e.Message)
}

func (e *RecordingError) Unwrap() error {
	return e.Err
}
