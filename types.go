package llmstream

import (
	"time"
)

// Block kind constants
const (
	BlockKindText     = "text"     // Plain assistant text
	BlockKindThinking = "thinking" // Extended thinking / reasoning
	BlockKindToolUse  = "tool_use" // Tool invocation (call + eventual result)
	BlockKindError    = "error"    // Upstream failure surfaced in conversation history
)

// Block represents one contiguous unit of assistant output of a single kind.
//
// A block is created by the segmenter when a new run of content starts,
// accumulates streamed content while Streaming is true, and is permanently
// sealed at finalize or cancel. Once Streaming is false the Content field is
// immutable.
//
// ToolUse blocks additionally carry the tool call metadata and, once
// available, the tool result or tool error.
type Block struct {
	// ID uniquely identifies the block within the conversation
	ID string `json:"id"`

	// Kind is one of the BlockKind* constants
	Kind string `json:"kind"`

	// Streaming is true while the block is still open and receiving deltas
	Streaming bool `json:"streaming"`

	// Content is the accumulated content. While Streaming is true this holds
	// whatever has been committed so far; the in-flight remainder lives in
	// the store's streaming buffer until finalization.
	Content string `json:"content"`

	// === Tool metadata (ToolUse blocks only) ===

	// ToolCallID is the vendor-assigned id correlating call and result
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName is the name of the invoked tool. When a tool result arrives
	// before its call (some vendors deliver out of order) the block is
	// created retroactively with ToolNamePlaceholder.
	ToolName string `json:"tool_name,omitempty"`

	// ToolArgs is the accumulated tool input, usually JSON
	ToolArgs string `json:"tool_args,omitempty"`

	// ToolResult is the tool's output once it has been reported
	ToolResult string `json:"tool_result,omitempty"`

	// ToolError is set instead of ToolResult when the tool failed
	ToolError string `json:"tool_error,omitempty"`
}

// ToolNamePlaceholder is used for retroactively created ToolUse blocks whose
// call event never arrived (or has not arrived yet).
const ToolNamePlaceholder = "unknown"

// IsTextBlock returns true if this is a plain text block
func (b *Block) IsTextBlock() bool {
	return b.Kind == BlockKindText
}

// IsThinkingBlock returns true if this is a thinking/reasoning block
func (b *Block) IsThinkingBlock() bool {
	return b.Kind == BlockKindThinking
}

// IsToolUseBlock returns true if this is a tool_use block
func (b *Block) IsToolUseBlock() bool {
	return b.Kind == BlockKindToolUse
}

// IsErrorBlock returns true if this block records an upstream failure
func (b *Block) IsErrorBlock() bool {
	return b.Kind == BlockKindError
}

// HasToolResult returns true once a result or error has been attached
func (b *Block) HasToolResult() bool {
	return b.ToolResult != "" || b.ToolError != ""
}

// Message represents one turn in a conversation.
//
// During streaming the Blocks list only grows: blocks are appended in the
// order the segmenter opens them and are never reordered or removed.
type Message struct {
	// ID uniquely identifies the message
	ID string `json:"id"`

	// IsAssistant is true for assistant turns, false for user turns
	IsAssistant bool `json:"is_assistant"`

	// AuthorID identifies the author (user id or model identifier)
	AuthorID string `json:"author_id,omitempty"`

	// AuthorName is the display name of the author
	AuthorName string `json:"author_name,omitempty"`

	// CreatedAt is the message creation timestamp
	CreatedAt time.Time `json:"created_at"`

	// Blocks is the ordered list of content blocks
	Blocks []*Block `json:"blocks"`

	// Usage holds the normalized token counters for this turn, once reported
	Usage *UsageSnapshot `json:"usage,omitempty"`
}

// Block returns the block with the given id, or nil if the message does not
// contain it.
func (m *Message) Block(blockID string) *Block {
	for _, b := range m.Blocks {
		if b.ID == blockID {
			return b
		}
	}
	return nil
}

// HasStreamingBlocks returns true if any block of this message is still open
func (m *Message) HasStreamingBlocks() bool {
	for _, b := range m.Blocks {
		if b.Streaming {
			return true
		}
	}
	return false
}

// UsageSnapshot holds normalized token counters.
//
// All counters are non-negative. TotalTokens defaults to
// InputTokens + OutputTokens when the vendor does not supply it directly.
type UsageSnapshot struct {
	// InputTokens is the number of tokens in the input
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the number of tokens in the output
	OutputTokens int `json:"output_tokens"`

	// TotalTokens is the combined count (input + output unless supplied)
	TotalTokens int `json:"total_tokens"`

	// ThinkingTokens is the reasoning-specific count, when broken out
	ThinkingTokens int `json:"thinking_tokens,omitempty"`

	// CacheWriteTokens is the prompt-cache write count, when reported
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`

	// CacheReadTokens is the prompt-cache read count, when reported
	CacheReadTokens int `json:"cache_read_tokens,omitempty"`

	// Estimated is true when the counters were derived from content length
	// because the vendor reported no usage at all
	Estimated bool `json:"estimated,omitempty"`
}

// ConversationSnapshot is the persisted shape of a conversation, consumed and
// produced by external storage collaborators.
type ConversationSnapshot struct {
	// ConversationID identifies the conversation
	ConversationID string `json:"conversation_id"`

	// Version is the store version at the time the snapshot was taken
	Version uint64 `json:"version"`

	// LastActivity is the timestamp of the last mutating operation
	LastActivity time.Time `json:"last_activity"`

	// Messages is the ordered list of turns
	Messages []*Message `json:"messages"`
}
