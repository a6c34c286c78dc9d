package llmstream

// Event type name constants, used as the event_type discriminator when events
// cross the transport boundary.
const (
	EventTypeMessageStarted     = "message_started"
	EventTypeBlockOpened        = "block_opened"
	EventTypeBlockClosed        = "block_closed"
	EventTypeContentAppended    = "content_appended"
	EventTypeToolInvoked        = "tool_invoked"
	EventTypeToolResultReceived = "tool_result_received"
	EventTypeUsageReported      = "usage_reported"
	EventTypeTurnCompleted      = "turn_completed"
	EventTypeMessageFinalized   = "message_finalized"
	EventTypeErrorOccurred      = "error_occurred"
)

// Event is the closed set of domain events describing conversation state
// transitions. Every mutation of the conversation store corresponds to
// exactly one event; subscribers receive the publishable subset in emission
// order.
//
// The isEvent marker keeps the union closed: only types in this package can
// implement Event.
type Event interface {
	// EventType returns the wire name of the event
	EventType() string

	// Publishable reports whether the event crosses the subscription
	// boundary. Internal bookkeeping events still mutate state but are not
	// delivered to subscribers.
	Publishable() bool

	isEvent()
}

// MessageStarted signals that a new message (turn) was appended to the
// conversation.
type MessageStarted struct {
	// MessageID identifies the new message
	MessageID string `json:"message_id"`
}

func (MessageStarted) EventType() string { return EventTypeMessageStarted }
func (MessageStarted) Publishable() bool { return true }
func (MessageStarted) isEvent()          {}

// BlockOpened signals that a new block started streaming within a message.
type BlockOpened struct {
	// MessageID identifies the owning message
	MessageID string `json:"message_id"`

	// BlockID identifies the new block
	BlockID string `json:"block_id"`

	// Kind is one of the BlockKind* constants
	Kind string `json:"kind"`

	// ToolCallID and ToolName carry tool metadata for tool_use blocks
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

func (BlockOpened) EventType() string { return EventTypeBlockOpened }
func (BlockOpened) Publishable() bool { return true }
func (BlockOpened) isEvent()          {}

// BlockClosed records that the segmenter stopped appending to a block.
// Internal bookkeeping only: the block is not yet finalized (that happens in
// FinalizeBlocks) and subscribers never see this event.
type BlockClosed struct {
	// MessageID identifies the owning message
	MessageID string `json:"message_id"`

	// BlockID identifies the closed block
	BlockID string `json:"block_id"`
}

func (BlockClosed) EventType() string { return EventTypeBlockClosed }
func (BlockClosed) Publishable() bool { return false }
func (BlockClosed) isEvent()          {}

// ContentAppended signals an incremental content delta for an open block.
type ContentAppended struct {
	// BlockID identifies the block receiving content
	BlockID string `json:"block_id"`

	// Delta is the appended fragment of content
	Delta string `json:"delta"`

	// Total is the full buffered content after the append
	Total string `json:"total"`
}

func (ContentAppended) EventType() string { return EventTypeContentAppended }
func (ContentAppended) Publishable() bool { return true }
func (ContentAppended) isEvent()          {}

// ToolInvoked signals that the assistant requested a tool call.
type ToolInvoked struct {
	// ToolCallID correlates the call with its eventual result
	ToolCallID string `json:"tool_call_id"`

	// ToolName is the name of the requested tool
	ToolName string `json:"tool_name"`

	// ToolArgs is the tool input accumulated so far, usually JSON
	ToolArgs string `json:"tool_args,omitempty"`

	// BlockID identifies the tool_use block tracking this call
	BlockID string `json:"block_id"`
}

func (ToolInvoked) EventType() string { return EventTypeToolInvoked }
func (ToolInvoked) Publishable() bool { return true }
func (ToolInvoked) isEvent()          {}

// ToolResultReceived signals that a tool call produced a result (or failed).
type ToolResultReceived struct {
	// ToolCallID correlates the result with its call
	ToolCallID string `json:"tool_call_id"`

	// Result is the tool output
	Result string `json:"result,omitempty"`

	// Error is set instead of Result when the tool failed
	Error string `json:"error,omitempty"`

	// BlockID identifies the tool_use block tracking this call
	BlockID string `json:"block_id"`
}

func (ToolResultReceived) EventType() string { return EventTypeToolResultReceived }
func (ToolResultReceived) Publishable() bool { return true }
func (ToolResultReceived) isEvent()          {}

// UsageReported signals normalized token counters for a message.
type UsageReported struct {
	// MessageID identifies the message the usage belongs to
	MessageID string `json:"message_id"`

	// Usage holds the normalized counters
	Usage UsageSnapshot `json:"usage"`
}

func (UsageReported) EventType() string { return EventTypeUsageReported }
func (UsageReported) Publishable() bool { return true }
func (UsageReported) isEvent()          {}

// TurnCompleted signals that a streaming turn fully finished: every block
// opened during the turn has been finalized.
type TurnCompleted struct {
	// MessageID identifies the completed message
	MessageID string `json:"message_id"`

	// BlockIDs lists every block finalized during the turn, in close order
	BlockIDs []string `json:"block_ids"`

	// FinalMessage is the committed message state, when available
	FinalMessage *Message `json:"final_message,omitempty"`
}

func (TurnCompleted) EventType() string { return EventTypeTurnCompleted }
func (TurnCompleted) Publishable() bool { return true }
func (TurnCompleted) isEvent()          {}

// MessageFinalized signals an explicit complete-generation call, distinct
// from the turn-level TurnCompleted emitted by the store.
type MessageFinalized struct {
	// MessageID identifies the finalized message
	MessageID string `json:"message_id"`
}

func (MessageFinalized) EventType() string { return EventTypeMessageFinalized }
func (MessageFinalized) Publishable() bool { return true }
func (MessageFinalized) isEvent()          {}

// ErrorOccurred signals an upstream connection failure. Partial content
// streamed before the failure is preserved; only the remainder is lost.
type ErrorOccurred struct {
	// Message is the human-readable error description
	Message string `json:"message"`

	// Kind classifies the failure ("unknown" when the cause is unclassified)
	Kind string `json:"kind"`
}

func (ErrorOccurred) EventType() string { return EventTypeErrorOccurred }
func (ErrorOccurred) Publishable() bool { return true }
func (ErrorOccurred) isEvent()          {}

// ErrorKindUnknown is the default classification for upstream failures.
const ErrorKindUnknown = "unknown"
