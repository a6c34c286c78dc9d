package llmstream

import (
	"strconv"

	"github.com/google/uuid"
)

// IDGenerator produces block ids. The default uses random UUIDs; replay and
// test code can inject a deterministic generator so that re-feeding the same
// fragment sequence yields the same event sequence byte for byte.
type IDGenerator func() string

// NewUUIDGenerator returns the default random id generator.
func NewUUIDGenerator() IDGenerator {
	return uuid.NewString
}

// NewSequentialIDGenerator returns a deterministic generator producing
// prefix-1, prefix-2, ... Replay tooling and tests use it so repeated runs
// over the same fragments emit identical event sequences.
func NewSequentialIDGenerator(prefix string) IDGenerator {
	n := 0
	return func() string {
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}

// EventSink receives the canonical events emitted by the segmenter.
// *ConversationStore implements it; tests substitute a recording sink.
type EventSink interface {
	Apply(event Event)
}

// BlockSegmenter owns per-turn segmentation state: which block is currently
// open for text, thinking and each tool call, and whether the turn is inside
// a thinking session. It decides when blocks open and close and emits
// canonical events through the sink.
//
// The segmenter is driven by a single goroutine (the normalizer loop) and
// requires no locking. It is deterministic: the same signal sequence always
// produces the same event sequence, given the same id generator.
type BlockSegmenter struct {
	messageID string
	sink      EventSink
	newID     IDGenerator

	// Open block tracking. Empty string means no block of that kind is open.
	openThinking string
	openText     string
	openTools    map[string]string // tool call id -> block id

	// openSeq assigns a creation sequence number to every opened block so
	// the interleaved-thinking rule can compare creation order without
	// relying on wall-clock time.
	openSeq map[string]int
	nextSeq int

	// latestToolSeq is the creation sequence of the most recently opened
	// tool block, 0 if none opened yet.
	latestToolSeq int

	// lastOpenedKind is the kind of the most recently opened block, used by
	// the text split rule ("something else interrupted the text stream").
	lastOpenedKind string

	// inThinkingSession is true while a contiguous run of thinking signals
	// is being treated as one logical thinking block.
	inThinkingSession bool

	// closeOrder lists every block of the turn in the order its close was
	// recorded. FinalizeBlocks consumes this list verbatim.
	closeOrder []string
	closed     map[string]bool
}

// NewBlockSegmenter creates a segmenter for one message's streaming turn.
func NewBlockSegmenter(messageID string, sink EventSink, newID IDGenerator) *BlockSegmenter {
	if newID == nil {
		newID = NewUUIDGenerator()
	}
	return &BlockSegmenter{
		messageID: messageID,
		sink:      sink,
		newID:     newID,
		openTools: make(map[string]string),
		openSeq:   make(map[string]int),
		closed:    make(map[string]bool),
	}
}

// Feed processes one classified signal, emitting whatever events the
// transition rules require. Signals that carry nothing are ignored.
func (s *BlockSegmenter) Feed(sig Signal) {
	if sig.Thinking != nil {
		s.feedThinking(sig.Thinking.Text)
	}
	if sig.Text != nil {
		s.feedText(sig.Text.Text)
	}
	for _, tc := range sig.ToolCalls {
		s.feedToolCall(tc)
	}
	for _, tr := range sig.ToolResults {
		s.feedToolResult(tr)
	}
}

// feedThinking appends reasoning content, opening a new thinking block when
// none is open or when a tool call intervened since the last thinking chunk
// (interleaved thinking).
func (s *BlockSegmenter) feedThinking(text string) {
	needNew := s.openThinking == "" ||
		s.latestToolSeq > s.openSeq[s.openThinking]

	if needNew {
		if s.openThinking != "" {
			s.recordClose(s.openThinking)
		}
		s.openThinking = s.open(BlockKindThinking, "", "")
	}
	s.inThinkingSession = true
	s.sink.Apply(ContentAppended{BlockID: s.openThinking, Delta: text})
}

// feedText appends plain text. A thinking session in progress is ended
// first; a new text block starts when none is open or when the most recently
// opened block was not itself text.
func (s *BlockSegmenter) feedText(text string) {
	if s.inThinkingSession {
		s.endThinkingSession()
	}

	needNew := s.openText == "" || s.lastOpenedKind != BlockKindText
	if needNew {
		if s.openText != "" {
			s.recordClose(s.openText)
		}
		s.openText = s.open(BlockKindText, "", "")
	}
	s.sink.Apply(ContentAppended{BlockID: s.openText, Delta: text})
}

// feedToolCall ensures a tool_use block exists for the call id and emits a
// tool invocation event. Duplicate creation for the same id is ignored; the
// args delta accumulates onto the existing block.
func (s *BlockSegmenter) feedToolCall(tc ToolCallSignal) {
	blockID, ok := s.openTools[tc.ID]
	if !ok {
		name := tc.Name
		if name == "" {
			name = ToolNamePlaceholder
		}
		blockID = s.open(BlockKindToolUse, tc.ID, name)
		s.openTools[tc.ID] = blockID
	}
	s.sink.Apply(ToolInvoked{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		ToolArgs:   tc.ArgsDelta,
		BlockID:    blockID,
	})
}

// feedToolResult attaches a result to the tool block for the call id,
// creating the block retroactively when the result arrived before the call.
func (s *BlockSegmenter) feedToolResult(tr ToolResultSignal) {
	blockID, ok := s.openTools[tr.ID]
	if !ok {
		// Result before call: create the block with a placeholder name.
		blockID = s.open(BlockKindToolUse, tr.ID, ToolNamePlaceholder)
		s.openTools[tr.ID] = blockID
	}

	ev := ToolResultReceived{
		ToolCallID: tr.ID,
		BlockID:    blockID,
	}
	if tr.IsError {
		ev.Error = tr.Content
	} else {
		ev.Result = tr.Content
	}
	s.sink.Apply(ev)
	// The result seals the tool block; its close point in the finalize
	// order is now.
	s.recordClose(blockID)
}

// Finish ends the turn: the thinking session is closed if still open, every
// remaining open block is closed, and the full close-ordered block id list
// is returned for finalization.
func (s *BlockSegmenter) Finish() []string {
	if s.inThinkingSession {
		s.endThinkingSession()
	} else if s.openThinking != "" {
		s.recordClose(s.openThinking)
		s.openThinking = ""
	}
	if s.openText != "" {
		s.recordClose(s.openText)
		s.openText = ""
	}
	// Close tool blocks without results in creation order.
	for _, blockID := range s.openToolsByCreation() {
		s.recordClose(blockID)
	}
	return s.closeOrder
}

// BlockIDs returns every block opened during the turn so far, in close order
// for closed blocks. Primarily useful for diagnostics mid-turn.
func (s *BlockSegmenter) BlockIDs() []string {
	out := make([]string, len(s.closeOrder))
	copy(out, s.closeOrder)
	return out
}

func (s *BlockSegmenter) endThinkingSession() {
	if s.openThinking != "" {
		s.recordClose(s.openThinking)
		s.openThinking = ""
	}
	s.inThinkingSession = false
}

// open creates a block of the given kind, bumps the sequence counter and
// emits BlockOpened.
func (s *BlockSegmenter) open(kind, toolCallID, toolName string) string {
	blockID := s.newID()
	s.nextSeq++
	s.openSeq[blockID] = s.nextSeq
	if kind == BlockKindToolUse {
		s.latestToolSeq = s.nextSeq
	}
	s.lastOpenedKind = kind

	s.sink.Apply(BlockOpened{
		MessageID:  s.messageID,
		BlockID:    blockID,
		Kind:       kind,
		ToolCallID: toolCallID,
		ToolName:   toolName,
	})
	return blockID
}

// recordClose emits the internal BlockClosed event and appends the block to
// the finalize order exactly once.
func (s *BlockSegmenter) recordClose(blockID string) {
	if s.closed[blockID] {
		return
	}
	s.closed[blockID] = true
	s.closeOrder = append(s.closeOrder, blockID)
	s.sink.Apply(BlockClosed{MessageID: s.messageID, BlockID: blockID})
}

// openToolsByCreation returns still-open tool block ids ordered by creation
// sequence, so end-of-turn closes are deterministic.
func (s *BlockSegmenter) openToolsByCreation() []string {
	var ids []string
	for _, blockID := range s.openTools {
		if !s.closed[blockID] {
			ids = append(ids, blockID)
		}
	}
	// Insertion sort by creation sequence; tool counts are tiny.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && s.openSeq[ids[j-1]] > s.openSeq[ids[j]]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
