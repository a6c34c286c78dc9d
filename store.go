package llmstream

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Subscriber receives publishable events. Callbacks are invoked
// synchronously, in subscription order, for every publishable event until
// unsubscribed.
//
// A subscriber must not call back into the store from inside the callback
// (re-entrant deadlock); hand off through a queue when further mutations are
// needed. A panicking subscriber is logged and isolated - delivery continues
// to the remaining subscribers.
type Subscriber func(Event)

type subscription struct {
	id string
	fn Subscriber
}

// ConversationStore is the in-process model of one conversation: its
// messages, open-block streaming buffers, a strictly increasing version
// counter, and the publish/subscribe mechanism broadcasting domain events to
// all subscribers.
//
// All mutating methods execute under a single writer. The store lives for
// the conversation's lifetime; subscribers attach and detach freely without
// affecting stored state.
type ConversationStore struct {
	mu sync.Mutex

	conversationID string
	messages       []*Message
	msgByID        map[string]*Message
	blockByID      map[string]*Block
	blockOwner     map[string]string // block id -> message id

	// buffers holds in-progress content per open block: a write-ahead
	// scratch area separate from committed block state, so partial content
	// survives cancellation.
	buffers map[string]*strings.Builder

	// turnDone records messages whose TurnCompleted has been emitted, so
	// re-finalizing an already sealed turn stays a no-op. Appending a new
	// block to the message starts a new turn and clears the mark.
	turnDone map[string]bool

	version      uint64
	lastActivity time.Time

	subscribers []subscription
	nextSubID   int

	logger logrus.FieldLogger
	now    func() time.Time
	newID  IDGenerator
}

// NewConversationStore creates an empty store for the given conversation.
func NewConversationStore(conversationID string) *ConversationStore {
	return &ConversationStore{
		conversationID: conversationID,
		msgByID:        make(map[string]*Message),
		blockByID:      make(map[string]*Block),
		blockOwner:     make(map[string]string),
		buffers:        make(map[string]*strings.Builder),
		turnDone:       make(map[string]bool),
		logger:         logrus.StandardLogger(),
		now:            time.Now,
		newID:          NewUUIDGenerator(),
	}
}

// SetLogger replaces the store's logger. The default is the logrus standard
// logger.
func (cs *ConversationStore) SetLogger(logger logrus.FieldLogger) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if logger != nil {
		cs.logger = logger
	}
}

// ConversationID returns the conversation identifier.
func (cs *ConversationStore) ConversationID() string {
	return cs.conversationID
}

// AppendMessage appends a message to the conversation and publishes
// MessageStarted. It never fails; the caller guarantees a well-formed
// message. A missing id is filled in.
func (cs *ConversationStore) AppendMessage(msg *Message) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if msg.ID == "" {
		msg.ID = cs.newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = cs.now()
	}
	cs.messages = append(cs.messages, msg)
	cs.msgByID[msg.ID] = msg
	for _, b := range msg.Blocks {
		cs.blockByID[b.ID] = b
		cs.blockOwner[b.ID] = msg.ID
	}

	cs.bumpLocked()
	cs.publishLocked(MessageStarted{MessageID: msg.ID})
}

// AppendBlock appends a block to the given message and publishes
// BlockOpened; tool_use blocks additionally publish a ToolInvoked notice.
// An unknown message id is logged and the call is a no-op.
func (cs *ConversationStore) AppendBlock(messageID string, block *Block) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.appendBlockLocked(messageID, block) {
		return
	}
	cs.bumpLocked()
	cs.publishLocked(BlockOpened{
		MessageID:  messageID,
		BlockID:    block.ID,
		Kind:       block.Kind,
		ToolCallID: block.ToolCallID,
		ToolName:   block.ToolName,
	})
	if block.IsToolUseBlock() {
		cs.publishLocked(ToolInvoked{
			ToolCallID: block.ToolCallID,
			ToolName:   block.ToolName,
			ToolArgs:   block.ToolArgs,
			BlockID:    block.ID,
		})
	}
}

func (cs *ConversationStore) appendBlockLocked(messageID string, block *Block) bool {
	msg, ok := cs.msgByID[messageID]
	if !ok {
		cs.logger.WithFields(logrus.Fields{
			"conversation_id": cs.conversationID,
			"message_id":      messageID,
		}).Warn("append block: unknown message id, dropping")
		return false
	}
	if block.ID == "" {
		block.ID = cs.newID()
	}
	msg.Blocks = append(msg.Blocks, block)
	cs.blockByID[block.ID] = block
	cs.blockOwner[block.ID] = messageID
	delete(cs.turnDone, messageID)
	return true
}

// AppendStreamingChunk appends a delta to the streaming buffer for the given
// block (creating the buffer if absent) and publishes ContentAppended with
// the delta and the buffer's new total.
func (cs *ConversationStore) AppendStreamingChunk(blockID, delta string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	buf, ok := cs.buffers[blockID]
	if !ok {
		buf = &strings.Builder{}
		cs.buffers[blockID] = buf
	}
	buf.WriteString(delta)

	cs.bumpLocked()
	cs.publishLocked(ContentAppended{
		BlockID: blockID,
		Delta:   delta,
		Total:   buf.String(),
	})
}

// FinalizeBlocks seals every listed block that is still streaming: the
// streaming buffer is merged into the committed content, the streaming flag
// clears, and the buffer is released. If afterwards no block anywhere in the
// conversation is streaming, a single TurnCompleted is published carrying
// the listed block ids.
//
// Re-finalizing already-sealed blocks is a no-op: no events fire again and
// the version is not bumped.
func (cs *ConversationStore) FinalizeBlocks(messageID string, blockIDs []string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	msg, ok := cs.msgByID[messageID]
	if !ok {
		cs.logger.WithFields(logrus.Fields{
			"conversation_id": cs.conversationID,
			"message_id":      messageID,
		}).Warn("finalize blocks: unknown message id, dropping")
		return
	}

	finalized := 0
	for _, blockID := range blockIDs {
		if cs.finalizeBlockLocked(blockID) {
			finalized++
		}
	}

	// Blocks sealed early (tool results arriving mid-stream) and empty
	// turns leave nothing to transition here, but the turn still owes its
	// completion event.
	report := !cs.turnDone[messageID] && !cs.streamingActiveLocked()
	if finalized == 0 && !report {
		return
	}

	cs.bumpLocked()
	if report {
		cs.turnDone[messageID] = true
		cs.publishLocked(TurnCompleted{
			MessageID:    messageID,
			BlockIDs:     append([]string(nil), blockIDs...),
			FinalMessage: msg,
		})
	}
}

// finalizeBlockLocked seals one block if it is still streaming. Returns true
// when the block transitioned.
func (cs *ConversationStore) finalizeBlockLocked(blockID string) bool {
	block, ok := cs.blockByID[blockID]
	if !ok {
		cs.logger.WithField("block_id", blockID).Warn("finalize: unknown block id, skipping")
		return false
	}
	if !block.Streaming {
		return false
	}
	if buf, ok := cs.buffers[blockID]; ok {
		block.Content += buf.String()
		delete(cs.buffers, blockID)
	}
	block.Streaming = false
	return true
}

// Cancel force-finalizes every currently streaming block across all
// messages, preserving whatever partial content exists in the buffers, then
// publishes TurnCompleted per affected message. Calling Cancel when nothing
// is streaming is a safe no-op.
func (cs *ConversationStore) Cancel() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	type turn struct {
		messageID string
		blockIDs  []string
	}
	var turns []turn
	for _, msg := range cs.messages {
		var sealed []string
		for _, block := range msg.Blocks {
			if block.Streaming && cs.finalizeBlockLocked(block.ID) {
				sealed = append(sealed, block.ID)
			}
		}
		if len(sealed) > 0 {
			turns = append(turns, turn{messageID: msg.ID, blockIDs: sealed})
		}
	}
	if len(turns) == 0 {
		return
	}

	cs.bumpLocked()
	if !cs.streamingActiveLocked() {
		for _, t := range turns {
			cs.turnDone[t.messageID] = true
			cs.publishLocked(TurnCompleted{
				MessageID:    t.messageID,
				BlockIDs:     t.blockIDs,
				FinalMessage: cs.msgByID[t.messageID],
			})
		}
	}
}

// ReportUsage attaches normalized usage to the message and publishes
// UsageReported. An unknown message id is logged and dropped.
func (cs *ConversationStore) ReportUsage(messageID string, usage UsageSnapshot) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	msg, ok := cs.msgByID[messageID]
	if !ok {
		cs.logger.WithField("message_id", messageID).Warn("report usage: unknown message id, dropping")
		return
	}
	u := usage
	msg.Usage = &u

	cs.bumpLocked()
	cs.publishLocked(UsageReported{MessageID: messageID, Usage: usage})
}

// CompleteGeneration marks an explicit end of generation for the message and
// publishes MessageFinalized. Distinct from the turn-level TurnCompleted:
// collaborators call this when they decide the message will receive no
// further turns.
func (cs *ConversationStore) CompleteGeneration(messageID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.msgByID[messageID]; !ok {
		cs.logger.WithField("message_id", messageID).Warn("complete generation: unknown message id, dropping")
		return
	}
	cs.bumpLocked()
	cs.publishLocked(MessageFinalized{MessageID: messageID})
}

// ReportError publishes an ErrorOccurred event. Kind defaults to
// ErrorKindUnknown.
func (cs *ConversationStore) ReportError(message, kind string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if kind == "" {
		kind = ErrorKindUnknown
	}
	cs.bumpLocked()
	cs.publishLocked(ErrorOccurred{Message: message, Kind: kind})
}

// Apply dispatches a segmenter-emitted event to the corresponding mutation.
// This is the EventSink implementation driving the store from the
// normalization loop.
func (cs *ConversationStore) Apply(event Event) {
	switch ev := event.(type) {
	case BlockOpened:
		block := &Block{
			ID:         ev.BlockID,
			Kind:       ev.Kind,
			Streaming:  true,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
		}
		cs.mu.Lock()
		if cs.appendBlockLocked(ev.MessageID, block) {
			cs.bumpLocked()
			cs.publishLocked(ev)
		}
		cs.mu.Unlock()

	case ContentAppended:
		cs.AppendStreamingChunk(ev.BlockID, ev.Delta)

	case ToolInvoked:
		cs.applyToolInvoked(ev)

	case ToolResultReceived:
		cs.applyToolResult(ev)

	case BlockClosed:
		// Internal bookkeeping: the block stays streaming until
		// FinalizeBlocks; the close only bumps the version.
		cs.mu.Lock()
		cs.bumpLocked()
		cs.mu.Unlock()

	case UsageReported:
		cs.ReportUsage(ev.MessageID, ev.Usage)

	case ErrorOccurred:
		cs.ReportError(ev.Message, ev.Kind)

	default:
		// MessageStarted, TurnCompleted and MessageFinalized originate in
		// the store itself; applying them from outside is a no-op.
		cs.logger.WithField("event_type", event.EventType()).Debug("apply: ignoring store-originated event")
	}
}

func (cs *ConversationStore) applyToolInvoked(ev ToolInvoked) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	block, ok := cs.blockByID[ev.BlockID]
	if !ok {
		cs.logger.WithField("block_id", ev.BlockID).Warn("tool invoked: unknown block id, dropping")
		return
	}
	if ev.ToolName != "" && block.ToolName == ToolNamePlaceholder {
		block.ToolName = ev.ToolName
	}
	block.ToolArgs += ev.ToolArgs

	cs.bumpLocked()
	cs.publishLocked(ToolInvoked{
		ToolCallID: ev.ToolCallID,
		ToolName:   block.ToolName,
		ToolArgs:   block.ToolArgs,
		BlockID:    ev.BlockID,
	})
}

func (cs *ConversationStore) applyToolResult(ev ToolResultReceived) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	block, ok := cs.blockByID[ev.BlockID]
	if !ok {
		cs.logger.WithField("block_id", ev.BlockID).Warn("tool result: unknown block id, dropping")
		return
	}
	block.ToolResult = ev.Result
	block.ToolError = ev.Error
	block.Streaming = false

	cs.bumpLocked()
	cs.publishLocked(ev)
}

// Subscribe registers a callback for every publishable event and returns an
// opaque subscription id for Unsubscribe.
func (cs *ConversationStore) Subscribe(fn Subscriber) string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.nextSubID++
	id := subIDString(cs.nextSubID)
	cs.subscribers = append(cs.subscribers, subscription{id: id, fn: fn})
	return id
}

// Unsubscribe removes the subscription with the given id. Unknown ids are
// ignored, so the call is idempotent.
func (cs *ConversationStore) Unsubscribe(id string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for i, sub := range cs.subscribers {
		if sub.id == id {
			cs.subscribers = append(cs.subscribers[:i], cs.subscribers[i+1:]...)
			return
		}
	}
}

// IsStreamingActive returns true iff any block anywhere in the conversation
// is still streaming.
func (cs *ConversationStore) IsStreamingActive() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.streamingActiveLocked()
}

// Version returns the current version counter and the last-activity
// timestamp. Subscribers use it to detect staleness without re-reading full
// state.
func (cs *ConversationStore) Version() (uint64, time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.version, cs.lastActivity
}

// Snapshot returns a deep copy of the conversation suitable for persistence
// by an external storage collaborator.
func (cs *ConversationStore) Snapshot() ConversationSnapshot {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	snap := ConversationSnapshot{
		ConversationID: cs.conversationID,
		Version:        cs.version,
		LastActivity:   cs.lastActivity,
		Messages:       make([]*Message, 0, len(cs.messages)),
	}
	for _, msg := range cs.messages {
		m := *msg
		m.Blocks = make([]*Block, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			blockCopy := *b
			m.Blocks = append(m.Blocks, &blockCopy)
		}
		if msg.Usage != nil {
			u := *msg.Usage
			m.Usage = &u
		}
		snap.Messages = append(snap.Messages, &m)
	}
	return snap
}

// Message returns the message with the given id, or nil.
// The returned pointer references live store state; committed (non-streaming)
// block content is immutable and safe to read concurrently.
func (cs *ConversationStore) Message(messageID string) *Message {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.msgByID[messageID]
}

func (cs *ConversationStore) streamingActiveLocked() bool {
	for _, msg := range cs.messages {
		for _, block := range msg.Blocks {
			if block.Streaming {
				return true
			}
		}
	}
	return false
}

func (cs *ConversationStore) bumpLocked() {
	cs.version++
	cs.lastActivity = cs.now()
}

// publishLocked delivers an event to every subscriber in subscription order.
// Non-publishable events are dropped here; a panicking subscriber is logged
// and the remaining subscribers still receive the event.
func (cs *ConversationStore) publishLocked(event Event) {
	if !event.Publishable() {
		return
	}
	for _, sub := range cs.subscribers {
		cs.deliver(sub, event)
	}
}

func (cs *ConversationStore) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			cs.logger.WithFields(logrus.Fields{
				"subscription_id": sub.id,
				"event_type":      event.EventType(),
				"panic":           r,
			}).Error("subscriber panicked, continuing delivery")
		}
	}()
	sub.fn(event)
}

func subIDString(n int) string {
	return "sub-" + strconv.Itoa(n)
}
