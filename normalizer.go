package llmstream

import (
	"github.com/sirupsen/logrus"
)

// StreamNormalizer drives one streaming turn: it pulls fragments from an
// upstream source, classifies them, feeds the signals through the block
// segmenter into the conversation store, and handles end-of-stream
// reconciliation (final usage extraction, trailing reasoning summary) and
// cooperative cancellation between fragments.
//
// One normalizer run is single-threaded: no two fragments of the same turn
// are processed concurrently, so neither the segmenter nor the run loop
// needs locking.
type StreamNormalizer struct {
	store     *ConversationStore
	canceller *Canceller
	newID     IDGenerator
	logger    logrus.FieldLogger
	opts      Options
}

// NewStreamNormalizer creates a normalizer writing into the given store,
// with default options and no cancellation signal.
func NewStreamNormalizer(store *ConversationStore) *StreamNormalizer {
	return &StreamNormalizer{
		store:  store,
		newID:  NewUUIDGenerator(),
		logger: logrus.StandardLogger(),
		opts:   DefaultOptions(),
	}
}

// SetCanceller attaches a cancellation signal, polled between fragments.
func (n *StreamNormalizer) SetCanceller(c *Canceller) {
	n.canceller = c
}

// SetIDGenerator replaces the id generator. Replay tooling injects a
// deterministic generator so repeated runs emit identical event sequences.
func (n *StreamNormalizer) SetIDGenerator(gen IDGenerator) {
	if gen != nil {
		n.newID = gen
	}
}

// SetLogger replaces the normalizer's logger.
func (n *StreamNormalizer) SetLogger(logger logrus.FieldLogger) {
	if logger != nil {
		n.logger = logger
	}
}

// SetOptions replaces the stream options.
func (n *StreamNormalizer) SetOptions(opts Options) {
	n.opts = opts
}

// Run consumes the fragment sequence to completion and returns the message
// holding the normalized turn. When msg is nil a fresh assistant message is
// created.
//
// Run never returns an error: malformed fragments degrade to no signal, an
// upstream failure becomes one ErrorOccurred event plus an error block on
// the message, and cancellation resolves to a normal (if incomplete)
// finalized state. Callers observe the outcome through the store's events.
func (n *StreamNormalizer) Run(msg *Message, fragments <-chan Fragment) *Message {
	if msg == nil {
		msg = &Message{ID: n.newID(), IsAssistant: true}
	}
	n.store.AppendMessage(msg)

	seg := NewBlockSegmenter(msg.ID, n.store, n.newID)

	var finalUsage *UsageSnapshot
	var done *DoneFragment
	contentChars := 0

	for {
		// Cancellation is checked at the suspension point only, never
		// mid-fragment.
		if n.canceller.IsCancelled() {
			n.store.Cancel()
			return msg
		}

		frag, ok := <-fragments
		if !ok {
			break
		}

		switch f := frag.(type) {
		case ErrorFragment:
			n.failTurn(msg, seg, f.Err)
			return msg

		case DoneFragment:
			d := f
			done = &d
			if d.Usage != nil {
				finalUsage = d.Usage
			}

		default:
			sig := ParseFragment(frag)
			if sig.Usage != nil {
				finalUsage = sig.Usage
			}
			if sig.Thinking != nil {
				contentChars += len(sig.Thinking.Text)
			}
			if sig.Text != nil {
				contentChars += len(sig.Text.Text)
			}
			seg.Feed(sig)
		}

		if done != nil {
			break
		}
	}

	// End-of-stream reconciliation. A trailing reasoning summary (vendors
	// that withhold reasoning until completion) is fed as one last thinking
	// signal before the turn closes.
	if done != nil && done.ReasoningSummary != "" {
		seg.Feed(Signal{Thinking: &ThinkingSignal{Text: done.ReasoningSummary}})
		contentChars += len(done.ReasoningSummary)
	}

	closeOrder := seg.Finish()

	if finalUsage == nil && contentChars > 0 {
		finalUsage = EstimateUsage(contentChars, n.opts.EstimateCharsPerToken)
	}
	if finalUsage != nil {
		n.store.ReportUsage(msg.ID, *finalUsage)
	}

	n.store.FinalizeBlocks(msg.ID, closeOrder)
	return msg
}

// failTurn handles an upstream connection failure: one ErrorOccurred event,
// an error block recording the failure in conversation history, and
// finalization of whatever partial content already streamed.
func (n *StreamNormalizer) failTurn(msg *Message, seg *BlockSegmenter, err error) {
	errText := "upstream stream failed"
	if err != nil {
		errText = err.Error()
	}
	n.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"error":      errText,
	}).Warn("upstream failure, sealing turn with partial content")

	n.store.ReportError(errText, ErrorKindUnknown)

	errBlock := &Block{ID: n.newID(), Kind: BlockKindError, Streaming: true}
	n.store.AppendBlock(msg.ID, errBlock)
	n.store.AppendStreamingChunk(errBlock.ID, errText)

	closeOrder := append(seg.Finish(), errBlock.ID)
	n.store.FinalizeBlocks(msg.ID, closeOrder)
}
