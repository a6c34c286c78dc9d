package llmstream

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TransportRecord is the wire shape of one publishable event as delivered to
// a remote client, e.g. over a chunked HTTP response. One record per event,
// each record terminated by a blank line.
type TransportRecord struct {
	// ThreadID identifies the conversation the event belongs to
	ThreadID string `json:"thread_id"`

	// EventType is the event_type discriminator (EventType* constants)
	EventType string `json:"event_type"`

	// Timestamp is the emission time in epoch milliseconds
	Timestamp int64 `json:"timestamp"`

	// Data is the event payload
	Data json.RawMessage `json:"data"`
}

// EncodeTransportRecord converts a publishable event into its transport
// record.
func EncodeTransportRecord(threadID string, event Event, at time.Time) (*TransportRecord, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &TransportRecord{
		ThreadID:  threadID,
		EventType: event.EventType(),
		Timestamp: at.UnixMilli(),
		Data:      data,
	}, nil
}

// TransportWriter serializes publishable events as transport records on an
// io.Writer. Attach it to a store with Subscriber().
//
// Writes are serialized internally so a TransportWriter may also receive
// events from multiple stores.
type TransportWriter struct {
	mu       sync.Mutex
	w        io.Writer
	threadID string
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewTransportWriter creates a writer for the given thread id.
func NewTransportWriter(w io.Writer, threadID string) *TransportWriter {
	return &TransportWriter{
		w:        w,
		threadID: threadID,
		logger:   logrus.StandardLogger(),
		now:      time.Now,
	}
}

// Subscriber returns the store callback writing each event as one record.
// Write failures are logged, not raised: a broken transport must not stall
// the producing loop.
func (tw *TransportWriter) Subscriber() Subscriber {
	return func(event Event) {
		if err := tw.Write(event); err != nil {
			tw.logger.WithFields(logrus.Fields{
				"thread_id":  tw.threadID,
				"event_type": event.EventType(),
			}).WithError(err).Warn("transport write failed, dropping event")
		}
	}
}

// Write encodes one event and writes it followed by the blank-line record
// terminator.
func (tw *TransportWriter) Write(event Event) error {
	record, err := EncodeTransportRecord(tw.threadID, event, tw.now())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()
	if _, err := tw.w.Write(payload); err != nil {
		return err
	}
	_, err = tw.w.Write([]byte("\n\n"))
	return err
}
