package llmstream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// Fragment envelope type tags for recordings.
const (
	fragmentTagText  = "text"
	fragmentTagParts = "parts"
	fragmentTagChat  = "chat"
	fragmentTagRaw   = "raw"
	fragmentTagDone  = "done"
	fragmentTagError = "error"
)

// fragmentEnvelope is the JSONL line shape of one recorded fragment.
type fragmentEnvelope struct {
	Tag   string          `json:"tag"`
	Text  *TextFragment   `json:"text,omitempty"`
	Parts *PartsFragment  `json:"parts,omitempty"`
	Chat  *ChatFragment   `json:"chat,omitempty"`
	Raw   json.RawMessage `json:"raw,omitempty"`
	Done  *DoneFragment   `json:"done,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Recorder serializes raw upstream fragments as JSON lines so a turn can be
// replayed deterministically through the normalizer later, bypassing the
// live vendor connection.
type Recorder struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewRecorder creates a recorder writing JSONL to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w, enc: json.NewEncoder(w)}
}

// Record writes one fragment.
func (r *Recorder) Record(frag Fragment) error {
	env, err := envelopeFor(frag)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(env); err != nil {
		return &RecordingError{Op: "write", Message: "encoding fragment line", Err: err}
	}
	return nil
}

// Tap returns a passthrough channel: every fragment read from in is recorded
// and forwarded. Recording failures are reported through errFn (may be nil)
// and do not interrupt the stream.
func (r *Recorder) Tap(in <-chan Fragment, errFn func(error)) <-chan Fragment {
	out := make(chan Fragment, DefaultOptions().ChannelBuffer)
	go func() {
		defer close(out)
		for frag := range in {
			if err := r.Record(frag); err != nil && errFn != nil {
				errFn(err)
			}
			out <- frag
		}
	}()
	return out
}

func envelopeFor(frag Fragment) (*fragmentEnvelope, error) {
	switch f := frag.(type) {
	case TextFragment:
		return &fragmentEnvelope{Tag: fragmentTagText, Text: &f}, nil
	case PartsFragment:
		return &fragmentEnvelope{Tag: fragmentTagParts, Parts: &f}, nil
	case ChatFragment:
		return &fragmentEnvelope{Tag: fragmentTagChat, Chat: &f}, nil
	case RawFragment:
		return &fragmentEnvelope{Tag: fragmentTagRaw, Raw: json.RawMessage(f.Data)}, nil
	case DoneFragment:
		return &fragmentEnvelope{Tag: fragmentTagDone, Done: &f}, nil
	case ErrorFragment:
		msg := "upstream stream failed"
		if f.Err != nil {
			msg = f.Err.Error()
		}
		return &fragmentEnvelope{Tag: fragmentTagError, Error: msg}, nil
	default:
		return nil, &RecordingError{Op: "encode", Message: "unknown fragment variant"}
	}
}

func (env *fragmentEnvelope) fragment() (Fragment, error) {
	switch env.Tag {
	case fragmentTagText:
		if env.Text == nil {
			return TextFragment{}, nil
		}
		return *env.Text, nil
	case fragmentTagParts:
		if env.Parts == nil {
			return PartsFragment{}, nil
		}
		return *env.Parts, nil
	case fragmentTagChat:
		if env.Chat == nil {
			return ChatFragment{}, nil
		}
		return *env.Chat, nil
	case fragmentTagRaw:
		return RawFragment{Data: []byte(env.Raw)}, nil
	case fragmentTagDone:
		if env.Done == nil {
			return DoneFragment{}, nil
		}
		return *env.Done, nil
	case fragmentTagError:
		return ErrorFragment{Err: errors.New(env.Error)}, nil
	default:
		return nil, &RecordingError{Op: "decode", Message: "unknown fragment tag '" + env.Tag + "'"}
	}
}

// ReadRecording decodes a JSONL recording back into its fragment sequence.
func ReadRecording(r io.Reader) ([]Fragment, error) {
	var fragments []Fragment
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var env fragmentEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, &RecordingError{Op: "decode", Line: line, Message: "invalid fragment line", Err: err}
		}
		frag, err := env.fragment()
		if err != nil {
			if recErr, ok := err.(*RecordingError); ok {
				recErr.Line = line
			}
			return nil, err
		}
		fragments = append(fragments, frag)
	}
	if err := scanner.Err(); err != nil {
		return nil, &RecordingError{Op: "read", Message: "reading recording", Err: err}
	}
	return fragments, nil
}

// Player replays a recorded fragment sequence on a channel with a small
// artificial delay between fragments, mimicking live pacing.
type Player struct {
	fragments []Fragment
	delay     time.Duration
	buffer    int
}

// NewPlayer creates a player over the given fragments with the default
// replay delay and channel buffer.
func NewPlayer(fragments []Fragment) *Player {
	opts := DefaultOptions()
	return &Player{
		fragments: fragments,
		delay:     opts.ReplayDelay,
		buffer:    opts.ChannelBuffer,
	}
}

// SetDelay overrides the inter-fragment delay. Zero disables pacing, which
// is what deterministic tests want.
func (p *Player) SetDelay(d time.Duration) {
	p.delay = d
}

// Play emits the fragments on a fresh channel. The channel closes after the
// last fragment.
func (p *Player) Play() <-chan Fragment {
	out := make(chan Fragment, p.buffer)
	go func() {
		defer close(out)
		for i, frag := range p.fragments {
			if i > 0 && p.delay > 0 {
				time.Sleep(p.delay)
			}
			out <- frag
		}
	}()
	return out
}
