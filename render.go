package llmstream

import (
	"fmt"
	"io"
)

// ConsoleRenderer is a minimal terminal subscriber: text deltas stream
// through verbatim, thinking and tool activity render as bracketed markers.
// It exists for example programs and quick diagnostics; richer UIs subscribe
// with their own callback.
type ConsoleRenderer struct {
	w io.Writer

	// kinds remembers the kind of each opened block so deltas can be routed
	kinds map[string]string

	// ShowThinking streams thinking content when true; otherwise only a
	// marker is printed per thinking block.
	ShowThinking bool
}

// NewConsoleRenderer creates a renderer writing to w.
func NewConsoleRenderer(w io.Writer) *ConsoleRenderer {
	return &ConsoleRenderer{
		w:     w,
		kinds: make(map[string]string),
	}
}

// Subscriber returns the store callback.
func (r *ConsoleRenderer) Subscriber() Subscriber {
	return func(event Event) {
		r.render(event)
	}
}

func (r *ConsoleRenderer) render(event Event) {
	switch ev := event.(type) {
	case BlockOpened:
		r.kinds[ev.BlockID] = ev.Kind
		switch ev.Kind {
		case BlockKindThinking:
			fmt.Fprint(r.w, "\n[thinking]")
			if r.ShowThinking {
				fmt.Fprint(r.w, " ")
			}
		case BlockKindError:
			fmt.Fprint(r.w, "\n[error] ")
		}

	case ContentAppended:
		switch r.kinds[ev.BlockID] {
		case BlockKindThinking:
			if r.ShowThinking {
				fmt.Fprint(r.w, ev.Delta)
			}
		default:
			fmt.Fprint(r.w, ev.Delta)
		}

	case ToolInvoked:
		fmt.Fprintf(r.w, "\n[tool] %s(%s)", ev.ToolName, ev.ToolArgs)

	case ToolResultReceived:
		if ev.Error != "" {
			fmt.Fprintf(r.w, "\n[tool error] %s", ev.Error)
		} else {
			fmt.Fprintf(r.w, "\n[tool result] %s", ev.Result)
		}

	case UsageReported:
		fmt.Fprintf(r.w, "\n[usage] in=%d out=%d total=%d",
			ev.Usage.InputTokens, ev.Usage.OutputTokens, ev.Usage.TotalTokens)

	case TurnCompleted:
		fmt.Fprintln(r.w)

	case ErrorOccurred:
		fmt.Fprintf(r.w, "\n[stream error] %s\n", ev.Message)
	}
}
