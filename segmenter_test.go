package llmstream

import (
	"reflect"
	"testing"
)

// sinkRecorder captures every event the segmenter emits, including
// non-publishable bookkeeping events.
type sinkRecorder struct {
	events []Event
}

func (r *sinkRecorder) Apply(event Event) {
	r.events = append(r.events, event)
}

func (r *sinkRecorder) opened() []BlockOpened {
	var out []BlockOpened
	for _, ev := range r.events {
		if bo, ok := ev.(BlockOpened); ok {
			out = append(out, bo)
		}
	}
	return out
}

func newTestSegmenter() (*BlockSegmenter, *sinkRecorder) {
	sink := &sinkRecorder{}
	seg := NewBlockSegmenter("msg-1", sink, NewSequentialIDGenerator("b"))
	return seg, sink
}

func TestSegmenter_ContiguousTextIsOneBlock(t *testing.T) {
	seg, sink := newTestSegmenter()

	seg.Feed(Signal{Text: &TextSignal{Text: "Hello"}})
	seg.Feed(Signal{Text: &TextSignal{Text: " world"}})
	closeOrder := seg.Finish()

	opened := sink.opened()
	if len(opened) != 1 {
		t.Fatalf("expected 1 block, got %d", len(opened))
	}
	if opened[0].Kind != BlockKindText {
		t.Errorf("kind = %q, want %q", opened[0].Kind, BlockKindText)
	}
	if !reflect.DeepEqual(closeOrder, []string{opened[0].BlockID}) {
		t.Errorf("close order = %v, want [%s]", closeOrder, opened[0].BlockID)
	}
}

func TestSegmenter_ThinkingThenText(t *testing.T) {
	seg, sink := newTestSegmenter()

	seg.Feed(Signal{Thinking: &ThinkingSignal{Text: "hmm "}})
	seg.Feed(Signal{Thinking: &ThinkingSignal{Text: "yes"}})
	seg.Feed(Signal{Text: &TextSignal{Text: "Answer"}})
	closeOrder := seg.Finish()

	opened := sink.opened()
	if len(opened) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(opened))
	}
	if opened[0].Kind != BlockKindThinking || opened[1].Kind != BlockKindText {
		t.Errorf("kinds = %q, %q; want thinking then text", opened[0].Kind, opened[1].Kind)
	}
	// Thinking closes when the text arrives, so it precedes text in the
	// finalize order
	want := []string{opened[0].BlockID, opened[1].BlockID}
	if !reflect.DeepEqual(closeOrder, want) {
		t.Errorf("close order = %v, want %v", closeOrder, want)
	}
}

func TestSegmenter_InterleavedThinking(t *testing.T) {
	seg, sink := newTestSegmenter()

	// Reasoning, then a tool call, then more reasoning: the second run of
	// reasoning must open a fresh block because a tool call intervened.
	seg.Feed(Signal{Thinking: &ThinkingSignal{Text: "first thoughts"}})
	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "call-1", Name: "search"}}})
	seg.Feed(Signal{Thinking: &ThinkingSignal{Text: "second thoughts"}})
	seg.Finish()

	var kinds []string
	for _, bo := range sink.opened() {
		kinds = append(kinds, bo.Kind)
	}
	want := []string{BlockKindThinking, BlockKindToolUse, BlockKindThinking}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("opened kinds = %v, want %v", kinds, want)
	}
}

func TestSegmenter_ThinkingWithoutInterveningToolContinues(t *testing.T) {
	seg, sink := newTestSegmenter()

	// A tool call before any thinking does not split a later contiguous
	// thinking run.
	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "call-1", Name: "search"}}})
	seg.Feed(Signal{Thinking: &ThinkingSignal{Text: "a"}})
	seg.Feed(Signal{Thinking: &ThinkingSignal{Text: "b"}})
	seg.Finish()

	thinkingBlocks := 0
	for _, bo := range sink.opened() {
		if bo.Kind == BlockKindThinking {
			thinkingBlocks++
		}
	}
	if thinkingBlocks != 1 {
		t.Errorf("expected 1 thinking block, got %d", thinkingBlocks)
	}
}

func TestSegmenter_TextSplitsWhenInterrupted(t *testing.T) {
	seg, sink := newTestSegmenter()

	// Text, then a tool call, then more text: the most recently opened
	// block is no longer the text block, so the text stream splits.
	seg.Feed(Signal{Text: &TextSignal{Text: "before"}})
	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "call-1", Name: "search"}}})
	seg.Feed(Signal{Text: &TextSignal{Text: "after"}})
	seg.Finish()

	textBlocks := 0
	for _, bo := range sink.opened() {
		if bo.Kind == BlockKindText {
			textBlocks++
		}
	}
	if textBlocks != 2 {
		t.Errorf("expected 2 text blocks, got %d", textBlocks)
	}
}

func TestSegmenter_ToolCallOpensOnce(t *testing.T) {
	seg, sink := newTestSegmenter()

	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "call-1", Name: "search"}}})
	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "call-1", ArgsDelta: `{"q":`}}})
	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "call-1", ArgsDelta: `"x"}`}}})
	seg.Finish()

	opened := sink.opened()
	if len(opened) != 1 {
		t.Fatalf("expected 1 block for repeated call id, got %d", len(opened))
	}

	invocations := 0
	for _, ev := range sink.events {
		if _, ok := ev.(ToolInvoked); ok {
			invocations++
		}
	}
	if invocations != 3 {
		t.Errorf("expected a ToolInvoked per signal, got %d", invocations)
	}
}

func TestSegmenter_ToolCallWithoutName(t *testing.T) {
	seg, sink := newTestSegmenter()

	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "call-1", ArgsDelta: "{}"}}})
	seg.Finish()

	opened := sink.opened()
	if len(opened) != 1 {
		t.Fatalf("expected 1 block, got %d", len(opened))
	}
	if opened[0].ToolName != ToolNamePlaceholder {
		t.Errorf("tool name = %q, want placeholder %q", opened[0].ToolName, ToolNamePlaceholder)
	}
}

func TestSegmenter_RetroactiveToolResult(t *testing.T) {
	seg, sink := newTestSegmenter()

	// The result arrives before any call for its id: the tool block is
	// created retroactively with a placeholder name and immediately sealed.
	seg.Feed(Signal{ToolResults: []ToolResultSignal{{ID: "call-9", Content: "42"}}})
	closeOrder := seg.Finish()

	opened := sink.opened()
	if len(opened) != 1 {
		t.Fatalf("expected 1 retroactive block, got %d", len(opened))
	}
	if opened[0].Kind != BlockKindToolUse || opened[0].ToolName != ToolNamePlaceholder {
		t.Errorf("unexpected retroactive block: %+v", opened[0])
	}

	var result *ToolResultReceived
	for _, ev := range sink.events {
		if tr, ok := ev.(ToolResultReceived); ok {
			result = &tr
		}
	}
	if result == nil {
		t.Fatal("expected a ToolResultReceived event")
	}
	if result.Result != "42" || result.Error != "" {
		t.Errorf("unexpected result event: %+v", result)
	}
	if len(closeOrder) != 1 || closeOrder[0] != opened[0].BlockID {
		t.Errorf("close order = %v, want the sealed tool block", closeOrder)
	}
}

func TestSegmenter_ToolResultError(t *testing.T) {
	seg, sink := newTestSegmenter()

	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "call-1", Name: "bash"}}})
	seg.Feed(Signal{ToolResults: []ToolResultSignal{{ID: "call-1", Content: "exit 1", IsError: true}}})
	seg.Finish()

	for _, ev := range sink.events {
		if tr, ok := ev.(ToolResultReceived); ok {
			if tr.Error != "exit 1" || tr.Result != "" {
				t.Errorf("error result must populate Error, got %+v", tr)
			}
			return
		}
	}
	t.Fatal("expected a ToolResultReceived event")
}

func TestSegmenter_AtMostOneOpenPerKind(t *testing.T) {
	seg, sink := newTestSegmenter()

	signals := []Signal{
		{Thinking: &ThinkingSignal{Text: "t1"}},
		{Text: &TextSignal{Text: "x1"}},
		{ToolCalls: []ToolCallSignal{{ID: "c1", Name: "a"}}},
		{Text: &TextSignal{Text: "x2"}},
		{Thinking: &ThinkingSignal{Text: "t2"}},
		{Text: &TextSignal{Text: "x3"}},
		{ToolCalls: []ToolCallSignal{{ID: "c2", Name: "b"}}},
	}
	for _, sig := range signals {
		seg.Feed(sig)
	}
	seg.Finish()

	// Replay the event stream and verify no second block of the same
	// non-tool kind is open simultaneously.
	open := map[string]string{} // block id -> kind
	countOpen := func(kind string) int {
		n := 0
		for _, k := range open {
			if k == kind {
				n++
			}
		}
		return n
	}
	for _, ev := range sink.events {
		switch e := ev.(type) {
		case BlockOpened:
			open[e.BlockID] = e.Kind
			if e.Kind != BlockKindToolUse && countOpen(e.Kind) > 1 {
				t.Fatalf("two %s blocks open at once", e.Kind)
			}
		case BlockClosed:
			delete(open, e.BlockID)
		}
	}
}

func TestSegmenter_FinishClosesEverything(t *testing.T) {
	seg, sink := newTestSegmenter()

	seg.Feed(Signal{Thinking: &ThinkingSignal{Text: "t"}})
	seg.Feed(Signal{Text: &TextSignal{Text: "x"}})
	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "c1", Name: "a"}}})
	seg.Feed(Signal{ToolCalls: []ToolCallSignal{{ID: "c2", Name: "b"}}})
	closeOrder := seg.Finish()

	opened := sink.opened()
	if len(closeOrder) != len(opened) {
		t.Fatalf("close order has %d blocks, opened %d", len(closeOrder), len(opened))
	}
	closed := map[string]bool{}
	for _, id := range closeOrder {
		if closed[id] {
			t.Errorf("block %s closed twice", id)
		}
		closed[id] = true
	}
	for _, bo := range opened {
		if !closed[bo.BlockID] {
			t.Errorf("block %s never closed", bo.BlockID)
		}
	}
}

func TestSegmenter_Deterministic(t *testing.T) {
	signals := []Signal{
		{Thinking: &ThinkingSignal{Text: "plan"}},
		{ToolCalls: []ToolCallSignal{{ID: "c1", Name: "search", ArgsDelta: `{"q":1}`}}},
		{Thinking: &ThinkingSignal{Text: "revise"}},
		{Text: &TextSignal{Text: "done"}},
	}

	run := func() []Event {
		sink := &sinkRecorder{}
		seg := NewBlockSegmenter("msg-1", sink, NewSequentialIDGenerator("b"))
		for _, sig := range signals {
			seg.Feed(sig)
		}
		seg.Finish()
		return sink.events
	}

	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same signals produced different event sequences:\n%#v\n%#v", first, second)
	}
}
