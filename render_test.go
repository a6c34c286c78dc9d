package llmstream

import (
	"strings"
	"testing"
)

func TestConsoleRenderer(t *testing.T) {
	var out strings.Builder
	r := NewConsoleRenderer(&out)
	sub := r.Subscriber()

	sub(BlockOpened{MessageID: "m1", BlockID: "b1", Kind: BlockKindThinking})
	sub(ContentAppended{BlockID: "b1", Delta: "secret", Total: "secret"})
	sub(BlockOpened{MessageID: "m1", BlockID: "b2", Kind: BlockKindText})
	sub(ContentAppended{BlockID: "b2", Delta: "Hello", Total: "Hello"})
	sub(ToolInvoked{ToolCallID: "c1", ToolName: "search", ToolArgs: `{"q":"x"}`, BlockID: "b3"})
	sub(UsageReported{MessageID: "m1", Usage: UsageSnapshot{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}})

	got := out.String()
	if !strings.Contains(got, "[thinking]") {
		t.Errorf("missing thinking marker: %q", got)
	}
	if strings.Contains(got, "secret") {
		t.Errorf("thinking content leaked with ShowThinking off: %q", got)
	}
	if !strings.Contains(got, "Hello") {
		t.Errorf("missing text content: %q", got)
	}
	if !strings.Contains(got, `[tool] search({"q":"x"})`) {
		t.Errorf("missing tool marker: %q", got)
	}
	if !strings.Contains(got, "[usage] in=1 out=2 total=3") {
		t.Errorf("missing usage marker: %q", got)
	}
}

func TestConsoleRenderer_ShowThinking(t *testing.T) {
	var out strings.Builder
	r := NewConsoleRenderer(&out)
	r.ShowThinking = true
	sub := r.Subscriber()

	sub(BlockOpened{MessageID: "m1", BlockID: "b1", Kind: BlockKindThinking})
	sub(ContentAppended{BlockID: "b1", Delta: "visible reasoning", Total: "visible reasoning"})

	if !strings.Contains(out.String(), "visible reasoning") {
		t.Errorf("thinking content not streamed: %q", out.String())
	}
}
