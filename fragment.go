package llmstream

import (
	"github.com/tidwall/gjson"
)

// Fragment is one raw unit of incremental output from an upstream vendor
// stream. The union is closed: each variant corresponds to one known vendor
// wire shape, and sources/* adapters construct the variant matching their
// vendor. Anything a source cannot express maps to RawFragment, which is
// probed for known field spellings and degrades to no signal when
// unrecognized.
type Fragment interface {
	isFragment()
}

// TextFragment is a bare string delta: the whole fragment is a piece of
// plain assistant text.
type TextFragment struct {
	Text string `json:"text"`
}

func (TextFragment) isFragment() {}

// PartKind tags a sub-part of a PartsFragment.
const (
	PartKindText       = "text"
	PartKindThinking   = "thinking"
	PartKindToolUse    = "tool_use"
	PartKindToolResult = "tool_result"
)

// FragmentPart is one typed sub-part of a PartsFragment.
type FragmentPart struct {
	// Kind is one of the PartKind* constants
	Kind string `json:"kind"`

	// Text carries content for text and thinking parts
	Text string `json:"text,omitempty"`

	// Thought marks an otherwise plain text part as reasoning. Some vendors
	// tag reasoning with a boolean flag instead of a dedicated part kind.
	Thought bool `json:"thought,omitempty"`

	// Tool call fields (tool_use parts)
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ArgsDelta  string `json:"args_delta,omitempty"`

	// Tool result fields (tool_result parts)
	ResultContent string `json:"result_content,omitempty"`
	ResultIsError bool   `json:"result_is_error,omitempty"`
}

// PartsFragment is a list of typed sub-parts, the content-block-array shape
// used by Anthropic-style and Gemini-style streams.
type PartsFragment struct {
	Parts []FragmentPart `json:"parts"`
}

func (PartsFragment) isFragment() {}

// ChatFragment is a chat-completions style delta: plain content plus a
// side-channel reasoning field, with optional tool-call deltas and usage
// counters attached to the same chunk.
type ChatFragment struct {
	// Content is the plain text delta
	Content string `json:"content,omitempty"`

	// Reasoning is the side-channel reasoning delta, distinct from Content
	Reasoning string `json:"reasoning,omitempty"`

	// ToolCalls carries incremental tool call data, if any
	ToolCalls []ChatToolCallDelta `json:"tool_calls,omitempty"`

	// Usage carries token counters when the vendor attaches them mid-stream
	// or on the final chunk
	Usage *UsageSnapshot `json:"usage,omitempty"`
}

// ChatToolCallDelta is one incremental tool call entry of a ChatFragment.
type ChatToolCallDelta struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ArgsDelta string `json:"args_delta,omitempty"`
}

func (ChatFragment) isFragment() {}

// RawFragment is an opaque vendor JSON payload from a connection whose shape
// has no dedicated adapter. The parser probes it for the field spellings of
// the known shapes.
type RawFragment struct {
	Data []byte `json:"data"`
}

func (RawFragment) isFragment() {}

// DoneFragment is the end-of-stream marker. Vendors that report usage or a
// trailing reasoning summary only at stream end attach them here.
type DoneFragment struct {
	// Usage is the final usage snapshot, when available
	Usage *UsageSnapshot `json:"usage,omitempty"`

	// ReasoningSummary is trailing reasoning text delivered only at stream
	// end (some vendors withhold the full reasoning until completion)
	ReasoningSummary string `json:"reasoning_summary,omitempty"`

	// StopReason indicates why generation stopped, when reported
	StopReason string `json:"stop_reason,omitempty"`
}

func (DoneFragment) isFragment() {}

// ErrorFragment surfaces an upstream connection failure in-band, so the
// normalizer observes it between fragments like any other input.
type ErrorFragment struct {
	Err error
}

func (ErrorFragment) isFragment() {}

// Signal is the classification of one fragment: zero or more typed signals
// extracted from it. All fields are optional; a single fragment may carry
// several simultaneously (e.g. a tool call delta plus usage at stream end).
type Signal struct {
	// Thinking is the reasoning text delta, nil if none
	Thinking *ThinkingSignal

	// Text is the plain text delta, nil if none
	Text *TextSignal

	// ToolCalls lists tool call deltas carried by the fragment
	ToolCalls []ToolCallSignal

	// ToolResults lists tool results carried by the fragment
	ToolResults []ToolResultSignal

	// Usage is a usage snapshot carried by the fragment, nil if none
	Usage *UsageSnapshot
}

// ThinkingSignal carries a reasoning text delta.
type ThinkingSignal struct {
	Text string
}

// TextSignal carries a plain text delta.
type TextSignal struct {
	Text string
}

// ToolCallSignal carries a tool call delta.
type ToolCallSignal struct {
	ID        string
	Name      string
	ArgsDelta string
}

// ToolResultSignal carries a tool result.
type ToolResultSignal struct {
	ID      string
	Content string
	IsError bool
}

// IsZero returns true when the fragment carried nothing recognizable.
func (s Signal) IsZero() bool {
	return s.Thinking == nil && s.Text == nil &&
		len(s.ToolCalls) == 0 && len(s.ToolResults) == 0 && s.Usage == nil
}

// ParseFragment classifies one fragment into its signals. Parsing is pure
// and never fails: unrecognized shapes yield a zero Signal.
func ParseFragment(frag Fragment) Signal {
	switch f := frag.(type) {
	case TextFragment:
		if f.Text == "" {
			return Signal{}
		}
		return Signal{Text: &TextSignal{Text: f.Text}}

	case PartsFragment:
		return parseParts(f.Parts)

	case ChatFragment:
		return parseChat(f)

	case RawFragment:
		return parseRaw(f.Data)

	case DoneFragment:
		// End-of-stream reconciliation (usage, reasoning summary) is the
		// normalizer's job; the fragment itself carries no content signal.
		return Signal{}

	case ErrorFragment:
		return Signal{}

	default:
		return Signal{}
	}
}

func parseParts(parts []FragmentPart) Signal {
	var sig Signal
	var thinking, text string

	for _, part := range parts {
		switch part.Kind {
		case PartKindThinking:
			thinking += part.Text
		case PartKindText:
			if part.Thought {
				// Flag-based reasoning marker on a plain part
				thinking += part.Text
			} else {
				text += part.Text
			}
		case PartKindToolUse:
			if part.ToolCallID == "" && part.ToolName == "" && part.ArgsDelta == "" {
				continue
			}
			sig.ToolCalls = append(sig.ToolCalls, ToolCallSignal{
				ID:        part.ToolCallID,
				Name:      part.ToolName,
				ArgsDelta: part.ArgsDelta,
			})
		case PartKindToolResult:
			if part.ToolCallID == "" {
				continue
			}
			sig.ToolResults = append(sig.ToolResults, ToolResultSignal{
				ID:      part.ToolCallID,
				Content: part.ResultContent,
				IsError: part.ResultIsError,
			})
		}
	}

	if thinking != "" {
		sig.Thinking = &ThinkingSignal{Text: thinking}
	}
	if text != "" {
		sig.Text = &TextSignal{Text: text}
	}
	return sig
}

func parseChat(f ChatFragment) Signal {
	var sig Signal
	if f.Reasoning != "" {
		sig.Thinking = &ThinkingSignal{Text: f.Reasoning}
	}
	if f.Content != "" {
		sig.Text = &TextSignal{Text: f.Content}
	}
	for _, tc := range f.ToolCalls {
		if tc.ID == "" && tc.Name == "" && tc.ArgsDelta == "" {
			continue
		}
		sig.ToolCalls = append(sig.ToolCalls, ToolCallSignal{
			ID:        tc.ID,
			Name:      tc.Name,
			ArgsDelta: tc.ArgsDelta,
		})
	}
	sig.Usage = f.Usage
	return sig
}

// parseRaw probes opaque vendor JSON for the field spellings of the known
// shapes: chat-completions deltas (content + reasoning side channel),
// Gemini-style candidate parts with thought flags, Anthropic-style delta
// objects, and the common usage counter spellings.
func parseRaw(data []byte) Signal {
	if !gjson.ValidBytes(data) {
		return Signal{}
	}
	root := gjson.ParseBytes(data)

	var sig Signal
	var thinking, text string

	// Chat-completions shape: choices[0].delta.{content,reasoning}
	if delta := root.Get("choices.0.delta"); delta.Exists() {
		text += delta.Get("content").String()
		thinking += delta.Get("reasoning").String()
		delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			id := tc.Get("id").String()
			name := tc.Get("function.name").String()
			args := tc.Get("function.arguments").String()
			if id == "" && name == "" && args == "" {
				return true
			}
			sig.ToolCalls = append(sig.ToolCalls, ToolCallSignal{ID: id, Name: name, ArgsDelta: args})
			return true
		})
	}

	// Candidate-parts shape: candidates[0].content.parts[] with thought flags
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			if part.Get("thought").Bool() {
				thinking += t.String()
			} else {
				text += t.String()
			}
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			sig.ToolCalls = append(sig.ToolCalls, ToolCallSignal{
				ID:        fc.Get("id").String(),
				Name:      fc.Get("name").String(),
				ArgsDelta: fc.Get("args").Raw,
			})
		}
		return true
	})

	// Anthropic-style delta object: delta.{text,thinking,partial_json}
	if delta := root.Get("delta"); delta.Exists() {
		text += delta.Get("text").String()
		thinking += delta.Get("thinking").String()
	}

	if usage := parseRawUsage(root); usage != nil {
		sig.Usage = usage
	}

	if thinking != "" {
		sig.Thinking = &ThinkingSignal{Text: thinking}
	}
	if text != "" {
		sig.Text = &TextSignal{Text: text}
	}
	return sig
}

// parseRawUsage extracts usage counters under their common spellings.
func parseRawUsage(root gjson.Result) *UsageSnapshot {
	if u := root.Get("usage"); u.Exists() {
		in := u.Get("input_tokens")
		out := u.Get("output_tokens")
		if in.Exists() || out.Exists() {
			return NormalizeUsage(VendorUsage{
				InputTokens:      int(in.Int()),
				OutputTokens:     int(out.Int()),
				CacheWriteTokens: int(u.Get("cache_creation_input_tokens").Int()),
				CacheReadTokens:  int(u.Get("cache_read_input_tokens").Int()),
			})
		}
		prompt := u.Get("prompt_tokens")
		completion := u.Get("completion_tokens")
		if prompt.Exists() || completion.Exists() {
			return NormalizeUsage(VendorUsage{
				InputTokens:  int(prompt.Int()),
				OutputTokens: int(completion.Int()),
				TotalTokens:  int(u.Get("total_tokens").Int()),
				Details: &VendorUsageDetails{
					ThinkingTokens:  int(u.Get("completion_tokens_details.reasoning_tokens").Int()),
					CacheReadTokens: int(u.Get("prompt_tokens_details.cached_tokens").Int()),
				},
			})
		}
	}
	if u := root.Get("usageMetadata"); u.Exists() {
		return NormalizeUsage(VendorUsage{
			InputTokens:  int(u.Get("promptTokenCount").Int()),
			OutputTokens: int(u.Get("candidatesTokenCount").Int()),
			TotalTokens:  int(u.Get("totalTokenCount").Int()),
			Details: &VendorUsageDetails{
				ThinkingTokens: int(u.Get("thoughtsTokenCount").Int()),
			},
		})
	}
	return nil
}
