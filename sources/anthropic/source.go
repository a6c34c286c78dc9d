// Package anthropic adapts the Anthropic Messages streaming API into
// llmstream fragments. Typed content-block events (content_block_start,
// content_block_delta) become PartsFragments; the accumulated final message
// supplies usage and stop reason on the DoneFragment.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	llmstream "github.com/haowjy/meridian-stream-go"
)

// Source streams one Anthropic message request as llmstream fragments.
// It implements llmstream.FragmentSource.
type Source struct {
	client *anthropic.Client
	params anthropic.MessageNewParams
	buffer int
}

// NewSource creates an Anthropic fragment source with the given API key and
// request parameters.
func NewSource(apiKey string, params anthropic.MessageNewParams) (*Source, error) {
	if apiKey == "" {
		return nil, llmstream.ErrInvalidAPIKey
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Source{
		client: &client,
		params: params,
		buffer: llmstream.DefaultOptions().ChannelBuffer,
	}, nil
}

// NewSourceWithClient creates a source around an existing SDK client.
// Useful for tests and callers that configure the client themselves.
func NewSourceWithClient(client *anthropic.Client, params anthropic.MessageNewParams) *Source {
	return &Source{
		client: client,
		params: params,
		buffer: llmstream.DefaultOptions().ChannelBuffer,
	}
}

// Name returns the source identifier.
func (s *Source) Name() llmstream.SourceID {
	return llmstream.SourceAnthropic
}

// Fragments opens the streaming request and returns a channel of fragments.
// The channel is closed when the stream ends; failures are delivered in-band
// as an ErrorFragment.
func (s *Source) Fragments(ctx context.Context) (<-chan llmstream.Fragment, error) {
	out := make(chan llmstream.Fragment, s.buffer)

	go func() {
		defer close(out)

		stream := s.client.Messages.NewStreaming(ctx, s.params)

		// Accumulator for final message metadata
		message := anthropic.Message{}
		conv := newEventConverter()

		for stream.Next() {
			event := stream.Current()

			if err := message.Accumulate(event); err != nil {
				out <- llmstream.ErrorFragment{Err: &llmstream.SourceError{
					Source:  string(llmstream.SourceAnthropic),
					Message: "failed to accumulate message",
					Err:     err,
				}}
				return
			}

			frag, ok := conv.convert(event)
			if !ok {
				continue
			}

			select {
			case <-ctx.Done():
				out <- llmstream.ErrorFragment{Err: ctx.Err()}
				return
			case out <- frag:
			}
		}

		if err := stream.Err(); err != nil {
			out <- llmstream.ErrorFragment{Err: &llmstream.SourceError{
				Source:  string(llmstream.SourceAnthropic),
				Message: "streaming request failed",
				Err:     err,
			}}
			return
		}

		out <- llmstream.DoneFragment{
			Usage: llmstream.NormalizeUsage(llmstream.VendorUsage{
				InputTokens:      int(message.Usage.InputTokens),
				OutputTokens:     int(message.Usage.OutputTokens),
				CacheWriteTokens: int(message.Usage.CacheCreationInputTokens),
				CacheReadTokens:  int(message.Usage.CacheReadInputTokens),
			}),
			StopReason: string(message.StopReason),
		}
	}()

	return out, nil
}

// eventConverter tracks tool_use block indices across events.
// input_json_delta events carry only a block index, so the converter must
// remember which tool call id lives at each index.
type eventConverter struct {
	toolIDByIndex map[int64]string
}

func newEventConverter() *eventConverter {
	return &eventConverter{
		toolIDByIndex: make(map[int64]string),
	}
}

// convert maps one Anthropic stream event onto an llmstream fragment.
// Events that carry no fragment-worthy content (message_start, message_stop,
// content_block_stop, message_delta) return ok=false.
func (c *eventConverter) convert(event anthropic.MessageStreamEventUnion) (llmstream.Fragment, bool) {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		switch e.ContentBlock.Type {
		case "tool_use":
			c.toolIDByIndex[e.Index] = e.ContentBlock.ID
			return llmstream.PartsFragment{Parts: []llmstream.FragmentPart{{
				Kind:       llmstream.PartKindToolUse,
				ToolCallID: e.ContentBlock.ID,
				ToolName:   e.ContentBlock.Name,
			}}}, true
		}
		// text and thinking block starts carry no content yet
		return nil, false

	case anthropic.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			return llmstream.PartsFragment{Parts: []llmstream.FragmentPart{{
				Kind: llmstream.PartKindText,
				Text: e.Delta.Text,
			}}}, true

		case "thinking_delta":
			return llmstream.PartsFragment{Parts: []llmstream.FragmentPart{{
				Kind: llmstream.PartKindThinking,
				Text: e.Delta.Thinking,
			}}}, true

		case "input_json_delta":
			id, ok := c.toolIDByIndex[e.Index]
			if !ok {
				// Argument delta for a block we never saw start. Drop it.
				return nil, false
			}
			return llmstream.PartsFragment{Parts: []llmstream.FragmentPart{{
				Kind:       llmstream.PartKindToolUse,
				ToolCallID: id,
				ArgsDelta:  e.Delta.PartialJSON,
			}}}, true
		}
		// signature_delta carries no renderable content
		return nil, false

	default:
		return nil, false
	}
}
