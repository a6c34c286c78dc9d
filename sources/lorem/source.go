// Package lorem is a mock fragment source that generates lorem ipsum
// streams. Used for development and demos without real API keys, and for
// exercising the full normalization path including reasoning blocks and
// tool calls.
package lorem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	llmstream "github.com/haowjy/meridian-stream-go"
)

// Config controls the shape of the generated stream.
type Config struct {
	// Rounds is the number of block rotations to generate (default 2).
	// Each round produces a thinking block (if enabled), a text block,
	// and a tool call (if enabled).
	Rounds int

	// WordsPerBlock is the length of each text and thinking block
	// (default 20).
	WordsPerBlock int

	// Thinking enables reasoning blocks in the rotation.
	Thinking bool

	// Tools enables mock tool calls in the rotation.
	Tools bool

	// Delay is the pause between emitted fragments (default none, so tests
	// run fast).
	Delay time.Duration
}

// Source generates a fake fragment stream. It implements
// llmstream.FragmentSource.
type Source struct {
	generator *loremgen.Lorem
	config    Config
	buffer    int
}

// NewSource creates a lorem fragment source.
func NewSource(config Config) *Source {
	if config.Rounds <= 0 {
		config.Rounds = 2
	}
	if config.WordsPerBlock <= 0 {
		config.WordsPerBlock = 20
	}

	return &Source{
		generator: loremgen.New(),
		config:    config,
		buffer:    llmstream.DefaultOptions().ChannelBuffer,
	}
}

// Name returns the source identifier.
func (s *Source) Name() llmstream.SourceID {
	return llmstream.SourceLorem
}

// mock tool calls rotate through these
var toolTemplates = []struct {
	name  string
	input map[string]interface{}
}{
	{
		name: "search_files",
		input: map[string]interface{}{
			"query":       "lorem ipsum",
			"max_results": 10,
		},
	},
	{
		name: "get_outline",
		input: map[string]interface{}{
			"document_id":      "doc-lorem-123",
			"include_chapters": true,
		},
	},
}

// Fragments starts the generator goroutine and returns its channel.
// The stream ends with a DoneFragment whose usage counts the emitted words.
func (s *Source) Fragments(ctx context.Context) (<-chan llmstream.Fragment, error) {
	out := make(chan llmstream.Fragment, s.buffer)

	go func() {
		defer close(out)

		outputWords := 0
		toolIndex := 0

		for round := 0; round < s.config.Rounds; round++ {
			if s.config.Thinking {
				n, err := s.streamWords(ctx, out, llmstream.PartKindThinking)
				if err != nil {
					return
				}
				outputWords += n
			}

			n, err := s.streamWords(ctx, out, llmstream.PartKindText)
			if err != nil {
				return
			}
			outputWords += n

			if s.config.Tools {
				n, err := s.streamToolCall(ctx, out, toolIndex)
				if err != nil {
					return
				}
				outputWords += n
				toolIndex++
			}
		}

		out <- llmstream.DoneFragment{
			Usage: llmstream.NormalizeUsage(llmstream.VendorUsage{
				InputTokens:  10,
				OutputTokens: outputWords,
			}),
			StopReason: "end_turn",
		}
	}()

	return out, nil
}

// streamWords emits one text or thinking block word by word.
func (s *Source) streamWords(ctx context.Context, out chan<- llmstream.Fragment, kind string) (int, error) {
	text := s.generateWords(s.config.WordsPerBlock)
	words := strings.Fields(text)

	for i, word := range words {
		delta := word
		if i < len(words)-1 {
			delta += " "
		}

		frag := llmstream.PartsFragment{Parts: []llmstream.FragmentPart{{
			Kind: kind,
			Text: delta,
		}}}

		select {
		case <-ctx.Done():
			return i, ctx.Err()
		case out <- frag:
		}

		s.pause()
	}

	return len(words), nil
}

// streamToolCall emits one mock tool call: an opening part with id and name,
// then the JSON arguments in small chunks.
func (s *Source) streamToolCall(ctx context.Context, out chan<- llmstream.Fragment, toolIndex int) (int, error) {
	template := toolTemplates[toolIndex%len(toolTemplates)]
	toolID := fmt.Sprintf("toolu_lorem_%d", toolIndex)

	start := llmstream.PartsFragment{Parts: []llmstream.FragmentPart{{
		Kind:       llmstream.PartKindToolUse,
		ToolCallID: toolID,
		ToolName:   template.name,
	}}}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case out <- start:
	}

	jsonBytes, err := json.Marshal(template.input)
	if err != nil {
		return 0, err
	}
	jsonStr := string(jsonBytes)

	// Stream arguments in 8-character chunks
	for i := 0; i < len(jsonStr); i += 8 {
		end := i + 8
		if end > len(jsonStr) {
			end = len(jsonStr)
		}

		frag := llmstream.PartsFragment{Parts: []llmstream.FragmentPart{{
			Kind:       llmstream.PartKindToolUse,
			ToolCallID: toolID,
			ArgsDelta:  jsonStr[i:end],
		}}}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case out <- frag:
		}

		s.pause()
	}

	return len(jsonStr) / 4, nil
}

// generateWords produces approximately n words of lorem ipsum.
func (s *Source) generateWords(n int) string {
	var sb strings.Builder
	wordCount := 0
	for wordCount < n {
		sentence := s.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		wordCount += len(strings.Fields(sentence))
	}
	words := strings.Fields(sb.String())
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func (s *Source) pause() {
	if s.config.Delay > 0 {
		time.Sleep(s.config.Delay)
	}
}
