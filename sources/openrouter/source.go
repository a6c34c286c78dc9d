// Package openrouter adapts the OpenRouter chat completion SSE stream into
// llmstream fragments. Reasoning arrives on a side channel field of each
// delta, distinct from content, and usage is attached to the final chunk
// before the [DONE] terminator.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	llmstream "github.com/haowjy/meridian-stream-go"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// ChatMessage is one message of the request conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the streaming request body.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ChatCompletionChunk represents one streaming chunk from OpenRouter.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"` // "chat.completion.chunk"
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *ChunkUsage   `json:"usage,omitempty"`
}

// ChunkChoice represents a choice in a streaming chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta represents incremental updates in a chunk.
type Delta struct {
	Role      *string         `json:"role,omitempty"`
	Content   *string         `json:"content,omitempty"`
	Reasoning *string         `json:"reasoning,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is an incremental tool call update.
type ToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// ChunkUsage is the usage payload on the final chunk. OpenRouter reports
// flat prompt/completion counters plus a nested completion details
// substructure carrying the reasoning breakdown.
type ChunkUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

// Source streams one OpenRouter chat completion as llmstream fragments.
// It implements llmstream.FragmentSource.
type Source struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	request    ChatCompletionRequest
	buffer     int
}

// NewSource creates an OpenRouter fragment source with the given API key and
// request. The request's Stream flag is forced on.
func NewSource(apiKey string, request ChatCompletionRequest) (*Source, error) {
	if apiKey == "" {
		return nil, llmstream.ErrInvalidAPIKey
	}

	request.Stream = true

	return &Source{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    defaultBaseURL,
		request:    request,
		buffer:     llmstream.DefaultOptions().ChannelBuffer,
	}, nil
}

// SetBaseURL overrides the API endpoint. Useful for tests against a local
// httptest server.
func (s *Source) SetBaseURL(url string) {
	s.baseURL = url
}

// Name returns the source identifier.
func (s *Source) Name() llmstream.SourceID {
	return llmstream.SourceOpenRouter
}

// Fragments opens the streaming request and returns a channel of fragments.
// The channel is closed when the stream ends; failures are delivered in-band
// as an ErrorFragment.
func (s *Source) Fragments(ctx context.Context) (<-chan llmstream.Fragment, error) {
	httpReq, err := s.buildHTTPRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, s.handleErrorResponse(resp)
	}

	out := make(chan llmstream.Fragment, s.buffer)

	go func() {
		defer close(out)
		defer resp.Body.Close()

		if err := s.streamFragments(ctx, resp.Body, out); err != nil {
			out <- llmstream.ErrorFragment{Err: &llmstream.SourceError{
				Source:  string(llmstream.SourceOpenRouter),
				Message: "streaming request failed",
				Err:     err,
			}}
		}
	}()

	return out, nil
}

// buildHTTPRequest constructs the chat completions POST with auth and SSE
// headers set.
func (s *Source) buildHTTPRequest(ctx context.Context) (*http.Request, error) {
	body, err := json.Marshal(s.request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	return httpReq, nil
}

// handleErrorResponse converts a non-200 response into a SourceError.
func (s *Source) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := fmt.Sprintf("unexpected status %d", resp.StatusCode)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &llmstream.SourceError{
		Source:  string(llmstream.SourceOpenRouter),
		Message: message,
	}
}

// streamFragments reads SSE lines and emits one ChatFragment per chunk,
// followed by a DoneFragment once the [DONE] terminator arrives.
func (s *Source) streamFragments(ctx context.Context, body io.Reader, out chan<- llmstream.Fragment) error {
	scanner := bufio.NewScanner(body)

	var finalUsage *llmstream.UsageSnapshot
	var stopReason string

	for scanner.Scan() {
		line := scanner.Text()

		// Skip empty lines and SSE comments
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			break
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			var errResp struct {
				Error struct {
					Code    int    `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.Unmarshal([]byte(data), &errResp) == nil && errResp.Error.Message != "" {
				return fmt.Errorf("openrouter streaming error: %s", errResp.Error.Message)
			}
			// Unparseable chunks are likely keep-alives
			continue
		}

		if chunk.Usage != nil {
			finalUsage = normalizeChunkUsage(chunk.Usage)
		}

		frag, ok := fragmentFromChunk(&chunk)
		if ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- frag:
			}
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != nil {
			stopReason = *chunk.Choices[0].FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading stream: %w", err)
	}

	out <- llmstream.DoneFragment{
		Usage:      finalUsage,
		StopReason: stopReason,
	}

	return nil
}

// fragmentFromChunk maps one decoded chunk onto a ChatFragment. Chunks with
// no content, reasoning, or tool call data produce no fragment.
func fragmentFromChunk(chunk *ChatCompletionChunk) (llmstream.ChatFragment, bool) {
	if len(chunk.Choices) == 0 {
		return llmstream.ChatFragment{}, false
	}
	delta := chunk.Choices[0].Delta

	frag := llmstream.ChatFragment{}
	if delta.Content != nil {
		frag.Content = *delta.Content
	}
	if delta.Reasoning != nil {
		frag.Reasoning = *delta.Reasoning
	}
	for _, tc := range delta.ToolCalls {
		frag.ToolCalls = append(frag.ToolCalls, llmstream.ChatToolCallDelta{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			ArgsDelta: tc.Function.Arguments,
		})
	}

	if frag.Content == "" && frag.Reasoning == "" && len(frag.ToolCalls) == 0 {
		return llmstream.ChatFragment{}, false
	}
	return frag, true
}

// normalizeChunkUsage converts the OpenRouter usage payload into a snapshot.
func normalizeChunkUsage(u *ChunkUsage) *llmstream.UsageSnapshot {
	vu := llmstream.VendorUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
	if u.CompletionTokensDetails != nil || u.PromptTokensDetails != nil {
		details := &llmstream.VendorUsageDetails{}
		if u.CompletionTokensDetails != nil {
			details.ThinkingTokens = u.CompletionTokensDetails.ReasoningTokens
		}
		if u.PromptTokensDetails != nil {
			details.CacheReadTokens = u.PromptTokensDetails.CachedTokens
		}
		vu.Details = details
	}
	return llmstream.NormalizeUsage(vu)
}
