package llm

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

	"github.com/echomind-ai/voiced/pkg/core/types"
)

const (
	defaultCompleteTimeout = 90 * time.Second
	defaultStreamTimeout   = 120 * time.Second
)

// OpenAICompat talks to any OpenAI-compatible chat completions endpoint
// (llama.cpp, vLLM, Ollama, OpenAI itself).
type OpenAICompat struct {
	url             string
	apiKey          string
	model           string
	temperature     float64
	maxTokens       int
	completeTimeout time.Duration
	streamTimeout   time.Duration
	httpClient      *http.Client
}

// OpenAIOption configures the adapter.
type OpenAIOption func(*OpenAICompat)

// WithAPIKey sets a bearer token; local servers usually need none.
func WithAPIKey(key string) OpenAIOption {
	return func(c *OpenAICompat) { c.apiKey = key }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) OpenAIOption {
	return func(c *OpenAICompat) { c.temperature = t }
}

// WithMaxTokens overrides the reply token budget.
func WithMaxTokens(n int) OpenAIOption {
	return func(c *OpenAICompat) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAICompat) { c.httpClient = client }
}

// WithTimeouts overrides the completion and stream request timeouts.
func WithTimeouts(complete, stream time.Duration) OpenAIOption {
	return func(c *OpenAICompat) {
		if complete > 0 {
			c.completeTimeout = complete
		}
		if stream > 0 {
			c.streamTimeout = stream
		}
	}
}

// NewOpenAICompat builds an adapter for the given chat completions URL and
// model name.
func NewOpenAICompat(url, model string, opts ...OpenAIOption) *OpenAICompat {
	c := &OpenAICompat{
		url:             url,
		model:           model,
		temperature:     DefaultTemperature,
		maxTokens:       DefaultMaxTokens,
		completeTimeout: defaultCompleteTimeout,
		streamTimeout:   defaultStreamTimeout,
		httpClient:      &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *OpenAICompat) buildRequest(messages []types.Message, stream bool) *chatRequest {
	req := &chatRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return req
}

func (c *OpenAICompat) do(ctx context.Context, req *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

// Complete implements Client.
func (c *OpenAICompat) Complete(ctx context.Context, messages []types.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.completeTimeout)
	defer cancel()

	resp, err := c.do(ctx, c.buildRequest(messages, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: response has no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// Stream implements Client.
func (c *OpenAICompat) Stream(ctx context.Context, messages []types.Message) (TokenStream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)

	resp, err := c.do(ctx, c.buildRequest(messages, true))
	if err != nil {
		cancel()
		return nil, err
	}
	return &sseTokenStream{
		reader: bufio.NewReader(resp.Body),
		closer: resp.Body,
		cancel: cancel,
	}, nil
}

// sseTokenStream yields content deltas from an SSE body. Lines may carry a
// "data:" prefix or be bare JSON; some local servers omit the prefix.
type sseTokenStream struct {
	reader *bufio.Reader
	closer io.Closer
	cancel context.CancelFunc
	err    error
	done   bool
}

func (s *sseTokenStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.done {
		return "", io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				s.done = true
				return "", io.EOF
			}
			s.err = err
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		data := line
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(line[len("data:"):])
		}
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if token := chunk.Choices[0].Delta.Content; token != "" {
			return token, nil
		}
	}
}

func (s *sseTokenStream) Close() error {
	s.cancel()
	return s.closer.Close()
}
