package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/echomind-ai/voiced/pkg/core/types"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int

	// CompleteTimeout and StreamTimeout default to the shared adapter
	// timeouts when zero.
	CompleteTimeout time.Duration
	StreamTimeout   time.Duration
}

// Gemini implements Client on the Gemini API.
type Gemini struct {
	client          *genai.Client
	model           string
	temperature     float32
	maxTokens       int32
	completeTimeout time.Duration
	streamTimeout   time.Duration
}

// NewGemini builds a Gemini adapter. An empty APIKey falls back to the
// GEMINI_API_KEY environment variable inside the SDK.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	g := &Gemini{
		client:          client,
		model:           cfg.Model,
		temperature:     float32(cfg.Temperature),
		maxTokens:       int32(cfg.MaxTokens),
		completeTimeout: cfg.CompleteTimeout,
		streamTimeout:   cfg.StreamTimeout,
	}
	if cfg.Temperature == 0 {
		g.temperature = float32(DefaultTemperature)
	}
	if g.maxTokens <= 0 {
		g.maxTokens = int32(DefaultMaxTokens)
	}
	if g.completeTimeout <= 0 {
		g.completeTimeout = defaultCompleteTimeout
	}
	if g.streamTimeout <= 0 {
		g.streamTimeout = defaultStreamTimeout
	}
	return g, nil
}

// buildContents maps chat history onto Gemini contents. System messages
// become the system instruction; assistant turns use the model role.
func (g *Gemini) buildContents(messages []types.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: g.maxTokens,
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			system = append(system, m.Content)
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, config
}

// Complete implements Client.
func (g *Gemini) Complete(ctx context.Context, messages []types.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.completeTimeout)
	defer cancel()

	contents, config := g.buildContents(messages)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Stream implements Client.
func (g *Gemini) Stream(ctx context.Context, messages []types.Message) (TokenStream, error) {
	ctx, cancel := context.WithTimeout(ctx, g.streamTimeout)

	contents, config := g.buildContents(messages)
	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, g.model, contents, config))
	return &geminiTokenStream{next: next, stop: stop, cancel: cancel}, nil
}

type geminiTokenStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc
	err    error
}

func (s *geminiTokenStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			s.err = fmt.Errorf("gemini: stream: %w", err)
			return "", s.err
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiTokenStream) Close() error {
	s.stop()
	s.cancel()
	return nil
}
