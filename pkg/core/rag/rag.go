// Package rag calls the companion chat backend's voice answer endpoint.
// When a session has the knowledge-base flag set, open questions and
// fact-checks are answered there instead of by the bare LLM.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Question is the ask-voice request payload.
type Question struct {
	Message          string `json:"message"`
	Persona          string `json:"persona,omitempty"`
	ContextWindow    string `json:"context_window"`
	UseKnowledgeBase bool   `json:"use_knowledge_base"`
	AdvancedRAG      bool   `json:"advanced_rag"`
}

// Client answers voice questions against the retrieval backend.
type Client interface {
	AskVoice(ctx context.Context, q Question) (string, error)
}

// HTTPClient implements Client over the backend's REST API.
type HTTPClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures the client.
type Option func(*HTTPClient)

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = client }
}

// New builds a client for the given backend base URL.
func New(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AskVoice implements Client.
func (c *HTTPClient) AskVoice(ctx context.Context, q Question) (string, error) {
	if q.ContextWindow == "" {
		q.ContextWindow = "all"
	}
	body, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/ask-voice", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("rag: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(out.Answer), nil
}

var _ Client = (*HTTPClient)(nil)
