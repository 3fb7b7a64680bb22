// Package llm defines the narrow language-model surface the voice session
// consumes: a streaming token iterator for spoken replies and a one-shot
// completion used for memory answers and as a fallback when streaming fails.
package llm

import (
	"context"

	"github.com/echomind-ai/voiced/pkg/core/types"
)

// TokenStream iterates text tokens from a streaming completion.
// Next returns io.EOF when the stream is complete.
type TokenStream interface {
	Next() (string, error)
	Close() error
}

// Client is implemented by every model adapter.
type Client interface {
	// Stream starts a streaming completion. The caller must drain or
	// Close the returned stream.
	Stream(ctx context.Context, messages []types.Message) (TokenStream, error)

	// Complete runs a blocking completion and returns the trimmed text.
	Complete(ctx context.Context, messages []types.Message) (string, error)
}

const (
	// DefaultTemperature keeps spoken replies stable but not robotic.
	DefaultTemperature = 0.7

	// DefaultMaxTokens bounds replies to a few spoken sentences.
	DefaultMaxTokens = 220
)
