package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoSynthesizers is returned when a chain is built empty.
var ErrNoSynthesizers = errors.New("tts: no synthesizers configured")

// Chain tries synthesizers in order until one succeeds. The first entry is
// the primary voice; later entries are fallbacks.
type Chain struct {
	synths []Synthesizer
	logger *slog.Logger
}

// NewChain builds a fallback chain. At least one synthesizer is required.
func NewChain(logger *slog.Logger, synths ...Synthesizer) (*Chain, error) {
	if len(synths) == 0 {
		return nil, ErrNoSynthesizers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		synths: synths,
		logger: logger.With("component", "tts.chain"),
	}, nil
}

// Synthesize implements Synthesizer.
func (c *Chain) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	var lastErr error
	for i, s := range c.synths {
		samples, rate, err := s.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback synthesizer succeeded", "index", i, "chars", len(text))
			}
			return samples, rate, nil
		}
		lastErr = err
		c.logger.Warn("synthesizer failed, trying next", "index", i, "error", err)
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
	}
	return nil, 0, fmt.Errorf("tts: all %d synthesizers failed: %w", len(c.synths), lastErr)
}

var _ Synthesizer = (*Chain)(nil)
