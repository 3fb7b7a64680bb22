package tts

import (
	"context"
	"sync"
)

// MockSampleRate is the rate of audio produced by the zero-value Mock.
const MockSampleRate = 22050

// Mock implements Synthesizer for tests. The zero value produces silence
// sized at roughly 20 ms per character.
type Mock struct {
	// SynthesizeFunc overrides the response when set.
	SynthesizeFunc func(ctx context.Context, text string) ([]float32, int, error)

	mu    sync.Mutex
	texts []string
}

// Synthesize implements Synthesizer.
func (m *Mock) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	samples := make([]float32, len(text)*MockSampleRate/50)
	return samples, MockSampleRate, nil
}

// Texts returns every phrase synthesized so far.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}

var _ Synthesizer = (*Mock)(nil)
