package stt

import (
	"context"
	"sync"
)

// Mock implements Transcriber for tests. The zero value returns empty text.
type Mock struct {
	// TranscribeFunc overrides the response when set.
	TranscribeFunc func(ctx context.Context, samples []float32, sampleRate int) (string, error)

	// Text is returned when TranscribeFunc is nil.
	Text string

	mu    sync.Mutex
	calls int
}

// Transcribe implements Transcriber.
func (m *Mock) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, samples, sampleRate)
	}
	return m.Text, nil
}

// Calls reports how many transcriptions were requested.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Transcriber = (*Mock)(nil)
