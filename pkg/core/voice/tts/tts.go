// Package tts defines the text-to-speech surface for spoken replies: a
// piper-server HTTP adapter, a hosted Cartesia adapter, a fallback chain,
// and an LRU response cache for frequently repeated phrases.
package tts

import "context"

// Synthesizer renders one phrase of text as mono float samples plus their
// sample rate. Implementations must be safe for concurrent use.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]float32, int, error)
}
