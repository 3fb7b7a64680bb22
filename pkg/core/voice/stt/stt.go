// Package stt defines the speech-to-text surface the session consumes and
// the HTTP adapters that implement it: a self-hosted whisper server and
// the hosted Cartesia batch API.
package stt

import "context"

// Transcriber converts one buffered utterance into text. Implementations
// must be safe for concurrent use; the session may overlap turns.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}
