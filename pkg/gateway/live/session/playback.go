package session

import (
	"github.com/echomind-ai/voiced/pkg/core/voice"
	"github.com/echomind-ai/voiced/pkg/gateway/live/protocol"
)

// Playback chunking. Larger chunks mean fewer boundaries and fewer
// clicks; 0.35s at 22kHz is roughly 7700 samples. Every chunk edge
// gets a short linear fade.
const (
	chunkWindowSeconds = 0.35
	minChunkSamples    = 256
	edgeFadeMS         = 4.0
)

// streamPlayback cuts synthesized audio into ordered audio_out frames.
// stillCurrent is consulted before every chunk so a barge-in stops the
// stream between frames; emit hands the frame to the outbound writer
// and reports whether the session is still accepting output. Returns
// false when interrupted.
func streamPlayback(samples []float32, sampleRate int, playbackRate float64, generationID int64, stillCurrent func() bool, emit func(protocol.ServerAudioOut) bool) bool {
	if len(samples) == 0 {
		return true
	}
	chunk := int(float64(sampleRate) * chunkWindowSeconds)
	if chunk < minChunkSamples {
		chunk = minChunkSamples
	}

	for i := 0; i < len(samples); i += chunk {
		if !stillCurrent() {
			return false
		}
		end := i + chunk
		if end > len(samples) {
			end = len(samples)
		}
		part := samples[i:end]
		voice.FadeEdges(part, sampleRate, edgeFadeMS)

		frame := protocol.ServerAudioOut{
			Type:         protocol.TypeAudioOut,
			GenerationID: generationID,
			SampleRate:   sampleRate,
			PlaybackRate: playbackRate,
			PCM16Raw:     voice.Float32ToPCM16(part),
		}
		if !emit(frame) {
			return false
		}
	}
	return true
}
