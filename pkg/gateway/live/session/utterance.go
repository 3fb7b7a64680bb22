package session

import (
	"github.com/echomind-ai/voiced/pkg/core/voice"
)

// inboundFrame is one fixed-size microphone frame as read off the
// socket. TS is the client capture timestamp in seconds when provided.
type inboundFrame struct {
	ts    float64
	pcm16 []byte
}

// utteranceBuffer accumulates the frames of the current user
// utterance. It is a bounded deque: past capacity the oldest frames
// fall off, keeping the most recent audio for transcription.
type utteranceBuffer struct {
	maxFrames int
	frames    [][]byte
	start     int
	count     int
}

func newUtteranceBuffer(maxMS, frameMS int) *utteranceBuffer {
	if frameMS <= 0 {
		frameMS = 20
	}
	maxFrames := maxMS / frameMS
	if maxFrames < 1 {
		maxFrames = 1
	}
	return &utteranceBuffer{
		maxFrames: maxFrames,
		frames:    make([][]byte, maxFrames),
	}
}

func (b *utteranceBuffer) reset() {
	for i := range b.frames {
		b.frames[i] = nil
	}
	b.start = 0
	b.count = 0
}

func (b *utteranceBuffer) push(pcm16 []byte) {
	if len(pcm16) == 0 {
		return
	}
	if b.count == b.maxFrames {
		b.frames[b.start] = pcm16
		b.start = (b.start + 1) % b.maxFrames
		return
	}
	b.frames[(b.start+b.count)%b.maxFrames] = pcm16
	b.count++
}

func (b *utteranceBuffer) len() int { return b.count }

// audio concatenates the buffered frames into mono float32 samples.
func (b *utteranceBuffer) audio() []float32 {
	if b.count == 0 {
		return nil
	}
	total := 0
	for i := 0; i < b.count; i++ {
		total += len(b.frames[(b.start+i)%b.maxFrames])
	}
	pcm := make([]byte, 0, total)
	for i := 0; i < b.count; i++ {
		pcm = append(pcm, b.frames[(b.start+i)%b.maxFrames]...)
	}
	return voice.PCM16ToFloat32(pcm)
}

// approxTokenCount is a crude budget estimate, roughly 4 chars per
// token in English.
func approxTokenCount(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
