package duplex

import (
	"context"
	"sync"
)

// Mock implements Core for tests. Pushed frames flow to the session;
// outbound calls are recorded.
type Mock struct {
	frames chan Frame

	mu        sync.Mutex
	connected bool
	audio     [][]byte
	injected  []string
	cancels   []int64
}

// NewMock builds a mock core with a small frame buffer.
func NewMock() *Mock {
	return &Mock{frames: make(chan Frame, 32)}
}

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Mock) SendAudio(pcm16 []byte, sampleRate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(pcm16))
	copy(buf, pcm16)
	m.audio = append(m.audio, buf)
	return nil
}

func (m *Mock) InjectText(text string, generationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.injected = append(m.injected, text)
	return nil
}

func (m *Mock) Cancel(generationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, generationID)
	return nil
}

func (m *Mock) Frames() <-chan Frame { return m.frames }

func (m *Mock) Close() error {
	close(m.frames)
	return nil
}

// Push delivers a frame as if the core had sent it.
func (m *Mock) Push(f Frame) { m.frames <- f }

// AudioFrames returns the mirrored audio so far.
func (m *Mock) AudioFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.audio))
	copy(out, m.audio)
	return out
}

// Injected returns the injected phrases so far.
func (m *Mock) Injected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.injected))
	copy(out, m.injected)
	return out
}

// Cancels returns the cancelled generations so far.
func (m *Mock) Cancels() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.cancels))
	copy(out, m.cancels)
	return out
}

var _ Core = (*Mock)(nil)
