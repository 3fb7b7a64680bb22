// Package duplex bridges an optional full-duplex speech core over a
// WebSocket. When configured, the session mirrors inbound microphone audio
// to the core and relays its audio frames back to the client; phrase text
// can be injected so the core speaks instead of the local TTS.
package duplex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 20 * time.Second
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second

	// frameQueueSize bounds buffered core frames; the reader blocks when
	// the session falls behind.
	frameQueueSize = 500
)

// FrameTypeBinaryAudio marks raw binary audio from the core.
const FrameTypeBinaryAudio = "audio_out_bin"

// Frame is one message from the speech core. Binary frames carry Audio;
// text frames are decoded JSON.
type Frame struct {
	Type         string `json:"type"`
	GenerationID int64  `json:"generation_id"`
	SampleRate   int    `json:"sample_rate"`
	PCM16B64     string `json:"pcm16_b64"`
	Text         string `json:"text"`

	Audio []byte `json:"-"`
}

// Core is the duplex speech-core surface the session consumes.
type Core interface {
	Connect(ctx context.Context) error
	SendAudio(pcm16 []byte, sampleRate int) error
	InjectText(text string, generationID int64) error
	Cancel(generationID int64) error
	Frames() <-chan Frame
	Close() error
}

// ErrNotConnected is returned by Connect-dependent calls after Close.
var ErrNotConnected = errors.New("duplex: not connected")

// WSClient implements Core over a WebSocket connection.
type WSClient struct {
	url    string
	frames chan Frame
	done   chan struct{}

	mu   sync.Mutex // serializes writes to conn
	conn *websocket.Conn

	closeOnce sync.Once
}

// NewWSClient builds a client for the given core URL. Connect must be
// called before any send.
func NewWSClient(url string) *WSClient {
	return &WSClient{
		url:    url,
		frames: make(chan Frame, frameQueueSize),
		done:   make(chan struct{}),
	}
}

// Connect dials the core and starts the reader and keepalive loops.
func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)
	return nil
}

// readLoop is the sole closer of the frames channel.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer close(c.frames)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		switch msgType {
		case websocket.BinaryMessage:
			frame = Frame{Type: FrameTypeBinaryAudio, Audio: data}
		case websocket.TextMessage:
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
		default:
			continue
		}

		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		// Sends before Connect are best-effort and dropped, like audio
		// mirrored during a reconnect window.
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// SendAudio mirrors one PCM16 frame to the core.
func (c *WSClient) SendAudio(pcm16 []byte, sampleRate int) error {
	return c.writeJSON(map[string]any{
		"type":        "audio",
		"sample_rate": sampleRate,
		"pcm16_b64":   base64.StdEncoding.EncodeToString(pcm16),
	})
}

// InjectText asks the core to speak a phrase under the given generation.
func (c *WSClient) InjectText(text string, generationID int64) error {
	return c.writeJSON(map[string]any{
		"type":          "text_inject",
		"text":          text,
		"generation_id": generationID,
	})
}

// Cancel tells the core to stop producing audio for a generation.
func (c *WSClient) Cancel(generationID int64) error {
	return c.writeJSON(map[string]any{
		"type":          "cancel",
		"generation_id": generationID,
	})
}

// Frames returns the channel of core frames; it closes when the connection
// drops or Close is called.
func (c *WSClient) Frames() <-chan Frame {
	return c.frames
}

// Close tears the connection down. Safe to call more than once.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return err
}

var _ Core = (*WSClient)(nil)
