// Package voiced provides a Go client for the live voice WebSocket.
// A session streams microphone PCM up and yields the server's typed
// frames: transcripts, assistant text, playback audio, and state
// events.
package voiced

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echomind-ai/voiced/pkg/gateway/live/protocol"
)

const (
	defaultDialTimeout = 10 * time.Second
	eventBuffer        = 256
)

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	origin string
	dialer *websocket.Dialer
}

// WithOrigin sets the Origin header offered during the handshake.
// Servers with an origin allowlist refuse mismatches before upgrade.
func WithOrigin(origin string) DialOption {
	return func(c *dialConfig) { c.origin = origin }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) DialOption {
	return func(c *dialConfig) {
		if d != nil {
			c.dialer = d
		}
	}
}

// Live is one live voice session. Sends are safe for concurrent use;
// decoded server frames are delivered on Events.
type Live struct {
	conn      *websocket.Conn
	sessionID string

	events chan any
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Dial connects to a live voice endpoint and consumes the opening
// hello frame. The hello is also delivered on Events so consumers see
// the full frame sequence.
func Dial(ctx context.Context, url string, opts ...DialOption) (*Live, error) {
	cfg := dialConfig{dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(&cfg)
	}

	header := make(http.Header)
	if cfg.origin != "" {
		header.Set("Origin", cfg.origin)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := cfg.dialer.DialContext(dialCtx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultDialTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	first, err := protocol.DecodeServerMessage(data)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode hello: %w", err)
	}

	l := &Live{
		conn:   conn,
		events: make(chan any, eventBuffer),
		done:   make(chan struct{}),
	}
	switch msg := first.(type) {
	case *protocol.ServerHello:
		l.sessionID = msg.SessionID
		l.emit(msg)
	case *protocol.ServerError:
		_ = conn.Close()
		return nil, fmt.Errorf("session refused: %s", msg.Message)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame %T", first)
	}

	go l.readLoop()
	return l, nil
}

// SessionID returns the server-assigned session id.
func (l *Live) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// Events yields decoded server frames as protocol pointer types. The
// channel closes when the connection ends; slow consumers lose frames
// rather than stalling the read loop.
func (l *Live) Events() <-chan any {
	if l == nil {
		return nil
	}
	return l.events
}

// Start signals that the client is ready to play audio; the session
// answers with its spoken intro.
func (l *Live) Start() error {
	return l.sendJSON(protocol.ClientStart{Type: protocol.TypeStart})
}

// SendAudio sends one microphone frame as a JSON message with base64
// PCM16 payload.
func (l *Live) SendAudio(pcm []byte, ts float64) error {
	return l.sendJSON(protocol.ClientAudio{
		Type:     protocol.TypeAudio,
		PCM16B64: base64.StdEncoding.EncodeToString(pcm),
		TS:       ts,
	})
}

// SendAudioBinary sends one microphone frame as a binary message,
// skipping base64 entirely.
func (l *Live) SendAudioBinary(pcm []byte) error {
	if l == nil {
		return errors.New("session must not be nil")
	}
	if l.closed.Load() {
		return errors.New("live session is closed")
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Pause suspends listening without dropping the connection.
func (l *Live) Pause() error {
	return l.sendJSON(protocol.ClientPause{Type: protocol.TypePause})
}

// Resume restores listening after Pause.
func (l *Live) Resume() error {
	return l.sendJSON(protocol.ClientResume{Type: protocol.TypeResume})
}

// EOS forces the current utterance to end instead of waiting for the
// silence endpoint.
func (l *Live) EOS() error {
	return l.sendJSON(protocol.ClientEOS{Type: protocol.TypeEOS})
}

// Stop asks the server to finish the session.
func (l *Live) Stop() error {
	return l.sendJSON(protocol.ClientStop{Type: protocol.TypeStop})
}

// SetContext updates the session context and speaker profile. The Type
// field is filled in.
func (l *Live) SetContext(msg protocol.ClientSetContext) error {
	msg.Type = protocol.TypeSetContext
	return l.sendJSON(msg)
}

// ClearMemory wipes the session's rolling conversation memory.
func (l *Live) ClearMemory() error {
	return l.sendJSON(protocol.ClientClearMemory{Type: protocol.TypeClearMemory})
}

func (l *Live) sendJSON(v any) error {
	if l == nil {
		return errors.New("session must not be nil")
	}
	if l.closed.Load() {
		return errors.New("live session is closed")
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(v)
}

// Close closes the websocket and waits for the read loop to finish.
func (l *Live) Close() error {
	if l == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		l.writeMu.Unlock()
		_ = l.conn.Close()
	})
	<-l.done
	return nil
}

// Err returns the terminal session error, if any, after the read loop
// has finished. In-band error frames are events, not terminal errors.
func (l *Live) Err() error {
	if l == nil {
		return nil
	}
	<-l.done
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *Live) setErr(err error) {
	if err == nil {
		return
	}
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

func (l *Live) readLoop() {
	defer close(l.done)
	defer close(l.events)

	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || l.closed.Load() {
				return
			}
			l.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) && decodeErr.Code == "unsupported" {
				// Newer servers may add frame types; skip them.
				continue
			}
			l.setErr(err)
			return
		}
		l.emit(msg)
	}
}

func (l *Live) emit(event any) {
	select {
	case l.events <- event:
	default:
		// Avoid deadlocking the read loop when the caller stops consuming.
	}
}
