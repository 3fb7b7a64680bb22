package duplex

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWSClientRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	received := make(chan map[string]any, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(map[string]any{
			"type":          "audio_out",
			"generation_id": 3,
			"sample_rate":   24000,
			"pcm16_b64":     base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}),
		}); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{9, 9}); err != nil {
			return
		}

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
		}
	}))
	defer server.Close()

	c := NewWSClient("ws" + strings.TrimPrefix(server.URL, "http"))
	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	f := mustFrame(t, c)
	if f.Type != "audio_out" || f.GenerationID != 3 || f.SampleRate != 24000 {
		t.Fatalf("frame = %+v", f)
	}
	if f.PCM16B64 == "" {
		t.Fatalf("frame missing pcm16_b64")
	}

	f = mustFrame(t, c)
	if f.Type != FrameTypeBinaryAudio || len(f.Audio) != 2 {
		t.Fatalf("binary frame = %+v", f)
	}

	if err := c.SendAudio([]byte{5, 6}, 16000); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	if err := c.InjectText("hello there", 7); err != nil {
		t.Fatalf("InjectText() error = %v", err)
	}
	if err := c.Cancel(7); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	wantTypes := []string{"audio", "text_inject", "cancel"}
	for _, want := range wantTypes {
		select {
		case msg := <-received:
			if msg["type"] != want {
				t.Fatalf("server received type=%v, want %v", msg["type"], want)
			}
			if want == "audio" && msg["sample_rate"] != float64(16000) {
				t.Fatalf("sample_rate = %v", msg["sample_rate"])
			}
			if want == "cancel" && msg["generation_id"] != float64(7) {
				t.Fatalf("generation_id = %v", msg["generation_id"])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("server did not receive %q message", want)
		}
	}
}

func TestWSClientFramesCloseOnDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	c := NewWSClient("ws" + strings.TrimPrefix(server.URL, "http"))
	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	select {
	case _, ok := <-c.Frames():
		if ok {
			t.Fatalf("expected closed frames channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frames channel did not close after disconnect")
	}
}

func TestWSClientSendBeforeConnectIsDropped(t *testing.T) {
	c := NewWSClient("ws://unused.invalid")
	if err := c.SendAudio([]byte{1}, 16000); err != nil {
		t.Fatalf("SendAudio before connect = %v, want nil", err)
	}
}

func mustFrame(t *testing.T, c *WSClient) Frame {
	t.Helper()
	select {
	case f, ok := <-c.Frames():
		if !ok {
			t.Fatalf("frames channel closed early")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return Frame{}
	}
}
