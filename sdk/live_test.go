package voiced

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echomind-ai/voiced/pkg/gateway/live/protocol"
)

// newLiveTestServer upgrades, sends the hello frame, then hands the
// connection to handle. Returns the ws:// URL.
func newLiveTestServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		hello := protocol.ServerHello{Type: protocol.TypeHello, SessionID: "s_test01", Note: "ready"}
		if err := conn.WriteJSON(hello); err != nil {
			return
		}
		if handle != nil {
			handle(conn)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitEvent(t *testing.T, l *Live) any {
	t.Helper()
	select {
	case event, ok := <-l.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestDial_ConsumesHello(t *testing.T) {
	url := newLiveTestServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage() // hold the connection until the client closes
	})

	l, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	if l.SessionID() != "s_test01" {
		t.Fatalf("SessionID = %q, want s_test01", l.SessionID())
	}
	hello, ok := waitEvent(t, l).(*protocol.ServerHello)
	if !ok || hello.SessionID != "s_test01" {
		t.Fatalf("first event = %#v, want hello", hello)
	}
}

func TestLive_StartAndEventRoundTrip(t *testing.T) {
	url := newLiveTestServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			t.Errorf("decode client frame: %v", err)
			return
		}
		if _, ok := msg.(protocol.ClientStart); !ok {
			t.Errorf("client frame = %T, want ClientStart", msg)
			return
		}
		conn.WriteJSON(protocol.ServerEvent{
			Type:         protocol.TypeEvent,
			Event:        protocol.EventBackToListening,
			GenerationID: 1,
		})
		conn.ReadMessage()
	})

	l, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	if _, ok := waitEvent(t, l).(*protocol.ServerHello); !ok {
		t.Fatal("expected hello first")
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state, ok := waitEvent(t, l).(*protocol.ServerEvent)
	if !ok || state.Event != protocol.EventBackToListening {
		t.Fatalf("event = %#v, want BACK_TO_LISTENING", state)
	}
}

func TestLive_BinaryAudioPassthrough(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	url := newLiveTestServer(t, func(conn *websocket.Conn) {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			t.Errorf("message type = %d, want binary", messageType)
		}
		if string(data) != string(pcm) {
			t.Errorf("payload = %v, want %v", data, pcm)
		}
		conn.WriteJSON(protocol.ServerEvent{Type: protocol.TypeEvent, Event: protocol.EventUserSpeechStart})
		conn.ReadMessage()
	})

	l, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()
	waitEvent(t, l) // hello

	if err := l.SendAudioBinary(pcm); err != nil {
		t.Fatalf("SendAudioBinary: %v", err)
	}
	state, ok := waitEvent(t, l).(*protocol.ServerEvent)
	if !ok || state.Event != protocol.EventUserSpeechStart {
		t.Fatalf("event = %#v, want USER_SPEECH_START", state)
	}
}

func TestLive_SetContextRoundTrip(t *testing.T) {
	url := newLiveTestServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			t.Errorf("decode client frame: %v", err)
			return
		}
		sc, ok := msg.(protocol.ClientSetContext)
		if !ok {
			t.Errorf("client frame = %T, want ClientSetContext", msg)
			return
		}
		if sc.Voice != "en_US-amy-medium" || !sc.UseKnowledgeBase {
			t.Errorf("set_context = %+v", sc)
		}
		conn.WriteJSON(protocol.ServerContextAck{Type: protocol.TypeContextAck, SystemPrompt: "You are Echo."})
		conn.ReadMessage()
	})

	l, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()
	waitEvent(t, l) // hello

	err = l.SetContext(protocol.ClientSetContext{Voice: "en_US-amy-medium", UseKnowledgeBase: true})
	if err != nil {
		t.Fatalf("SetContext: %v", err)
	}
	ack, ok := waitEvent(t, l).(*protocol.ServerContextAck)
	if !ok || ack.SystemPrompt != "You are Echo." {
		t.Fatalf("ack = %#v", ack)
	}
}

func TestLive_ServerCloseEndsEvents(t *testing.T) {
	url := newLiveTestServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(time.Second))
	})

	l, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-l.Events():
			if !ok {
				if err := l.Err(); err != nil {
					t.Fatalf("Err() = %v, want nil on normal close", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}

func TestLive_SendAfterCloseFails(t *testing.T) {
	url := newLiveTestServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	l, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	l.Close()

	if err := l.Start(); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestDial_SurfacesRefusalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status 529") {
		t.Fatalf("err = %v, want handshake status", err)
	}
}
