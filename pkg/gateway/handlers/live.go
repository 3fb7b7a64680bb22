package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echomind-ai/voiced/pkg/core/llm"
	"github.com/echomind-ai/voiced/pkg/core/rag"
	"github.com/echomind-ai/voiced/pkg/core/voice/duplex"
	"github.com/echomind-ai/voiced/pkg/core/voice/stt"
	"github.com/echomind-ai/voiced/pkg/core/voice/tts"
	"github.com/echomind-ai/voiced/pkg/gateway/config"
	"github.com/echomind-ai/voiced/pkg/gateway/live/protocol"
	"github.com/echomind-ai/voiced/pkg/gateway/live/session"
	"github.com/echomind-ai/voiced/pkg/gateway/live/sessions"
	"github.com/echomind-ai/voiced/pkg/gateway/mw"
)

// LiveHandler upgrades /ws requests and runs one voice session per
// connection. Capacity is claimed before the upgrade so a full gateway
// can still answer with a plain HTTP status.
type LiveHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Sessions *sessions.Tracker

	STT stt.Transcriber
	TTS tts.Synthesizer
	LLM llm.Client
	RAG rag.Client

	Store   session.TurnStore
	Archive session.Archiver

	// TTSForVoice builds a synthesizer for a named voice; nil disables
	// voice switching via set_context.
	TTSForVoice func(voiceID string) (tts.Synthesizer, error)

	// NewDuplex builds the per-session full-duplex client; nil leaves
	// mirroring disabled.
	NewDuplex func() duplex.Core
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.Sessions.IsDraining() {
		writeError(w, r, 529, "gateway is draining")
		return
	}
	if !h.originAllowed(r) {
		writeError(w, r, http.StatusForbidden, "origin is not allowed")
		return
	}

	sessionID := "s_" + randHex(8)
	unregister, ok := h.Sessions.Register(sessionID, sessions.Handle{})
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "session capacity reached")
		return
	}
	defer unregister()

	upgrader := websocket.Upgrader{
		// Origin was already checked against the configured allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the failure response.
		return
	}
	defer conn.Close()

	var dpx duplex.Core
	if h.NewDuplex != nil {
		dpx = h.NewDuplex()
	}

	s, err := session.New(session.Dependencies{
		Conn:        conn,
		Config:      h.Config,
		Logger:      h.Logger,
		STT:         h.STT,
		TTS:         h.TTS,
		LLM:         h.LLM,
		RAG:         h.RAG,
		Duplex:      dpx,
		Store:       h.Store,
		Archive:     h.Archive,
		TTSForVoice: h.TTSForVoice,
		SessionID:   sessionID,
	})
	if err != nil {
		h.writeWSError(conn, "session", "failed to initialize live session")
		if h.Logger != nil {
			h.Logger.Error("live session init failed", "session_id", sessionID, "error", err)
		}
		return
	}

	h.Sessions.Bind(sessionID, sessions.Handle{
		Cancel: s.Cancel,
		Warn:   s.Warn,
	})

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			reqID, _ := mw.RequestIDFrom(r.Context())
			h.Logger.Warn("live session ended with error",
				"session_id", sessionID, "request_id", reqID, "error", err)
		}
	}
}

// originAllowed mirrors the CORS middleware: browsers send an Origin
// header on WebSocket upgrades, non-browser clients usually do not.
// An empty allowlist admits any origin.
func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, where, message string) {
	_ = conn.WriteJSON(protocol.ServerError{Type: protocol.TypeError, Where: where, Message: message})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, message),
		time.Now().Add(2*time.Second))
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
