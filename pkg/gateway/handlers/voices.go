package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/echomind-ai/voiced/pkg/core/voice/voices"
)

// maxVoiceBodyBytes caps the download request body; it only ever
// carries a voice id.
const maxVoiceBodyBytes = 4 << 10

// InstalledVoicesHandler lists the voice ids present in the local
// store, i.e. those with both model and config files on disk.
type InstalledVoicesHandler struct {
	Voices *voices.Catalog
}

func (h InstalledVoicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type installedResp struct {
		VoiceIDs []string `json:"voice_ids"`
	}

	ids, err := h.Voices.Installed()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list voices")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, installedResp{VoiceIDs: ids})
}

// DownloadVoiceHandler fetches a voice from the upstream catalog into
// the local store. The request blocks until the download finishes.
type DownloadVoiceHandler struct {
	Voices *voices.Catalog
	Logger *slog.Logger
}

func (h DownloadVoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxVoiceBodyBytes)).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	voiceID := strings.TrimSpace(body.VoiceID)
	if voiceID == "" {
		writeError(w, r, http.StatusBadRequest, "voice_id is required")
		return
	}

	if err := h.Voices.Download(r.Context(), voiceID); err != nil {
		if errors.Is(err, voices.ErrInvalidVoiceID) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if h.Logger != nil {
			h.Logger.Warn("voice download failed", "voice_id", voiceID, "error", err)
		}
		writeError(w, r, http.StatusBadGateway, fmt.Sprintf("download failed for %s", voiceID))
		return
	}

	type downloadResp struct {
		OK      bool   `json:"ok"`
		VoiceID string `json:"voice_id"`
	}
	writeJSON(w, http.StatusOK, downloadResp{OK: true, VoiceID: voiceID})
}
