package handlers

import (
	"net/http"
	"strings"

	"github.com/echomind-ai/voiced/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		LLMProvider    string   `json:"llm_provider"`
		DuplexEnabled  bool     `json:"duplex_enabled"`
		StoreEnabled   bool     `json:"store_enabled"`
		ArchiveEnabled bool     `json:"archive_enabled"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.LLMProvider {
	case config.LLMProviderOpenAI, config.LLMProviderGemini:
	default:
		issues = append(issues, "invalid llm_provider")
	}
	if h.Config.LLMProvider == config.LLMProviderOpenAI && strings.TrimSpace(h.Config.LLMURL) == "" {
		issues = append(issues, "llm url is not configured")
	}
	if h.Config.LLMProvider == config.LLMProviderGemini && strings.TrimSpace(h.Config.LLMAPIKey) == "" {
		issues = append(issues, "gemini provider requires an api key")
	}
	switch h.Config.STTProvider {
	case config.STTProviderCartesia:
		if strings.TrimSpace(h.Config.CartesiaAPIKey) == "" {
			issues = append(issues, "cartesia stt requires an api key")
		}
	default:
		if strings.TrimSpace(h.Config.WhisperURL) == "" {
			issues = append(issues, "whisper url is not configured")
		}
	}
	if strings.TrimSpace(h.Config.PiperURL) == "" {
		issues = append(issues, "piper url is not configured")
	}
	if h.Config.FrameBytes() <= 0 {
		issues = append(issues, "sample_rate and frame_ms must yield a non-empty frame")
	}
	if h.Config.EndpointSilence <= 0 || h.Config.MinSpeech <= 0 {
		issues = append(issues, "endpointing durations must be > 0")
	}
	if h.Config.VADThreshold <= 0 || h.Config.VADThreshold > 1 {
		issues = append(issues, "vad threshold must be in (0,1]")
	}
	if h.Config.InboundQueue <= 0 || h.Config.OutboundQueue <= 0 {
		issues = append(issues, "queue depths must be > 0")
	}
	if h.Config.MaxSessions < 0 {
		issues = append(issues, "max sessions must be >= 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "server timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{
		OK:             ok,
		LLMProvider:    string(h.Config.LLMProvider),
		DuplexEnabled:  h.Config.DuplexEnabled(),
		StoreEnabled:   strings.TrimSpace(h.Config.DatabaseURL) != "",
		ArchiveEnabled: strings.TrimSpace(h.Config.ArchiveDir) != "",
		Issues:         issues,
	})
}
