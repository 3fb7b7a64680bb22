package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/echomind-ai/voiced/pkg/gateway/config"
)

func validConfig() config.Config {
	return config.Config{
		LLMProvider:       config.LLMProviderOpenAI,
		LLMURL:            "http://llm.local/v1/chat/completions",
		WhisperURL:        "http://stt.local/transcribe",
		PiperURL:          "http://tts.local/synthesize",
		SampleRate:        16000,
		FrameMS:           20,
		EndpointSilence:   450 * time.Millisecond,
		MinSpeech:         250 * time.Millisecond,
		VADThreshold:      0.012,
		InboundQueue:      500,
		OutboundQueue:     1800,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
}

func TestHealthHandler_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rr.Code)
	}
	if rr.Body.String() != "ok\n" {
		t.Fatalf("body=%q, want %q", rr.Body.String(), "ok\n")
	}
}

func TestReadyHandler_OKWithValidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = "postgres://voiced:voiced@db/voiced"
	cfg.ArchiveDir = "/var/lib/voiced/archive"

	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 (body=%s)", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK             bool     `json:"ok"`
		LLMProvider    string   `json:"llm_provider"`
		DuplexEnabled  bool     `json:"duplex_enabled"`
		StoreEnabled   bool     `json:"store_enabled"`
		ArchiveEnabled bool     `json:"archive_enabled"`
		Issues         []string `json:"issues"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK || len(resp.Issues) != 0 {
		t.Fatalf("ok=%v issues=%v, want ok with no issues", resp.OK, resp.Issues)
	}
	if resp.LLMProvider != "openai" {
		t.Fatalf("llm_provider=%q, want openai", resp.LLMProvider)
	}
	if resp.DuplexEnabled {
		t.Fatalf("duplex_enabled=true with no duplex url")
	}
	if !resp.StoreEnabled || !resp.ArchiveEnabled {
		t.Fatalf("store=%v archive=%v, want both enabled", resp.StoreEnabled, resp.ArchiveEnabled)
	}
}

func TestReadyHandler_ReportsIssues(t *testing.T) {
	rr := httptest.NewRecorder()
	ReadyHandler{Config: config.Config{}}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rr.Code)
	}
	var resp struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.OK || len(resp.Issues) == 0 {
		t.Fatalf("ok=%v issues=%v, want failure with issues", resp.OK, resp.Issues)
	}
}
