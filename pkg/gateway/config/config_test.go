package config

import (
	"strings"
	"testing"
	"time"
)

var voicedEnvKeys = []string{
	"VOICED_ADDR",
	"VOICED_CORS_ORIGINS",
	"VOICED_READ_HEADER_TIMEOUT",
	"VOICED_READ_TIMEOUT",
	"VOICED_SHUTDOWN_GRACE_PERIOD",
	"VOICED_LOG_LEVEL",
	"VOICED_LOG_FILE",
	"VOICED_LOG_FILE_MAX_SIZE_MB",
	"VOICED_LOG_FILE_MAX_BACKUPS",
	"VOICED_LOG_FILE_MAX_AGE_DAYS",
	"VOICED_SAMPLE_RATE",
	"VOICED_FRAME_MS",
	"VOICED_MAX_UTTERANCE_SECONDS",
	"VOICED_VAD_ENERGY_FLOOR",
	"VOICED_VAD_THRESHOLD",
	"VOICED_ENDPOINT_SILENCE_MS",
	"VOICED_MIN_SPEECH_MS",
	"VOICED_END_TAIL_MS",
	"VOICED_BARGE_LEAD_FRAMES_IDLE",
	"VOICED_BARGE_LEAD_FRAMES_ACTIVE",
	"VOICED_PHRASE_MIN_CHARS",
	"VOICED_PHRASE_MAX_CHARS",
	"VOICED_PHRASE_COMMIT_PAUSE_MS",
	"VOICED_INBOUND_QUEUE",
	"VOICED_OUTBOUND_QUEUE",
	"VOICED_MAX_SESSIONS",
	"VOICED_WS_PING_INTERVAL",
	"VOICED_WS_WRITE_TIMEOUT",
	"VOICED_HISTORY_MAX_TURNS",
	"VOICED_HISTORY_MAX_TOKENS",
	"VOICED_SYSTEM_PROMPT",
	"VOICED_INTRO_PHRASE",
	"VOICED_EMOTION_MODE",
	"VOICED_MEMORY_WINDOW_MINUTES",
	"VOICED_ASSISTANT_NAME",
	"VOICED_USER_NAME",
	"VOICED_TIMEZONE",
	"VOICED_LOCATION",
	"VOICED_LLM_PROVIDER",
	"VOICED_LLM_URL",
	"VOICED_LLM_API_KEY",
	"VOICED_LLM_MODEL",
	"VOICED_LLM_TEMPERATURE",
	"VOICED_LLM_MAX_TOKENS",
	"VOICED_STT_PROVIDER",
	"VOICED_WHISPER_URL",
	"VOICED_WHISPER_LANGUAGE",
	"VOICED_WHISPER_BEAM_SIZE",
	"VOICED_CARTESIA_API_KEY",
	"VOICED_CARTESIA_VOICE",
	"VOICED_PIPER_URL",
	"VOICED_PIPER_SPEAKER",
	"VOICED_PIPER_NOISE_SCALE",
	"VOICED_PIPER_LENGTH_SCALE",
	"VOICED_VOICES_DIR",
	"VOICED_VOICE_CATALOG_URL",
	"VOICED_TTS_CACHE_SIZE",
	"VOICED_TTS_CACHE_TTL",
	"VOICED_BACKEND_CHAT_URL",
	"VOICED_DUPLEX_URL",
	"VOICED_DUPLEX_TEXT_INJECT",
	"VOICED_DATABASE_URL",
	"VOICED_ARCHIVE_DIR",
}

func clearVoicedEnv(t *testing.T) {
	t.Helper()
	for _, key := range voicedEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearVoicedEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8100" {
		t.Fatalf("Addr = %q, want :8100", cfg.Addr)
	}
	if cfg.SampleRate != 16000 || cfg.FrameMS != 20 {
		t.Fatalf("audio shape = %d/%dms", cfg.SampleRate, cfg.FrameMS)
	}
	if cfg.FrameBytes() != 640 {
		t.Fatalf("FrameBytes() = %d, want 640", cfg.FrameBytes())
	}
	if cfg.VADEnergyFloor != 0.004 {
		t.Fatalf("VADEnergyFloor = %v, want 0.004", cfg.VADEnergyFloor)
	}
	if cfg.EndpointSilence != 450*time.Millisecond {
		t.Fatalf("EndpointSilence = %v, want 450ms", cfg.EndpointSilence)
	}
	if cfg.MinSpeech != 250*time.Millisecond {
		t.Fatalf("MinSpeech = %v, want 250ms", cfg.MinSpeech)
	}
	if cfg.EndTail != 120*time.Millisecond {
		t.Fatalf("EndTail = %v, want 120ms", cfg.EndTail)
	}
	if cfg.BargeLeadFramesIdle != 2 || cfg.BargeLeadFramesActive != 6 {
		t.Fatalf("barge lead frames = %d/%d, want 2/6", cfg.BargeLeadFramesIdle, cfg.BargeLeadFramesActive)
	}
	if cfg.PhraseMinChars != 28 || cfg.PhraseMaxChars != 120 {
		t.Fatalf("phrase chars = %d/%d, want 28/120", cfg.PhraseMinChars, cfg.PhraseMaxChars)
	}
	if cfg.PhraseCommitPause != 180*time.Millisecond {
		t.Fatalf("PhraseCommitPause = %v, want 180ms", cfg.PhraseCommitPause)
	}
	if cfg.InboundQueue != 500 || cfg.OutboundQueue != 1800 {
		t.Fatalf("queues = %d/%d, want 500/1800", cfg.InboundQueue, cfg.OutboundQueue)
	}
	if cfg.HistoryMaxTurns != 12 || cfg.HistoryMaxTokens != 1400 {
		t.Fatalf("history = %d turns / %d tokens", cfg.HistoryMaxTurns, cfg.HistoryMaxTokens)
	}
	if cfg.LLMProvider != LLMProviderOpenAI {
		t.Fatalf("LLMProvider = %q", cfg.LLMProvider)
	}
	if cfg.STTProvider != STTProviderWhisper {
		t.Fatalf("STTProvider = %q", cfg.STTProvider)
	}
	if cfg.LLMTemperature != 0.7 || cfg.LLMMaxTokens != 220 {
		t.Fatalf("llm knobs = %v/%d", cfg.LLMTemperature, cfg.LLMMaxTokens)
	}
	if !strings.Contains(cfg.SystemPrompt, "realtime voice assistant") {
		t.Fatalf("SystemPrompt = %q", cfg.SystemPrompt)
	}
	if cfg.AssistantName != "EchoMind" || cfg.Timezone != "America/New_York" {
		t.Fatalf("profile defaults = %q/%q", cfg.AssistantName, cfg.Timezone)
	}
	if !cfg.EmotionMode {
		t.Fatal("EmotionMode should default on")
	}
	if cfg.DuplexEnabled() {
		t.Fatal("duplex should default off")
	}
	if cfg.DatabaseURL != "" || cfg.ArchiveDir != "" {
		t.Fatalf("persistence should default off: %q / %q", cfg.DatabaseURL, cfg.ArchiveDir)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearVoicedEnv(t)
	t.Setenv("VOICED_ADDR", ":9000")
	t.Setenv("VOICED_SAMPLE_RATE", "24000")
	t.Setenv("VOICED_ENDPOINT_SILENCE_MS", "600ms")
	t.Setenv("VOICED_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("VOICED_DUPLEX_URL", "ws://127.0.0.1:8080/ws")
	t.Setenv("VOICED_LLM_PROVIDER", "gemini")
	t.Setenv("VOICED_LLM_API_KEY", "test-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.SampleRate != 24000 {
		t.Fatalf("SampleRate = %d", cfg.SampleRate)
	}
	if cfg.EndpointSilence != 600*time.Millisecond {
		t.Fatalf("EndpointSilence = %v", cfg.EndpointSilence)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.DuplexEnabled() {
		t.Fatal("duplex should be enabled when VOICED_DUPLEX_URL is set")
	}
	if cfg.LLMProvider != LLMProviderGemini {
		t.Fatalf("LLMProvider = %q", cfg.LLMProvider)
	}
}

func TestLoadFromEnv_RejectsBadProvider(t *testing.T) {
	clearVoicedEnv(t)
	t.Setenv("VOICED_LLM_PROVIDER", "llama-farm")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFromEnv_GeminiRequiresKey(t *testing.T) {
	clearVoicedEnv(t)
	t.Setenv("VOICED_LLM_PROVIDER", "gemini")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFromEnv_CartesiaSTT(t *testing.T) {
	clearVoicedEnv(t)
	t.Setenv("VOICED_STT_PROVIDER", "cartesia")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error without an API key")
	}

	t.Setenv("VOICED_CARTESIA_API_KEY", "sk-test")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.STTProvider != STTProviderCartesia {
		t.Fatalf("STTProvider = %q", cfg.STTProvider)
	}
}

func TestLoadFromEnv_CartesiaVoiceRequiresKey(t *testing.T) {
	clearVoicedEnv(t)
	t.Setenv("VOICED_CARTESIA_VOICE", "a0e99841-438c-4a64-b679-ae501e7d6091")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFromEnv_RejectsBadPhraseBounds(t *testing.T) {
	clearVoicedEnv(t)
	t.Setenv("VOICED_PHRASE_MIN_CHARS", "200")
	t.Setenv("VOICED_PHRASE_MAX_CHARS", "120")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFromEnv_RejectsBadVADFloor(t *testing.T) {
	clearVoicedEnv(t)
	t.Setenv("VOICED_VAD_ENERGY_FLOOR", "1.5")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error")
	}
}
