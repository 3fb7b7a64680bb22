package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type LLMProvider string

const (
	LLMProviderOpenAI LLMProvider = "openai"
	LLMProviderGemini LLMProvider = "gemini"
)

type STTProvider string

const (
	STTProviderWhisper  STTProvider = "whisper"
	STTProviderCartesia STTProvider = "cartesia"
)

type Config struct {
	Addr string

	// CORS origins allowed to open the live WebSocket. Empty => any.
	CORSAllowedOrigins map[string]struct{}

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	LogLevel string
	// When set, JSON logs rotate at LogFile instead of text on stderr.
	LogFile           string
	LogFileMaxSizeMB  int
	LogFileMaxBackups int
	LogFileMaxAgeDays int

	// Inbound audio shape. Frame size in bytes is derived:
	// SampleRate * FrameMS / 1000 * 2.
	SampleRate          int
	FrameMS             int
	MaxUtteranceSeconds int

	// VAD and endpointing.
	VADEnergyFloor        float64
	VADThreshold          float64
	EndpointSilence       time.Duration
	MinSpeech             time.Duration
	EndTail               time.Duration
	BargeLeadFramesIdle   int
	BargeLeadFramesActive int

	// Streaming phrase segmentation.
	PhraseMinChars    int
	PhraseMaxChars    int
	PhraseCommitPause time.Duration

	// Queue depths: inbound drops newest on overflow, outbound blocks
	// the producer.
	InboundQueue  int
	OutboundQueue int

	// Session behavior.
	MaxSessions         int // 0 = unlimited
	WSPingInterval      time.Duration
	WSWriteTimeout      time.Duration
	HistoryMaxTurns     int
	HistoryMaxTokens    int
	SystemPrompt        string
	IntroPhrase         string
	EmotionMode         bool
	MemoryWindowMinutes float64

	// Speaker profile defaults; mutable per session via commands and
	// set_context.
	AssistantName string
	UserName      string
	Timezone      string
	Location      string

	LLMProvider    LLMProvider
	LLMURL         string
	LLMAPIKey      string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int

	STTProvider     STTProvider
	WhisperURL      string
	WhisperLanguage string
	WhisperBeamSize int

	PiperURL         string
	PiperSpeaker     int
	PiperNoiseScale  float64
	PiperLengthScale float64
	VoicesDir        string
	VoiceCatalogURL  string
	TTSCacheSize     int
	TTSCacheTTL      time.Duration

	// Hosted Cartesia speech. The API key drives the cartesia STT provider
	// and, together with a voice id, a TTS fallback behind piper.
	CartesiaAPIKey string
	CartesiaVoice  string

	// RAG backend; empty disables knowledge-base turns.
	BackendChatURL string

	// Optional full-duplex speech core. Enabled when DuplexURL is set.
	DuplexURL        string
	DuplexTextInject bool

	// Optional turn persistence (Postgres DSN) and transcript archive
	// directory. Empty disables each.
	DatabaseURL string
	ArchiveDir  string
}

func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameMS / 1000 * 2
}

func (c Config) DuplexEnabled() bool {
	return strings.TrimSpace(c.DuplexURL) != ""
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VOICED_ADDR", ":8100"),
		CORSAllowedOrigins:    make(map[string]struct{}),
		ReadHeaderTimeout:     envDurationOr("VOICED_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDurationOr("VOICED_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:   envDurationOr("VOICED_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		LogLevel:              envOr("VOICED_LOG_LEVEL", "info"),
		LogFile:               strings.TrimSpace(os.Getenv("VOICED_LOG_FILE")),
		LogFileMaxSizeMB:      envIntOr("VOICED_LOG_FILE_MAX_SIZE_MB", 50),
		LogFileMaxBackups:     envIntOr("VOICED_LOG_FILE_MAX_BACKUPS", 5),
		LogFileMaxAgeDays:     envIntOr("VOICED_LOG_FILE_MAX_AGE_DAYS", 14),
		SampleRate:            envIntOr("VOICED_SAMPLE_RATE", 16000),
		FrameMS:               envIntOr("VOICED_FRAME_MS", 20),
		MaxUtteranceSeconds:   envIntOr("VOICED_MAX_UTTERANCE_SECONDS", 15),
		VADEnergyFloor:        envFloat64Or("VOICED_VAD_ENERGY_FLOOR", 0.004),
		VADThreshold:          envFloat64Or("VOICED_VAD_THRESHOLD", 0.012),
		EndpointSilence:       envDurationOr("VOICED_ENDPOINT_SILENCE_MS", 450*time.Millisecond),
		MinSpeech:             envDurationOr("VOICED_MIN_SPEECH_MS", 250*time.Millisecond),
		EndTail:               envDurationOr("VOICED_END_TAIL_MS", 120*time.Millisecond),
		BargeLeadFramesIdle:   envIntOr("VOICED_BARGE_LEAD_FRAMES_IDLE", 2),
		BargeLeadFramesActive: envIntOr("VOICED_BARGE_LEAD_FRAMES_ACTIVE", 6),
		PhraseMinChars:        envIntOr("VOICED_PHRASE_MIN_CHARS", 28),
		PhraseMaxChars:        envIntOr("VOICED_PHRASE_MAX_CHARS", 120),
		PhraseCommitPause:     envDurationOr("VOICED_PHRASE_COMMIT_PAUSE_MS", 180*time.Millisecond),
		InboundQueue:          envIntOr("VOICED_INBOUND_QUEUE", 500),
		OutboundQueue:         envIntOr("VOICED_OUTBOUND_QUEUE", 1800),
		MaxSessions:           envIntOr("VOICED_MAX_SESSIONS", 0),
		WSPingInterval:        envDurationOr("VOICED_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:        envDurationOr("VOICED_WS_WRITE_TIMEOUT", 5*time.Second),
		HistoryMaxTurns:       envIntOr("VOICED_HISTORY_MAX_TURNS", 12),
		HistoryMaxTokens:      envIntOr("VOICED_HISTORY_MAX_TOKENS", 1400),
		SystemPrompt:          envOr("VOICED_SYSTEM_PROMPT", "You are a realtime voice assistant. Be concise, helpful, and conversational."),
		IntroPhrase:           envOr("VOICED_INTRO_PHRASE", "Hi! I'm here. What would you like to talk about?"),
		EmotionMode:           envBoolOr("VOICED_EMOTION_MODE", true),
		MemoryWindowMinutes:   envFloat64Or("VOICED_MEMORY_WINDOW_MINUTES", 30),
		AssistantName:         envOr("VOICED_ASSISTANT_NAME", "EchoMind"),
		UserName:              strings.TrimSpace(os.Getenv("VOICED_USER_NAME")),
		Timezone:              envOr("VOICED_TIMEZONE", "America/New_York"),
		Location:              strings.TrimSpace(os.Getenv("VOICED_LOCATION")),
		LLMProvider:           LLMProvider(envOr("VOICED_LLM_PROVIDER", string(LLMProviderOpenAI))),
		LLMURL:                envOr("VOICED_LLM_URL", "http://127.0.0.1:11434/v1/chat/completions"),
		LLMAPIKey:             strings.TrimSpace(os.Getenv("VOICED_LLM_API_KEY")),
		LLMModel:              envOr("VOICED_LLM_MODEL", "qwen2.5:7b-instruct"),
		LLMTemperature:        envFloat64Or("VOICED_LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:          envIntOr("VOICED_LLM_MAX_TOKENS", 220),
		STTProvider:           STTProvider(envOr("VOICED_STT_PROVIDER", string(STTProviderWhisper))),
		WhisperURL:            envOr("VOICED_WHISPER_URL", "http://127.0.0.1:9000/transcribe"),
		WhisperLanguage:       envOr("VOICED_WHISPER_LANGUAGE", "en"),
		WhisperBeamSize:       envIntOr("VOICED_WHISPER_BEAM_SIZE", 0),
		PiperURL:              envOr("VOICED_PIPER_URL", "http://127.0.0.1:5000/synthesize"),
		PiperSpeaker:          envIntOr("VOICED_PIPER_SPEAKER", 0),
		PiperNoiseScale:       envFloat64Or("VOICED_PIPER_NOISE_SCALE", 0.667),
		PiperLengthScale:      envFloat64Or("VOICED_PIPER_LENGTH_SCALE", 1.0),
		VoicesDir:             envOr("VOICED_VOICES_DIR", "/voices"),
		VoiceCatalogURL:       envOr("VOICED_VOICE_CATALOG_URL", "https://huggingface.co/rhasspy/piper-voices/resolve/v1.0.0"),
		TTSCacheSize:          envIntOr("VOICED_TTS_CACHE_SIZE", 64),
		TTSCacheTTL:           envDurationOr("VOICED_TTS_CACHE_TTL", 10*time.Minute),
		CartesiaAPIKey:        strings.TrimSpace(os.Getenv("VOICED_CARTESIA_API_KEY")),
		CartesiaVoice:         strings.TrimSpace(os.Getenv("VOICED_CARTESIA_VOICE")),
		BackendChatURL:        strings.TrimSpace(os.Getenv("VOICED_BACKEND_CHAT_URL")),
		DuplexURL:             strings.TrimSpace(os.Getenv("VOICED_DUPLEX_URL")),
		DuplexTextInject:      envBoolOr("VOICED_DUPLEX_TEXT_INJECT", false),
		DatabaseURL:           strings.TrimSpace(os.Getenv("VOICED_DATABASE_URL")),
		ArchiveDir:            strings.TrimSpace(os.Getenv("VOICED_ARCHIVE_DIR")),
	}

	for _, origin := range splitCSV(os.Getenv("VOICED_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.LLMProvider {
	case LLMProviderOpenAI, LLMProviderGemini:
	default:
		return Config{}, fmt.Errorf("VOICED_LLM_PROVIDER must be one of openai|gemini")
	}
	switch cfg.STTProvider {
	case STTProviderWhisper, STTProviderCartesia:
	default:
		return Config{}, fmt.Errorf("VOICED_STT_PROVIDER must be one of whisper|cartesia")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("VOICED_LOG_LEVEL must be one of debug|info|warn|error")
	}

	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICED_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICED_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICED_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICED_SAMPLE_RATE must be > 0")
	}
	if cfg.FrameMS <= 0 {
		return Config{}, fmt.Errorf("VOICED_FRAME_MS must be > 0")
	}
	if cfg.FrameBytes() <= 0 {
		return Config{}, fmt.Errorf("VOICED_SAMPLE_RATE and VOICED_FRAME_MS must yield a non-empty frame")
	}
	if cfg.MaxUtteranceSeconds <= 0 {
		return Config{}, fmt.Errorf("VOICED_MAX_UTTERANCE_SECONDS must be > 0")
	}
	if cfg.VADEnergyFloor < 0 || cfg.VADEnergyFloor > 1 {
		return Config{}, fmt.Errorf("VOICED_VAD_ENERGY_FLOOR must be in [0,1]")
	}
	if cfg.VADThreshold <= 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("VOICED_VAD_THRESHOLD must be in (0,1]")
	}
	if cfg.EndpointSilence <= 0 {
		return Config{}, fmt.Errorf("VOICED_ENDPOINT_SILENCE_MS must be > 0")
	}
	if cfg.MinSpeech <= 0 {
		return Config{}, fmt.Errorf("VOICED_MIN_SPEECH_MS must be > 0")
	}
	if cfg.EndTail < 0 {
		return Config{}, fmt.Errorf("VOICED_END_TAIL_MS must be >= 0")
	}
	if cfg.BargeLeadFramesIdle <= 0 {
		return Config{}, fmt.Errorf("VOICED_BARGE_LEAD_FRAMES_IDLE must be > 0")
	}
	if cfg.BargeLeadFramesActive <= 0 {
		return Config{}, fmt.Errorf("VOICED_BARGE_LEAD_FRAMES_ACTIVE must be > 0")
	}
	if cfg.PhraseMinChars <= 0 {
		return Config{}, fmt.Errorf("VOICED_PHRASE_MIN_CHARS must be > 0")
	}
	if cfg.PhraseMaxChars < cfg.PhraseMinChars {
		return Config{}, fmt.Errorf("VOICED_PHRASE_MAX_CHARS must be >= VOICED_PHRASE_MIN_CHARS")
	}
	if cfg.PhraseCommitPause <= 0 {
		return Config{}, fmt.Errorf("VOICED_PHRASE_COMMIT_PAUSE_MS must be > 0")
	}
	if cfg.InboundQueue <= 0 {
		return Config{}, fmt.Errorf("VOICED_INBOUND_QUEUE must be > 0")
	}
	if cfg.OutboundQueue <= 0 {
		return Config{}, fmt.Errorf("VOICED_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.MaxSessions < 0 {
		return Config{}, fmt.Errorf("VOICED_MAX_SESSIONS must be >= 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICED_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICED_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.HistoryMaxTurns <= 0 {
		return Config{}, fmt.Errorf("VOICED_HISTORY_MAX_TURNS must be > 0")
	}
	if cfg.HistoryMaxTokens <= 0 {
		return Config{}, fmt.Errorf("VOICED_HISTORY_MAX_TOKENS must be > 0")
	}
	if cfg.MemoryWindowMinutes <= 0 {
		return Config{}, fmt.Errorf("VOICED_MEMORY_WINDOW_MINUTES must be > 0")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("VOICED_LLM_TEMPERATURE must be in [0,2]")
	}
	if cfg.LLMMaxTokens <= 0 {
		return Config{}, fmt.Errorf("VOICED_LLM_MAX_TOKENS must be > 0")
	}
	if strings.TrimSpace(cfg.LLMURL) == "" && cfg.LLMProvider == LLMProviderOpenAI {
		return Config{}, fmt.Errorf("VOICED_LLM_URL must not be empty")
	}
	if cfg.LLMProvider == LLMProviderGemini && cfg.LLMAPIKey == "" {
		return Config{}, fmt.Errorf("VOICED_LLM_API_KEY must be set when VOICED_LLM_PROVIDER=gemini")
	}
	if cfg.STTProvider == STTProviderWhisper && strings.TrimSpace(cfg.WhisperURL) == "" {
		return Config{}, fmt.Errorf("VOICED_WHISPER_URL must not be empty")
	}
	if cfg.WhisperBeamSize < 0 {
		return Config{}, fmt.Errorf("VOICED_WHISPER_BEAM_SIZE must be >= 0")
	}
	if cfg.STTProvider == STTProviderCartesia && cfg.CartesiaAPIKey == "" {
		return Config{}, fmt.Errorf("VOICED_CARTESIA_API_KEY must be set when VOICED_STT_PROVIDER=cartesia")
	}
	if cfg.CartesiaVoice != "" && cfg.CartesiaAPIKey == "" {
		return Config{}, fmt.Errorf("VOICED_CARTESIA_API_KEY must be set when VOICED_CARTESIA_VOICE is configured")
	}
	if strings.TrimSpace(cfg.PiperURL) == "" {
		return Config{}, fmt.Errorf("VOICED_PIPER_URL must not be empty")
	}
	if cfg.PiperSpeaker < 0 {
		return Config{}, fmt.Errorf("VOICED_PIPER_SPEAKER must be >= 0")
	}
	if cfg.PiperNoiseScale < 0 {
		return Config{}, fmt.Errorf("VOICED_PIPER_NOISE_SCALE must be >= 0")
	}
	if cfg.PiperLengthScale <= 0 {
		return Config{}, fmt.Errorf("VOICED_PIPER_LENGTH_SCALE must be > 0")
	}
	if strings.TrimSpace(cfg.VoicesDir) == "" {
		return Config{}, fmt.Errorf("VOICED_VOICES_DIR must not be empty")
	}
	if strings.TrimSpace(cfg.VoiceCatalogURL) == "" {
		return Config{}, fmt.Errorf("VOICED_VOICE_CATALOG_URL must not be empty")
	}
	if cfg.TTSCacheSize < 0 {
		return Config{}, fmt.Errorf("VOICED_TTS_CACHE_SIZE must be >= 0")
	}
	if cfg.TTSCacheTTL <= 0 {
		return Config{}, fmt.Errorf("VOICED_TTS_CACHE_TTL must be > 0")
	}
	if cfg.LogFileMaxSizeMB <= 0 {
		return Config{}, fmt.Errorf("VOICED_LOG_FILE_MAX_SIZE_MB must be > 0")
	}
	if cfg.LogFileMaxBackups < 0 {
		return Config{}, fmt.Errorf("VOICED_LOG_FILE_MAX_BACKUPS must be >= 0")
	}
	if cfg.LogFileMaxAgeDays < 0 {
		return Config{}, fmt.Errorf("VOICED_LOG_FILE_MAX_AGE_DAYS must be >= 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
