// Package server wires the HTTP surface of the voice gateway: health
// and readiness probes, the live WebSocket, and voice management.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/echomind-ai/voiced/pkg/core/llm"
	"github.com/echomind-ai/voiced/pkg/core/rag"
	"github.com/echomind-ai/voiced/pkg/core/voice/duplex"
	"github.com/echomind-ai/voiced/pkg/core/voice/stt"
	"github.com/echomind-ai/voiced/pkg/core/voice/tts"
	"github.com/echomind-ai/voiced/pkg/core/voice/voices"
	"github.com/echomind-ai/voiced/pkg/gateway/archive"
	"github.com/echomind-ai/voiced/pkg/gateway/config"
	"github.com/echomind-ai/voiced/pkg/gateway/handlers"
	"github.com/echomind-ai/voiced/pkg/gateway/live/session"
	"github.com/echomind-ai/voiced/pkg/gateway/live/sessions"
	"github.com/echomind-ai/voiced/pkg/gateway/mw"
	"github.com/echomind-ai/voiced/pkg/gateway/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	sessions *sessions.Tracker
	voices   *voices.Catalog

	stt stt.Transcriber
	tts tts.Synthesizer
	llm llm.Client
	rag rag.Client

	store   *store.Store
	archive *archive.Archive

	// Interface views of the optional layers, left nil when disabled so
	// the session's nil checks stay meaningful.
	turnStore session.TurnStore
	archiver  session.Archiver

	newDuplex   func() duplex.Core
	ttsForVoice func(voiceID string) (tts.Synthesizer, error)
}

// New builds the speech stack from cfg and wires the routes. The
// context bounds startup work such as store migrations.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		sessions: sessions.NewTracker(cfg.MaxSessions),
		voices:   voices.New(cfg.VoicesDir, cfg.VoiceCatalogURL),
	}

	s.stt = newTranscriber(cfg)
	synth, err := s.newSynthesizer("")
	if err != nil {
		return nil, err
	}
	s.tts = synth

	model, err := newLLMClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.llm = model

	if cfg.BackendChatURL != "" {
		s.rag = rag.New(cfg.BackendChatURL)
	}

	if cfg.DatabaseURL != "" {
		st, err := store.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("open turn store: %w", err)
		}
		s.store = st
		s.turnStore = st
		s.archiver = st
	}
	if cfg.ArchiveDir != "" {
		ar, err := archive.New(cfg.ArchiveDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		s.archive = ar
		// File archives take precedence over the store for transcripts.
		s.archiver = ar
	}

	if cfg.DuplexEnabled() {
		s.newDuplex = func() duplex.Core { return duplex.NewWSClient(cfg.DuplexURL) }
	}

	s.ttsForVoice = func(voiceID string) (tts.Synthesizer, error) {
		if !s.voices.IsInstalled(voiceID) {
			return nil, fmt.Errorf("voice %s is not installed", voiceID)
		}
		return s.newSynthesizer(voiceID)
	}

	s.routes()
	return s, nil
}

// newSynthesizer builds the piper adapter for one voice, wrapped in the
// phrase cache when enabled. Each voice gets its own cache because the
// cache is keyed by text alone. When Cartesia credentials are configured
// the result is a chain with the hosted voice as fallback.
func (s *Server) newSynthesizer(voiceID string) (tts.Synthesizer, error) {
	opts := []tts.PiperOption{
		tts.WithSpeaker(s.cfg.PiperSpeaker),
		tts.WithNoiseScale(s.cfg.PiperNoiseScale),
		tts.WithLengthScale(s.cfg.PiperLengthScale),
	}
	if voiceID != "" {
		opts = append(opts, tts.WithVoice(voiceID))
	}
	var synth tts.Synthesizer = tts.NewPiper(s.cfg.PiperURL, opts...)
	if s.cfg.TTSCacheSize > 0 {
		synth = tts.NewCache(synth, s.cfg.TTSCacheSize, s.cfg.TTSCacheTTL)
	}
	if s.cfg.CartesiaAPIKey == "" || s.cfg.CartesiaVoice == "" {
		return synth, nil
	}
	fallback := tts.NewCartesia(tts.CartesiaConfig{
		APIKey:   s.cfg.CartesiaAPIKey,
		VoiceID:  s.cfg.CartesiaVoice,
		Language: s.cfg.WhisperLanguage,
	})
	return tts.NewChain(s.logger, synth, fallback)
}

// newTranscriber picks the utterance transcriber: a whisper server by
// default, or the hosted Cartesia batch API. Both share the language hint.
func newTranscriber(cfg config.Config) stt.Transcriber {
	if cfg.STTProvider == config.STTProviderCartesia {
		return stt.NewCartesia(stt.CartesiaConfig{
			APIKey:   cfg.CartesiaAPIKey,
			Language: cfg.WhisperLanguage,
		})
	}
	return stt.NewWhisper(cfg.WhisperURL,
		stt.WithLanguage(cfg.WhisperLanguage),
		stt.WithBeamSize(cfg.WhisperBeamSize),
	)
}

func newLLMClient(ctx context.Context, cfg config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case config.LLMProviderGemini:
		return llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:      cfg.LLMAPIKey,
			Model:       cfg.LLMModel,
			Temperature: cfg.LLMTemperature,
			MaxTokens:   cfg.LLMMaxTokens,
		})
	default:
		opts := []llm.OpenAIOption{
			llm.WithTemperature(cfg.LLMTemperature),
			llm.WithMaxTokens(cfg.LLMMaxTokens),
		}
		if cfg.LLMAPIKey != "" {
			opts = append(opts, llm.WithAPIKey(cfg.LLMAPIKey))
		}
		return llm.NewOpenAICompat(cfg.LLMURL, cfg.LLMModel, opts...), nil
	}
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})

	s.mux.Handle("/ws", handlers.LiveHandler{
		Config:      s.cfg,
		Logger:      s.logger,
		Sessions:    s.sessions,
		STT:         s.stt,
		TTS:         s.tts,
		LLM:         s.llm,
		RAG:         s.rag,
		Store:       s.turnStore,
		Archive:     s.archiver,
		TTSForVoice: s.ttsForVoice,
		NewDuplex:   s.newDuplex,
	})

	s.mux.Handle("/voices/installed", handlers.InstalledVoicesHandler{Voices: s.voices})
	s.mux.Handle("/voices/download", handlers.DownloadVoiceHandler{Voices: s.voices, Logger: s.logger})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Handler returns the full middleware chain around the mux.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Sessions exposes the tracker so the process can report counts.
func (s *Server) Sessions() *sessions.Tracker { return s.sessions }

// Shutdown drains live sessions and flushes the persistence layers.
// The HTTP listener is owned by the caller and shut down separately.
func (s *Server) Shutdown(ctx context.Context) {
	if !s.sessions.Drain(ctx, "server is shutting down") {
		s.logger.Warn("live session drain timed out", "remaining", s.sessions.Count())
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Warn("archive flush failed", "error", err)
		}
	}
	if s.store != nil {
		s.store.Close()
	}
}
