// Package session implements the per-connection controller behind the
// live voice WebSocket: VAD gating with barge-in, utterance capture,
// deterministic command routing, streamed LLM replies segmented into
// spoken phrases, and a single ordered outbound dispatcher.
//
// Concurrency model: one goroutine reads the socket, one runs the
// engine loop (VAD and control frames), one writes the socket. Each
// finalized utterance gets its own turn goroutine, fenced by a
// monotonically increasing generation ID. A barge-in bumps the
// generation and cancels the turn context; stale turns stop emitting
// and queued stale audio is dropped at write time.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/echomind-ai/voiced/pkg/core/command"
	"github.com/echomind-ai/voiced/pkg/core/llm"
	"github.com/echomind-ai/voiced/pkg/core/memory"
	"github.com/echomind-ai/voiced/pkg/core/rag"
	"github.com/echomind-ai/voiced/pkg/core/types"
	"github.com/echomind-ai/voiced/pkg/core/voice"
	"github.com/echomind-ai/voiced/pkg/core/voice/duplex"
	"github.com/echomind-ai/voiced/pkg/core/voice/stt"
	"github.com/echomind-ai/voiced/pkg/core/voice/tts"
	"github.com/echomind-ai/voiced/pkg/gateway/config"
	"github.com/echomind-ai/voiced/pkg/gateway/live/protocol"
)

// maxInboundMessageBytes caps a single WebSocket message. Audio frames
// are tiny; this only guards against hostile peers.
const maxInboundMessageBytes = 1 << 20

// State is the coarse lifecycle of a live session.
type State int32

const (
	// StateIdle means the session is armed and waiting for speech.
	StateIdle State = iota
	// StateListening means user speech is being captured.
	StateListening
	// StateThinking means an utterance was finalized and a turn is
	// running (STT, routing, model).
	StateThinking
	// StateSpeaking means assistant audio is streaming out.
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// wsConn is the WebSocket surface the session consumes. A
// *websocket.Conn satisfies it; tests substitute an in-memory fake.
type wsConn interface {
	wsWriter
	ReadMessage() (int, []byte, error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// TurnRecord is the persisted form of one completed conversation turn.
type TurnRecord struct {
	SessionID     string
	TurnID        int64
	GenerationID  int64
	Route         string
	UserText      string
	AssistantText string
	SessionMS     int64
	StartedAt     time.Time
	FinishedAt    time.Time
}

// TurnStore persists finished turns. Failures are logged and never
// interrupt a turn.
type TurnStore interface {
	SaveTurn(ctx context.Context, rec TurnRecord) (string, error)
}

// TranscriptLine is one spoken line kept for the session archive.
type TranscriptLine struct {
	At      time.Time
	Speaker string
	Text    string
}

// Archiver receives the transcript of a finished session.
type Archiver interface {
	ArchiveSession(sessionID string, startedAt, endedAt time.Time, lines []TranscriptLine) error
}

// Dependencies carries everything a live session needs. Conn, STT, TTS
// and LLM are required; the rest defaults or stays disabled when nil.
type Dependencies struct {
	Conn   wsConn
	Config config.Config
	Logger *slog.Logger

	STT stt.Transcriber
	TTS tts.Synthesizer
	LLM llm.Client

	// RAG answers knowledge-base turns; nil disables them.
	RAG rag.Client
	// Duplex mirrors mic audio to a full-duplex speech core; nil
	// disables mirroring and text injection.
	Duplex duplex.Core
	// Store persists finished turns; nil disables persistence.
	Store TurnStore
	// Archive receives the transcript when the session ends.
	Archive Archiver

	Router     *command.Router
	Memory     *memory.Memory
	Classifier voice.Classifier

	// TTSForVoice builds a synthesizer for a named voice so set_context
	// can switch voices mid-session. Nil disables switching.
	TTSForVoice func(voiceID string) (tts.Synthesizer, error)

	SessionID string
	Now       func() time.Time

	// PhraseTick overrides the pause-flush ticker used while streaming
	// a reply. Tests inject a channel to drive flushes deterministically.
	PhraseTick <-chan time.Time
}

// LiveSession is one WebSocket voice session.
type LiveSession struct {
	cfg    config.Config
	logger *slog.Logger
	ws     wsConn

	stt     stt.Transcriber
	llm     llm.Client
	rag     rag.Client
	duplex  duplex.Core
	store   TurnStore
	archive Archiver

	router     *command.Router
	memory     *memory.Memory
	classifier voice.Classifier

	ttsForVoice func(string) (tts.Synthesizer, error)

	sessionID string
	now       func() time.Time
	startTime time.Time

	phraseTick <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc

	generation atomic.Int64
	state      atomic.Int32
	duplexOK   atomic.Bool
	dropped    atomic.Int64

	// cancelMu serializes pipeline teardown so a barge-in bumps the
	// generation and cancels the running turn as one step.
	cancelMu   sync.Mutex
	turnCancel context.CancelFunc

	out    chan outboundFrame
	frameQ chan inboundFrame
	ctlCh  chan any

	wg sync.WaitGroup

	tsMu         sync.Mutex
	clientTSBase int64
	clientTSAt   time.Time

	// mu guards the conversational state shared between the engine loop
	// and turn goroutines.
	mu            sync.Mutex
	tts           tts.Synthesizer
	profile       types.Profile
	systemPrompt  string
	persona       string
	contextWindow string
	useKB         bool
	listenOnly    bool
	triggers      []string
	listenBuffer  []string
	history       *conversationHistory
	turnID        int64
	transcript    []TranscriptLine
}

// New validates dependencies and builds a session ready to Run.
func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	if deps.STT == nil {
		return nil, fmt.Errorf("stt is required")
	}
	if deps.TTS == nil {
		return nil, fmt.Errorf("tts is required")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm is required")
	}

	cfg := normalizeConfig(deps.Config)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := strings.TrimSpace(deps.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger = logger.With("session_id", sessionID)

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	router := deps.Router
	if router == nil {
		router = command.NewRouter(command.KeywordClassifier{})
	}
	mem := deps.Memory
	if mem == nil {
		mem = memory.New(time.Duration(cfg.MemoryWindowMinutes * float64(time.Minute)))
		mem.SetLogger(logger)
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = voice.NewEnergyClassifier(cfg.VADThreshold)
	}

	assistantName := strings.TrimSpace(cfg.AssistantName)
	if assistantName == "" {
		assistantName = "EchoMind"
	}
	timezone := strings.TrimSpace(cfg.Timezone)
	if timezone == "" {
		timezone = "America/New_York"
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &LiveSession{
		cfg:         cfg,
		logger:      logger,
		ws:          deps.Conn,
		stt:         deps.STT,
		tts:         deps.TTS,
		llm:         deps.LLM,
		rag:         deps.RAG,
		duplex:      deps.Duplex,
		store:       deps.Store,
		archive:     deps.Archive,
		router:      router,
		memory:      mem,
		classifier:  classifier,
		ttsForVoice: deps.TTSForVoice,
		sessionID:   sessionID,
		now:         now,
		startTime:   now(),
		phraseTick:  deps.PhraseTick,
		ctx:         ctx,
		cancel:      cancel,
		out:         make(chan outboundFrame, cfg.OutboundQueue),
		frameQ:      make(chan inboundFrame, cfg.InboundQueue),
		ctlCh:       make(chan any, 16),
		profile: types.Profile{
			AssistantName: assistantName,
			WakeWord:      assistantName,
			UserName:      strings.TrimSpace(cfg.UserName),
			Timezone:      timezone,
			Location:      strings.TrimSpace(cfg.Location),
		},
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		triggers:     command.DefaultTriggerPhrases(),
		history:      newConversationHistory(cfg.HistoryMaxTurns, cfg.HistoryMaxTokens),
	}
	s.state.Store(int32(StateIdle))
	return s, nil
}

// normalizeConfig fills zero-value fields with the same defaults
// config.LoadFromEnv applies, so directly constructed configs (tests,
// embedding) behave like loaded ones.
func normalizeConfig(cfg config.Config) config.Config {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameMS <= 0 {
		cfg.FrameMS = 20
	}
	if cfg.MaxUtteranceSeconds <= 0 {
		cfg.MaxUtteranceSeconds = 15
	}
	if cfg.VADEnergyFloor <= 0 {
		cfg.VADEnergyFloor = 0.004
	}
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = 0.012
	}
	if cfg.EndpointSilence <= 0 {
		cfg.EndpointSilence = 450 * time.Millisecond
	}
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = 250 * time.Millisecond
	}
	if cfg.EndTail <= 0 {
		cfg.EndTail = 120 * time.Millisecond
	}
	if cfg.BargeLeadFramesIdle <= 0 {
		cfg.BargeLeadFramesIdle = 2
	}
	if cfg.BargeLeadFramesActive <= 0 {
		cfg.BargeLeadFramesActive = 6
	}
	if cfg.PhraseMinChars <= 0 {
		cfg.PhraseMinChars = 28
	}
	if cfg.PhraseMaxChars <= 0 {
		cfg.PhraseMaxChars = 120
	}
	if cfg.PhraseCommitPause <= 0 {
		cfg.PhraseCommitPause = 180 * time.Millisecond
	}
	if cfg.InboundQueue <= 0 {
		cfg.InboundQueue = 500
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = 1800
	}
	if cfg.WSPingInterval <= 0 {
		cfg.WSPingInterval = 20 * time.Second
	}
	if cfg.WSWriteTimeout <= 0 {
		cfg.WSWriteTimeout = 5 * time.Second
	}
	if cfg.HistoryMaxTurns <= 0 {
		cfg.HistoryMaxTurns = 12
	}
	if cfg.HistoryMaxTokens <= 0 {
		cfg.HistoryMaxTokens = 1400
	}
	if cfg.MemoryWindowMinutes <= 0 {
		cfg.MemoryWindowMinutes = 30
	}
	return cfg
}

// ID returns the session identifier sent in the hello frame.
func (s *LiveSession) ID() string { return s.sessionID }

// State returns the current coarse lifecycle state.
func (s *LiveSession) State() State { return State(s.state.Load()) }

// GenerationID returns the current playback generation.
func (s *LiveSession) GenerationID() int64 { return s.generation.Load() }

// Cancel asks the session to shut down. Run returns soon after.
func (s *LiveSession) Cancel() { s.cancel() }

// Warn pushes a notice frame to the client outside any turn. The
// gateway uses it to announce a drain before canceling the session.
func (s *LiveSession) Warn(where, message string) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.enqueueJSON(protocol.ServerError{
		Type:    protocol.TypeError,
		Where:   where,
		Message: message,
	})
	return nil
}

func (s *LiveSession) setState(st State) { s.state.Store(int32(st)) }

func (s *LiveSession) swapState(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// assistantActive reports whether a reply pipeline is in flight, which
// raises the barge-in lead requirement.
func (s *LiveSession) assistantActive() bool {
	st := s.State()
	return st == StateThinking || st == StateSpeaking
}

func (s *LiveSession) isStale(generationID int64) bool {
	return generationID != s.generation.Load()
}

// Run drives the session until the client disconnects, the writer
// fails, or Cancel is called. It blocks the caller.
func (s *LiveSession) Run() error {
	defer s.cancel()

	s.ws.SetReadLimit(maxInboundMessageBytes)
	readWait := 3 * s.cfg.WSPingInterval
	_ = s.ws.SetReadDeadline(s.now().Add(readWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(s.now().Add(readWait))
	})

	writerErrCh := make(chan error, 1)
	writer := &outboundWriter{
		ws:           s.ws,
		ctx:          s.ctx,
		pingInterval: s.cfg.WSPingInterval,
		writeTimeout: s.cfg.WSWriteTimeout,
		out:          s.out,
		isStale:      s.isStale,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		writerErrCh <- writer.Run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop()
	}()

	if s.duplex != nil {
		if err := s.duplex.Connect(s.ctx); err != nil {
			s.logger.Warn("duplex core unavailable", "err", err)
		} else {
			s.duplexOK.Store(true)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.duplexRelay()
			}()
		}
	}

	defer func() {
		s.cancel()
		_ = s.ws.Close()
		s.wg.Wait()
		if s.duplex != nil {
			_ = s.duplex.Close()
		}
		s.archiveTranscript()
		s.logger.Info("live session closed",
			"duration_ms", s.now().Sub(s.startTime).Milliseconds(),
			"dropped_frames", s.dropped.Load())
	}()

	s.logger.Info("live session started")
	s.start()

	gate := newVADGate(s.classifier, gateConfig{
		frameMS:         s.cfg.FrameMS,
		energyFloor:     s.cfg.VADEnergyFloor,
		endpointSilence: s.cfg.EndpointSilence,
		minSpeech:       s.cfg.MinSpeech,
		endTail:         s.cfg.EndTail,
		leadIdle:        s.cfg.BargeLeadFramesIdle,
		leadActive:      s.cfg.BargeLeadFramesActive,
	})
	utt := newUtteranceBuffer(s.cfg.MaxUtteranceSeconds*1000, s.cfg.FrameMS)
	paused := false

	handleFrame := func(fr inboundFrame) {
		if paused {
			return
		}
		if s.duplexOK.Load() {
			_ = s.duplex.SendAudio(fr.pcm16, s.cfg.SampleRate)
		}
		if fr.ts > 0 {
			s.observeClientTimestampMS(int64(fr.ts * 1000))
		}

		ev, keep := gate.feed(fr.pcm16, s.assistantActive())
		switch ev {
		case gateSpeechStart:
			utt.reset()
			s.cancelPipeline(true, true)
			s.setState(StateListening)
			s.sendEvent(protocol.EventUserSpeechStart)
			s.logger.Debug("user speech start",
				"generation_id", s.generation.Load(),
				"session_ms", s.sessionTimeMS())
			utt.push(fr.pcm16)
		case gateEndpoint:
			if keep {
				utt.push(fr.pcm16)
			}
			s.sendEvent(protocol.EventUserSpeechEnd)
			s.commitUtterance(utt)
		case gateDiscard:
			s.sendEvent(protocol.EventUserSpeechEnd)
			utt.reset()
			s.swapState(StateListening, StateIdle)
		default:
			if keep {
				utt.push(fr.pcm16)
			}
		}
	}

	handleControl := func(msg any) {
		switch m := msg.(type) {
		case protocol.ClientStart:
			// Sessions start armed; start only clears a pause.
			paused = false
		case protocol.ClientPause:
			paused = true
			gate.reset()
			utt.reset()
			s.swapState(StateListening, StateIdle)
		case protocol.ClientResume:
			paused = false
		case protocol.ClientEOS:
			if utt.len() == 0 {
				return
			}
			gate.reset()
			s.sendEvent(protocol.EventUserSpeechEnd)
			s.commitUtterance(utt)
		case protocol.ClientStop:
			s.cancelPipeline(false, true)
			gate.reset()
			utt.reset()
		case protocol.ClientSetContext:
			s.logger.Info("set_context", "payload", m.RedactedForLog())
			s.applySetContext(m)
		case protocol.ClientClearMemory:
			s.clearAllMemory()
			s.enqueueJSON(protocol.ServerContextAck{
				Type:         protocol.TypeContextAck,
				SystemPrompt: s.currentSystemPrompt(),
				Cleared:      true,
			})
		default:
			s.logger.Debug("unhandled control frame", "type", fmt.Sprintf("%T", msg))
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				s.logger.Warn("outbound writer failed", "err", err)
			}
			return err
		case fr, ok := <-s.frameQ:
			if !ok {
				return nil
			}
			handleFrame(fr)
		case msg := <-s.ctlCh:
			handleControl(msg)
		}
	}
}

// start emits the opening handshake and kicks off the intro phrase.
func (s *LiveSession) start() {
	s.mu.Lock()
	name := s.profile.AssistantName
	prompt := s.systemPrompt
	s.mu.Unlock()

	note := fmt.Sprintf("%s: Context + memory + listen-only. Say 'listen to conversation' or use wake word.", name)
	s.enqueueJSON(protocol.ServerHello{Type: protocol.TypeHello, SessionID: s.sessionID, Note: note})
	s.enqueueJSON(protocol.ServerContextAck{Type: protocol.TypeContextAck, SystemPrompt: prompt})
	s.sendProfileUpdate()

	if intro := strings.TrimSpace(s.cfg.IntroPhrase); intro != "" {
		gen := s.generation.Load()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.playIntro(gen, intro)
		}()
	}
}

// readLoop pulls frames off the socket and fans them out: audio to the
// bounded frame queue (drop-newest), control frames to the engine loop.
// It owns no session state and exits when the socket dies.
func (s *LiveSession) readLoop() {
	defer close(s.frameQ)

	// Budget inbound audio at 4x real time so bursty clients catch up
	// without letting a hostile one spin the CPU.
	fps := 4 * 1000 / s.cfg.FrameMS
	bps := int64(4 * s.cfg.SampleRate * 2)
	limiter := newInboundAudioLimiter(s.now, fps, bps, 2)

	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Debug("read loop closed", "err", err)
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			s.pushFrame(inboundFrame{pcm16: data}, limiter)
			continue
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			s.sendProtocolError(err)
			continue
		}
		switch m := msg.(type) {
		case protocol.ClientAudio:
			s.pushFrame(inboundFrame{ts: m.TS, pcm16: m.PCM}, limiter)
		default:
			select {
			case s.ctlCh <- msg:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *LiveSession) pushFrame(fr inboundFrame, limiter *inboundAudioLimiter) {
	if len(fr.pcm16) != s.cfg.FrameBytes() {
		s.countDrop("bad_size")
		return
	}
	if !limiter.Allow(len(fr.pcm16)) {
		s.countDrop("rate_limit")
		return
	}
	select {
	case s.frameQ <- fr:
	default:
		// Queue full: drop the newest frame rather than stall the read
		// loop. The endpointing logic tolerates gaps.
		s.countDrop("queue_full")
	}
}

func (s *LiveSession) countDrop(reason string) {
	if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
		s.logger.Debug("dropping inbound audio", "reason", reason, "dropped", n)
	}
}

// cancelPipeline tears down any in-flight turn and playback. The
// generation bump makes every queued frame of the old turn stale;
// sendCancel additionally tells the client to flush its playback
// buffer. Capture state (gate, utterance buffer) lives in the engine
// loop, so callers passing keepListening=false reset it themselves.
func (s *LiveSession) cancelPipeline(keepListening, sendCancel bool) {
	s.cancelMu.Lock()
	gen := s.generation.Add(1)
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	s.cancelMu.Unlock()

	s.setState(StateIdle)

	if sendCancel {
		s.enqueueJSON(protocol.ServerCancel{Type: protocol.TypeCancel, GenerationID: gen})
	}
	if s.duplexOK.Load() {
		_ = s.duplex.Cancel(gen)
	}
	if !keepListening {
		s.logger.Debug("pipeline stopped", "generation_id", gen)
	}
}

// commitUtterance snapshots the buffered audio and spawns the turn
// goroutine. The generation is not bumped here: only new speech
// invalidates playback, not the end of the current utterance.
func (s *LiveSession) commitUtterance(utt *utteranceBuffer) {
	samples := utt.audio()
	utt.reset()

	s.cancelMu.Lock()
	if s.turnCancel != nil {
		// A previous finalize is still running; supersede it.
		s.turnCancel()
	}
	turnCtx, cancel := context.WithCancel(s.ctx)
	s.turnCancel = cancel
	gen := s.generation.Load()
	s.cancelMu.Unlock()

	s.setState(StateThinking)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.finalizeTurn(turnCtx, gen, samples)
	}()
}

// duplexRelay forwards speech-core audio to the client, fenced by the
// same generation rules as local playback.
func (s *LiveSession) duplexRelay() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case f, ok := <-s.duplex.Frames():
			if !ok {
				return
			}
			switch f.Type {
			case duplex.FrameTypeBinaryAudio, protocol.TypeAudioOut:
				gen := f.GenerationID
				if gen == 0 {
					gen = s.generation.Load()
				}
				if s.isStale(gen) {
					continue
				}
				sr := f.SampleRate
				if sr == 0 {
					sr = s.cfg.SampleRate
				}
				s.enqueueAudio(protocol.ServerAudioOut{
					Type:         protocol.TypeAudioOut,
					GenerationID: gen,
					SampleRate:   sr,
					PlaybackRate: 1.0,
					PCM16B64:     f.PCM16B64,
					PCM16Raw:     f.Audio,
				})
			default:
				s.logger.Debug("ignoring duplex frame", "type", f.Type)
			}
		}
	}
}

// applySetContext merges a set_context frame into session state and
// acknowledges with context_ack plus a profile snapshot.
func (s *LiveSession) applySetContext(m protocol.ClientSetContext) {
	listenChanged := false

	s.mu.Lock()
	if sp := strings.TrimSpace(m.SystemPrompt); sp != "" {
		s.systemPrompt = sp
	}
	if p := strings.TrimSpace(m.Persona); p != "" {
		s.persona = p
	}
	if w := strings.TrimSpace(m.ContextWindow); w != "" {
		s.contextWindow = w
	}
	s.useKB = m.UseKnowledgeBase

	if m.AssistantName != nil {
		if name := strings.TrimSpace(*m.AssistantName); name != "" {
			s.profile.AssistantName = name
			// Renaming the assistant moves the wake word with it.
			s.profile.WakeWord = name
		}
	}
	if m.WakeWord != nil {
		s.profile.WakeWord = strings.TrimSpace(*m.WakeWord)
	}
	if m.UserName != nil {
		s.profile.UserName = strings.TrimSpace(*m.UserName)
	}
	if m.Timezone != nil {
		tz := strings.TrimSpace(*m.Timezone)
		if tz == "" {
			tz = "America/New_York"
		}
		s.profile.Timezone = tz
	}
	if m.Location != nil {
		s.profile.Location = strings.TrimSpace(*m.Location)
	}
	if m.TriggerPhrases != nil {
		s.triggers = m.TriggerPhrases
	}
	if m.ListenOnly != s.listenOnly {
		s.listenOnly = m.ListenOnly
		listenChanged = true
	}
	listenOn := s.listenOnly
	prompt := s.systemPrompt
	s.mu.Unlock()

	if m.Voice != "" {
		s.switchVoice(m.Voice)
	}
	if m.ClearMemory {
		s.clearAllMemory()
	}
	if listenChanged {
		event := "listening_mode_off"
		if listenOn {
			event = "listening_mode_on"
		}
		s.enqueueJSON(protocol.ServerMemoryEvent{Type: protocol.TypeMemoryEvent, Event: event})
	}

	s.enqueueJSON(protocol.ServerContextAck{
		Type:         protocol.TypeContextAck,
		SystemPrompt: prompt,
		Cleared:      m.ClearMemory,
	})
	s.sendProfileUpdate()
}

func (s *LiveSession) switchVoice(voiceID string) {
	if s.ttsForVoice == nil {
		s.sendError("session", fmt.Errorf("voice switching is not configured"), 0)
		return
	}
	synth, err := s.ttsForVoice(voiceID)
	if err != nil {
		s.sendError("tts", err, 0)
		return
	}
	s.mu.Lock()
	s.tts = synth
	s.mu.Unlock()
	s.logger.Info("voice switched", "voice", voiceID)
}

// clearAllMemory wipes the LLM history, the listen-only buffer and the
// rolling conversation memory together, so "forget everything" means
// exactly that.
func (s *LiveSession) clearAllMemory() {
	s.mu.Lock()
	s.history.clear()
	s.listenBuffer = nil
	s.mu.Unlock()
	s.memory.Clear()
}

// enqueueJSON marshals and queues one frame. The producer blocks when
// the queue is full unless the session is shutting down; ordering is
// preserved because all writes funnel through the single writer.
func (s *LiveSession) enqueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal outbound frame", "err", err)
		return
	}
	select {
	case s.out <- outboundFrame{payload: data}:
	case <-s.ctx.Done():
	}
}

// enqueueAudio queues one playback chunk, leaving base64 encoding to
// the writer. Returns false when the session is shutting down.
func (s *LiveSession) enqueueAudio(msg protocol.ServerAudioOut) bool {
	select {
	case s.out <- outboundFrame{audio: &msg}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// sendIfCurrent emits v only when generationID is still live. Turn
// goroutines route every frame through this fence.
func (s *LiveSession) sendIfCurrent(generationID int64, v any) bool {
	if s.isStale(generationID) {
		return false
	}
	s.enqueueJSON(v)
	return true
}

// sendEvent emits a state event carrying the current generation.
func (s *LiveSession) sendEvent(event string) {
	s.enqueueJSON(protocol.ServerEvent{
		Type:         protocol.TypeEvent,
		Event:        event,
		GenerationID: s.generation.Load(),
	})
}

func (s *LiveSession) sendError(where string, err error, generationID int64) {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	s.logger.Warn("session error", "where", where, "err", err)
	s.enqueueJSON(protocol.ServerError{
		Type:         protocol.TypeError,
		Where:        where,
		Message:      msg,
		GenerationID: generationID,
	})
}

func (s *LiveSession) sendProtocolError(err error) {
	s.enqueueJSON(protocol.ServerError{
		Type:    protocol.TypeError,
		Where:   "protocol",
		Message: err.Error(),
	})
}

func (s *LiveSession) sendProfileUpdate() {
	p := s.profileSnapshot()
	s.enqueueJSON(protocol.ServerProfileUpdate{
		Type:          protocol.TypeProfileUpdate,
		AssistantName: p.AssistantName,
		WakeWord:      p.WakeWord,
		UserName:      p.UserName,
		Timezone:      p.Timezone,
		Location:      p.Location,
	})
}

func (s *LiveSession) profileSnapshot() types.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *LiveSession) currentSystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemPrompt
}

func (s *LiveSession) synthesizer() tts.Synthesizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tts
}

func (s *LiveSession) nextTurnID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnID++
	return s.turnID
}

// turnMessages builds the chat payload for one turn after trimming
// history to budget. systemPrompt is used verbatim, so override flows
// (fact-check, summaries) bypass the profile preamble.
func (s *LiveSession) turnMessages(systemPrompt, userText string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.buildMessages(systemPrompt, userText)
}

// conversationSystemPrompt is the default system prompt: profile
// preamble, configured prompt, optional compiled memory context.
func (s *LiveSession) conversationSystemPrompt(compiledContext string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return buildSystemPrompt(s.profile, s.systemPrompt, compiledContext)
}

// recordExchange appends a finished user/assistant turn to history and
// trims it to budget.
func (s *LiveSession) recordExchange(userText, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.appendTurn(userText, reply)
	s.history.trim(s.systemPrompt)
}

func (s *LiveSession) rememberText(text, speaker string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := s.memory.AddText(text, speaker); err != nil {
		s.logger.Debug("memory add failed", "err", err)
	}
}

func (s *LiveSession) appendTranscript(speaker, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, TranscriptLine{At: s.now(), Speaker: speaker, Text: text})
	s.mu.Unlock()
}

func (s *LiveSession) archiveTranscript() {
	if s.archive == nil {
		return
	}
	s.mu.Lock()
	lines := make([]TranscriptLine, len(s.transcript))
	copy(lines, s.transcript)
	s.mu.Unlock()
	if len(lines) == 0 {
		return
	}
	if err := s.archive.ArchiveSession(s.sessionID, s.startTime, s.now(), lines); err != nil {
		s.logger.Warn("archive session", "err", err)
	}
}

// observeClientTimestampMS anchors the session clock to the client's
// capture timestamp so logs and stored turns line up with client time.
// Timestamps that would rewind the clock are ignored; the session clock
// only moves forward.
func (s *LiveSession) observeClientTimestampMS(ms int64) {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	if !s.clientTSAt.IsZero() {
		current := s.clientTSBase + s.now().Sub(s.clientTSAt).Milliseconds()
		if ms <= current {
			return
		}
	}
	s.clientTSBase = ms
	s.clientTSAt = s.now()
}

// sessionTimeMS returns milliseconds of session time, extrapolated from
// the latest client timestamp when one has been seen.
func (s *LiveSession) sessionTimeMS() int64 {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	if s.clientTSAt.IsZero() {
		return s.now().Sub(s.startTime).Milliseconds()
	}
	return s.clientTSBase + s.now().Sub(s.clientTSAt).Milliseconds()
}
