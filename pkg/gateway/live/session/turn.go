package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/echomind-ai/voiced/pkg/core/command"
	"github.com/echomind-ai/voiced/pkg/core/memory"
	"github.com/echomind-ai/voiced/pkg/core/rag"
	"github.com/echomind-ai/voiced/pkg/core/types"
	"github.com/echomind-ai/voiced/pkg/core/voice"
	"github.com/echomind-ai/voiced/pkg/gateway/live/protocol"
)

const (
	llmStreamTimeout   = 120 * time.Second
	llmCompleteTimeout = 90 * time.Second
	ragTimeout         = 60 * time.Second
	storeTimeout       = 5 * time.Second
)

// Route labels recorded with persisted turns.
const (
	routeCommand = "command"
	routeListen  = "listen"
	routeMemory  = "memory"
	routeFact    = "fact_check"
	routeRAG     = "rag"
	routeStream  = "stream"
)

// finalizeTurn runs one finalized utterance through STT, the command
// router, and whichever reply path applies. Every outbound frame is
// fenced by gen; a barge-in bumps the generation and cancels ctx, after
// which this turn goes quiet.
func (s *LiveSession) finalizeTurn(ctx context.Context, gen int64, samples []float32) {
	startedAt := s.now()
	s.sendEventFor(gen, protocol.EventThinking)

	// Anything under a quarter second is a click or a breath.
	if len(samples) < s.cfg.SampleRate/4 {
		s.swapState(StateThinking, StateIdle)
		return
	}

	text, err := s.stt.Transcribe(ctx, samples, s.cfg.SampleRate)
	if err != nil {
		if ctx.Err() == nil {
			s.sendError("stt", err, gen)
		}
		s.swapState(StateThinking, StateIdle)
		return
	}
	userText := voice.StripMarkdown(strings.TrimSpace(text))
	if userText == "" {
		s.swapState(StateThinking, StateIdle)
		return
	}

	s.rememberText(userText, "user")

	// Wake and trigger detection run against the pre-routing profile.
	profile := s.profileSnapshot()
	s.mu.Lock()
	triggers := s.triggers
	s.mu.Unlock()
	wakeTriggered := command.WakeTriggered(userText, profile.WakeWord)
	strippedForWake := command.StripWakeWord(userText, profile.WakeWord)
	triggered := wakeTriggered || command.MatchesTrigger(userText, triggers)

	res := s.router.Route(userText)
	s.applyEffects(res.Effects)
	eff := res.Effects

	s.mu.Lock()
	listenOnly := s.listenOnly
	s.mu.Unlock()

	// Direct command response: no model round trip.
	if res.Handled && res.Response != "" && !eff.FactCheck && eff.Query == nil {
		turnID := s.nextTurnID()
		s.sendASRFinal(gen, turnID, userText)
		s.sendEventFor(gen, protocol.EventSpeaking)
		s.sendAssistantText(gen, res.Response)
		s.speakPhrase(ctx, gen, res.Response)
		s.rememberText(res.Response, "assistant")
		s.finishTurn(gen, turnID, routeCommand, userText, res.Response, startedAt)
		return
	}

	// Listen-only without a trigger: transcribe, remember, stay quiet.
	if listenOnly && !triggered {
		s.mu.Lock()
		s.listenBuffer = append(s.listenBuffer, userText)
		s.mu.Unlock()
		turnID := s.nextTurnID()
		s.sendASRFinal(gen, turnID, userText)
		s.finishTurn(gen, turnID, routeListen, userText, "", startedAt)
		return
	}

	// A trigger ends listen-only; buffered speech folds into the query.
	if listenOnly && triggered {
		s.mu.Lock()
		s.listenOnly = false
		combined := strings.TrimSpace(strings.Join(s.listenBuffer, " "))
		s.listenBuffer = nil
		s.mu.Unlock()
		s.enqueueJSON(protocol.ServerMemoryEvent{Type: protocol.TypeMemoryEvent, Event: "listening_mode_off"})
		if combined != "" {
			userText = strings.TrimSpace(combined + " " + userText)
		}
		if wakeTriggered && strippedForWake != "" {
			userText = strippedForWake
		}
	}

	turnID := s.nextTurnID()
	s.sendASRFinal(gen, turnID, userText)
	s.sendEventFor(gen, protocol.EventSpeaking)

	switch {
	case eff.FactCheck:
		reply := s.runFactCheck(ctx, gen, userText)
		s.finishTurn(gen, turnID, routeFact, userText, reply, startedAt)
	case eff.Query != nil:
		reply := s.runMemoryQuery(ctx, gen, userText, *eff.Query)
		s.finishTurn(gen, turnID, routeMemory, userText, reply, startedAt)
	case s.knowledgeBaseEnabled():
		reply := s.runRAGTurn(ctx, gen, userText)
		s.finishTurn(gen, turnID, routeRAG, userText, reply, startedAt)
	default:
		compiledContext := s.memory.ContextBlock(15, 3500)
		reply := s.streamReply(ctx, gen, userText, compiledContext)
		s.finishTurn(gen, turnID, routeStream, userText, reply, startedAt)
	}
}

// applyEffects folds router side effects into the profile and mode
// flags, emitting the matching notification frames.
func (s *LiveSession) applyEffects(eff command.Effects) {
	profileChanged := false
	listenEvent := ""

	s.mu.Lock()
	if eff.AssistantName != "" {
		s.profile.AssistantName = eff.AssistantName
		// Renaming the assistant moves the wake word with it.
		s.profile.WakeWord = eff.AssistantName
		profileChanged = true
	}
	if eff.UserName != "" {
		s.profile.UserName = eff.UserName
		profileChanged = true
	}
	if eff.Timezone != "" {
		s.profile.Timezone = eff.Timezone
		profileChanged = true
	}
	if eff.Location != "" {
		s.profile.Location = eff.Location
		profileChanged = true
	}
	if eff.ListenOnly != nil {
		s.listenOnly = *eff.ListenOnly
		listenEvent = "listening_mode_off"
		if s.listenOnly {
			listenEvent = "listening_mode_on"
		}
	}
	s.mu.Unlock()

	if profileChanged {
		s.sendProfileUpdate()
	}
	if listenEvent != "" {
		s.enqueueJSON(protocol.ServerMemoryEvent{Type: protocol.TypeMemoryEvent, Event: listenEvent})
	}
	if eff.ClearMemory {
		s.clearAllMemory()
	}
}

// runFactCheck answers "fact check" requests from the rolling
// transcript, through the retrieval backend when enabled or the bare
// model otherwise. Returns the reply recorded into history.
func (s *LiveSession) runFactCheck(ctx context.Context, gen int64, userText string) string {
	fcContext := s.memory.ContextBlock(10, 3000)
	fcPrompt := "You are a fact-checking assistant. Based ONLY on the following conversation transcript, " +
		"identify any factual claims and assess their accuracy. If you have no external sources, " +
		"clearly state uncertainty and give reasoning. Be concise.\n\nTranscript:\n" + fcContext

	if s.knowledgeBaseEnabled() {
		persona, window := s.ragOptions()
		rctx, cancel := context.WithTimeout(ctx, ragTimeout)
		answer, err := s.rag.AskVoice(rctx, rag.Question{
			Message:          fmt.Sprintf("Fact-check the following. User request: %s\n\nContext:\n%s", userText, fcContext),
			Persona:          persona,
			ContextWindow:    window,
			UseKnowledgeBase: true,
			AdvancedRAG:      true,
		})
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				s.sendError("backend_rag", err, gen)
			}
			return ""
		}
		if s.isStale(gen) {
			return ""
		}
		answer = strings.TrimSpace(answer)
		clean := voice.StripMarkdown(answer)
		s.sendAssistantText(gen, clean)
		s.speakPhrase(ctx, gen, answer)
		reply := clean
		if reply == "" {
			reply = answer
		}
		s.recordExchange(userText, reply)
		s.rememberText(reply, "assistant")
		return reply
	}

	messages := s.turnMessages(fcPrompt, userText)
	reply, err := s.complete(ctx, messages)
	if err != nil {
		if ctx.Err() == nil {
			s.sendError("llm", err, gen)
		}
		return ""
	}
	clean := voice.StripMarkdown(reply)
	if clean != "" {
		s.sendAssistantText(gen, clean)
	}
	s.speakPhrase(ctx, gen, reply)
	recorded := clean
	if recorded == "" {
		recorded = reply
	}
	s.recordExchange(userText, recorded)
	s.rememberText(recorded, "assistant")
	return recorded
}

// runMemoryQuery resolves recap, summary, timestamp and topic queries
// against the rolling memory.
func (s *LiveSession) runMemoryQuery(ctx context.Context, gen int64, userText string, q command.MemoryQuery) string {
	minutes := q.Minutes
	if minutes <= 0 {
		minutes = 5.0
	}

	switch q.Kind {
	case command.QueryRecap:
		recap := s.memory.SummarizeLast(minutes)
		var reply string
		if recap != "" {
			s.sendIfCurrent(gen, protocol.ServerMemoryInfo{
				Type:         protocol.TypeMemoryInfo,
				GenerationID: gen,
				Summary:      recap,
				Minutes:      minutes,
			})
			if utf8.RuneCountInString(recap) < 1500 {
				reply = fmt.Sprintf("In the last %d minutes, here's what was said:\n\n%s", int(minutes), recap)
			} else {
				reply = truncateRunes(recap, 1500) + "..."
			}
		} else {
			reply = fmt.Sprintf("I don't have anything in the last %d minutes.", int(minutes))
		}
		s.sendAssistantText(gen, reply)
		s.speakPhrase(ctx, gen, truncateRunes(reply, 500))
		return reply

	case command.QuerySummarize:
		text := s.memory.SummarizeLast(minutes)
		if text == "" {
			s.speakPhrase(ctx, gen, fmt.Sprintf("No conversation in the last %d minutes to summarize.", int(minutes)))
			return ""
		}
		messages := s.turnMessages(
			"You are a concise summarizer. Output only the summary, no preamble.\n\nConversation:\n"+truncateRunes(text, 3000),
			fmt.Sprintf("Summarize this conversation from the last %d minutes in 2-4 sentences.", int(minutes)),
		)
		reply, err := s.complete(ctx, messages)
		if err != nil {
			if ctx.Err() == nil {
				s.sendError("llm", err, gen)
			}
			s.speakPhrase(ctx, gen, "I couldn't generate a summary.")
			return ""
		}
		clean := voice.StripMarkdown(reply)
		s.sendAssistantText(gen, clean)
		s.speakPhrase(ctx, gen, clean)
		return clean

	case command.QueryTimestamps:
		entries := s.memory.QueryLast(minutes)
		lines := make([]string, 0, len(entries))
		for _, e := range entries {
			line := fmt.Sprintf("[%s] %s: %s",
				e.Start.Format("15:04"), speakerOrUser(e.Speaker), clipText(e.Text, 80))
			if len(e.Tags) > 0 {
				line += fmt.Sprintf(" tags=%v", e.Tags)
			}
			lines = append(lines, line)
		}
		reply := "No entries in that window."
		if len(lines) > 0 {
			reply = strings.Join(lines, "\n")
		}
		s.sendIfCurrent(gen, protocol.ServerMemoryInfo{
			Type:         protocol.TypeMemoryInfo,
			GenerationID: gen,
			Entries:      wireEntries(entries),
		})
		s.sendAssistantText(gen, reply)
		s.speakPhrase(ctx, gen, truncateRunes(reply, 400))
		return reply

	default:
		// QueryWhen and anything unrecognized: topic search plus the
		// model pinning approximate times from the transcript.
		topic := strings.TrimSpace(q.Topic)
		if topic == "" {
			topic = userText
		}
		entries := s.memory.QueryTopic(topic)
		if len(entries) == 0 {
			s.speakPhrase(ctx, gen, "I don't have any mentions of that in recent conversation.")
			return ""
		}
		summary := s.memory.SummarizeLast(30)
		messages := s.turnMessages(
			"Use only this transcript. List approximate times and who said what.\n\n"+truncateRunes(summary, 2500),
			"When did we talk about this? User asked: "+userText,
		)
		reply, err := s.complete(ctx, messages)
		if err != nil {
			if ctx.Err() == nil {
				s.sendError("llm", err, gen)
			}
			s.speakPhrase(ctx, gen, "I couldn't find that.")
			return ""
		}
		clean := voice.StripMarkdown(reply)
		s.sendAssistantText(gen, clean)
		s.speakPhrase(ctx, gen, clean)
		return clean
	}
}

// runRAGTurn answers a plain question through the retrieval backend.
func (s *LiveSession) runRAGTurn(ctx context.Context, gen int64, userText string) string {
	persona, window := s.ragOptions()
	rctx, cancel := context.WithTimeout(ctx, ragTimeout)
	answer, err := s.rag.AskVoice(rctx, rag.Question{
		Message:          userText,
		Persona:          persona,
		ContextWindow:    window,
		UseKnowledgeBase: true,
		AdvancedRAG:      true,
	})
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			s.sendError("backend_rag", err, gen)
		}
		return ""
	}
	if s.isStale(gen) {
		return ""
	}
	answer = strings.TrimSpace(answer)
	clean := voice.StripMarkdown(answer)
	if clean != "" {
		s.sendAssistantText(gen, clean)
	}
	s.speakPhrase(ctx, gen, answer)
	reply := clean
	if reply == "" {
		reply = answer
	}
	s.recordExchange(userText, reply)
	s.rememberText(reply, "assistant")
	return reply
}

// streamReply streams the model answer, committing phrases to TTS as
// boundaries appear and mirroring accumulated text to the client.
func (s *LiveSession) streamReply(ctx context.Context, gen int64, userText, compiledContext string) string {
	systemPrompt := s.conversationSystemPrompt(compiledContext)
	messages := s.turnMessages(systemPrompt, userText)

	streamCtx, cancelStream := context.WithTimeout(ctx, llmStreamTimeout)
	defer cancelStream()

	stream, err := s.llm.Stream(streamCtx, messages)
	if err != nil {
		return s.fallbackComplete(ctx, gen, userText, messages, err)
	}
	defer stream.Close()

	// The producer bridges the blocking iterator onto a channel so the
	// turn loop can also service pause-flush ticks and cancellation.
	tokCh := make(chan string, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(tokCh)
		for {
			tok, err := stream.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					errCh <- err
				}
				return
			}
			select {
			case tokCh <- tok:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	seg := newPhraseSegmenter(s.cfg.PhraseMinChars, s.cfg.PhraseMaxChars, s.cfg.PhraseCommitPause)
	tick := s.phraseTick
	if tick == nil {
		ticker := time.NewTicker(s.cfg.PhraseCommitPause / 3)
		defer ticker.Stop()
		tick = ticker.C
	}

	var full strings.Builder
	for {
		select {
		case <-ctx.Done():
			return ""
		case <-tick:
			if phrase, ok := seg.pauseFlush(s.now()); ok {
				s.commitPhrase(ctx, gen, phrase)
			}
		case tok, ok := <-tokCh:
			if !ok {
				select {
				case err := <-errCh:
					return s.fallbackComplete(ctx, gen, userText, messages, err)
				default:
				}
				if s.isStale(gen) {
					return ""
				}
				if phrase, ok := seg.flush(); ok {
					s.commitPhrase(ctx, gen, phrase)
				}
				final := voice.StripMarkdown(strings.TrimSpace(full.String()))
				if final != "" {
					s.sendAssistantText(gen, final)
				}
				s.recordExchange(userText, final)
				s.rememberText(final, "assistant")
				return final
			}
			if tok == "" {
				continue
			}
			full.WriteString(tok)
			s.sendIfCurrent(gen, protocol.ServerText{
				Type:         protocol.TypeAssistantTextPartial,
				GenerationID: gen,
				Text:         voice.StripMarkdown(full.String()),
			})
			if phrase, ok := seg.push(tok, s.now()); ok {
				s.commitPhrase(ctx, gen, phrase)
			}
		}
	}
}

// fallbackComplete is the one-shot retry after a streaming failure.
func (s *LiveSession) fallbackComplete(ctx context.Context, gen int64, userText string, messages []types.Message, streamErr error) string {
	if ctx.Err() != nil {
		return ""
	}
	s.sendError("llm_stream", streamErr, gen)

	reply, err := s.complete(ctx, messages)
	if err != nil {
		if ctx.Err() == nil {
			s.sendError("llm", err, gen)
		}
		return ""
	}
	if s.isStale(gen) {
		return ""
	}
	clean := voice.StripMarkdown(reply)
	if clean != "" {
		s.sendAssistantText(gen, clean)
	}
	s.speakPhrase(ctx, gen, reply)
	recorded := clean
	if recorded == "" {
		recorded = reply
	}
	s.recordExchange(userText, recorded)
	s.rememberText(recorded, "assistant")
	return recorded
}

// commitPhrase announces a committed phrase and speaks it, either by
// injecting text into the duplex core or through local TTS.
func (s *LiveSession) commitPhrase(ctx context.Context, gen int64, phrase string) {
	text := strings.TrimSpace(phrase)
	if text == "" {
		return
	}
	if !s.sendIfCurrent(gen, protocol.ServerText{Type: protocol.TypeAssistantPhrase, GenerationID: gen, Text: text}) {
		return
	}
	if s.cfg.DuplexTextInject && s.duplexOK.Load() {
		err := s.duplex.InjectText(text, gen)
		if err == nil {
			return
		}
		s.logger.Debug("duplex inject failed, speaking locally", "err", err)
	}
	s.speakPhrase(ctx, gen, text)
}

// speakPhrase synthesizes one phrase and streams its audio. Playback
// occupies the turn goroutine, which is what keeps phrases in order.
func (s *LiveSession) speakPhrase(ctx context.Context, gen int64, phrase string) {
	if s.isStale(gen) {
		return
	}
	text := voice.StripMarkdown(phrase)
	if text == "" {
		return
	}
	rate := 1.0
	if s.cfg.EmotionMode {
		rate = voice.EmotionRate(text)
	}

	s.setState(StateSpeaking)
	defer s.swapState(StateSpeaking, StateThinking)

	samples, sampleRate, err := s.synthesizer().Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			s.sendError("tts", err, gen)
		}
		return
	}
	if s.isStale(gen) {
		return
	}
	s.streamTurnAudio(gen, samples, sampleRate, rate)
}

// playIntro speaks the configured greeting through the normal fenced
// playback path. The closing BACK_TO_LISTENING always goes out so the
// client lands in a known state even when the intro is barged over.
func (s *LiveSession) playIntro(gen int64, text string) {
	text = voice.StripMarkdown(text)
	if text == "" {
		return
	}
	defer func() {
		s.swapState(StateSpeaking, StateIdle)
		s.sendEvent(protocol.EventBackToListening)
	}()

	if !s.sendEventFor(gen, protocol.EventSpeaking) {
		return
	}
	s.setState(StateSpeaking)

	samples, sampleRate, err := s.synthesizer().Synthesize(s.ctx, text)
	if err != nil {
		if s.ctx.Err() == nil {
			s.sendError("tts_intro", err, gen)
		}
		return
	}
	s.streamTurnAudio(gen, samples, sampleRate, 1.0)
}

func (s *LiveSession) streamTurnAudio(gen int64, samples []float32, sampleRate int, rate float64) bool {
	return streamPlayback(samples, sampleRate, rate, gen,
		func() bool { return !s.isStale(gen) },
		s.enqueueAudio)
}

func (s *LiveSession) complete(ctx context.Context, messages []types.Message) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, llmCompleteTimeout)
	defer cancel()
	return s.llm.Complete(cctx, messages)
}

func (s *LiveSession) knowledgeBaseEnabled() bool {
	if s.rag == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.useKB
}

func (s *LiveSession) ragOptions() (persona, contextWindow string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	persona = s.persona
	contextWindow = s.contextWindow
	if contextWindow == "" {
		contextWindow = "all"
	}
	return persona, contextWindow
}

func (s *LiveSession) sendEventFor(gen int64, event string) bool {
	return s.sendIfCurrent(gen, protocol.ServerEvent{
		Type:         protocol.TypeEvent,
		Event:        event,
		GenerationID: gen,
	})
}

func (s *LiveSession) sendASRFinal(gen, turnID int64, text string) {
	s.appendTranscript("user", text)
	s.sendIfCurrent(gen, protocol.ServerASRFinal{
		Type:         protocol.TypeASRFinal,
		TurnID:       turnID,
		GenerationID: gen,
		Text:         text,
	})
}

func (s *LiveSession) sendAssistantText(gen int64, text string) {
	s.sendIfCurrent(gen, protocol.ServerText{
		Type:         protocol.TypeAssistantText,
		GenerationID: gen,
		Text:         text,
	})
}

// finishTurn closes out a turn: the BACK_TO_LISTENING event, the state
// reset, and best-effort persistence. The event and reset are skipped
// when a barge-in already superseded this generation.
func (s *LiveSession) finishTurn(gen, turnID int64, route, userText, assistantText string, startedAt time.Time) {
	if assistantText != "" {
		s.appendTranscript("assistant", assistantText)
	}
	if s.sendEventFor(gen, protocol.EventBackToListening) {
		s.swapState(StateThinking, StateIdle)
		s.swapState(StateSpeaking, StateIdle)
	}
	s.storeTurn(TurnRecord{
		SessionID:     s.sessionID,
		TurnID:        turnID,
		GenerationID:  gen,
		Route:         route,
		UserText:      userText,
		AssistantText: assistantText,
		SessionMS:     s.sessionTimeMS(),
		StartedAt:     startedAt,
		FinishedAt:    s.now(),
	})
}

// storeTurn persists a record without letting storage latency or
// session teardown block the turn path.
func (s *LiveSession) storeTurn(rec TurnRecord) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	id, err := s.store.SaveTurn(ctx, rec)
	if err != nil {
		s.logger.Warn("store turn", "err", err, "turn_id", rec.TurnID)
		return
	}
	s.enqueueJSON(protocol.ServerStored{Type: protocol.TypeStored, Kind: "turn", ID: id})
}

func wireEntries(entries []memory.Entry) []protocol.MemoryEntry {
	out := make([]protocol.MemoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.MemoryEntry{
			TSStart: float64(e.Start.UnixNano()) / float64(time.Second),
			TSEnd:   float64(e.End.UnixNano()) / float64(time.Second),
			Text:    e.Text,
			Tags:    e.Tags,
			Speaker: e.Speaker,
		})
	}
	return out
}

func speakerOrUser(speaker string) string {
	if strings.TrimSpace(speaker) == "" {
		return "user"
	}
	return speaker
}

// truncateRunes clips s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// clipText truncates to n runes with a trailing ellipsis when clipped.
func clipText(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return truncateRunes(s, n) + "..."
}
