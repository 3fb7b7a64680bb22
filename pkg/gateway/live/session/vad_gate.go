package session

import (
	"time"

	"github.com/echomind-ai/voiced/pkg/core/voice"
)

type gateEvent int

const (
	gateNone gateEvent = iota
	// gateSpeechStart fires once the lead requirement is met; the
	// caller resets the utterance buffer and barges in before pushing
	// the opening frame.
	gateSpeechStart
	// gateEndpoint closes an utterance that met the minimum speech
	// duration; the caller spawns a finalize task.
	gateEndpoint
	// gateDiscard closes an utterance that was too short to bother
	// transcribing.
	gateDiscard
)

type gateConfig struct {
	frameMS         int
	energyFloor     float64
	endpointSilence time.Duration
	minSpeech       time.Duration
	endTail         time.Duration
	leadIdle        int
	leadActive      int
}

// vadGate turns per-frame speech decisions into utterance boundaries.
// Very quiet frames are forced to silence regardless of the
// classifier, which keeps breathing and room tone from opening the
// gate. Opening requires a run of consecutive speech frames; the run
// is longer while the assistant is emitting output so playback bleed
// does not trigger a false barge-in.
type vadGate struct {
	classifier voice.Classifier

	energyFloor           float64
	endpointSilenceFrames int
	minSpeechFrames       int
	tailFrames            int
	leadIdle              int
	leadActive            int

	inSpeech     bool
	speechLead   int
	speechCount  int
	silenceCount int
}

func newVADGate(classifier voice.Classifier, cfg gateConfig) *vadGate {
	frameMS := cfg.frameMS
	if frameMS <= 0 {
		frameMS = 20
	}
	framesFor := func(d time.Duration, min int) int {
		n := int(d.Milliseconds()) / frameMS
		if n < min {
			return min
		}
		return n
	}
	leadIdle := cfg.leadIdle
	if leadIdle < 1 {
		leadIdle = 1
	}
	leadActive := cfg.leadActive
	if leadActive < 1 {
		leadActive = 1
	}
	return &vadGate{
		classifier:            classifier,
		energyFloor:           cfg.energyFloor,
		endpointSilenceFrames: framesFor(cfg.endpointSilence, 1),
		minSpeechFrames:       framesFor(cfg.minSpeech, 1),
		tailFrames:            framesFor(cfg.endTail, 0),
		leadIdle:              leadIdle,
		leadActive:            leadActive,
	}
}

// feed consumes one frame. keep reports whether the caller should push
// the frame into the utterance buffer (after handling gateSpeechStart).
func (g *vadGate) feed(pcm16 []byte, assistantActive bool) (ev gateEvent, keep bool) {
	isSpeech := false
	if voice.RMSEnergy(pcm16) >= g.energyFloor && g.classifier != nil {
		isSpeech = g.classifier.IsSpeech(pcm16)
	}

	if isSpeech {
		g.silenceCount = 0
		g.speechCount++
		g.speechLead++

		need := g.leadIdle
		if assistantActive {
			need = g.leadActive
		}
		if !g.inSpeech && g.speechLead >= need {
			g.inSpeech = true
			return gateSpeechStart, true
		}
		return gateNone, g.inSpeech
	}

	g.speechLead = 0
	if !g.inSpeech {
		return gateNone, false
	}

	g.silenceCount++
	keep = g.tailFrames > 0

	if g.silenceCount >= g.endpointSilenceFrames {
		g.inSpeech = false
		tooShort := g.speechCount < g.minSpeechFrames
		g.speechCount = 0
		g.silenceCount = 0
		if tooShort {
			return gateDiscard, keep
		}
		return gateEndpoint, keep
	}
	return gateNone, keep
}

func (g *vadGate) active() bool { return g.inSpeech }

// reset drops all gate state, used on stop and on full pipeline
// resets where the current utterance is abandoned.
func (g *vadGate) reset() {
	g.inSpeech = false
	g.speechLead = 0
	g.speechCount = 0
	g.silenceCount = 0
}
