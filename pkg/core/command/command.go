// Package command implements the deterministic intent router for voice
// utterances. Profile changes, listen-mode toggles, and memory queries are
// answered without a model call; everything else falls through to the LLM
// path. Classification is pluggable so the keyword matcher can be swapped
// for a model-based classifier without touching the session state machine.
package command

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent identifies what an utterance is asking the session to do.
type Intent string

const (
	IntentNone          Intent = ""
	IntentAssistantName Intent = "set_assistant_name"
	IntentUserName      Intent = "set_user_name"
	IntentTimezone      Intent = "set_timezone"
	IntentLocation      Intent = "set_location"
	IntentListenStart   Intent = "listen_start"
	IntentListenStop    Intent = "listen_stop"
	IntentListenResume  Intent = "listen_resume"
	IntentClearMemory   Intent = "clear_memory"
	IntentRecap         Intent = "recap"
	IntentSummarize     Intent = "summarize"
	IntentWhenMentioned Intent = "when_mentioned"
	IntentTimestamps    Intent = "timestamps_tags"
	IntentFactCheck     Intent = "fact_check"
)

// Classification is the typed result of matching one utterance.
type Classification struct {
	Intent Intent

	// Value holds the extracted argument for profile intents (a name,
	// timezone, or location).
	Value string

	// Minutes is the extracted lookback for recap and summarize intents.
	Minutes float64

	// Topic is the normalized utterance for topic-recall intents.
	Topic string
}

// Classifier maps an utterance to an intent. Implementations must be
// deterministic and side-effect free.
type Classifier interface {
	Classify(utterance string) Classification
}

// KeywordClassifier is the default matcher: ordered prefix and substring
// patterns, earliest match wins. The order is load-bearing, e.g.
// "i'm in timezone" must be tried before the plain "i'm in" location prefix.
type KeywordClassifier struct{}

var (
	tzPattern      = regexp.MustCompile(`(?:timezone|time zone)\s+(?:is|to)?\s*([\w/\s+-]+?)(?:\s*\.|$)`)
	tzToPattern    = regexp.MustCompile(`(?:set\s+)?timezone\s+to\s+([\w/\s+-]+)`)
	minutesLast    = regexp.MustCompile(`(?:last|past)\s+(\d+)\s*(?:minute|min)s?\b`)
	minutesBack    = regexp.MustCompile(`(\d+)\s*(?:minute|min)s?\s*(?:ago|back)`)
	assistantNames = []string{"your name is ", "call yourself ", "change wake word to ", "wake word is ", "you're called "}
	userNames      = []string{"my name is ", "call me "}
	tzPhrases      = []string{"set timezone to ", "timezone is ", "my timezone is ", "i'm in timezone "}
	locations      = []string{"i'm in ", "i am in ", "location is ", "i'm at ", "set location to "}
	listenStarts   = []string{"listen to conversation", "start listening", "just listen", "keep listening"}
	listenStops    = []string{"stop listening", "pause listening", "pause", "don't listen", "stop"}
	listenResumes  = []string{"resume listening", "resume", "start listening again"}
	clearPhrases   = []string{"clear memory", "clear conversation", "forget everything", "reset memory"}
	recapPhrases   = []string{"what did i say", "what did we say", "what was said", "recap", "last minutes"}
	sumPhrases     = []string{"summarize", "summary", "summarise"}
	whenPhrases    = []string{"when did we", "when did i", "when did you", "when was"}
	stampPhrases   = []string{"timestamps and tags", "give timestamps", "list with timestamps", "who said what"}
	factPhrases    = []string{"fact check", "verify that", "verify it"}
)

func (KeywordClassifier) Classify(utterance string) Classification {
	u := normalize(utterance)

	if name := extractAfter(u, assistantNames); name != "" && len(name) < 80 {
		return Classification{Intent: IntentAssistantName, Value: name}
	}
	if name := extractAfter(u, userNames); name != "" && len(name) < 80 {
		return Classification{Intent: IntentUserName, Value: name}
	}
	if matchAny(u, tzPhrases) {
		m := tzPattern.FindStringSubmatch(u)
		if m == nil {
			m = tzToPattern.FindStringSubmatch(u)
		}
		if m != nil {
			tz := strings.TrimSpace(m[1])
			if tz != "" && len(tz) < 60 {
				return Classification{Intent: IntentTimezone, Value: tz}
			}
		}
	}
	if loc := extractAfter(u, locations); loc != "" && len(loc) < 120 {
		return Classification{Intent: IntentLocation, Value: loc}
	}
	if matchAny(u, listenStarts) {
		return Classification{Intent: IntentListenStart}
	}
	if matchAny(u, listenStops) {
		// A bare "stop" is ambiguous with playback control; require an
		// explicit listening reference.
		if strings.Contains(u, "listening") || strings.Contains(u, "pause") || strings.Contains(u, "don't listen") {
			return Classification{Intent: IntentListenStop}
		}
	}
	if matchAny(u, listenResumes) {
		return Classification{Intent: IntentListenResume}
	}
	if matchAny(u, clearPhrases) {
		return Classification{Intent: IntentClearMemory}
	}

	mins, hasMins := extractMinutes(u)
	if hasMins && matchAny(u, recapPhrases) {
		return Classification{Intent: IntentRecap, Minutes: mins}
	}
	if hasMins && matchAny(u, sumPhrases) {
		return Classification{Intent: IntentSummarize, Minutes: mins}
	}
	if matchAny(u, whenPhrases) {
		return Classification{Intent: IntentWhenMentioned, Topic: u}
	}
	if matchAny(u, stampPhrases) {
		return Classification{Intent: IntentTimestamps}
	}
	if matchAny(u, factPhrases) {
		return Classification{Intent: IntentFactCheck}
	}
	return Classification{}
}

func normalize(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// extractAfter returns the remainder when the normalized utterance starts
// with one of the prefixes.
func extractAfter(u string, prefixes []string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(u, p) {
			if rest := strings.TrimSpace(u[len(p):]); rest != "" {
				return rest
			}
		}
	}
	return ""
}

func matchAny(u string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(u, p) {
			return true
		}
	}
	return false
}

// extractMinutes parses lookbacks like "last 5 minutes" or "10 min ago".
func extractMinutes(u string) (float64, bool) {
	m := minutesLast.FindStringSubmatch(u)
	if m == nil {
		m = minutesBack.FindStringSubmatch(u)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return float64(n), true
}
