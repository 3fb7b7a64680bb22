package command

import "strings"

// DefaultTriggerPhrases wake the assistant out of listen-only mode even
// without the configured wake word.
func DefaultTriggerPhrases() []string {
	return []string{
		"now you can speak", "now you can process", "fact check", "fact check it",
		"process that", "speak now", "you can speak",
	}
}

// StripWakeWord removes a leading wake word plus any separating punctuation,
// case-insensitively. Utterances that do not start with the wake word are
// returned trimmed but otherwise untouched.
func StripWakeWord(utterance, wakeWord string) string {
	u := strings.TrimSpace(utterance)
	w := strings.ToLower(strings.TrimSpace(wakeWord))
	if w == "" {
		return u
	}
	if strings.HasPrefix(strings.ToLower(u), w) {
		rest := strings.TrimLeft(u[len(w):], " ,;:")
		return strings.TrimSpace(rest)
	}
	return u
}

// WakeTriggered reports whether the utterance starts with the wake word.
func WakeTriggered(utterance, wakeWord string) bool {
	w := strings.ToLower(strings.TrimSpace(wakeWord))
	if w == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(utterance)), w)
}

// MatchesTrigger reports whether any trigger phrase occurs in the utterance.
func MatchesTrigger(utterance string, phrases []string) bool {
	u := normalize(utterance)
	for _, p := range phrases {
		if p != "" && strings.Contains(u, p) {
			return true
		}
	}
	return false
}
