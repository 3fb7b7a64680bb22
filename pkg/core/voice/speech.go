package voice

import (
	"regexp"
	"strings"
)

var (
	positiveWords = []string{"great", "awesome", "perfect", "nice", "congrats", "yay", "happy"}
	negativeWords = []string{"sorry", "unfortunately", "sad", "issue", "problem", "can't", "cannot"}
	urgentWords   = []string{"warning", "important", "careful", "critical"}
)

// EmotionRate maps phrase wording to a playback-rate multiplier: slightly
// faster for upbeat phrases, slower for apologetic ones, a touch faster for
// warnings. Neutral text plays at 1.0.
func EmotionRate(text string) float64 {
	t := strings.ToLower(text)
	for _, w := range positiveWords {
		if strings.Contains(t, w) {
			return 1.06
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(t, w) {
			return 0.96
		}
	}
	for _, w := range urgentWords {
		if strings.Contains(t, w) {
			return 1.02
		}
	}
	return 1.00
}

var (
	mdLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#+\s*`)
	mdWhitespace = regexp.MustCompile(`\s+`)
)

// StripMarkdown removes markdown decoration so TTS speaks plain English:
// link targets, emphasis markers, backticks, and heading hashes all go,
// and whitespace collapses to single spaces.
func StripMarkdown(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return s
	}
	s = mdLink.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.ReplaceAll(s, "*", "")
	// Single underscores often glue words together when dropped outright.
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "`", "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
