package session

import (
	"strings"
	"time"
	"unicode/utf8"
)

// phraseSegmenter accumulates streamed LLM tokens and decides when the
// pending text is worth handing to TTS. Commits always take the whole
// buffer; a phrase is never split once the rules fire. Rules, checked
// after every token and on pause ticks:
//
//	len >= maxChars                     commit regardless of shape
//	len >= minChars, ends . ! ?         sentence commit
//	len >= minChars, pause >= commit    stall commit (tick driven)
//
// Lengths are rune counts of the trimmed buffer.
type phraseSegmenter struct {
	minChars int
	maxChars int
	pause    time.Duration

	buf       strings.Builder
	lastToken time.Time
}

func newPhraseSegmenter(minChars, maxChars int, pause time.Duration) *phraseSegmenter {
	if minChars <= 0 {
		minChars = 28
	}
	if maxChars < minChars {
		maxChars = minChars
	}
	return &phraseSegmenter{minChars: minChars, maxChars: maxChars, pause: pause}
}

// push appends one token and returns a committed phrase when the rules
// fire. At most one phrase is returned per call.
func (p *phraseSegmenter) push(tok string, now time.Time) (string, bool) {
	p.lastToken = now
	if tok != "" {
		p.buf.WriteString(tok)
	}
	if p.commitNeeded(now) {
		return p.take()
	}
	return "", false
}

// pauseFlush commits the pending buffer when the stream has stalled.
// Called from the turn loop's ticker arm between tokens.
func (p *phraseSegmenter) pauseFlush(now time.Time) (string, bool) {
	if p.pause <= 0 || p.lastToken.IsZero() {
		return "", false
	}
	if now.Sub(p.lastToken) < p.pause {
		return "", false
	}
	s := strings.TrimSpace(p.buf.String())
	if utf8.RuneCountInString(s) < p.minChars {
		return "", false
	}
	return p.take()
}

// flush returns whatever remains, used when the token stream ends.
func (p *phraseSegmenter) flush() (string, bool) {
	return p.take()
}

func (p *phraseSegmenter) reset() {
	p.buf.Reset()
	p.lastToken = time.Time{}
}

func (p *phraseSegmenter) commitNeeded(now time.Time) bool {
	s := strings.TrimSpace(p.buf.String())
	n := utf8.RuneCountInString(s)
	if n >= p.maxChars {
		return true
	}
	if n < p.minChars {
		return false
	}
	if endsSentence(s) {
		return true
	}
	return p.pause > 0 && now.Sub(p.lastToken) >= p.pause
}

func (p *phraseSegmenter) take() (string, bool) {
	s := strings.TrimSpace(p.buf.String())
	p.buf.Reset()
	return s, s != ""
}

// endsSentence reports whether trimmed text stops at sentence-final
// punctuation.
func endsSentence(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r == '.' || r == '!' || r == '?'
}
