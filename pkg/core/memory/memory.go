// Package memory implements the rolling conversation buffer behind recap,
// summarize, and topic-recall queries. Entries older than the configured
// window are evicted lazily on every mutation and query, so no caller can
// ever observe an expired entry.
package memory

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultWindow is the rolling retention window for entries.
const DefaultWindow = 30 * time.Minute

// Entry is a single finalized utterance held in memory.
type Entry struct {
	Start   time.Time
	End     time.Time
	Text    string
	Tags    []string
	Speaker string
}

var (
	tagFactCheck = regexp.MustCompile(`\b(fact|check|verify|true|false|claim)\b`)
	tagSummary   = regexp.MustCompile(`\b(summarize|summary|recap)\b`)
	tagTemporal  = regexp.MustCompile(`\b(when|time|minute|hour|last)\b`)
	tagRecall    = regexp.MustCompile(`\b(what did i say|what did we discuss)\b`)
)

// heuristicTags annotates an utterance with lightweight keyword tags. The
// tags are informational only; retrieval never ranks by them.
func heuristicTags(text string) []string {
	t := strings.ToLower(text)
	var tags []string
	if tagFactCheck.MatchString(t) {
		tags = append(tags, "fact_check")
	}
	if tagSummary.MatchString(t) {
		tags = append(tags, "summary")
	}
	if tagTemporal.MatchString(t) {
		tags = append(tags, "temporal")
	}
	if tagRecall.MatchString(t) {
		tags = append(tags, "recall")
	}
	return tags
}

// Memory is a rolling, time-windowed transcript buffer. All methods are
// safe for concurrent use by the session's goroutines.
type Memory struct {
	mu      sync.Mutex
	window  time.Duration
	entries []Entry
	logger  *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// New returns a Memory keeping the last window of entries. Windows shorter
// than six seconds are clamped so eviction cannot race a live turn.
func New(window time.Duration) *Memory {
	if window < 6*time.Second {
		window = 6 * time.Second
	}
	return &Memory{
		window: window,
		now:    time.Now,
	}
}

// SetLogger enables debug logging of mutations and queries.
func (m *Memory) SetLogger(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// evictOld drops entries whose End is outside the window. Callers must
// hold m.mu.
func (m *Memory) evictOld(now time.Time) {
	cutoff := now.Add(-m.window)
	before := len(m.entries)
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.End.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	if m.logger != nil && before != len(m.entries) {
		m.logger.Debug("memory evicted entries", "evicted", before-len(m.entries), "kept", len(m.entries))
	}
}

// AddText appends one utterance. Start and End are both the current time;
// tags default to the keyword heuristics when none are supplied.
func (m *Memory) AddText(text, speaker string, tags ...string) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, errors.New("memory: add requires non-empty text")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entryTags := tags
	if len(entryTags) == 0 {
		entryTags = heuristicTags(text)
	}
	entry := Entry{
		Start:   now,
		End:     now,
		Text:    text,
		Tags:    entryTags,
		Speaker: speaker,
	}
	m.evictOld(now)
	m.entries = append(m.entries, entry)
	if m.logger != nil {
		m.logger.Debug("memory add", "speaker", speaker, "chars", len(text), "tags", entryTags)
	}
	return entry, nil
}

// QueryLast returns entries whose End falls within the last minutes.
func (m *Memory) QueryLast(minutes float64) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evictOld(now)
	cutoff := now.Add(-time.Duration(minutes * float64(time.Minute)))
	var out []Entry
	for _, e := range m.entries {
		if !e.End.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// QueryTopic returns entries whose text contains any word from q,
// case-insensitively. An empty query returns nothing.
func (m *Memory) QueryTopic(q string) []Entry {
	if strings.TrimSpace(q) == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictOld(m.now())

	words := topicWords(q)
	if len(words) == 0 {
		out := make([]Entry, len(m.entries))
		copy(out, m.entries)
		return out
	}

	var out []Entry
	for _, e := range m.entries {
		lower := strings.ToLower(e.Text)
		for _, w := range words {
			if strings.Contains(lower, w) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

var wordPattern = regexp.MustCompile(`\w+`)

func topicWords(q string) []string {
	return wordPattern.FindAllString(strings.ToLower(q), -1)
}

// SummarizeLast renders the last minutes of conversation as
// "[HH:MM] Speaker: text" lines, oldest first.
func (m *Memory) SummarizeLast(minutes float64) string {
	entries := m.QueryLast(minutes)
	if len(entries) == 0 {
		return ""
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, formatEntry(e))
	}
	return strings.Join(parts, "\n")
}

func formatEntry(e Entry) string {
	who := e.Speaker
	if who == "" {
		who = "User"
	}
	who = strings.ToUpper(who[:1]) + who[1:]
	return "[" + e.Start.Format("15:04") + "] " + who + ": " + e.Text
}

// ContextBlock is SummarizeLast with a character cap for prompt assembly;
// when over the cap the oldest lines are dropped.
func (m *Memory) ContextBlock(minutes float64, maxChars int) string {
	s := m.SummarizeLast(minutes)
	if len(s) <= maxChars {
		return s
	}
	return strings.TrimSpace(s[len(s)-maxChars:])
}

// Clear drops every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// Len reports the number of retained entries after eviction.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictOld(m.now())
	return len(m.entries)
}
