package memory

import (
	"strings"
	"testing"
	"time"
)

func newTestMemory(window time.Duration) (*Memory, *time.Time) {
	m := New(window)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestAddTextRejectsEmpty(t *testing.T) {
	m, _ := newTestMemory(DefaultWindow)
	if _, err := m.AddText("   ", "user"); err == nil {
		t.Fatalf("AddText(blank) err=nil, want error")
	}
	if got := m.Len(); got != 0 {
		t.Fatalf("Len=%d, want 0", got)
	}
}

func TestAddTextHeuristicTags(t *testing.T) {
	m, _ := newTestMemory(DefaultWindow)

	e, err := m.AddText("can you fact check that claim", "user")
	if err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if !hasTag(e.Tags, "fact_check") {
		t.Fatalf("tags=%v, want fact_check", e.Tags)
	}

	e, err = m.AddText("what did I say in the last hour", "user")
	if err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if !hasTag(e.Tags, "recall") || !hasTag(e.Tags, "temporal") {
		t.Fatalf("tags=%v, want recall and temporal", e.Tags)
	}

	e, err = m.AddText("hello there", "user", "custom")
	if err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if len(e.Tags) != 1 || e.Tags[0] != "custom" {
		t.Fatalf("tags=%v, want [custom]", e.Tags)
	}
}

func TestQueryLastWindowing(t *testing.T) {
	m, now := newTestMemory(DefaultWindow)

	if _, err := m.AddText("first", "user"); err != nil {
		t.Fatalf("AddText: %v", err)
	}
	*now = now.Add(10 * time.Minute)
	if _, err := m.AddText("second", "assistant"); err != nil {
		t.Fatalf("AddText: %v", err)
	}

	got := m.QueryLast(5)
	if len(got) != 1 || got[0].Text != "second" {
		t.Fatalf("QueryLast(5)=%v, want only second", texts(got))
	}

	got = m.QueryLast(15)
	if len(got) != 2 {
		t.Fatalf("QueryLast(15) len=%d, want 2", len(got))
	}
}

func TestEvictionNeverReturnsExpired(t *testing.T) {
	m, now := newTestMemory(10 * time.Minute)

	if _, err := m.AddText("old news", "user"); err != nil {
		t.Fatalf("AddText: %v", err)
	}
	*now = now.Add(11 * time.Minute)

	if got := m.QueryLast(60); len(got) != 0 {
		t.Fatalf("QueryLast after window=%v, want empty", texts(got))
	}
	if got := m.Len(); got != 0 {
		t.Fatalf("Len=%d, want 0 after eviction", got)
	}
}

func TestQueryTopic(t *testing.T) {
	m, now := newTestMemory(DefaultWindow)

	mustAdd(t, m, "the budget meeting moved to Friday", "user")
	*now = now.Add(time.Minute)
	mustAdd(t, m, "lunch was great", "assistant")
	*now = now.Add(time.Minute)
	mustAdd(t, m, "we are over budget again", "user")

	got := m.QueryTopic("Budget?")
	if len(got) != 2 {
		t.Fatalf("QueryTopic(budget) len=%d (%v), want 2", len(got), texts(got))
	}

	if got := m.QueryTopic("   "); got != nil {
		t.Fatalf("QueryTopic(blank)=%v, want nil", texts(got))
	}
}

func TestSummarizeLastFormat(t *testing.T) {
	m, now := newTestMemory(DefaultWindow)

	mustAdd(t, m, "hello", "user")
	*now = now.Add(2 * time.Minute)
	mustAdd(t, m, "hi there", "assistant")

	s := m.SummarizeLast(30)
	lines := strings.Split(s, "\n")
	if len(lines) != 2 {
		t.Fatalf("summary lines=%d, want 2:\n%s", len(lines), s)
	}
	if lines[0] != "[10:00] User: hello" {
		t.Fatalf("line[0]=%q", lines[0])
	}
	if lines[1] != "[10:02] Assistant: hi there" {
		t.Fatalf("line[1]=%q", lines[1])
	}
}

func TestSummarizeLastEmpty(t *testing.T) {
	m, _ := newTestMemory(DefaultWindow)
	if s := m.SummarizeLast(30); s != "" {
		t.Fatalf("SummarizeLast=%q, want empty", s)
	}
}

func TestContextBlockCap(t *testing.T) {
	m, now := newTestMemory(DefaultWindow)

	mustAdd(t, m, strings.Repeat("a", 40), "user")
	*now = now.Add(time.Minute)
	mustAdd(t, m, "keep this tail", "assistant")

	full := m.ContextBlock(30, 10000)
	if !strings.Contains(full, "keep this tail") || !strings.Contains(full, "aaaa") {
		t.Fatalf("uncapped block missing entries:\n%s", full)
	}

	capped := m.ContextBlock(30, 20)
	if len(capped) > 20 {
		t.Fatalf("capped len=%d, want <=20", len(capped))
	}
	if !strings.HasSuffix(capped, "keep this tail") {
		t.Fatalf("capped=%q, want trailing newest text", capped)
	}
}

func TestClear(t *testing.T) {
	m, _ := newTestMemory(DefaultWindow)
	mustAdd(t, m, "something", "user")
	m.Clear()
	if got := m.Len(); got != 0 {
		t.Fatalf("Len=%d after Clear, want 0", got)
	}
}

func mustAdd(t *testing.T, m *Memory, text, speaker string) {
	t.Helper()
	if _, err := m.AddText(text, speaker); err != nil {
		t.Fatalf("AddText(%q): %v", text, err)
	}
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

func texts(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}
