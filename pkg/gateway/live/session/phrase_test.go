package session

import (
	"strings"
	"testing"
	"time"
)

func TestPhraseSegmenterSentenceCommit(t *testing.T) {
	p := newPhraseSegmenter(28, 120, 180*time.Millisecond)
	now := time.Unix(1000, 0)

	for _, tok := range []string{"The weather ", "today looks "} {
		if got, ok := p.push(tok, now); ok {
			t.Fatalf("premature commit %q", got)
		}
	}
	got, ok := p.push("pretty good overall.", now)
	if !ok {
		t.Fatal("expected sentence commit")
	}
	if got != "The weather today looks pretty good overall." {
		t.Fatalf("got %q", got)
	}
	if rest, ok := p.flush(); ok {
		t.Fatalf("buffer not drained after commit, flush returned %q", rest)
	}
}

func TestPhraseSegmenterShortSentenceHeld(t *testing.T) {
	p := newPhraseSegmenter(28, 120, 180*time.Millisecond)
	now := time.Unix(1000, 0)

	// Ends a sentence but is under the minimum; should keep buffering.
	if got, ok := p.push("Sure thing.", now); ok {
		t.Fatalf("short sentence committed early: %q", got)
	}
	got, ok := p.push(" Let me check that for you now.", now)
	if !ok {
		t.Fatal("expected commit once the minimum was cleared")
	}
	if !strings.HasPrefix(got, "Sure thing.") {
		t.Fatalf("got %q", got)
	}
}

func TestPhraseSegmenterMaxCharsCommit(t *testing.T) {
	p := newPhraseSegmenter(28, 120, 180*time.Millisecond)
	now := time.Unix(1000, 0)

	long := strings.Repeat("a", 130) // no punctuation, past the cap
	got, ok := p.push(long, now)
	if !ok {
		t.Fatal("expected max-chars commit")
	}
	if got != long {
		t.Fatalf("commit should take the whole buffer, got %d chars", len(got))
	}
}

func TestPhraseSegmenterPauseFlush(t *testing.T) {
	p := newPhraseSegmenter(28, 120, 180*time.Millisecond)
	start := time.Unix(1000, 0)

	if _, ok := p.push("thinking about the best route home", start); ok {
		t.Fatal("no punctuation and under cap, should hold")
	}

	// Not stalled long enough.
	if _, ok := p.pauseFlush(start.Add(100 * time.Millisecond)); ok {
		t.Fatal("pause flush fired before the commit pause elapsed")
	}
	got, ok := p.pauseFlush(start.Add(200 * time.Millisecond))
	if !ok {
		t.Fatal("expected pause flush")
	}
	if got != "thinking about the best route home" {
		t.Fatalf("got %q", got)
	}
}

func TestPhraseSegmenterPauseFlushRespectsMinimum(t *testing.T) {
	p := newPhraseSegmenter(28, 120, 180*time.Millisecond)
	start := time.Unix(1000, 0)

	p.push("hm okay", start)
	if got, ok := p.pauseFlush(start.Add(time.Second)); ok {
		t.Fatalf("flushed %q below the minimum", got)
	}
}

func TestPhraseSegmenterFlushRemainder(t *testing.T) {
	p := newPhraseSegmenter(28, 120, 180*time.Millisecond)
	now := time.Unix(1000, 0)

	p.push("  and that's all  ", now)
	got, ok := p.flush()
	if !ok || got != "and that's all" {
		t.Fatalf("flush got %q ok=%v", got, ok)
	}
	if _, ok := p.flush(); ok {
		t.Fatal("second flush should be empty")
	}
}

func TestPhraseSegmenterRuneCounting(t *testing.T) {
	p := newPhraseSegmenter(5, 10, 0)
	now := time.Unix(1000, 0)

	// Five multibyte runes followed by a period clears min=5.
	got, ok := p.push("héllo.", now)
	if !ok || got != "héllo." {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestPhraseSegmenterReset(t *testing.T) {
	p := newPhraseSegmenter(28, 120, 180*time.Millisecond)
	p.push("half formed thought", time.Unix(1000, 0))
	p.reset()
	if got, ok := p.flush(); ok {
		t.Fatalf("reset left %q buffered", got)
	}
}
