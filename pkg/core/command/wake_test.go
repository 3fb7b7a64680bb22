package command

import "testing"

func TestStripWakeWord(t *testing.T) {
	cases := []struct {
		utterance string
		wake      string
		want      string
	}{
		{"EchoMind, what did I say?", "EchoMind", "what did I say?"},
		{"echomind summarize that", "EchoMind", "summarize that"},
		{"  EchoMind:  go on ", "echomind", "go on"},
		{"hello there", "EchoMind", "hello there"},
		{"EchoMind", "EchoMind", ""},
		{"anything", "", "anything"},
	}
	for _, tc := range cases {
		if got := StripWakeWord(tc.utterance, tc.wake); got != tc.want {
			t.Fatalf("StripWakeWord(%q, %q)=%q, want %q", tc.utterance, tc.wake, got, tc.want)
		}
	}
}

func TestWakeTriggered(t *testing.T) {
	if !WakeTriggered("EchoMind, hi", "echomind") {
		t.Fatalf("leading wake word not detected")
	}
	if WakeTriggered("hi EchoMind", "echomind") {
		t.Fatalf("mid-utterance wake word should not trigger")
	}
	if WakeTriggered("hi there", "") {
		t.Fatalf("empty wake word should never trigger")
	}
}

func TestMatchesTrigger(t *testing.T) {
	phrases := DefaultTriggerPhrases()
	if !MatchesTrigger("okay NOW you can SPEAK please", phrases) {
		t.Fatalf("trigger phrase not matched")
	}
	if MatchesTrigger("keep going", phrases) {
		t.Fatalf("unexpected trigger match")
	}
	if MatchesTrigger("anything", nil) {
		t.Fatalf("nil phrase list should never match")
	}
}
