package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeClientMessage_Audio(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	raw := []byte(`{"type":"audio","pcm16_b64":"` + base64.StdEncoding.EncodeToString(pcm) + `","ts":1.5}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	audio, ok := msg.(ClientAudio)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientAudio", msg)
	}
	if string(audio.PCM) != string(pcm) {
		t.Fatalf("pcm = %v, want %v", audio.PCM, pcm)
	}
	if audio.TS != 1.5 {
		t.Fatalf("ts = %v", audio.TS)
	}
}

func TestDecodeClientMessage_AudioRejectsBadBase64(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"audio","pcm16_b64":"%%%"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "bad_request" || decErr.Param != "pcm16_b64" {
		t.Fatalf("decode error = %+v", decErr)
	}
}

func TestDecodeClientMessage_AudioRequiresPayload(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"audio"}`))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeClientMessage_BareControls(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{`{"type":"start"}`, ClientStart{Type: "start"}},
		{`{"type":"pause"}`, ClientPause{Type: "pause"}},
		{`{"type":"resume"}`, ClientResume{Type: "resume"}},
		{`{"type":"eos"}`, ClientEOS{Type: "eos"}},
		{`{"type":"stop"}`, ClientStop{Type: "stop"}},
		{`{"type":"clear_memory"}`, ClientClearMemory{Type: "clear_memory"}},
	}
	for _, tc := range cases {
		msg, err := DecodeClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("DecodeClientMessage(%s) error = %v", tc.raw, err)
		}
		if msg != tc.want {
			t.Fatalf("DecodeClientMessage(%s) = %#v, want %#v", tc.raw, msg, tc.want)
		}
	}
}

func TestDecodeClientMessage_SetContext(t *testing.T) {
	raw := []byte(`{
		"type":"set_context",
		"system_prompt":"You are terse.",
		"persona":"pirate",
		"use_knowledge_base":true,
		"assistant_name":"Echo",
		"listen_only":true,
		"trigger_phrases":["  Fact Check ", "", "speak NOW"]
	}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	sc, ok := msg.(ClientSetContext)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientSetContext", msg)
	}
	if sc.SystemPrompt != "You are terse." || !sc.UseKnowledgeBase || !sc.ListenOnly {
		t.Fatalf("set_context = %+v", sc)
	}
	if sc.AssistantName == nil || *sc.AssistantName != "Echo" {
		t.Fatalf("assistant_name = %v", sc.AssistantName)
	}
	if sc.UserName != nil {
		t.Fatalf("user_name should be absent, got %v", *sc.UserName)
	}
	want := []string{"fact check", "speak now"}
	if len(sc.TriggerPhrases) != len(want) {
		t.Fatalf("triggers = %v, want %v", sc.TriggerPhrases, want)
	}
	for i := range want {
		if sc.TriggerPhrases[i] != want[i] {
			t.Fatalf("triggers = %v, want %v", sc.TriggerPhrases, want)
		}
	}
}

func TestDecodeClientMessage_SetContextEmptyTriggersDisable(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"set_context","trigger_phrases":[]}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	sc := msg.(ClientSetContext)
	if sc.TriggerPhrases == nil || len(sc.TriggerPhrases) != 0 {
		t.Fatalf("triggers = %#v, want empty non-nil", sc.TriggerPhrases)
	}
}

func TestDecodeClientMessage_UnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"reboot"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "unsupported" {
		t.Fatalf("code = %q", decErr.Code)
	}
}

func TestDecodeClientMessage_InvalidJSON(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":`))
	if err == nil {
		t.Fatal("expected error")
	}
	if decErr := err.(*DecodeError); decErr.Code != "bad_request" {
		t.Fatalf("code = %q", decErr.Code)
	}
}

func TestServerAudioOutEncodePCM(t *testing.T) {
	m := ServerAudioOut{
		Type:         TypeAudioOut,
		GenerationID: 4,
		SampleRate:   22050,
		PCM16Raw:     []byte{1, 2, 3},
	}
	m.EncodePCM()
	if m.PCM16B64 != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("pcm16_b64 = %q", m.PCM16B64)
	}

	blob, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(blob), "PCM16Raw") {
		t.Fatalf("raw bytes leaked into wire frame: %s", blob)
	}
}

func TestSetContextRedaction(t *testing.T) {
	name := "Echo"
	sc := ClientSetContext{
		Type:           "set_context",
		SystemPrompt:   "a very long private prompt with user data",
		AssistantName:  &name,
		TriggerPhrases: []string{"fact check"},
	}

	redacted := sc.RedactedForLog()
	blob, err := json.Marshal(redacted)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(blob), "private prompt") {
		t.Fatalf("redacted payload leaked prompt: %s", blob)
	}
	if !strings.Contains(string(blob), "system_prompt_chars") {
		t.Fatalf("expected system_prompt_chars in redacted payload: %s", blob)
	}
}

func TestDecodeServerMessage_Hello(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"hello","session_id":"s_ab12","note":"ready"}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	hello, ok := msg.(*ServerHello)
	if !ok {
		t.Fatalf("decoded type = %T, want *ServerHello", msg)
	}
	if hello.SessionID != "s_ab12" || hello.Note != "ready" {
		t.Fatalf("hello = %+v", hello)
	}
}

func TestDecodeServerMessage_AudioOutFillsRaw(t *testing.T) {
	pcm := []byte{9, 8, 7, 6}
	raw := []byte(`{"type":"audio_out","generation_id":3,"sample_rate":22050,"pcm16_b64":"` +
		base64.StdEncoding.EncodeToString(pcm) + `"}`)

	msg, err := DecodeServerMessage(raw)
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	out, ok := msg.(*ServerAudioOut)
	if !ok {
		t.Fatalf("decoded type = %T, want *ServerAudioOut", msg)
	}
	if string(out.PCM16Raw) != string(pcm) {
		t.Fatalf("pcm = %v, want %v", out.PCM16Raw, pcm)
	}
	if out.GenerationID != 3 || out.SampleRate != 22050 {
		t.Fatalf("audio_out = %+v", out)
	}
}

func TestDecodeServerMessage_TextVariants(t *testing.T) {
	for _, typ := range []string{TypeAssistantText, TypeAssistantTextPartial, TypeAssistantPhrase} {
		msg, err := DecodeServerMessage([]byte(`{"type":"` + typ + `","generation_id":1,"text":"hi"}`))
		if err != nil {
			t.Fatalf("DecodeServerMessage(%s) error = %v", typ, err)
		}
		text, ok := msg.(*ServerText)
		if !ok {
			t.Fatalf("decoded type = %T, want *ServerText", msg)
		}
		if text.Type != typ || text.Text != "hi" {
			t.Fatalf("text frame = %+v", text)
		}
	}
}

func TestDecodeServerMessage_UnknownType(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"type":"telemetry"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decodeErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("error type = %T, want *DecodeError", err)
	}
	if decodeErr.Code != "unsupported" {
		t.Fatalf("code = %q, want unsupported", decodeErr.Code)
	}
}

func TestDecodeServerMessage_BadAudioBase64(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"type":"audio_out","pcm16_b64":"%%%"}`))
	if err == nil {
		t.Fatal("expected error")
	}
}
