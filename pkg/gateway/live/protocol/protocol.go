// Package protocol defines the JSON message set spoken over the live
// voice WebSocket. Inbound decoding is a closed tagged union: unknown
// or malformed frames produce a *DecodeError and never reach the
// session loop.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Client (inbound) message types.
const (
	TypeStart       = "start"
	TypeAudio       = "audio"
	TypePause       = "pause"
	TypeResume      = "resume"
	TypeEOS         = "eos"
	TypeStop        = "stop"
	TypeSetContext  = "set_context"
	TypeClearMemory = "clear_memory"
)

// Server (outbound) message types.
const (
	TypeHello                = "hello"
	TypeContextAck           = "context_ack"
	TypeProfileUpdate        = "profile_update"
	TypeEvent                = "event"
	TypeASRFinal             = "asr_final"
	TypeAssistantText        = "assistant_text"
	TypeAssistantTextPartial = "assistant_text_partial"
	TypeAssistantPhrase      = "assistant_phrase"
	TypeAudioOut             = "audio_out"
	TypeCancel               = "cancel"
	TypeMemoryEvent          = "memory_event"
	TypeMemoryInfo           = "memory_info"
	TypeStored               = "stored"
	TypeError                = "error"
)

// Session state events carried by ServerEvent.
const (
	EventSpeaking        = "SPEAKING"
	EventThinking        = "THINKING"
	EventUserSpeechStart = "USER_SPEECH_START"
	EventUserSpeechEnd   = "USER_SPEECH_END"
	EventBackToListening = "BACK_TO_LISTENING"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type ClientStart struct {
	Type string `json:"type"`
}

// ClientAudio is one microphone frame. PCM is filled by
// DecodeClientMessage from PCM16B64; binary WebSocket frames bypass
// JSON entirely and are turned into frames by the session read loop.
type ClientAudio struct {
	Type     string  `json:"type"`
	PCM16B64 string  `json:"pcm16_b64"`
	TS       float64 `json:"ts,omitempty"`
	PCM      []byte  `json:"-"`
}

type ClientPause struct {
	Type string `json:"type"`
}

type ClientResume struct {
	Type string `json:"type"`
}

type ClientEOS struct {
	Type string `json:"type"`
}

type ClientStop struct {
	Type string `json:"type"`
}

// ClientSetContext updates session context and the speaker profile.
// Pointer fields distinguish "absent" from "set to empty": absent
// profile fields keep their current value.
type ClientSetContext struct {
	Type             string   `json:"type"`
	SystemPrompt     string   `json:"system_prompt,omitempty"`
	Persona          string   `json:"persona,omitempty"`
	ContextWindow    string   `json:"context_window,omitempty"`
	UseKnowledgeBase bool     `json:"use_knowledge_base,omitempty"`
	AssistantName    *string  `json:"assistant_name,omitempty"`
	WakeWord         *string  `json:"wake_word,omitempty"`
	UserName         *string  `json:"user_name,omitempty"`
	Timezone         *string  `json:"timezone,omitempty"`
	Location         *string  `json:"location,omitempty"`
	ListenOnly       bool     `json:"listen_only,omitempty"`
	TriggerPhrases   []string `json:"trigger_phrases,omitempty"`
	Voice            string   `json:"voice,omitempty"`
	ClearMemory      bool     `json:"clear_memory,omitempty"`
}

// RedactedForLog returns a loggable view of a set_context frame.
// System prompts can be long and user-authored, so only their length
// is reported.
func (m ClientSetContext) RedactedForLog() map[string]any {
	return map[string]any{
		"type":                m.Type,
		"system_prompt_chars": len(m.SystemPrompt),
		"persona":             m.Persona,
		"context_window":      m.ContextWindow,
		"use_knowledge_base":  m.UseKnowledgeBase,
		"listen_only":         m.ListenOnly,
		"trigger_count":       len(m.TriggerPhrases),
		"voice":               m.Voice,
		"clear_memory":        m.ClearMemory,
		"has_profile": m.AssistantName != nil || m.WakeWord != nil || m.UserName != nil ||
			m.Timezone != nil || m.Location != nil,
	}
}

type ClientClearMemory struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one inbound text frame. The returned
// value is one of the Client* structs; errors are always *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeStart:
		return ClientStart{Type: typ}, nil
	case TypeAudio:
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.PCM16B64) == "" {
			return nil, badRequest("audio.pcm16_b64 is required", "pcm16_b64")
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.PCM16B64)
		if err != nil {
			return nil, badRequest("audio.pcm16_b64 is not valid base64", "pcm16_b64")
		}
		msg.PCM = pcm
		return msg, nil
	case TypePause:
		return ClientPause{Type: typ}, nil
	case TypeResume:
		return ClientResume{Type: typ}, nil
	case TypeEOS:
		return ClientEOS{Type: typ}, nil
	case TypeStop:
		return ClientStop{Type: typ}, nil
	case TypeSetContext:
		var msg ClientSetContext
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid set_context frame", "")
		}
		if msg.TriggerPhrases != nil {
			msg.TriggerPhrases = NormalizeTriggers(msg.TriggerPhrases)
		}
		return msg, nil
	case TypeClearMemory:
		return ClientClearMemory{Type: typ}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// NormalizeTriggers lowercases and trims trigger phrases, dropping
// empties. A non-nil empty result disables trigger matching.
func NormalizeTriggers(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

type ServerHello struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Note      string `json:"note,omitempty"`
}

type ServerContextAck struct {
	Type         string `json:"type"`
	SystemPrompt string `json:"system_prompt"`
	Cleared      bool   `json:"cleared,omitempty"`
}

type ServerProfileUpdate struct {
	Type          string `json:"type"`
	AssistantName string `json:"assistant_name"`
	WakeWord      string `json:"wake_word"`
	UserName      string `json:"user_name"`
	Timezone      string `json:"timezone"`
	Location      string `json:"location"`
}

type ServerEvent struct {
	Type         string `json:"type"`
	Event        string `json:"event"`
	GenerationID int64  `json:"generation_id"`
}

type ServerASRFinal struct {
	Type         string `json:"type"`
	TurnID       int64  `json:"turn_id"`
	GenerationID int64  `json:"generation_id"`
	Text         string `json:"text"`
}

// ServerText is shared by assistant_text, assistant_text_partial and
// assistant_phrase frames; Type selects the variant.
type ServerText struct {
	Type         string `json:"type"`
	GenerationID int64  `json:"generation_id"`
	Text         string `json:"text"`
}

// ServerAudioOut carries one playback chunk. Producers enqueue raw
// PCM16 bytes in PCM16Raw; the outbound writer calls EncodePCM once
// per frame so base64 work stays off the synthesis path.
type ServerAudioOut struct {
	Type         string  `json:"type"`
	GenerationID int64   `json:"generation_id"`
	SampleRate   int     `json:"sample_rate"`
	PlaybackRate float64 `json:"playback_rate,omitempty"`
	PCM16B64     string  `json:"pcm16_b64,omitempty"`
	PCM16Raw     []byte  `json:"-"`
}

func (m *ServerAudioOut) EncodePCM() {
	if m.PCM16B64 == "" && len(m.PCM16Raw) > 0 {
		m.PCM16B64 = base64.StdEncoding.EncodeToString(m.PCM16Raw)
	}
}

type ServerCancel struct {
	Type         string `json:"type"`
	GenerationID int64  `json:"generation_id"`
}

type ServerMemoryEvent struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

// MemoryEntry is the wire form of one rolling-memory record.
// Timestamps are unix seconds.
type MemoryEntry struct {
	TSStart float64  `json:"ts_start"`
	TSEnd   float64  `json:"ts_end"`
	Text    string   `json:"text"`
	Tags    []string `json:"tags,omitempty"`
	Speaker string   `json:"speaker,omitempty"`
}

// ServerMemoryInfo answers memory queries. Recap and summary replies
// fill Summary/Minutes; timestamp listings fill Entries.
type ServerMemoryInfo struct {
	Type         string        `json:"type"`
	GenerationID int64         `json:"generation_id"`
	Summary      string        `json:"summary,omitempty"`
	Minutes      float64       `json:"minutes,omitempty"`
	Entries      []MemoryEntry `json:"entries,omitempty"`
}

type ServerStored struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type ServerError struct {
	Type         string `json:"type"`
	Where        string `json:"where,omitempty"`
	Message      string `json:"message"`
	GenerationID int64  `json:"generation_id,omitempty"`
}

// DecodeServerMessage parses one outbound text frame on the client
// side. The returned value is a pointer to one of the Server* structs;
// errors are always *DecodeError. audio_out frames get their PCM16Raw
// filled from the base64 payload.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	var msg any
	switch typ {
	case TypeHello:
		msg = &ServerHello{}
	case TypeContextAck:
		msg = &ServerContextAck{}
	case TypeProfileUpdate:
		msg = &ServerProfileUpdate{}
	case TypeEvent:
		msg = &ServerEvent{}
	case TypeASRFinal:
		msg = &ServerASRFinal{}
	case TypeAssistantText, TypeAssistantTextPartial, TypeAssistantPhrase:
		msg = &ServerText{}
	case TypeAudioOut:
		msg = &ServerAudioOut{}
	case TypeCancel:
		msg = &ServerCancel{}
	case TypeMemoryEvent:
		msg = &ServerMemoryEvent{}
	case TypeMemoryInfo:
		msg = &ServerMemoryInfo{}
	case TypeStored:
		msg = &ServerStored{}
	case TypeError:
		msg = &ServerError{}
	default:
		return nil, unsupported("unsupported message type", "type")
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, badRequest(fmt.Sprintf("invalid %s frame", typ), "")
	}
	if out, ok := msg.(*ServerAudioOut); ok && out.PCM16B64 != "" {
		pcm, err := base64.StdEncoding.DecodeString(out.PCM16B64)
		if err != nil {
			return nil, badRequest("audio_out.pcm16_b64 is not valid base64", "pcm16_b64")
		}
		out.PCM16Raw = pcm
	}
	return msg, nil
}
