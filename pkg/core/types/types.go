// Package types holds the small value types shared across the voiced
// service: chat messages exchanged with the LLM and the per-session
// speaker profile.
package types

import "strings"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message sent to or received from the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Profile is the session-scoped identity state. Voice commands and
// set_context both mutate it; every change is broadcast to the client.
type Profile struct {
	AssistantName string `json:"assistant_name"`
	WakeWord      string `json:"wake_word"`
	UserName      string `json:"user_name"`
	Timezone      string `json:"timezone"`
	Location      string `json:"location"`
}

// PromptPreamble renders the profile block prepended to the system prompt.
func (p Profile) PromptPreamble() string {
	var b strings.Builder
	b.WriteString("Assistant name: ")
	b.WriteString(orDefault(p.AssistantName, "EchoMind"))
	b.WriteString(". User name: ")
	b.WriteString(orDefault(p.UserName, "User"))
	b.WriteString(". Timezone: ")
	b.WriteString(orDefault(p.Timezone, "America/New_York"))
	b.WriteString(".")
	if strings.TrimSpace(p.Location) != "" {
		b.WriteString(" Location: ")
		b.WriteString(strings.TrimSpace(p.Location))
		b.WriteString(".")
	}
	return b.String()
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}
