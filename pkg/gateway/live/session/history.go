package session

import (
	"strings"

	"github.com/echomind-ai/voiced/pkg/core/types"
)

// conversationHistory is the rolling chat transcript sent to the LLM.
// It is bounded two ways: a hard cap of maxTurns user/assistant pairs,
// then an approximate token budget that also charges for the system
// prompt. Oldest messages go first.
type conversationHistory struct {
	maxTurns  int
	maxTokens int
	msgs      []types.Message
}

func newConversationHistory(maxTurns, maxTokens int) *conversationHistory {
	if maxTurns <= 0 {
		maxTurns = 12
	}
	if maxTokens <= 0 {
		maxTokens = 1400
	}
	return &conversationHistory{
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
		msgs:      make([]types.Message, 0, 16),
	}
}

func (h *conversationHistory) appendTurn(userText, assistantText string) {
	h.msgs = append(h.msgs,
		types.Message{Role: types.RoleUser, Content: userText},
		types.Message{Role: types.RoleAssistant, Content: assistantText},
	)
}

func (h *conversationHistory) clear() {
	h.msgs = h.msgs[:0]
}

func (h *conversationHistory) len() int { return len(h.msgs) }

// trim enforces the turn cap and the token budget against the given
// system prompt. Called before every prompt build and after every
// append.
func (h *conversationHistory) trim(systemPrompt string) {
	if limit := h.maxTurns * 2; len(h.msgs) > limit {
		h.msgs = append(h.msgs[:0], h.msgs[len(h.msgs)-limit:]...)
	}

	total := approxTokenCount(systemPrompt)
	for _, m := range h.msgs {
		total += approxTokenCount(m.Content)
	}
	for len(h.msgs) > 0 && total > h.maxTokens {
		total -= approxTokenCount(h.msgs[0].Content)
		h.msgs = h.msgs[1:]
	}
}

// buildSystemPrompt prepends the speaker profile to the configured
// system prompt, optionally followed by compiled rolling-memory
// context.
func buildSystemPrompt(profile types.Profile, systemPrompt, compiledContext string) string {
	base := strings.TrimSpace(systemPrompt)
	if compiledContext != "" {
		base += "\n\nRecent conversation context (for reference):\n" + compiledContext
	}
	return profile.PromptPreamble() + " " + base
}

// buildMessages assembles the LLM request: system prompt, trimmed
// history, then the new user text.
func (h *conversationHistory) buildMessages(systemPrompt, userText string) []types.Message {
	h.trim(systemPrompt)
	out := make([]types.Message, 0, len(h.msgs)+2)
	out = append(out, types.Message{Role: types.RoleSystem, Content: systemPrompt})
	out = append(out, h.msgs...)
	out = append(out, types.Message{Role: types.RoleUser, Content: userText})
	return out
}
