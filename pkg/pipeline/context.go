package pipeline

import (
	"context"
	"sync"
)

// DefaultHistoryMaxTurns is §4.6's history_max_turns default (N turns).
const DefaultHistoryMaxTurns = 20

// Conversation is the per-session rolling context: role-tagged turns
// bounded to MaxTurns, a persistent entity slot that survives
// summarisation, and a system prompt.
type Conversation struct {
	mu sync.RWMutex

	SessionID       string
	SystemPromptRef string
	MaxTurns        int

	history  []Message
	entities map[string]string
}

// NewConversation starts an empty conversation bounded to maxTurns
// turns (<=0 uses DefaultHistoryMaxTurns).
func NewConversation(sessionID string, maxTurns int) *Conversation {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryMaxTurns
	}
	return &Conversation{
		SessionID: sessionID,
		MaxTurns:  maxTurns,
		entities:  make(map[string]string),
	}
}

// AddUserTurn appends a user turn and folds any recognised entities into
// the persistent slot (§4.6: "persist in a separate slot ... even after
// summarisation").
func (c *Conversation) AddUserTurn(text string) {
	for k, v := range ExtractEntities(text) {
		c.mu.Lock()
		c.entities[k] = v
		c.mu.Unlock()
	}
	c.append(Message{Role: "user", Content: text})
}

// AddAssistantTurn appends an assistant turn. If the response was
// cut short by barge-in, the stored turn is annotated "[interrupted]" so
// the next LLM call can acknowledge it (§4.6).
func (c *Conversation) AddAssistantTurn(text string, interrupted bool) {
	if interrupted {
		text += " [interrupted]"
	}
	c.append(Message{Role: "assistant", Content: text})
}

func (c *Conversation) append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, m)
}

// Messages returns the messages to send on the next LLM call: the
// system prompt (if set), the entity slot as a synthetic system turn,
// then the rolling history.
func (c *Conversation) Messages(systemPrompt string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, 0, len(c.history)+2)
	if systemPrompt != "" {
		out = append(out, Message{Role: "system", Content: systemPrompt})
	}
	if len(c.entities) > 0 {
		out = append(out, Message{Role: "system", Content: formatEntitySlot(c.entities)})
	}
	out = append(out, c.history...)
	return out
}

// MaybeSummarize compresses the oldest half of history into one summary
// turn via the LLM's Summarize capability once history exceeds MaxTurns
// (§4.6). It is a no-op below the threshold.
func (c *Conversation) MaybeSummarize(ctx context.Context, llm LanguageModel) error {
	c.mu.Lock()
	if len(c.history) <= c.MaxTurns {
		c.mu.Unlock()
		return nil
	}
	half := len(c.history) / 2
	toCompress := make([]Message, half)
	copy(toCompress, c.history[:half])
	rest := make([]Message, len(c.history)-half)
	copy(rest, c.history[half:])
	c.mu.Unlock()

	summary, err := llm.Summarize(ctx, toCompress)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append([]Message{{Role: "system", Content: "Earlier conversation summary: " + summary}}, rest...)
	return nil
}

// Entities returns a copy of the persistent entity slot.
func (c *Conversation) Entities() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entities))
	for k, v := range c.entities {
		out[k] = v
	}
	return out
}

func formatEntitySlot(entities map[string]string) string {
	s := "Known caller details:"
	for k, v := range entities {
		s += " " + k + "=" + v + ";"
	}
	return s
}
