package task

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-chatroom/internal/store"
)

// ChatLine is one line of conversation history handed to ai_chat.
type ChatLine struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

type aiChatPayload struct {
	Provider string     `json:"provider"`
	Text     string     `json:"text"`
	History  []ChatLine `json:"history"`
}

// AIChatExecutor answers a chat message as the requested provider.
type AIChatExecutor struct {
	fallback  Generator
	providers map[string]Generator
}

// NewAIChatExecutor uses providers[name] when present, fallback otherwise.
func NewAIChatExecutor(fallback Generator, providers map[string]Generator) *AIChatExecutor {
	return &AIChatExecutor{fallback: fallback, providers: providers}
}

func (e *AIChatExecutor) Execute(ctx context.Context, _ store.Store, job Job) (Output, error) {
	var p aiChatPayload
	if err := job.Decode(&p); err != nil {
		return Output{}, err
	}
	if strings.TrimSpace(p.Text) == "" {
		return Output{}, errors.New("empty chat message")
	}
	gen := e.fallback
	if g, ok := e.providers[p.Provider]; ok {
		gen = g
	}
	if gen == nil {
		return Output{}, fmt.Errorf("no generator for provider %q", p.Provider)
	}

	name := p.Provider
	if name == "" {
		name = "assistant"
	}
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "You are %s, a helpful participant in a group chat. Reply briefly.\n\n", name)
	for _, l := range p.History {
		fmt.Fprintf(&prompt, "%s: %s\n", l.Username, l.Text)
	}
	fmt.Fprintf(&prompt, "%s: %s\n%s:", job.Username, p.Text, name)

	reply, err := gen.Generate(ctx, prompt.String())
	if err != nil {
		return Output{}, fmt.Errorf("%s did not answer: %w", name, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Output{}, fmt.Errorf("%s returned an empty reply", name)
	}
	return Output{Content: reply, Metadata: map[string]any{"provider": name}}, nil
}
