package core

import (
	"fmt"
	"strings"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/store"
)

const (
	DefaultCallerLabel = "MSL"
	DefaultMaxWords    = 100

	defaultTone      = "direct"
	defaultSpecialty = "medical"
)

// Prompt is the payload handed to a Gateway.
type Prompt struct {
	System string
	User   string
}

// PromptComposer renders a persona and its conversation into a Prompt. It is
// a pure function of its inputs.
type PromptComposer struct {
	CallerLabel string
	MaxWords    int
}

func NewPromptComposer(callerLabel string) *PromptComposer {
	if callerLabel == "" {
		callerLabel = DefaultCallerLabel
	}
	return &PromptComposer{CallerLabel: callerLabel, MaxWords: DefaultMaxWords}
}

func (c *PromptComposer) Compose(p *store.Persona, turns []store.Turn) Prompt {
	tone := orDefault(p.CommunicationStyle.Tone, defaultTone)
	specialty := orDefault(p.Specialty, defaultSpecialty)
	caller := orDefault(c.CallerLabel, DefaultCallerLabel)
	maxWords := c.MaxWords
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	system := fmt.Sprintf("You are %s, a %s %s specialist interviewing a %s. Never break character.",
		p.Name, tone, specialty, caller)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", p.Name)
	if p.Title != "" {
		fmt.Fprintf(&b, " (%s)", p.Title)
	}
	fmt.Fprintf(&b, ", a %s specialist. You are %s.\n\n", specialty, tone)

	b.WriteString("Conversation so far:\n")
	for _, t := range turns {
		if t.Role == store.RoleUser {
			b.WriteString(caller)
		} else {
			b.WriteString(p.Name)
		}
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Text))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nThe %s just answered. You should:\n", caller)
	b.WriteString("1. Briefly evaluate their last message in one sentence: was it strong or weak?\n")
	b.WriteString("2. Ask exactly ONE challenging follow-up question that probes deeper into their answer.\n")
	fmt.Fprintf(&b, "3. Stay in character as a %s %s specialist.\n\n", tone, specialty)
	fmt.Fprintf(&b, "Keep the response under %d words. Be direct and challenging.", maxWords)

	return Prompt{System: system, User: b.String()}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
