package core

import (
	"context"
	"fmt"
	"strings"
)

// MockGateway is an offline Gateway for local development.
type MockGateway struct{}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) Close() error { return nil }

func (m *MockGateway) Generate(ctx context.Context, systemPrompt, userPrompt string, sampling SamplingConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	last := lastTranscriptLine(userPrompt)
	if last == "" {
		return "[MOCK] Tell me more. What evidence supports that?", nil
	}
	return fmt.Sprintf("[MOCK] Noted: %q. What evidence supports that?", truncate(last, 80)), nil
}

// lastTranscriptLine returns the last "label: text" line of the conversation block.
func lastTranscriptLine(prompt string) string {
	start := strings.Index(prompt, "Conversation so far:\n")
	if start < 0 {
		return ""
	}
	block := prompt[start+len("Conversation so far:\n"):]
	if strings.HasPrefix(block, "\n") {
		return ""
	}
	if end := strings.Index(block, "\n\n"); end >= 0 {
		block = block[:end]
	}
	lines := strings.Split(strings.TrimSpace(block), "\n")
	last := lines[len(lines)-1]
	if i := strings.Index(last, ": "); i >= 0 {
		return last[i+2:]
	}
	return last
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
