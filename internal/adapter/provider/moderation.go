package provider

import (
	"context"
	"strings"

	"metered-messaging/internal/core/ports"
)

var defaultBlocklist = []string{"porn", "hate", "bomb", "terror", "drugs"}

// KeywordModerator is a blocklist moderator for proposed outbound text.
// A disabled moderator allows everything.
type KeywordModerator struct {
	enabled bool
	banned  []string
}

// NewKeywordModerator creates a moderator with the default blocklist.
func NewKeywordModerator(enabled bool) *KeywordModerator {
	return &KeywordModerator{enabled: enabled, banned: defaultBlocklist}
}

// Moderate screens text. A blocked outcome is terminal for the message,
// never an error.
func (m *KeywordModerator) Moderate(ctx context.Context, tenantID, text string) (ports.ModerationResult, error) {
	if !m.enabled {
		return ports.ModerationResult{Allowed: true}, nil
	}
	lowered := strings.ToLower(text)
	for _, word := range m.banned {
		if strings.Contains(lowered, word) {
			return ports.ModerationResult{Allowed: false, Reason: "blocked term: " + word}, nil
		}
	}
	return ports.ModerationResult{Allowed: true}, nil
}
