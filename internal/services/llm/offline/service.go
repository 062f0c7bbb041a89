// Package offline provides a deterministic LLMService that needs no network access.
// It lets the research pipeline run end to end in development and tests.
package offline

import (
	"context"
	"errors"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/interfaces"
)

// ProviderName is the Research.Provider value selecting the offline service
const ProviderName = "offline"

// DefaultMaxChars bounds the length of a generated draft
const DefaultMaxChars = 6000

// ErrEmptyPrompt is returned when Generate is called without a prompt
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// Service drafts text by echoing the source material of a prompt
type Service struct {
	maxChars int
	logger   arbor.ILogger
}

// NewService creates an offline service; maxChars <= 0 selects DefaultMaxChars
func NewService(maxChars int, logger arbor.ILogger) *Service {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	logger.Debug().Int("max_chars", maxChars).Msg("Offline LLM service initialized")
	return &Service{maxChars: maxChars, logger: logger}
}

// Name identifies the provider
func (s *Service) Name() string {
	return ProviderName
}

// Generate returns the material after the last PromptContextMarker in prompt, or the
// whole prompt when there is none, truncated to maxChars on a line boundary.
func (s *Service) Generate(ctx context.Context, system, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	body := prompt
	if idx := strings.LastIndex(prompt, interfaces.PromptContextMarker); idx >= 0 {
		body = prompt[idx+len(interfaces.PromptContextMarker):]
	}
	body = strings.TrimSpace(body)
	if body == "" {
		body = strings.TrimSpace(prompt)
	}

	return truncate(body, s.maxChars), nil
}

// truncate cuts s to at most max bytes, preferring the last newline before the limit
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndex(cut, "\n"); idx > max/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
