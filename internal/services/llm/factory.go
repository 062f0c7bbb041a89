package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/services/llm/offline"
)

// NewLLMService creates the LLM service selected by research.provider, wrapped with call auditing
func NewLLMService(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	logger.Info().Str("provider", cfg.Research.Provider).Msg("Initializing LLM service")

	var (
		service interfaces.LLMService
		err     error
	)

	switch cfg.Research.Provider {
	case ProviderClaude:
		service, err = NewClaudeService(&cfg.Claude, logger)
	case ProviderGemini:
		service, err = NewGeminiService(ctx, &cfg.Gemini, logger)
	case offline.ProviderName, "":
		service = offline.NewService(cfg.Research.MaxContextChars, logger)
	default:
		return nil, fmt.Errorf("unsupported research provider: %s", cfg.Research.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s LLM service: %w", cfg.Research.Provider, err)
	}

	return NewAuditedService(service, !cfg.IsProduction() && cfg.Logging.Level == "debug", logger), nil
}
