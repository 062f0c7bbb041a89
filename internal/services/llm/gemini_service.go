package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/interfaces"
)

// ProviderGemini is the Research.Provider value selecting Google Gemini
const ProviderGemini = "gemini"

// GeminiService implements the LLMService interface using the Google GenAI SDK
type GeminiService struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
	retry   *RetryConfig
}

// Compile-time assertion
var _ interfaces.LLMService = (*GeminiService)(nil)

// NewGeminiService creates a Gemini LLM service instance.
// The API key comes from gemini.api_key, DOSSIER_GEMINI_API_KEY or GOOGLE_API_KEY.
func NewGeminiService(ctx context.Context, geminiConfig *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	if strings.TrimSpace(geminiConfig.APIKey) == "" {
		return nil, fmt.Errorf("Google API key is required for Gemini service (set via GOOGLE_API_KEY, DOSSIER_GEMINI_API_KEY, or gemini.api_key in config)")
	}

	if geminiConfig.Model == "" {
		geminiConfig.Model = "gemini-2.5-flash"
	}

	timeout := common.ParseDurationOr(geminiConfig.Timeout, 5*time.Minute)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  geminiConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	service := &GeminiService{
		config:  geminiConfig,
		logger:  logger,
		client:  client,
		timeout: timeout,
		retry:   NewDefaultRetryConfig(),
	}

	logger.Debug().
		Str("model", geminiConfig.Model).
		Dur("timeout", timeout).
		Float32("temperature", geminiConfig.Temperature).
		Msg("Gemini LLM service initialized successfully")

	return service, nil
}

// Name identifies the provider
func (s *GeminiService) Name() string {
	return ProviderGemini
}

// Generate returns Gemini's text for a system instruction and a user prompt
func (s *GeminiService) Generate(ctx context.Context, system, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return withRetry(timeoutCtx, s.retry, s.logger, ProviderGemini, func(ctx context.Context) (string, error) {
		return s.generateCompletion(ctx, system, prompt)
	})
}

// generateCompletion performs a single GenerateContent call
func (s *GeminiService) generateCompletion(ctx context.Context, system, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(s.config.Temperature),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.config.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("Gemini generation failed: %w", err)
	}

	// Use the first candidate that carries text
	var response strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Gemini model")
	}

	return response.String(), nil
}
