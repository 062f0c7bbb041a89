package interfaces

import "context"

// LLMService generates text completions for the research pipeline
type LLMService interface {
	// Generate returns the model's text for a system instruction and a user prompt
	Generate(ctx context.Context, system, prompt string) (string, error)

	// Name identifies the provider in logs and report footers
	Name() string
}

// PromptContextMarker separates a prompt's instructions from the source material that follows
const PromptContextMarker = "\n---\n"
