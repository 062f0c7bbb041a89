package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/interfaces"
)

// ErrEmptyPrompt is returned when Generate is called without a prompt
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// AuditStats summarises the calls made through an AuditedService
type AuditStats struct {
	Calls      int           `json:"calls"`
	Failures   int           `json:"failures"`
	TotalTime  time.Duration `json:"total_time"`
	LastError  string        `json:"last_error,omitempty"`
	LastCallAt time.Time     `json:"last_call_at,omitempty"`
}

// AuditedService wraps an LLMService and records every call in the structured log.
// Prompt text is only logged when logPrompts is set.
type AuditedService struct {
	inner      interfaces.LLMService
	logger     arbor.ILogger
	logPrompts bool

	mu    sync.Mutex
	stats AuditStats
}

// Compile-time assertion
var _ interfaces.LLMService = (*AuditedService)(nil)

// NewAuditedService wraps inner with call auditing
func NewAuditedService(inner interfaces.LLMService, logPrompts bool, logger arbor.ILogger) *AuditedService {
	return &AuditedService{
		inner:      inner,
		logger:     logger,
		logPrompts: logPrompts,
	}
}

// Name returns the wrapped provider's name
func (a *AuditedService) Name() string {
	return a.inner.Name()
}

// Generate delegates to the wrapped service and records the outcome
func (a *AuditedService) Generate(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()
	text, err := a.inner.Generate(ctx, system, prompt)
	duration := time.Since(start)

	a.record(duration, err)

	event := a.logger.Debug()
	if err != nil {
		event = a.logger.Warn().Err(err)
	}
	event = event.
		Str("provider", a.inner.Name()).
		Str("operation", "generate").
		Dur("duration", duration).
		Int("prompt_length", len(prompt)).
		Int("response_length", len(text))
	if a.logPrompts {
		event = event.Str("prompt", prompt)
	}
	event.Msg("LLM call audited")

	return text, err
}

// Stats returns a copy of the accumulated call statistics
func (a *AuditedService) Stats() AuditStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *AuditedService) record(duration time.Duration, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Calls++
	a.stats.TotalTime += duration
	a.stats.LastCallAt = time.Now()
	if err != nil {
		a.stats.Failures++
		a.stats.LastError = err.Error()
	}
}
