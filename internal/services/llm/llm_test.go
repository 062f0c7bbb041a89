package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
)

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Error 429, Status: RESOURCE_EXHAUSTED"), true},
		{errors.New(`{"type":"overloaded_error"}`), true},
		{errors.New(`{"type":"rate_limit_error"}`), true},
		{errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRateLimitError(tt.err), "%v", tt.err)
	}
}

func TestExtractRetryDelay(t *testing.T) {
	err := errors.New("Error 429, Message: quota exceeded. Please retry in 12.5s., Status: RESOURCE_EXHAUSTED")
	assert.Equal(t, 12500*time.Millisecond, ExtractRetryDelay(err))
	assert.Equal(t, time.Duration(0), ExtractRetryDelay(errors.New("no delay here")))
	assert.Equal(t, time.Duration(0), ExtractRetryDelay(nil))
}

func TestCalculateBackoff(t *testing.T) {
	cfg := &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Second,
		MaxBackoff:        20 * time.Second,
		BackoffMultiplier: 1.5,
	}

	assert.Equal(t, 10*time.Second, cfg.CalculateBackoff(0, 0))
	assert.Equal(t, 15*time.Second, cfg.CalculateBackoff(1, 0))
	assert.Equal(t, 20*time.Second, cfg.CalculateBackoff(2, 0), "capped at MaxBackoff")
	assert.Equal(t, 5*time.Second, cfg.CalculateBackoff(0, 4*time.Second), "provider delay plus buffer")
}

func TestWithRetry(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	logger := arbor.NewLogger()

	t.Run("retries rate limits then succeeds", func(t *testing.T) {
		calls := 0
		text, err := withRetry(context.Background(), cfg, logger, "test", func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("429 too many requests")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		_, err := withRetry(context.Background(), cfg, logger, "test", func(context.Context) (string, error) {
			calls++
			return "", errors.New("bad request")
		})
		assert.EqualError(t, err, "bad request")
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		_, err := withRetry(context.Background(), cfg, logger, "test", func(context.Context) (string, error) {
			calls++
			return "", errors.New("429")
		})
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})
}

type stubLLM struct {
	text string
	err  error
}

func (s stubLLM) Generate(context.Context, string, string) (string, error) { return s.text, s.err }
func (s stubLLM) Name() string                                          { return "stub" }

func TestAuditedService_RecordsCalls(t *testing.T) {
	audited := NewAuditedService(stubLLM{text: "hello"}, true, arbor.NewLogger())

	text, err := audited.Generate(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	failing := NewAuditedService(stubLLM{err: errors.New("down")}, false, arbor.NewLogger())
	_, err = failing.Generate(context.Background(), "sys", "prompt")
	assert.Error(t, err)

	assert.Equal(t, 1, audited.Stats().Calls)
	assert.Equal(t, 0, audited.Stats().Failures)
	assert.Equal(t, 1, failing.Stats().Failures)
	assert.Equal(t, "down", failing.Stats().LastError)
	assert.Equal(t, "stub", audited.Name())
}

func TestNewLLMService(t *testing.T) {
	logger := arbor.NewLogger()

	cfg := common.NewDefaultConfig()
	cfg.Research.Provider = "offline"
	svc, err := NewLLMService(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, "offline", svc.Name())

	cfg.Research.Provider = "claude"
	cfg.Claude.APIKey = ""
	_, err = NewLLMService(context.Background(), cfg, logger)
	assert.Error(t, err, "claude without an API key")

	cfg.Research.Provider = "unknown"
	_, err = NewLLMService(context.Background(), cfg, logger)
	assert.Error(t, err)
}
