package offline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/interfaces"
)

func TestGenerate_ReturnsContextBlock(t *testing.T) {
	svc := NewService(0, arbor.NewLogger())

	text, err := svc.Generate(context.Background(), "system", "Summarise the notes."+interfaces.PromptContextMarker+"## Notes\nAcme makes anvils.")
	require.NoError(t, err)
	assert.Equal(t, "## Notes\nAcme makes anvils.", text)
	assert.Equal(t, ProviderName, svc.Name())
}

func TestGenerate_WithoutMarkerEchoesPrompt(t *testing.T) {
	svc := NewService(0, arbor.NewLogger())

	text, err := svc.Generate(context.Background(), "", "  plain prompt  ")
	require.NoError(t, err)
	assert.Equal(t, "plain prompt", text)
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	svc := NewService(0, arbor.NewLogger())

	_, err := svc.Generate(context.Background(), "system", "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestGenerate_CancelledContext(t *testing.T) {
	svc := NewService(0, arbor.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Generate(ctx, "", "prompt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_Truncates(t *testing.T) {
	svc := NewService(100, arbor.NewLogger())
	long := strings.Repeat("line of text\n", 50)

	text, err := svc.Generate(context.Background(), "", long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(text), 100)
	assert.True(t, strings.HasSuffix(text, "line of text"))
}
