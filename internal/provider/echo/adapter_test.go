package echo_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/provider/echo"
)

func TestNewProvider(t *testing.T) {
	provider := echo.NewProvider()

	require.NotNil(t, provider)
	require.Equal(t, "echo", provider.Name())
}

func TestComplete_Success(t *testing.T) {
	provider := echo.NewProvider()

	resp, err := provider.Complete(context.Background(), "echo4", "Hello world", domain.CompletionParams{})

	require.NoError(t, err)
	require.Equal(t, "[user]: Hello world\n", resp.Text)
	require.Equal(t, 3, resp.InputTokens)  // "[user]:" "Hello" "world" = 3 words
	require.Equal(t, 3, resp.OutputTokens) // Same as input
	require.Equal(t, 6, resp.TotalTokens())
}

func TestComplete_SystemPrompt(t *testing.T) {
	provider := echo.NewProvider()

	resp, err := provider.Complete(context.Background(), "echo4", "Hello world", domain.CompletionParams{
		SystemPrompt: "You are helpful",
		MaxTokens:    4,
	})

	require.NoError(t, err)
	require.Equal(t, "[system]: You are helpful\n[user]: Hello world\n", resp.Text)
	require.Equal(t, 7, resp.InputTokens)
	require.Equal(t, 4, resp.OutputTokens)
}

func TestComplete_Errors(t *testing.T) {
	provider := echo.NewProvider()

	t.Run("unsupported model", func(t *testing.T) {
		resp, err := provider.Complete(context.Background(), "gpt-4", "Hello", domain.CompletionParams{})
		require.Error(t, err)
		require.Nil(t, resp)
		require.Contains(t, err.Error(), "not supported")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := provider.Complete(ctx, "echo4", "Hello", domain.CompletionParams{})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestEmbed(t *testing.T) {
	provider := echo.NewProvider(echo.WithDimension(64))
	ctx := context.Background()

	first, err := provider.Embed(ctx, "echo-embed", "Senior Go engineer")
	require.NoError(t, err)
	require.Len(t, first.Vector, 64)
	require.Equal(t, 3, first.Tokens)

	t.Run("unit length", func(t *testing.T) {
		var norm float64
		for _, v := range first.Vector {
			norm += v * v
		}
		require.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
	})

	t.Run("deterministic", func(t *testing.T) {
		again, err := provider.Embed(ctx, "echo-embed", "Senior Go engineer")
		require.NoError(t, err)
		require.Equal(t, first.Vector, again.Vector)
	})

	t.Run("different text differs", func(t *testing.T) {
		other, err := provider.Embed(ctx, "echo-embed", "Staff Go engineer")
		require.NoError(t, err)
		require.NotEqual(t, first.Vector, other.Vector)
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := provider.Embed(ctx, "echo-embed", "")
		require.ErrorIs(t, err, domain.ErrInvalidEmbedding)
	})
}

func TestEmbed_DefaultDimension(t *testing.T) {
	resp, err := echo.NewProvider().Embed(context.Background(), "echo-embed", "text")
	require.NoError(t, err)
	require.Len(t, resp.Vector, 1536)
}

func TestModels(t *testing.T) {
	provider := echo.NewProvider()
	for _, m := range echo.Models() {
		require.NoError(t, m.Validate())
		require.Equal(t, provider.Name(), m.Provider)
		require.Zero(t, m.InputCostPerToken)
	}
}
