// Package echo provides a testing provider that echoes prompts back and derives embeddings
// from a content hash. It implements domain.ProviderClient without making external calls,
// providing deterministic responses for testing and development purposes.
package echo

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/observability"
)

const (
	providerName     = "echo"
	modelName        = "echo4"
	embedModelName   = "echo-embed"
	defaultDimension = 1536
)

var _ domain.ProviderClient = (*Provider)(nil)

// Provider implements domain.ProviderClient for echo testing.
type Provider struct {
	name            string
	dimension       int
	supportedModels map[string]bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithDimension sets the length of generated embedding vectors.
func WithDimension(dimension int) Option {
	return func(p *Provider) {
		if dimension > 0 {
			p.dimension = dimension
		}
	}
}

// NewProvider creates a new echo provider.
// No configuration is required as this provider operates entirely in-memory.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		name:      providerName,
		dimension: defaultDimension,
		supportedModels: map[string]bool{
			modelName:      true,
			embedModelName: true,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Complete echoes the system prompt and the prompt back as the completion.
func (p *Provider) Complete(
	ctx context.Context,
	model, prompt string,
	params domain.CompletionParams,
) (*domain.Completion, error) {
	if err := p.check(ctx, model); err != nil {
		return nil, err
	}

	logger := observability.FromContext(ctx)
	logger.Debug("echoing request")

	content := buildEchoContent(params.SystemPrompt, prompt)
	promptTokens := countTokens(content)
	completionTokens := promptTokens // Echo returns same size
	if params.MaxTokens > 0 && completionTokens > params.MaxTokens {
		completionTokens = params.MaxTokens
	}

	logger.Debug("echo completed",
		observability.Int("prompt_tokens", promptTokens),
		observability.Int("completion_tokens", completionTokens),
	)

	return &domain.Completion{
		Text:         content,
		InputTokens:  promptTokens,
		OutputTokens: completionTokens,
	}, nil
}

// Embed returns a unit vector derived from the SHA-256 of text. Equal text always yields
// an equal vector.
func (p *Provider) Embed(ctx context.Context, model, text string) (*domain.Embedding, error) {
	if err := p.check(ctx, model); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", domain.ErrInvalidEmbedding)
	}

	return &domain.Embedding{
		Vector: hashVector(text, p.dimension),
		Tokens: countTokens(text),
	}, nil
}

func (p *Provider) check(ctx context.Context, model string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.supportedModels[model] {
		return fmt.Errorf("model %s is not supported by echo provider", model)
	}
	return nil
}

// buildEchoContent constructs the echo response in the "[role]: content" form.
func buildEchoContent(systemPrompt, prompt string) string {
	var builder strings.Builder
	if systemPrompt != "" {
		builder.WriteString(fmt.Sprintf("[system]: %s\n", systemPrompt))
	}
	if prompt != "" {
		builder.WriteString(fmt.Sprintf("[user]: %s\n", prompt))
	}
	return builder.String()
}

// countTokens performs simple word-based token counting.
func countTokens(content string) int {
	if content == "" {
		return 0
	}
	return len(strings.Fields(content))
}

// hashVector stretches SHA-256 digests of text into dimension values in [-1, 1] and
// normalizes the result to unit length.
func hashVector(text string, dimension int) []float64 {
	vector := make([]float64, dimension)
	var counter [8]byte
	var sum [sha256.Size]byte
	var norm float64

	for i := range vector {
		offset := (i * 2) % sha256.Size
		if offset == 0 {
			binary.LittleEndian.PutUint64(counter[:], uint64(i))
			sum = sha256.Sum256(append([]byte(text), counter[:]...))
		}
		raw := binary.LittleEndian.Uint16(sum[offset : offset+2])
		vector[i] = float64(raw)/math.MaxUint16*2 - 1
		norm += vector[i] * vector[i]
	}

	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vector {
			vector[i] /= norm
		}
	}
	return vector
}
