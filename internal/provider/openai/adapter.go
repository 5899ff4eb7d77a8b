// Package openai provides a domain.ProviderClient for the OpenAI API using the official SDK.
// It converts between domain types and SDK types for chat completions and embeddings.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/observability"
)

const providerName = "openai"

var _ domain.ProviderClient = (*Provider)(nil)

// Provider implements domain.ProviderClient for OpenAI.
type Provider struct {
	client              openai.Client
	name                string
	embeddingDimensions int
}

// NewProvider creates a new OpenAI provider.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}

	if config.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}

	return &Provider{
		client:              openai.NewClient(opts...),
		name:                providerName,
		embeddingDimensions: config.EmbeddingDimensions,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Complete sends a chat completion request and returns the generated text.
func (p *Provider) Complete(
	ctx context.Context,
	model, prompt string,
	params domain.CompletionParams,
) (*domain.Completion, error) {
	if prompt == "" {
		return nil, errors.New("prompt cannot be empty")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling OpenAI chat API")

	resp, err := p.client.Chat.Completions.New(ctx, toChatParams(model, prompt, params))
	if err != nil {
		logger.Error("OpenAI API call failed", observability.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("OpenAI returned no choices")
	}

	logger.Debug("OpenAI API call succeeded",
		observability.Int("prompt_tokens", int(resp.Usage.PromptTokens)),
		observability.Int("completion_tokens", int(resp.Usage.CompletionTokens)),
	)

	return &domain.Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// Embed creates a vector embedding from text.
func (p *Provider) Embed(ctx context.Context, model, text string) (*domain.Embedding, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	resp, err := p.client.Embeddings.New(ctx, p.toEmbeddingParams(model, text))
	if err != nil {
		observability.FromContext(ctx).Error("OpenAI embeddings call failed", observability.Error(err))
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embeddings returned")
	}

	return &domain.Embedding{
		Vector: resp.Data[0].Embedding,
		Tokens: int(resp.Usage.PromptTokens),
	}, nil
}

// toChatParams converts a prompt and domain params to SDK ChatCompletionNewParams.
func toChatParams(model, prompt string, params domain.CompletionParams) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if params.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(params.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	//nolint:exhaustruct // OpenAI SDK struct has many optional fields
	sdkParams := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	if params.Temperature > 0 {
		sdkParams.Temperature = openai.Float(params.Temperature)
	}

	if params.MaxTokens > 0 {
		sdkParams.MaxTokens = openai.Int(int64(params.MaxTokens))
	}

	return sdkParams
}

func (p *Provider) toEmbeddingParams(model, text string) openai.EmbeddingNewParams {
	//nolint:exhaustruct // OpenAI SDK struct has many optional fields
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model: openai.EmbeddingModel(model),
	}

	// Only the v3 models accept a shortened dimension.
	if p.embeddingDimensions > 0 && strings.HasPrefix(model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(p.embeddingDimensions))
	}

	return params
}
