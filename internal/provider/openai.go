package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider for any OpenAI-compatible API
// (OpenAI, Azure, Ollama, vLLM, Groq, Together, OVH, etc.).
type OpenAIProvider struct {
	id     string
	models []ModelInfo
	client *openai.Client
}

type OpenAIOption func(*openai.ClientConfig)

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(cfg *openai.ClientConfig) { cfg.HTTPClient = c }
}

// NewOpenAIProvider creates a provider for any OpenAI-compatible endpoint.
func NewOpenAIProvider(id, baseURL, apiKey string, models []ModelInfo, opts ...OpenAIOption) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	return &OpenAIProvider{
		id:     id,
		models: models,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (p *OpenAIProvider) ID() string { return p.id }

func (p *OpenAIProvider) Models() []ModelInfo { return p.models }

func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	oreq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		oreq.Temperature = float32(*req.Temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		var (
			apiErr *openai.APIError
			reqErr *openai.RequestError
		)
		switch {
		case errors.As(err, &apiErr):
			return nil, &APIError{Provider: p.id, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
		case errors.As(err, &reqErr):
			return nil, &APIError{Provider: p.id, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
		}
		return nil, fmt.Errorf("%s: %w", p.id, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response", p.id)
	}

	return &CompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
