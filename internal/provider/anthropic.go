package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/flowpilot/flowpilot/internal/httpclient"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicMessagesPath   = "/v1/messages"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	id      string
	baseURL string
	apiKey  string
	models  []ModelInfo
	client  *httpclient.Client
}

type AnthropicOption func(*AnthropicProvider)

// WithAnthropicHTTPClient sets the outbound client, so calls are logged
// with the rest of the integration traffic.
func WithAnthropicHTTPClient(c *httpclient.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

func NewAnthropicProvider(id, baseURL, apiKey string, models []ModelInfo, opts ...AnthropicOption) *AnthropicProvider {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	p := &AnthropicProvider{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		models:  models,
	}
	for _, o := range opts {
		o(p)
	}
	if p.client == nil {
		p.client = httpclient.New(httpclient.Config{Timeout: 120 * time.Second, UserAgent: "flowpilot"})
	}
	return p
}

func (p *AnthropicProvider) ID() string { return p.id }

func (p *AnthropicProvider) Models() []ModelInfo { return p.models }

// -- Anthropic wire types --

type anthRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []anthMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Model   string             `json:"model"`
	Content []anthContentBlock `json:"content"`
	Usage   anthUsage          `json:"usage"`
	Error   *anthError         `json:"error,omitempty"`
}

type anthContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	var out anthResponse
	_, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    p.baseURL + anthropicMessagesPath,
		Headers: map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": anthropicAPIVersion,
		},
		Body:   p.toAnthRequest(req),
		Result: &out,
	})
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return nil, &APIError{Provider: p.id, StatusCode: se.StatusCode, Message: se.Body, Err: err}
		}
		return nil, err
	}
	if out.Error != nil {
		return nil, &APIError{Provider: p.id, StatusCode: http.StatusOK, Message: out.Error.Type + ": " + out.Error.Message}
	}

	return &CompletionResponse{
		ID:      out.ID,
		Model:   out.Model,
		Content: extractText(out.Content),
		Usage: Usage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
		},
	}, nil
}

func (p *AnthropicProvider) toAnthRequest(req *CompletionRequest) anthRequest {
	var system []string
	msgs := make([]anthMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, anthMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return anthRequest{
		Model:       req.Model,
		System:      strings.Join(system, "\n\n"),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
}

func extractText(blocks []anthContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
