// Package azure provides an LLM provider backed by an Azure OpenAI
// deployment.
//
// Azure OpenAI is the default backend for clinical note generation because
// deployments can be pinned to EU regions, which keeps transcript content
// inside EU data residency boundaries.
package azure

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	oaiazure "github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/evanote/evanote/pkg/llm"
)

// DefaultAPIVersion is the Azure OpenAI API version used when none is
// configured.
const DefaultAPIVersion = "2024-10-21"

// Compile-time assertion that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the Azure OpenAI API.
type Provider struct {
	client     oai.Client
	deployment string
}

// config holds optional configuration for the provider.
type config struct {
	apiVersion string
	timeout    time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIVersion overrides [DefaultAPIVersion].
func WithAPIVersion(v string) Option {
	return func(c *config) {
		c.apiVersion = v
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Provider for one Azure OpenAI deployment.
//
// endpoint is the resource endpoint, e.g.
// "https://my-resource.openai.azure.com". deployment is the deployment name,
// which doubles as the model identifier on Azure.
func New(endpoint, apiKey, deployment string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("azure: endpoint must not be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("azure: apiKey must not be empty")
	}
	if deployment == "" {
		return nil, fmt.Errorf("azure: deployment must not be empty")
	}

	cfg := &config{apiVersion: DefaultAPIVersion}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		oaiazure.WithEndpoint(endpoint, cfg.apiVersion),
		oaiazure.WithAPIKey(apiKey),
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, deployment: deployment}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("azure: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("azure: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("azure: empty choices in response")
	}

	return &llm.Response{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// CountTokens implements llm.Provider.
// TODO: replace with tiktoken-go for accurate per-model token counting.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		// ~4 chars per token is a rough GPT-series approximation.
		total += (len(m.Content) + 3) / 4
		// Add overhead per message (role + formatting).
		total += 4
	}
	return total, nil
}

// buildParams converts a Request into OpenAI SDK params.
func (p *Provider) buildParams(req llm.Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "user":
			messages = append(messages, oai.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("unknown message role %q", m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.deployment),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}
