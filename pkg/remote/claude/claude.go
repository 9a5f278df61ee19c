// Package claude streams messages from the Anthropic API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/CTAG07/Quill/pkg/generation"
	"github.com/CTAG07/Quill/pkg/remote"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// DefaultModel is used when the Config names no model.
const DefaultModel = "claude-sonnet-4-5-20250929"

// Config holds Claude provider configuration.
type Config struct {
	APIKey       string `json:"api_key" yaml:"api_key"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	Model        string `json:"model" yaml:"model"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// Provider implements generation.RemoteGenerator for Claude.
type Provider struct {
	config Config
	client anthropic.Client
}

// New creates a provider. Requests are never retried.
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = remote.SystemPrompt
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithAuthToken(""),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Generate streams a message for req and hands each text delta to consumer.
// Request models naming another vendor's family (the gpt-4o-mini default of
// generation requests) are replaced by the configured Claude model.
func (p *Provider) Generate(ctx context.Context, req generation.Request, consumer func(text string) error) error {
	model := p.config.Model
	if IsClaudeModel(req.Model) {
		model = req.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		System: []anthropic.TextBlockParam{{Text: p.config.SystemPrompt}},
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = generation.DefaultMaxTokens
	}
	if req.Temperature > 0 {
		// The Messages API accepts temperatures in [0, 1].
		params.Temperature = param.NewOpt(min(req.Temperature, 1))
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}
		delta := event.AsContentBlockDelta().Delta
		if delta.Type == "text_delta" && delta.Text != "" {
			if err := consumer(delta.Text); err != nil {
				return err
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("Claude streaming error: %w", err)
	}
	return nil
}

// IsClaudeModel reports whether model names a Claude model.
func IsClaudeModel(model string) bool {
	return strings.HasPrefix(model, "claude")
}
