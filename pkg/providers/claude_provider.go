package providers

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"deskmate/pkg/transport"
)

// ClaudeProvider serves claude-* models over the Anthropic Messages API.
type ClaudeProvider struct {
	client *anthropic.Client
}

func NewClaudeProvider(apiKey string) *ClaudeProvider {
	// The hosted API sits behind a bot fence that rejects the default Go
	// TLS fingerprint, so requests go out through the Chrome-shaped
	// transport.
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(transport.NewProviderClient()),
	)
	return &ClaudeProvider{client: &client}
}

func (p *ClaudeProvider) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if model == "" {
		model = p.GetDefaultModel()
	}

	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  turns,
		MaxTokens: 1024,
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: claude chat (%s): %v", ErrUnavailable, model, err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.AsText().Text
		}
	}
	if content == "" {
		return "", fmt.Errorf("%w: claude returned no text content", ErrUnavailable)
	}
	return content, nil
}

func (p *ClaudeProvider) GetDefaultModel() string {
	return "claude-haiku-4-5-20251001"
}
