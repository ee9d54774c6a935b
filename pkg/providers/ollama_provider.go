package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OllamaProvider talks to a local Ollama daemon through its
// OpenAI-compatible endpoint (http://127.0.0.1:11434/v1 by default).
type OllamaProvider struct {
	client *openai.Client
}

func NewOllamaProvider(baseURL, apiKey string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434/v1"
	}
	if apiKey == "" {
		// Ollama ignores the key but the SDK requires one.
		apiKey = "ollama"
	}
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	return &OllamaProvider{client: &client}
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if model == "" {
		model = p.GetDefaultModel()
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: translateMessages(messages),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: ollama chat (%s): %v", ErrUnavailable, model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: ollama returned no choices", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OllamaProvider) GetDefaultModel() string {
	return "llama3.1:8b"
}

func translateMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
