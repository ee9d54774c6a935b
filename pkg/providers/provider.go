// Package providers isolates the language-model backend behind a narrow
// request/response interface. Everything downstream operates on typed task
// descriptors only; model variance never leaks past the intent inferencer.
package providers

import (
	"context"
	"errors"
	"strings"

	"deskmate/pkg/config"
)

// ErrUnavailable wraps any backend failure so callers can collapse all of
// them into the inference-unavailable fallback path.
var ErrUnavailable = errors.New("language model backend unavailable")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the black-box text completion service. Implementations must
// return ErrUnavailable-wrapped errors on transport or protocol failures.
type Provider interface {
	Chat(ctx context.Context, messages []Message, model string) (string, error)
	GetDefaultModel() string
}

// Complete sends a single prompt and returns the raw completion text.
func Complete(ctx context.Context, p Provider, prompt, model string) (string, error) {
	return p.Chat(ctx, []Message{{Role: "user", Content: prompt}}, model)
}

// ResolveProviderName maps a model string to the provider that serves it.
func ResolveProviderName(model string) string {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "claude") || strings.HasPrefix(lower, "anthropic/") {
		return "anthropic"
	}
	return "ollama"
}

// Router dispatches chat calls to the provider owning the requested model,
// so a session can switch between local and hosted models mid-dialog.
type Router struct {
	ollama    Provider
	anthropic Provider
	fallback  string
}

func NewRouter(cfg *config.Config) *Router {
	r := &Router{
		ollama:   NewOllamaProvider(cfg.Providers.Ollama.BaseURL, cfg.Providers.Ollama.APIKey),
		fallback: cfg.Agent.Model,
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		r.anthropic = NewClaudeProvider(cfg.Providers.Anthropic.APIKey)
	}
	return r
}

func (r *Router) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if model == "" {
		model = r.fallback
	}
	if ResolveProviderName(model) == "anthropic" {
		if r.anthropic == nil {
			return "", errors.Join(ErrUnavailable, errors.New("anthropic provider not configured"))
		}
		return r.anthropic.Chat(ctx, messages, model)
	}
	return r.ollama.Chat(ctx, messages, model)
}

func (r *Router) GetDefaultModel() string {
	return r.fallback
}

// KnownModels lists models the select-model command accepts without
// complaint. Anything else is passed through to the backend as-is.
func KnownModels() []string {
	return []string{
		"llama3.1:8b",
		"qwen2:7b",
		"claude-haiku-4-5-20251001",
		"claude-sonnet-4-5-20250929",
	}
}
