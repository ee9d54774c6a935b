// Package models discovers which language models the configured backends
// actually serve, so "модель X" can be checked against something better
// than a hardcoded list.
package models

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"

	"deskmate/pkg/config"
	"deskmate/pkg/providers"
)

// DiscoverResult is the outcome of probing one backend.
type DiscoverResult struct {
	Provider string   `json:"provider"`
	Source   string   `json:"source"`
	Models   []string `json:"models"`
	Warning  string   `json:"warning,omitempty"`
}

// Discover probes every configured backend. A backend that cannot be
// reached degrades to the builtin list with a warning instead of failing
// the whole command.
func Discover(ctx context.Context, cfg *config.Config) []DiscoverResult {
	results := []DiscoverResult{discoverOllama(ctx, cfg)}
	if cfg.Providers.Anthropic.APIKey != "" {
		results = append(results, discoverAnthropic(ctx, cfg))
	}
	return results
}

func discoverOllama(ctx context.Context, cfg *config.Config) DiscoverResult {
	result := DiscoverResult{
		Provider: "ollama",
		Source:   "builtin",
		Models:   builtinFor("ollama"),
	}

	baseURL := cfg.Providers.Ollama.BaseURL
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434/v1"
	}
	apiKey := cfg.Providers.Ollama.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	client := openai.NewClient(
		openaioption.WithBaseURL(baseURL),
		openaioption.WithAPIKey(apiKey),
	)

	var models []string
	pager := client.Models.ListAutoPaging(ctx)
	for pager.Next() {
		if id := strings.TrimSpace(pager.Current().ID); id != "" {
			models = append(models, id)
		}
	}
	if err := pager.Err(); err != nil {
		result.Warning = err.Error()
		return result
	}
	if len(models) == 0 {
		result.Warning = "сервер не вернул ни одной модели"
		return result
	}
	result.Source = "endpoint"
	result.Models = dedupeSorted(models)
	return result
}

func discoverAnthropic(ctx context.Context, cfg *config.Config) DiscoverResult {
	result := DiscoverResult{
		Provider: "anthropic",
		Source:   "builtin",
		Models:   builtinFor("anthropic"),
	}

	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(cfg.Providers.Anthropic.APIKey),
	}
	if baseURL := strings.TrimSpace(cfg.Providers.Anthropic.BaseURL); baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	client := anthropic.NewClient(opts...)

	var models []string
	pager := client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1000),
	})
	for pager.Next() {
		if id := strings.TrimSpace(pager.Current().ID); id != "" {
			models = append(models, id)
		}
	}
	if err := pager.Err(); err != nil {
		result.Warning = err.Error()
		return result
	}
	if len(models) == 0 {
		result.Warning = "эндпоинт вернул пустой список моделей"
		return result
	}
	result.Source = "endpoint"
	result.Models = dedupeSorted(models)
	return result
}

// Known reports whether the model is served by any configured backend,
// falling back to the builtin list when discovery fails.
func Known(ctx context.Context, cfg *config.Config, model string) bool {
	model = strings.TrimSpace(model)
	if model == "" {
		return false
	}
	for _, result := range Discover(ctx, cfg) {
		for _, m := range result.Models {
			if m == model {
				return true
			}
		}
	}
	return false
}

func PrintDiscover(results []DiscoverResult) {
	for _, result := range results {
		fmt.Printf("Provider: %s (%s)\n", result.Provider, result.Source)
		if result.Warning != "" {
			fmt.Printf("  Warning: %s\n", result.Warning)
		}
		for _, m := range result.Models {
			fmt.Printf("  - %s\n", m)
		}
	}
}

func builtinFor(provider string) []string {
	var models []string
	for _, m := range providers.KnownModels() {
		if providers.ResolveProviderName(m) == provider {
			models = append(models, m)
		}
	}
	return models
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
