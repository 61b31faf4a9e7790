package providers

import (
	"fmt"
	"strings"

	"github.com/calbot/calbot/pkg/config"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"

	defaultOpenAIAPIBase     = "https://api.openai.com/v1"
	defaultOpenAIModel       = "gpt-5-mini"
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-5-mini"
)

// NewProvider builds the completion port named by cfg.Assistant.Provider.
func NewProvider(cfg *config.Config) (LLMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch strings.TrimSpace(strings.ToLower(cfg.Assistant.Provider)) {
	case ProviderOpenAI, "":
		apiBase := strings.TrimSpace(cfg.Providers.OpenAI.APIBase)
		if apiBase == "" {
			apiBase = defaultOpenAIAPIBase
		}
		return newChatCompletionsProvider(
			ProviderOpenAI,
			apiBase,
			defaultOpenAIModel,
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Proxy,
			nil,
		)
	case ProviderOpenRouter:
		apiBase := strings.TrimSpace(cfg.Providers.OpenRouter.APIBase)
		if apiBase == "" {
			apiBase = defaultOpenRouterAPIBase
		}
		return newChatCompletionsProvider(
			ProviderOpenRouter,
			apiBase,
			defaultOpenRouterModel,
			cfg.Providers.OpenRouter.APIKey,
			cfg.Providers.OpenRouter.Proxy,
			map[string]string{
				"HTTP-Referer": "https://github.com/calbot/calbot",
				"X-Title":      "calbot",
			},
		)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Assistant.Provider)
	}
}
