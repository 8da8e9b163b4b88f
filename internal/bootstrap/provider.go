package bootstrap

import (
	"fmt"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/llm"
	"salesops-backend/internal/llm/langchain"
	openai "salesops-backend/internal/llm/openai"
	"salesops-backend/internal/shared/config"
)

// Provider names accepted in LLM_PROVIDER.
const (
	ProviderPlaceholder = "placeholder"
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderOllama      = "ollama"
	// ProviderLangchainOpenAI routes OpenAI through langchaingo instead of
	// the direct Chat Completions client.
	ProviderLangchainOpenAI = "langchain-openai"
)

// NewProvider selects the model provider from configuration.
func NewProvider(cfg config.Config) (agent.Provider, error) {
	switch cfg.LLMProvider {
	case "", ProviderPlaceholder:
		return llm.Placeholder{}, nil
	case ProviderOpenAI:
		client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, openai.WithBaseURL(cfg.OpenAIBaseURL))
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderAnthropic, ProviderOllama, ProviderLangchainOpenAI:
		backend := cfg.LLMProvider
		if backend == ProviderLangchainOpenAI {
			backend = langchain.BackendOpenAI
		}
		if cfg.LLMModel == "" {
			return nil, fmt.Errorf("LLM_MODEL is required for %s", cfg.LLMProvider)
		}
		p, err := langchain.New(langchain.Options{
			Backend:         backend,
			Model:           cfg.LLMModel,
			OpenAIAPIKey:    cfg.OpenAIAPIKey,
			OpenAIBaseURL:   cfg.OpenAIBaseURL,
			AnthropicAPIKey: cfg.AnthropicAPIKey,
			OllamaHost:      cfg.OllamaHost,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER: %s", cfg.LLMProvider)
	}
}
