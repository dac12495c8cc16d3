package llm

import (
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatproxy/internal/config"
)

const (
	ProviderResponses       = "responses"
	ProviderChatCompletions = "chat_completions"
)

// NewClient creates the completion client selected by cfg.Provider.
func NewClient(cfg config.LLMConfig) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case "", ProviderResponses:
		return NewResponsesClient(cfg.BaseURL, cfg.APIKey, cfg.Model, httpClient), nil
	case ProviderChatCompletions:
		config := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
		config.HTTPClient = httpClient
		return NewChatClient(openai.NewClientWithConfig(config), cfg.Model), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q (want %q or %q)", cfg.Provider, ProviderResponses, ProviderChatCompletions)
	}
}
