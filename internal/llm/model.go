package llm

import (
	"fmt"
	"qgen-backend/internal/config"
)

// NewModel builds the backend named by cfg.Provider.
func NewModel(cfg config.LLMConfig) (Model, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg.Model, cfg.BaseURL, cfg.APIKey), nil
	case "langchain":
		return NewLangChain(cfg.Model, cfg.BaseURL, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider '%s'", cfg.Provider)
	}
}

// NewClientFromConfig wires the configured backend with the configured timeout and retries.
func NewClientFromConfig(cfg config.LLMConfig) (*Client, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(model, WithTimeout(cfg.Timeout), WithMaxRetries(cfg.MaxRetries)), nil
}
