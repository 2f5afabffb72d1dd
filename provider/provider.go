package provider

import (
	"context"
	"errors"

	"github.com/jandive/jandive/config"
	openai_provider "github.com/jandive/jandive/provider/openai"
)

// Provider is the text-completion oracle. Implementations are stateless
// between calls; the session cache serializes access.
type Provider interface {
	Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// NewProvider creates an oracle client from config. The "openai" provider
// speaks the chat-completions protocol, which local llama.cpp and vLLM
// servers also expose.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return openai_provider.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	default:
		return nil, errors.New("unsupported LLM provider: " + cfg.Provider)
	}
}
