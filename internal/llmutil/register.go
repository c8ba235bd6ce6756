// Package llmutil wires the built-in provider constructors into a factory.
package llmutil

import (
	"github.com/efebarandurmaz/repoqa/internal/llm"
	"github.com/efebarandurmaz/repoqa/internal/llm/anthropic"
	"github.com/efebarandurmaz/repoqa/internal/llm/local"
	"github.com/efebarandurmaz/repoqa/internal/llm/openai"
)

// RegisterDefaultProviders registers all built-in provider constructors
// (anthropic, openai, local, and all OpenAI-compatible presets) into factory.
// Every cobra subcommand builds its providers through this.
func RegisterDefaultProviders(factory *llm.ProviderFactory) {
	factory.Register("anthropic", func(c llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(c.APIKey, c.Model, c.BaseURL, c.Timeout), nil
	})
	factory.Register("local", func(c llm.ProviderConfig) (llm.Provider, error) {
		return local.New(c.Dimensions), nil
	})
	// OpenAI and all OpenAI-compatible providers
	for _, p := range []struct{ name, url string }{
		{"openai", llm.KnownProviders["openai"]},
		{"groq", llm.KnownProviders["groq"]},
		{"huggingface", llm.KnownProviders["huggingface"]},
		{"ollama", llm.KnownProviders["ollama"]},
		{"together", llm.KnownProviders["together"]},
		{"deepseek", llm.KnownProviders["deepseek"]},
		{"custom", ""},
	} {
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return openai.New(openai.Options{
				Name:       p.name,
				APIKey:     c.APIKey,
				Model:      c.Model,
				BaseURL:    base,
				EmbedModel: c.EmbedModel,
				Dimensions: c.Dimensions,
				Timeout:    c.Timeout,
			}), nil
		})
	}
}
