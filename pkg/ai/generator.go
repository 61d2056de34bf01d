package ai

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Groq and other OpenAI-compatible APIs, Ollama, Gemini)
// implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string, opts ...Option) (string, error)
}

// Options tune a single generation call. Zero values leave the provider default.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Option mutates Options.
type Option func(*Options)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

func collect(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Config selects and configures a provider.
type Config struct {
	Provider string // groq, openai, ollama, gemini
	BaseURL  string
	APIKey   string
	Model    string
}

// DefaultGroqBaseURL is the OpenAI-compatible Groq endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// DefaultGroqModel is used when no model is configured for Groq.
const DefaultGroqModel = "llama-3.1-8b-instant"

// New builds the TextGenerator named by cfg.Provider.
func New(cfg Config) (TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "groq":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("groq api key required")
		}
		baseURL := cfg.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = DefaultGroqBaseURL
		}
		model := cfg.Model
		if strings.TrimSpace(model) == "" {
			model = DefaultGroqModel
		}
		return NewOpenAICompatGenerator(baseURL, cfg.APIKey, model), nil
	case "openai", "openai-compat":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("openai-compat base URL required")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "ollama":
		return NewOllamaGenerator(cfg.BaseURL, cfg.Model), nil
	case "gemini":
		return NewGeminiGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
