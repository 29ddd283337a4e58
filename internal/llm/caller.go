package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const systemPrompt = "You are a wine research assistant for a restaurant wine-list scanner. You identify wines, estimate retail prices and report published critic scores conservatively. Never invent facts; use null when unsure. Return strict JSON only."

const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
)

const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultGeminiModel    = "gemini-1.5-flash"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultMaxTokens      = 2048

	DefaultWebSearchMaxUses = 5
)

// Caller sends one prompt and returns the raw model text, which is expected
// to be a JSON document.
type Caller interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

type Config struct {
	Provider  string `yaml:"provider" toml:"provider"`
	Model     string `yaml:"model" toml:"model"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens"`

	// WebSearchMaxUses caps server-side web searches per request. Zero means
	// DefaultWebSearchMaxUses; negative disables search. Only Anthropic
	// supports it.
	WebSearchMaxUses int `yaml:"web_search_max_uses" toml:"web_search_max_uses"`
}

// Grounded reports whether c answers with live web search behind it.
func Grounded(c any) bool {
	g, ok := c.(interface{ Grounded() bool })
	return ok && g.Grounded()
}

// NewCaller builds the Caller for cfg.Provider. An empty provider means
// Anthropic.
func NewCaller(ctx context.Context, cfg Config) (Caller, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm api key not configured")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderAnthropic, "claude":
		return NewAnthropicCaller(cfg), nil
	case ProviderGemini:
		return NewGeminiCaller(ctx, cfg)
	case ProviderOpenAI, "ollama":
		return NewOpenAICaller(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

func modelOrDefault(model, def string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return def
}
