package openrouter

import (
	"fmt"
	"strings"
)

const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel      = "openai/gpt-4o-mini"
)

// Provider describes an OpenAI-compatible chat completion endpoint.
type Provider struct {
	Name         string
	BaseURL      string
	APIKeyEnv    string
	DefaultModel string
}

var providers = map[string]Provider{
	"openrouter": {Name: "openrouter", BaseURL: OpenRouterBaseURL, APIKeyEnv: "OPENROUTER_API_KEY", DefaultModel: DefaultModel},
	"openai":     {Name: "openai", BaseURL: "https://api.openai.com/v1/chat/completions", APIKeyEnv: "OPENAI_API_KEY", DefaultModel: "gpt-4o-mini"},
	"groq":       {Name: "groq", BaseURL: "https://api.groq.com/openai/v1/chat/completions", APIKeyEnv: "GROQ_API_KEY", DefaultModel: "llama-3.1-70b-versatile"},
	"cerebras":   {Name: "cerebras", BaseURL: "https://api.cerebras.ai/v1/chat/completions", APIKeyEnv: "CEREBRAS_API_KEY", DefaultModel: "llama-3.3-70b"},
}

// LookupProvider returns the preset for name (case-insensitive).
func LookupProvider(name string) (Provider, error) {
	p, ok := providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Provider{}, fmt.Errorf("unsupported chat provider: %s", name)
	}
	return p, nil
}

// NewFromProvider builds a client preconfigured for a provider preset.
func NewFromProvider(name string) (*Client, error) {
	p, err := LookupProvider(name)
	if err != nil {
		return nil, err
	}
	return &Client{
		Model:     p.DefaultModel,
		BaseURL:   p.BaseURL,
		APIKeyEnv: p.APIKeyEnv,
	}, nil
}
