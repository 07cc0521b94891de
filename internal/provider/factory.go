// Package provider implements model backends behind pkg/llm.
package provider

import (
	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/pkg/llm"
)

// Config holds provider configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient HTTPClient
}

// ConfigOption modifies provider configuration.
type ConfigOption func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL sets the base URL.
func WithBaseURL(url string) ConfigOption {
	return func(c *Config) { c.BaseURL = url }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client HTTPClient) ConfigOption {
	return func(c *Config) { c.HTTPClient = client }
}

// NewRegistry wires the Gemini backend for every gemini-* model.
// Without options the key and base URL come from the environment.
func NewRegistry(opts ...ConfigOption) *llm.Registry {
	env := config.Env()
	cfg := Config{
		APIKey:  env.GeminiKey,
		BaseURL: env.GeminiBaseURL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := llm.NewRegistry()
	reg.Register("gemini", NewGoogleWithClient(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient))
	return reg
}
