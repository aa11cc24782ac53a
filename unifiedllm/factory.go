package unifiedllm

import (
	"fmt"
	"os"
	"strings"
)

// Provider kinds selectable by configuration.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGLM        = "glm"
	ProviderAnthropic  = "anthropic"
	ProviderOllama     = "ollama"
)

// Default endpoints for the OpenAI-compatible variants and Ollama.
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	GLMBaseURL        = "https://api.z.ai/api/paas/v4"
	OllamaBaseURL     = "http://localhost:11434"
)

// ProviderConfig selects and configures one provider variant.
type ProviderConfig struct {
	Kind        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// apiKeyEnv lists, per provider kind, the environment variables consulted
// for an API key, in priority order.
var apiKeyEnv = map[string][]string{
	ProviderOpenAI:     {"OPENAI_API_KEY", "DINOE_OPENAI_API_KEY"},
	ProviderOpenRouter: {"OPENROUTER_API_KEY", "DINOE_OPENROUTER_API_KEY"},
	ProviderGLM:        {"ZAI_API_KEY", "GLM_API_KEY", "DINOE_ZAI_API_KEY", "DINOE_GLM_API_KEY"},
	ProviderAnthropic:  {"ANTHROPIC_API_KEY", "DINOE_ANTHROPIC_API_KEY"},
}

// CanonicalProvider folds provider aliases (zai, claude, ...) onto their kind.
func CanonicalProvider(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	switch kind {
	case "zai", "z.ai", "zhipu":
		return ProviderGLM
	case "claude":
		return ProviderAnthropic
	}
	return kind
}

// ResolveAPIKey returns the API key for a provider kind. Environment
// variables take precedence over the configured key. Providers that need no
// key return "".
func ResolveAPIKey(kind, configured string) (string, error) {
	kind = CanonicalProvider(kind)
	vars, keyed := apiKeyEnv[kind]
	if !keyed {
		return configured, nil
	}
	for _, name := range vars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	if strings.TrimSpace(configured) != "" {
		return configured, nil
	}
	return "", &ConfigurationError{SDKError: SDKError{
		Message: fmt.Sprintf("no API key for provider %q: set %s or api_key in the config file", kind, strings.Join(vars, " or ")),
	}}
}

// NewAdapter builds the provider variant named by cfg.Kind.
func NewAdapter(cfg ProviderConfig) (ProviderAdapter, error) {
	kind := CanonicalProvider(cfg.Kind)
	apiKey, err := ResolveAPIKey(kind, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel(kind)
	}

	switch kind {
	case ProviderOpenAI:
		return NewOpenAIAdapter(kind, apiKey, orDefault(cfg.BaseURL, OpenAIBaseURL), model), nil
	case ProviderOpenRouter:
		return NewOpenAIAdapter(kind, apiKey, orDefault(cfg.BaseURL, OpenRouterBaseURL), model,
			WithHeader("HTTP-Referer", "https://github.com/mavec-ai/dinoe"),
			WithHeader("X-Title", "Dinoe"),
		), nil
	case ProviderGLM:
		return NewOpenAIAdapter(kind, apiKey, orDefault(cfg.BaseURL, GLMBaseURL), model,
			WithGLMSigning(apiKey),
		), nil
	case ProviderAnthropic:
		return NewAnthropicAdapter(apiKey, model, cfg.BaseURL), nil
	case ProviderOllama:
		opts := []GollmAdapterOption{WithEndpoint(orDefault(cfg.BaseURL, OllamaBaseURL))}
		if cfg.Temperature > 0 {
			opts = append(opts, WithTemperature(cfg.Temperature))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, WithMaxTokens(cfg.MaxTokens))
		}
		return NewGollmAdapter(kind, model, opts...)
	default:
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("unknown provider %q (expected openai, openrouter, glm, anthropic or ollama)", cfg.Kind),
		}}
	}
}

// NewClientFromConfig builds a Client around the configured provider with
// the default retry policy installed.
func NewClientFromConfig(cfg ProviderConfig, opts ...ClientOption) (*Client, error) {
	adapter, err := NewAdapter(cfg)
	if err != nil {
		return nil, err
	}
	all := append([]ClientOption{
		WithProvider(adapter.Name(), adapter),
		WithDefaultProvider(adapter.Name()),
		WithRetry(DefaultRetryPolicy()),
	}, opts...)
	return NewClient(all...), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
