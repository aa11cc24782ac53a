package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. The first entry per provider is
// that provider's default model.
var Models = []ModelInfo{
	// OpenAI
	{ID: "gpt-4o", Provider: ProviderOpenAI, DisplayName: "GPT-4o", ContextWindow: 128000, SupportsTools: true, Aliases: []string{"4o"}},
	{ID: "gpt-4o-mini", Provider: ProviderOpenAI, DisplayName: "GPT-4o Mini", ContextWindow: 128000, SupportsTools: true, Aliases: []string{"4o-mini"}},

	// OpenRouter
	{ID: "openai/gpt-4o-mini", Provider: ProviderOpenRouter, DisplayName: "GPT-4o Mini (OpenRouter)", ContextWindow: 128000, SupportsTools: true},
	{ID: "anthropic/claude-sonnet-4.5", Provider: ProviderOpenRouter, DisplayName: "Claude Sonnet 4.5 (OpenRouter)", ContextWindow: 200000, SupportsTools: true},

	// Z.ai GLM
	{ID: "glm-4.6", Provider: ProviderGLM, DisplayName: "GLM-4.6", ContextWindow: 200000, SupportsTools: true, Aliases: []string{"glm"}},
	{ID: "glm-4.5-air", Provider: ProviderGLM, DisplayName: "GLM-4.5 Air", ContextWindow: 128000, SupportsTools: true},

	// Anthropic
	{ID: "claude-sonnet-4-5", Provider: ProviderAnthropic, DisplayName: "Claude Sonnet 4.5", ContextWindow: 200000, SupportsTools: true, Aliases: []string{"sonnet"}},

	// Ollama
	{ID: "llama3.1", Provider: ProviderOllama, DisplayName: "Llama 3.1 (local)", ContextWindow: 128000, SupportsTools: false},
	{ID: "qwen2.5", Provider: ProviderOllama, DisplayName: "Qwen 2.5 (local)", ContextWindow: 32768, SupportsTools: false},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// DefaultModel returns the default model id for a provider kind, or "" if
// the provider is unknown.
func DefaultModel(provider string) string {
	for _, m := range Models {
		if m.Provider == CanonicalProvider(provider) {
			return m.ID
		}
	}
	return ""
}
