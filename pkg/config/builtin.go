package config

// BuiltinConfig holds configuration that ships with the binary. User
// YAML overrides entries with the same name.
type BuiltinConfig struct {
	LLMProviders       map[string]LLMProviderConfig
	DefaultLLMProvider string
}

// GetBuiltinConfig returns the built-in configuration.
func GetBuiltinConfig() *BuiltinConfig {
	return &BuiltinConfig{
		LLMProviders: map[string]LLMProviderConfig{
			"openai-default": {
				Type:      ProviderOpenAI,
				Model:     "gpt-4.1",
				APIKeyEnv: "OPENAI_API_KEY",
				MaxTokens: 8192,
			},
			"openai-mini": {
				Type:      ProviderOpenAI,
				Model:     "gpt-4.1-mini",
				APIKeyEnv: "OPENAI_API_KEY",
				MaxTokens: 4096,
			},
		},
		DefaultLLMProvider: "openai-default",
	}
}
