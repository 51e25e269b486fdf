package config

import (
	"fmt"
	"sort"
	"sync"
)

// LLMProviderType identifies the backing provider implementation.
type LLMProviderType string

const (
	ProviderOpenAI LLMProviderType = "openai"

	// ProviderOpenAICompatible covers self-hosted endpoints speaking the
	// OpenAI wire protocol (vLLM, Ollama's compat mode, gateways).
	ProviderOpenAICompatible LLMProviderType = "openai-compatible"
)

// Valid reports whether the provider type is known.
func (t LLMProviderType) Valid() bool {
	switch t {
	case ProviderOpenAI, ProviderOpenAICompatible:
		return true
	}
	return false
}

// LLMProviderConfig defines one LLM provider entry from llm-providers.yaml.
type LLMProviderConfig struct {
	// Provider type (required)
	Type LLMProviderType `yaml:"type"`

	// Model name (required)
	Model string `yaml:"model"`

	// Environment variable name for the API key
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint/base URL (required for openai-compatible)
	BaseURL string `yaml:"base_url,omitempty"`

	// Hard cap on tokens the model may produce per call. Zero means
	// provider default.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Sampling temperature. Structured calls always run at 0 regardless.
	Temperature float64 `yaml:"temperature,omitempty"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// LLMProviderRegistry stores LLM provider configurations in memory with
// thread-safe access.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a new LLM provider registry.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for name, provider := range providers {
		copied[name] = provider
	}
	return &LLMProviderRegistry{providers: copied}
}

// Get retrieves an LLM provider configuration by name.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// Has checks whether a provider exists in the registry.
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.providers[name]
	return exists
}

// Names returns the configured provider names, sorted.
func (r *LLMProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of providers in the registry.
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
