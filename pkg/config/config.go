// Package config loads and validates the kuberoot YAML configuration:
// the HTTP server, per-cluster integration credentials, the tool
// policy, execution limits, the kubeignore filter, and LLM providers.
package config

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the application.
type Config struct {
	configDir string

	// HTTP listener settings
	Server *ServerConfig

	// System-wide defaults
	Defaults *Defaults

	// Agent execution limits
	Limits *AgentLimits

	// Investigation worker pool settings
	Worker *WorkerConfig

	// Background purge of finished work
	Retention *RetentionConfig

	// Process-wide tool policy
	Policy *PolicyContext

	// Resource ignore filter
	Kubeignore *Kubeignore

	// Component registries
	ClusterRegistry     *ClusterRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Clusters           int
	LLMProviders       int
	KubeignorePatterns int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.ClusterRegistry != nil {
		s.Clusters = c.ClusterRegistry.Len()
	}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	s.KubeignorePatterns = c.Kubeignore.Len()
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetCluster retrieves a cluster configuration by context name.
// This is a convenience method that wraps ClusterRegistry.Get().
func (c *Config) GetCluster(name string) (*ClusterConfig, error) {
	return c.ClusterRegistry.Get(name)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// DefaultLLMProvider returns the configured default provider entry.
func (c *Config) DefaultLLMProvider() (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(c.Defaults.LLMProvider)
}
