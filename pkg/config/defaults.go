package config

// Defaults contains system-wide default settings used when specific
// components do not specify their own values.
type Defaults struct {
	// LLMProvider names the llm-providers.yaml entry used by all agents
	// unless overridden per call site.
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// Cluster is the cluster context assumed when a request does not
	// name one.
	Cluster string `yaml:"cluster,omitempty"`
}
