package config

// mergeLLMProviders merges built-in and user-defined LLM provider
// configurations. User-defined providers override built-in providers
// with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig)

	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}
	return result
}

// mergeClusters copies user-defined clusters into registry form. There
// are no built-in clusters; the helper exists to give each entry its
// own allocation.
func mergeClusters(userClusters map[string]ClusterConfig) map[string]*ClusterConfig {
	result := make(map[string]*ClusterConfig, len(userClusters))
	for name, cluster := range userClusters {
		clusterCopy := cluster
		result[name] = &clusterCopy
	}
	return result
}
