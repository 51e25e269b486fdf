package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validator performs comprehensive validation of loaded configuration.
type Validator struct {
	cfg    *Config
	errors []error
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation pass and returns the collected
// errors joined, or nil when the configuration is valid.
func (v *Validator) ValidateAll() error {
	v.validateServer()
	v.validateClusters()
	v.validateLLMProviders()
	v.validateDefaults()
	v.validateLimits()
	v.validateWorker()

	if len(v.errors) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(v.errors...))
}

func (v *Validator) addError(component, id, field string, err error) {
	v.errors = append(v.errors, NewValidationError(component, id, field, err))
}

func (v *Validator) validateServer() {
	if v.cfg.Server.Port <= 0 || v.cfg.Server.Port > 65535 {
		v.addError("server", "server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, v.cfg.Server.Port))
	}
}

func (v *Validator) validateClusters() {
	for _, name := range v.cfg.ClusterRegistry.Names() {
		cluster, _ := v.cfg.ClusterRegistry.Get(name)
		if cluster.ProxyURL == "" {
			v.addError("cluster", name, "proxy_url", ErrMissingRequiredField)
			continue
		}
		if !validURL(cluster.ProxyURL) {
			v.addError("cluster", name, "proxy_url", fmt.Errorf("%w: %s", ErrInvalidValue, cluster.ProxyURL))
		}
		v.validateIntegration(name, "prometheus", cluster.Prometheus)
		v.validateIntegration(name, "grafana", cluster.Grafana)
		v.validateIntegration(name, "datadog", cluster.Datadog)
		v.validateIntegration(name, "argocd", cluster.ArgoCD)
		v.validateIntegration(name, "alertmanager", cluster.Alertmanager)
	}
}

func (v *Validator) validateIntegration(cluster, field string, integration *IntegrationConfig) {
	if integration == nil {
		return
	}
	if integration.URL == "" {
		v.addError("cluster", cluster, field+".url", ErrMissingRequiredField)
		return
	}
	if !validURL(integration.URL) {
		v.addError("cluster", cluster, field+".url", fmt.Errorf("%w: %s", ErrInvalidValue, integration.URL))
	}
}

func (v *Validator) validateLLMProviders() {
	providers := v.cfg.LLMProviderRegistry
	for _, name := range providers.Names() {
		provider, _ := providers.Get(name)
		if !provider.Type.Valid() {
			v.addError("llm_provider", name, "type", fmt.Errorf("%w: %s", ErrInvalidValue, provider.Type))
		}
		if provider.Model == "" {
			v.addError("llm_provider", name, "model", ErrMissingRequiredField)
		}
		if provider.Type == ProviderOpenAICompatible && provider.BaseURL == "" {
			v.addError("llm_provider", name, "base_url", ErrMissingRequiredField)
		}
		if provider.BaseURL != "" && !validURL(provider.BaseURL) {
			v.addError("llm_provider", name, "base_url", fmt.Errorf("%w: %s", ErrInvalidValue, provider.BaseURL))
		}
	}
}

func (v *Validator) validateDefaults() {
	defaults := v.cfg.Defaults
	if defaults.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(defaults.LLMProvider) {
		v.addError("defaults", "defaults", "llm_provider",
			fmt.Errorf("%w: %s", ErrLLMProviderNotFound, defaults.LLMProvider))
	}
	if defaults.Cluster != "" && !v.cfg.ClusterRegistry.Has(defaults.Cluster) {
		v.addError("defaults", "defaults", "cluster",
			fmt.Errorf("%w: %s", ErrClusterNotFound, defaults.Cluster))
	}
}

func (v *Validator) validateLimits() {
	limits := v.cfg.Limits
	if limits.MaxIterations < 1 {
		v.addError("limits", "limits", "max_iterations", fmt.Errorf("%w: %d", ErrInvalidValue, limits.MaxIterations))
	}
	if limits.MaxOwnerDepth < 1 {
		v.addError("limits", "limits", "max_owner_depth", fmt.Errorf("%w: %d", ErrInvalidValue, limits.MaxOwnerDepth))
	}
	if limits.ApprovalTimeout <= 0 {
		v.addError("limits", "limits", "approval_timeout", fmt.Errorf("%w: %s", ErrInvalidValue, limits.ApprovalTimeout))
	}
	if limits.MaxConcurrentAgents < 1 {
		v.addError("limits", "limits", "max_concurrent_agents", fmt.Errorf("%w: %d", ErrInvalidValue, limits.MaxConcurrentAgents))
	}
}

func (v *Validator) validateWorker() {
	worker := v.cfg.Worker
	if worker.MaxConcurrentTasks < 1 {
		v.addError("worker", "worker", "max_concurrent_tasks", fmt.Errorf("%w: %d", ErrInvalidValue, worker.MaxConcurrentTasks))
	}
	if worker.SubscriberBuffer < 1 {
		v.addError("worker", "worker", "subscriber_buffer", fmt.Errorf("%w: %d", ErrInvalidValue, worker.SubscriberBuffer))
	}
}

func validURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
