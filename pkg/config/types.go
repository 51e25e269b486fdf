package config

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IntegrationConfig is one observability integration endpoint attached
// to a cluster (Prometheus, Grafana, Datadog, ArgoCD, Alertmanager).
type IntegrationConfig struct {
	URL string `yaml:"url"`

	// APIKeyEnv names the environment variable holding the credential.
	// The key itself never appears in YAML.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// AppKeyEnv is the second credential some providers need (Datadog).
	AppKeyEnv string `yaml:"app_key_env,omitempty"`
}

// APIKey resolves the credential from the environment.
func (i *IntegrationConfig) APIKey() string {
	if i == nil || i.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(i.APIKeyEnv)
}

// ClusterConfig describes one cluster context: the operator proxy
// endpoint plus per-cluster integration credentials.
type ClusterConfig struct {
	// ProxyURL is the base URL of the cluster-scoped operator proxy.
	ProxyURL string `yaml:"proxy_url"`

	// TokenEnv names the environment variable holding the proxy bearer
	// token. Empty means unauthenticated in-cluster access.
	TokenEnv string `yaml:"token_env,omitempty"`

	Prometheus   *IntegrationConfig `yaml:"prometheus,omitempty"`
	Grafana      *IntegrationConfig `yaml:"grafana,omitempty"`
	Datadog      *IntegrationConfig `yaml:"datadog,omitempty"`
	ArgoCD       *IntegrationConfig `yaml:"argocd,omitempty"`
	Alertmanager *IntegrationConfig `yaml:"alertmanager,omitempty"`
}

// ProxyToken resolves the proxy bearer token from the environment.
func (c *ClusterConfig) ProxyToken() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// ClusterRegistry stores cluster configurations in memory with
// thread-safe access.
type ClusterRegistry struct {
	clusters map[string]*ClusterConfig
	mu       sync.RWMutex
}

// NewClusterRegistry creates a cluster registry.
func NewClusterRegistry(clusters map[string]*ClusterConfig) *ClusterRegistry {
	copied := make(map[string]*ClusterConfig, len(clusters))
	for name, cluster := range clusters {
		copied[name] = cluster
	}
	return &ClusterRegistry{clusters: copied}
}

// Get retrieves a cluster configuration by context name.
func (r *ClusterRegistry) Get(name string) (*ClusterConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cluster, exists := r.clusters[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	return cluster, nil
}

// Has checks whether a cluster context is configured.
func (r *ClusterRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.clusters[name]
	return exists
}

// Names returns the configured cluster context names, sorted.
func (r *ClusterRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clusters))
	for name := range r.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of configured clusters.
func (r *ClusterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clusters)
}
