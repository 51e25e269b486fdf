package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROD_PROXY_TOKEN", "s3cret")

	writeConfigFile(t, dir, "kuberoot.yaml", `
server:
  port: 9000
clusters:
  prod:
    proxy_url: https://operator.prod.example.com
    token_env: PROD_PROXY_TOKEN
    prometheus:
      url: https://prometheus.prod.example.com
      api_key_env: PROM_API_KEY
    grafana:
      url: https://grafana.prod.example.com
  staging:
    proxy_url: https://operator.staging.example.com
policy:
  recon_mode: false
  web_search_enabled: true
  denied_tools: [delete_namespace]
defaults:
  cluster: prod
limits:
  max_iterations: 4
worker:
  max_concurrent_tasks: 2
`)
	writeConfigFile(t, dir, "llm-providers.yaml", `
llm_providers:
  local-vllm:
    type: openai-compatible
    model: qwen2.5-72b
    base_url: http://vllm.internal:8000/v1
`)
	writeConfigFile(t, dir, "kubeignore", `
# operator noise
kube-system/*
*/Secret/*
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// Server: user port over default host.
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())

	// Clusters.
	prod, err := cfg.GetCluster("prod")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", prod.ProxyToken())
	require.NotNil(t, prod.Prometheus)
	assert.Equal(t, "https://prometheus.prod.example.com", prod.Prometheus.URL)
	assert.Nil(t, prod.Datadog)
	assert.Equal(t, []string{"prod", "staging"}, cfg.ClusterRegistry.Names())
	_, err = cfg.GetCluster("nowhere")
	require.ErrorIs(t, err, ErrClusterNotFound)

	// Policy.
	assert.False(t, cfg.Policy.ReconMode)
	assert.True(t, cfg.Policy.WebSearchEnabled)
	assert.True(t, cfg.Policy.Denied("delete_namespace"))

	// User providers merged over built-ins.
	assert.True(t, cfg.LLMProviderRegistry.Has("local-vllm"))
	assert.True(t, cfg.LLMProviderRegistry.Has("openai-default"))
	provider, err := cfg.DefaultLLMProvider()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, provider.Type)

	// Partial limits merge keeps unset defaults.
	assert.Equal(t, 4, cfg.Limits.MaxIterations)
	assert.Equal(t, 5, cfg.Limits.MaxOwnerDepth)
	assert.Equal(t, 5*time.Minute, cfg.Limits.ApprovalTimeout)
	assert.Equal(t, 2, cfg.Worker.MaxConcurrentTasks)
	assert.Equal(t, 16, cfg.Worker.SubscriberBuffer)

	// Kubeignore.
	assert.True(t, cfg.Kubeignore.Ignored("kube-system", "Pod", "coredns-abc"))
	assert.True(t, cfg.Kubeignore.Ignored("prod", "Secret", "db-creds"))
	assert.False(t, cfg.Kubeignore.Ignored("prod", "Pod", "api-1"))
}

func TestInitialize_MinimalConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "kuberoot.yaml", `
clusters:
  default:
    proxy_url: http://localhost:8090
`)

	// No llm-providers.yaml and no kubeignore: built-ins apply.
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.True(t, cfg.Policy.ReconMode, "recon mode defaults to on")
	assert.Equal(t, "openai-default", cfg.Defaults.LLMProvider)
	assert.Zero(t, cfg.Kubeignore.Len())
	assert.Equal(t, 10, cfg.Limits.MaxIterations)
}

func TestInitialize_MissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConfigNotFound)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "kuberoot.yaml", loadErr.File)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "kuberoot.yaml", "clusters: [not: a: map")

	_, err := Initialize(context.Background(), dir)
	require.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPERATOR_HOST", "operator.internal")

	writeConfigFile(t, dir, "kuberoot.yaml", `
clusters:
  default:
    proxy_url: https://{{.OPERATOR_HOST}}:8443
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	cluster, err := cfg.GetCluster("default")
	require.NoError(t, err)
	assert.Equal(t, "https://operator.internal:8443", cluster.ProxyURL)
}
