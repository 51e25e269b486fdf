package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/config"
	"github.com/kuberoot/kuberoot/pkg/masking"
)

// proxyFixture serves a minimal operator-proxy surface plus a fake
// Prometheus and Alertmanager on one mux.
func proxyFixture(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/clusters/prod/namespaces/payments/deployments/api", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"Deployment","metadata":{"name":"api","namespace":"payments"},"spec":{"replicas":3}}`))
	})
	mux.HandleFunc("/api/v1/clusters/prod/namespaces/payments/pods", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("labelSelector") != "app=api" {
			http.Error(w, "unexpected selector", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"kind":"Pod","metadata":{"name":"api-1"}}]}`))
	})
	mux.HandleFunc("/api/v1/clusters/prod/namespaces/payments/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"reason":"BackOff","message":"restarting failed container","type":"Warning","count":7,"lastTimestamp":"2026-08-26T10:00:00Z","involvedObject":{"kind":"Pod","name":"api-1","namespace":"payments"}}]}`))
	})
	mux.HandleFunc("/api/v1/clusters/prod/namespaces/payments/pods/api-1/log", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "50", r.URL.Query().Get("tailLines"))
		_, _ = w.Write([]byte("panic: connection refused\ndb password=hunter2pw\n"))
	})
	mux.HandleFunc("/api/v1/clusters/prod/namespaces/payments/secrets/db-creds", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"Secret","apiVersion":"v1","metadata":{"name":"db-creds"},"data":{"password":"RkFLRS1wdw=="}}`))
	})

	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, `up{job="api"}`, r.URL.Query().Get("query"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"result":[{"value":[1756202400,"1"]}]}}`))
	})
	mux.HandleFunc("/api/v2/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"labels":{"alertname":"KubePodCrashLooping"},"status":{"state":"active"}}]`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testExecutor(t *testing.T, srv *httptest.Server) *ToolExecutor {
	t.Helper()

	registry := config.NewClusterRegistry(map[string]*config.ClusterConfig{
		"prod": {
			ProxyURL:     srv.URL,
			Prometheus:   &config.IntegrationConfig{URL: srv.URL},
			Alertmanager: &config.IntegrationConfig{URL: srv.URL},
		},
	})
	masker := masking.NewService(masking.Config{Enabled: true}, nil)
	return NewToolExecutor(registry, "prod", masker, nil, nil)
}

func execute(t *testing.T, e *ToolExecutor, name, arguments string) *agent.ToolResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := e.Execute(ctx, agent.ToolCall{ID: "call-1", Name: name, Arguments: arguments})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "call-1", result.CallID)
	assert.Equal(t, name, result.Name)
	return result
}

func TestExecute_GetResource(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolGetResource,
		`{"kind":"Deployment","name":"api","namespace":"payments"}`)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, `"replicas":3`)
}

func TestExecute_GetResource_NotFound(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolGetResource,
		`{"kind":"Deployment","name":"ghost","namespace":"payments"}`)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content, "not found")
}

func TestExecute_GetResource_MissingArgs(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolGetResource, `{"kind":"Deployment"}`)
	require.True(t, result.IsError)
	assert.Equal(t, agent.KindToolError, result.ErrorKind())
	assert.Contains(t, result.Content, "required")
}

func TestExecute_SecretOutputIsMasked(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolGetResource,
		`{"kind":"Secret","name":"db-creds","namespace":"payments"}`)
	require.False(t, result.IsError, result.Content)
	assert.NotContains(t, result.Content, "RkFLRS1wdw==")
	assert.Contains(t, result.Content, masking.MaskedSecretValue)
}

func TestExecute_ListResources(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolListResources,
		`{"kind":"Pod","namespace":"payments","label_selector":"app=api"}`)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, "api-1")
}

func TestExecute_ResourceEvents(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolGetResourceEvents,
		`{"kind":"Pod","name":"api-1","namespace":"payments"}`)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, "BackOff")
	assert.Contains(t, result.Content, "x7")
}

func TestExecute_DescribeResourceIncludesEvents(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolDescribeResource,
		`{"kind":"Deployment","name":"api","namespace":"payments"}`)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, `"kind":"Deployment"`)
	assert.Contains(t, result.Content, "Recent Warning events")
	assert.Contains(t, result.Content, "restarting failed container")
}

func TestExecute_PodLogs_MasksCredentials(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolGetLogs,
		`{"pod":"api-1","namespace":"payments","tail_lines":50}`)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, "connection refused")
	assert.NotContains(t, result.Content, "hunter2pw")
	assert.Contains(t, result.Content, "[MASKED_PASSWORD]")
}

func TestExecute_QueryPrometheus(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolQueryPrometheus,
		`{"query":"up{job=\"api\"}"}`)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, `"status":"success"`)
}

func TestExecute_AlertmanagerAlerts(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolGetAlerts, `{}`)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, "KubePodCrashLooping")
}

func TestExecute_UnconfiguredToolsReturnToolErrors(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	for _, name := range []string{
		agent.ToolQueryGrafana,
		agent.ToolQueryDatadog,
		agent.ToolListArgoCDApps,
		agent.ToolWebSearch,
	} {
		result := execute(t, e, name, `{}`)
		require.True(t, result.IsError, name)
		assert.Equal(t, agent.KindToolError, result.ErrorKind())
		assert.Contains(t, result.Content, "not configured")
	}
}

func TestExecute_MutatingToolsDisabled(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolDeleteResource,
		`{"kind":"Pod","name":"api-1","namespace":"payments"}`)
	require.True(t, result.IsError)
	assert.Contains(t, result.Content, "read-only")
}

func TestExecute_UnknownCluster(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolGetResource,
		`{"kind":"Pod","name":"api-1","namespace":"payments","cluster":"mars"}`)
	require.True(t, result.IsError)
	assert.Equal(t, agent.KindInvalidRequest, result.ErrorKind())
	assert.Contains(t, result.Content, `"mars"`)
	assert.Contains(t, result.Content, "prod")
}

func TestExecute_MalformedArguments(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	result := execute(t, e, agent.ToolGetResource, `{"kind":`)
	require.True(t, result.IsError)
	assert.Equal(t, agent.KindInvalidRequest, result.ErrorKind())
}

func TestExecute_ContextCancelled(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, agent.ToolCall{
		ID: "call-1", Name: agent.ToolGetResource,
		Arguments: `{"kind":"Deployment","name":"api","namespace":"payments"}`,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestListTools_FullCatalog(t *testing.T) {
	e := testExecutor(t, proxyFixture(t))

	tools, err := e.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, len(agent.ClusterToolCatalog))

	for _, tool := range tools {
		assert.NotEmpty(t, tool.Name)
		assert.NotEmpty(t, tool.Description)
		var schema map[string]any
		require.NoError(t, json.Unmarshal([]byte(tool.ParametersSchema), &schema), tool.Name)
	}
}

func TestExecute_KubeignoreDeniesSubject(t *testing.T) {
	srv := proxyFixture(t)
	registry := config.NewClusterRegistry(map[string]*config.ClusterConfig{
		"prod": {ProxyURL: srv.URL},
	})
	ignore := config.ParseKubeignore("*/Secret/*\nkube-system/*\n")
	e := NewToolExecutor(registry, "prod", nil, ignore, nil)

	result := execute(t, e, agent.ToolGetResource,
		`{"kind":"Secret","name":"db-creds","namespace":"payments"}`)
	require.True(t, result.IsError)
	assert.Equal(t, agent.KindToolDenied, result.ErrorKind())
	assert.Contains(t, result.Content, "kubeignore")

	result = execute(t, e, agent.ToolGetLogs,
		`{"pod":"dns-1","namespace":"kube-system"}`)
	require.True(t, result.IsError)
	assert.Equal(t, agent.KindToolDenied, result.ErrorKind())
}

func TestFactory_SharedExecutorSurvivesClose(t *testing.T) {
	f := NewFactory(config.NewClusterRegistry(map[string]*config.ClusterConfig{
		"prod": {ProxyURL: "http://proxy.invalid"},
	}), "prod", nil, nil, nil)

	first, err := f.NewExecutor(context.Background(), "task-1")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := f.NewExecutor(context.Background(), "task-2")
	require.NoError(t, err)

	tools, err := second.ListTools(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tools)
}
