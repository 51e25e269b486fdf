package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/config"
	"github.com/kuberoot/kuberoot/pkg/masking"
)

// maxToolOutput bounds what a single tool call feeds back into the
// conversation. Oversized output is truncated, not rejected.
const maxToolOutput = 32 * 1024

// ToolExecutor executes the cluster tool catalog against the operator
// proxy and the per-cluster integration endpoints. Tool output passes
// through the masking service before it reaches the LLM.
type ToolExecutor struct {
	clusters       *config.ClusterRegistry
	defaultCluster string
	masker         *masking.Service
	ignore         *config.Kubeignore
	logger         *slog.Logger

	httpClient *http.Client

	mu      chan struct{} // token guarding lazy client construction
	clients map[string]*Client
}

// NewToolExecutor creates the executor. defaultCluster names the
// registry entry used when a call omits the cluster argument; ignore
// may be nil.
func NewToolExecutor(clusters *config.ClusterRegistry, defaultCluster string, masker *masking.Service, ignore *config.Kubeignore, logger *slog.Logger) *ToolExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &ToolExecutor{
		clusters:       clusters,
		defaultCluster: defaultCluster,
		masker:         masker,
		ignore:         ignore,
		logger:         logger,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		mu:             mu,
		clients:        make(map[string]*Client),
	}
}

// toolArgs is the union of the catalog's argument shapes.
type toolArgs struct {
	Kind          string `json:"kind"`
	Name          string `json:"name"`
	Namespace     string `json:"namespace"`
	Cluster       string `json:"cluster"`
	LabelSelector string `json:"label_selector"`

	Pod       string `json:"pod"`
	Container string `json:"container"`
	TailLines int    `json:"tail_lines"`
	Previous  bool   `json:"previous"`

	Query        string `json:"query"`
	RangeMinutes int    `json:"range_minutes"`
	Search       string `json:"search"`
}

// Execute runs one catalog tool. Capability failures come back as tool
// error results for the model to react to; only infrastructure faults
// (ctx death) return a Go error.
func (e *ToolExecutor) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	var args toolArgs
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return &agent.ToolResult{
				CallID: call.ID, Name: call.Name, IsError: true,
				Kind:    agent.KindInvalidRequest,
				Content: "invalid tool arguments: " + err.Error(),
			}, nil
		}
	}

	clusterName := args.Cluster
	if clusterName == "" {
		clusterName = e.defaultCluster
	}
	cfg, err := e.clusters.Get(clusterName)
	if err != nil {
		return e.errorResult(call, agent.KindInvalidRequest,
			"unknown cluster %q; configured: %s", clusterName, strings.Join(e.clusters.Names(), ", ")), nil
	}

	if kind, name, subject := ignoreSubject(call.Name, args); subject &&
		e.ignore.Ignored(args.Namespace, kind, name) {
		return e.errorResult(call, agent.KindToolDenied,
			"%s %s/%s is excluded by the kubeignore filter", kind, args.Namespace, name), nil
	}

	content, execErr := e.dispatch(ctx, call.Name, clusterName, cfg, args)
	if execErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return e.errorResult(call, agent.KindToolError, "%s", execErr.Error()), nil
	}

	content = e.masker.Mask(content)
	if len(content) > maxToolOutput {
		content = content[:maxToolOutput] + "\n... [truncated]"
	}
	return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: content}, nil
}

// ignoreSubject names the single resource a call targets, when it
// targets one. List and query tools have no single subject.
func ignoreSubject(tool string, args toolArgs) (kind, name string, ok bool) {
	switch tool {
	case agent.ToolGetResource, agent.ToolDescribeResource, agent.ToolGetResourceEvents,
		agent.ToolDeleteResource, agent.ToolRestartWorkload, agent.ToolScaleWorkload:
		return args.Kind, args.Name, true
	case agent.ToolGetLogs:
		return "Pod", args.Pod, true
	}
	return "", "", false
}

func (e *ToolExecutor) dispatch(ctx context.Context, tool, clusterName string, cfg *config.ClusterConfig, args toolArgs) (string, error) {
	switch tool {
	case agent.ToolGetResource:
		return e.getResource(ctx, clusterName, cfg, args)
	case agent.ToolDescribeResource:
		return e.describeResource(ctx, clusterName, cfg, args)
	case agent.ToolListResources:
		return e.listResources(ctx, clusterName, cfg, args)
	case agent.ToolGetResourceEvents:
		return e.resourceEvents(ctx, clusterName, cfg, args)
	case agent.ToolGetLogs:
		return e.podLogs(ctx, clusterName, cfg, args)
	case agent.ToolQueryPrometheus:
		return e.queryPrometheus(ctx, cfg.Prometheus, args)
	case agent.ToolGetAlerts:
		return e.alertmanagerAlerts(ctx, cfg.Alertmanager)
	case agent.ToolQueryGrafana, agent.ToolQueryDatadog,
		agent.ToolListArgoCDApps, agent.ToolWebSearch:
		return "", fmt.Errorf("%s is not configured in this deployment", tool)
	case agent.ToolDeleteResource, agent.ToolRestartWorkload,
		agent.ToolScaleWorkload, agent.ToolSyncArgoCDApp:
		return "", fmt.Errorf("%s is not enabled in this deployment; investigate read-only", tool)
	default:
		return "", fmt.Errorf("unknown tool %q", tool)
	}
}

func (e *ToolExecutor) getResource(ctx context.Context, clusterName string, cfg *config.ClusterConfig, args toolArgs) (string, error) {
	if args.Kind == "" || args.Name == "" || args.Namespace == "" {
		return "", errors.New("kind, name, and namespace are required")
	}
	ref := ResourceRef{Cluster: clusterName, Namespace: args.Namespace, Kind: args.Kind, Name: args.Name}

	raw, err := e.client(clusterName, cfg).GetResourceRaw(ctx, ref)
	if errors.Is(err, ErrResourceNotFound) {
		return fmt.Sprintf("%s %s/%s not found", args.Kind, args.Namespace, args.Name), nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (e *ToolExecutor) describeResource(ctx context.Context, clusterName string, cfg *config.ClusterConfig, args toolArgs) (string, error) {
	body, err := e.getResource(ctx, clusterName, cfg, args)
	if err != nil {
		return "", err
	}
	events, err := e.resourceEvents(ctx, clusterName, cfg, args)
	if err != nil {
		events = "events unavailable: " + err.Error()
	}
	return body + "\n\nRecent Warning events:\n" + events, nil
}

func (e *ToolExecutor) listResources(ctx context.Context, clusterName string, cfg *config.ClusterConfig, args toolArgs) (string, error) {
	if args.Kind == "" || args.Namespace == "" {
		return "", errors.New("kind and namespace are required")
	}
	raw, err := e.client(clusterName, cfg).ListResources(ctx, clusterName, args.Namespace, args.Kind, args.LabelSelector)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (e *ToolExecutor) resourceEvents(ctx context.Context, clusterName string, cfg *config.ClusterConfig, args toolArgs) (string, error) {
	if args.Kind == "" || args.Name == "" || args.Namespace == "" {
		return "", errors.New("kind, name, and namespace are required")
	}
	ref := ResourceRef{Cluster: clusterName, Namespace: args.Namespace, Kind: args.Kind, Name: args.Name}

	events, err := e.client(clusterName, cfg).WarningEvents(ctx, ref)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("no Warning events for %s %s/%s", args.Kind, args.Namespace, args.Name), nil
	}

	var b strings.Builder
	for _, event := range events {
		fmt.Fprintf(&b, "%s  %s (x%d)  %s/%s: %s\n",
			event.LastTimestamp.Format(time.RFC3339), event.Reason, event.Count,
			event.InvolvedObject.Kind, event.InvolvedObject.Name, event.Message)
	}
	return b.String(), nil
}

func (e *ToolExecutor) podLogs(ctx context.Context, clusterName string, cfg *config.ClusterConfig, args toolArgs) (string, error) {
	if args.Pod == "" || args.Namespace == "" {
		return "", errors.New("pod and namespace are required")
	}
	tail := args.TailLines
	if tail <= 0 {
		tail = 200
	}
	logs, err := e.client(clusterName, cfg).PodLogs(ctx, clusterName, args.Namespace, args.Pod, args.Container, tail, args.Previous)
	if errors.Is(err, ErrResourceNotFound) {
		return fmt.Sprintf("pod %s/%s not found", args.Namespace, args.Pod), nil
	}
	if err != nil {
		return "", err
	}
	if logs == "" {
		return "no log output", nil
	}
	return logs, nil
}

// queryPrometheus runs one instant query against the cluster's
// Prometheus endpoint.
func (e *ToolExecutor) queryPrometheus(ctx context.Context, integ *config.IntegrationConfig, args toolArgs) (string, error) {
	if integ == nil || integ.URL == "" {
		return "", errors.New("prometheus is not configured for this cluster")
	}
	if args.Query == "" {
		return "", errors.New("query is required")
	}

	endpoint := strings.TrimRight(integ.URL, "/") + "/api/v1/query?query=" + url.QueryEscape(args.Query)
	return e.integrationGET(ctx, endpoint, integ.APIKey())
}

// alertmanagerAlerts fetches the firing alerts.
func (e *ToolExecutor) alertmanagerAlerts(ctx context.Context, integ *config.IntegrationConfig) (string, error) {
	if integ == nil || integ.URL == "" {
		return "", errors.New("alertmanager is not configured for this cluster")
	}
	endpoint := strings.TrimRight(integ.URL, "/") + "/api/v2/alerts?active=true"
	return e.integrationGET(ctx, endpoint, integ.APIKey())
}

func (e *ToolExecutor) integrationGET(ctx context.Context, endpoint, apiKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("integration request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolOutput))
	if err != nil {
		return "", fmt.Errorf("read integration response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("integration returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// ListTools exposes the full catalog. Policy enforcement and per-role
// scoping happen in the wrappers above this executor.
func (e *ToolExecutor) ListTools(ctx context.Context) ([]agent.ToolDefinition, error) {
	return agent.ClusterToolCatalog, nil
}

// Close releases nothing; proxy clients hold no connections of their own.
func (e *ToolExecutor) Close() error { return nil }

// client returns the cached proxy client for a cluster, building it on
// first use.
func (e *ToolExecutor) client(clusterName string, cfg *config.ClusterConfig) *Client {
	<-e.mu
	defer func() { e.mu <- struct{}{} }()

	if c, ok := e.clients[clusterName]; ok {
		return c
	}
	c := NewClient(cfg.ProxyURL, cfg.ProxyToken())
	e.clients[clusterName] = c
	return c
}

func (e *ToolExecutor) errorResult(call agent.ToolCall, kind agent.Kind, format string, a ...any) *agent.ToolResult {
	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf(format, a...),
		IsError: true,
		Kind:    kind,
	}
}

// Factory builds one shared executor per task. The executor is
// stateless across tasks, so the factory hands out the same instance
// wrapped so per-task Close calls do not tear it down.
type Factory struct {
	executor *ToolExecutor
}

// NewFactory creates the tool factory.
func NewFactory(clusters *config.ClusterRegistry, defaultCluster string, masker *masking.Service, ignore *config.Kubeignore, logger *slog.Logger) *Factory {
	return &Factory{executor: NewToolExecutor(clusters, defaultCluster, masker, ignore, logger)}
}

// NewExecutor returns the task's tool executor.
func (f *Factory) NewExecutor(ctx context.Context, taskID string) (agent.ToolExecutor, error) {
	return sharedExecutor{f.executor}, nil
}

// sharedExecutor shields the factory's executor from per-task Close.
type sharedExecutor struct{ agent.ToolExecutor }

func (sharedExecutor) Close() error { return nil }
