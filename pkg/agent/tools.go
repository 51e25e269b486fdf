package agent

import (
	"context"
	"fmt"
)

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema

	// Mutating tools change cluster state. They are refused outright in
	// recon mode and require an approval rendezvous otherwise.
	Mutating bool
}

// ToolCall represents an LLM's request to call a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	CallID  string // matches ToolCall.ID
	Name    string
	Content string // tool output or error message
	IsError bool
	Kind    Kind // error classification when IsError; empty means tool_error

	// Redirected marks a call the operator answered with a redirect: the
	// content carries the new instruction and nothing was executed.
	Redirected bool
}

// Outcome maps the result to its audit-trail label.
func (r *ToolResult) Outcome() string {
	switch {
	case r.Redirected:
		return "redirected"
	case r.IsError && (r.Kind == KindToolDenied || r.Kind == KindApprovalTimeout):
		return "denied"
	case r.IsError:
		return "error"
	}
	return "ok"
}

// ErrorKind returns the classification of a failed result.
func (r *ToolResult) ErrorKind() Kind {
	if !r.IsError {
		return ""
	}
	if r.Kind == "" {
		return KindToolError
	}
	return r.Kind
}

// ToolExecutor abstracts tool execution for iteration controllers.
type ToolExecutor interface {
	// Execute runs a single tool call. The result is always a string
	// (tool output or error message); infrastructure failures return an
	// error instead.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)

	// ListTools returns available tool definitions for the current
	// invocation. Returns nil if no tools are configured.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// Close releases resources held by the executor.
	Close() error
}

// errorResult builds a non-fatal error ToolResult for a call.
func errorResult(call ToolCall, format string, args ...any) *ToolResult {
	return &ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf(format, args...),
		IsError: true,
	}
}

// Cluster tool names. Kept as constants so allowlists and tests
// reference the same spellings.
const (
	ToolGetResource       = "get_resource"
	ToolDescribeResource  = "describe_resource"
	ToolListResources     = "list_resources"
	ToolGetResourceEvents = "get_resource_events"
	ToolGetLogs           = "get_logs"

	ToolQueryPrometheus  = "query_prometheus"
	ToolQueryGrafana     = "query_grafana"
	ToolQueryDatadog     = "query_datadog"
	ToolListArgoCDApps   = "list_argocd_applications"
	ToolGetAlerts        = "get_alertmanager_alerts"
	ToolWebSearch        = "web_search"

	ToolDeleteResource  = "delete_resource"
	ToolRestartWorkload = "restart_workload"
	ToolScaleWorkload   = "scale_workload"
	ToolSyncArgoCDApp   = "sync_argocd_application"
)

// resourceArgsSchema is shared by the resource-scoped read tools.
const resourceArgsSchema = `{
	"type": "object",
	"properties": {
		"kind": {"type": "string", "description": "Resource kind, e.g. Pod, Deployment"},
		"name": {"type": "string", "description": "Resource name"},
		"namespace": {"type": "string", "description": "Namespace"},
		"cluster": {"type": "string", "description": "Cluster context; omit for the default cluster"}
	},
	"required": ["kind", "name", "namespace"]
}`

// ClusterToolCatalog is the declarative catalog of every tool the
// engine can expose. Role allowlists and the supervisor tool surface
// reference entries by name.
var ClusterToolCatalog = []ToolDefinition{
	{
		Name:             ToolGetResource,
		Description:      "Fetch one Kubernetes resource body through the operator proxy.",
		ParametersSchema: resourceArgsSchema,
	},
	{
		Name:             ToolDescribeResource,
		Description:      "Describe a resource: spec summary, status conditions, and recent events.",
		ParametersSchema: resourceArgsSchema,
	},
	{
		Name:        ToolListResources,
		Description: "List resources of a kind in a namespace.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"kind": {"type": "string"},
				"namespace": {"type": "string"},
				"label_selector": {"type": "string"},
				"cluster": {"type": "string"}
			},
			"required": ["kind", "namespace"]
		}`,
	},
	{
		Name:             ToolGetResourceEvents,
		Description:      "Fetch Warning events for a resource and its owner chain.",
		ParametersSchema: resourceArgsSchema,
	},
	{
		Name:        ToolGetLogs,
		Description: "Fetch recent container logs for a pod.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"pod": {"type": "string"},
				"namespace": {"type": "string"},
				"container": {"type": "string"},
				"tail_lines": {"type": "integer"},
				"previous": {"type": "boolean", "description": "Logs of the previous (crashed) instance"},
				"cluster": {"type": "string"}
			},
			"required": ["pod", "namespace"]
		}`,
	},
	{
		Name:        ToolQueryPrometheus,
		Description: "Run a PromQL query against the cluster's Prometheus.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "PromQL expression"},
				"range_minutes": {"type": "integer", "description": "Lookback window, default 60"},
				"cluster": {"type": "string"}
			},
			"required": ["query"]
		}`,
	},
	{
		Name:        ToolQueryGrafana,
		Description: "Search Grafana dashboards and fetch panel data.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"search": {"type": "string"},
				"cluster": {"type": "string"}
			},
			"required": ["search"]
		}`,
	},
	{
		Name:        ToolQueryDatadog,
		Description: "Query Datadog metrics or monitors for the cluster.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"cluster": {"type": "string"}
			},
			"required": ["query"]
		}`,
	},
	{
		Name:        ToolListArgoCDApps,
		Description: "List ArgoCD applications with sync and health status.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"cluster": {"type": "string"}
			}
		}`,
	},
	{
		Name:        ToolGetAlerts,
		Description: "Fetch firing alerts from Alertmanager.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"cluster": {"type": "string"}
			}
		}`,
	},
	{
		Name:        ToolWebSearch,
		Description: "Search the web for error messages, CVEs, or known issues.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string"}
			},
			"required": ["query"]
		}`,
	},
	{
		Name:             ToolDeleteResource,
		Description:      "Delete a Kubernetes resource. Requires operator approval.",
		ParametersSchema: resourceArgsSchema,
		Mutating:         true,
	},
	{
		Name:        ToolRestartWorkload,
		Description: "Rolling-restart a Deployment, StatefulSet, or DaemonSet. Requires operator approval.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"kind": {"type": "string"},
				"name": {"type": "string"},
				"namespace": {"type": "string"},
				"cluster": {"type": "string"}
			},
			"required": ["kind", "name", "namespace"]
		}`,
		Mutating: true,
	},
	{
		Name:        ToolScaleWorkload,
		Description: "Scale a workload to a replica count. Requires operator approval.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"kind": {"type": "string"},
				"name": {"type": "string"},
				"namespace": {"type": "string"},
				"replicas": {"type": "integer"},
				"cluster": {"type": "string"}
			},
			"required": ["kind", "name", "namespace", "replicas"]
		}`,
		Mutating: true,
	},
	{
		Name:        ToolSyncArgoCDApp,
		Description: "Trigger an ArgoCD application sync. Requires operator approval.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"application": {"type": "string"},
				"cluster": {"type": "string"}
			},
			"required": ["application"]
		}`,
		Mutating: true,
	},
}

// catalogByName indexes the catalog for lookups.
var catalogByName = func() map[string]ToolDefinition {
	m := make(map[string]ToolDefinition, len(ClusterToolCatalog))
	for _, def := range ClusterToolCatalog {
		m[def.Name] = def
	}
	return m
}()

// LookupTool returns the catalog entry for a tool name.
func LookupTool(name string) (ToolDefinition, bool) {
	def, ok := catalogByName[name]
	return def, ok
}

// ToolsByName resolves a name allowlist against the catalog. Unknown
// names are skipped; allowlists are static data validated by tests.
func ToolsByName(names []string) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		if def, ok := catalogByName[name]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// StubToolExecutor returns canned responses for testing.
type StubToolExecutor struct {
	tools []ToolDefinition

	// Responses maps tool name to canned output; unset names get a
	// generic stub string.
	Responses map[string]string
	Calls     []ToolCall
}

// NewStubToolExecutor creates a stub executor with the given tool definitions.
func NewStubToolExecutor(tools []ToolDefinition) *StubToolExecutor {
	return &StubToolExecutor{tools: tools}
}

func (s *StubToolExecutor) Execute(_ context.Context, call ToolCall) (*ToolResult, error) {
	s.Calls = append(s.Calls, call)
	content, ok := s.Responses[call.Name]
	if !ok {
		content = fmt.Sprintf("[stub] Tool %q called with args: %s", call.Name, call.Arguments)
	}
	return &ToolResult{CallID: call.ID, Name: call.Name, Content: content}, nil
}

func (s *StubToolExecutor) ListTools(_ context.Context) ([]ToolDefinition, error) {
	return s.tools, nil
}

func (s *StubToolExecutor) Close() error { return nil }
