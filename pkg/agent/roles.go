package agent

import "github.com/kuberoot/kuberoot/pkg/models"

// RoleSpec is the static definition of one sub-agent role: its system
// prompt and the tools it may use. The table is data, not code, so
// allowlists can be tested and tuned without touching the controller.
type RoleSpec struct {
	Role         models.AgentRole
	SystemPrompt string
	Tools        []string
}

// RoleTable defines every dispatchable sub-agent role.
var RoleTable = map[models.AgentRole]RoleSpec{
	models.AgentDiscovery: {
		Role: models.AgentDiscovery,
		SystemPrompt: "You are the discovery agent of a Kubernetes troubleshooting engine. " +
			"Map the resources involved in the incident: fetch and describe the named resources, " +
			"walk their owner chains, and list sibling resources that share labels or namespaces. " +
			"Report what exists, its status conditions, and anything abnormal. Do not speculate " +
			"about causes; collect facts. Batch all resources you need into as few calls as possible.",
		Tools: []string{ToolGetResource, ToolDescribeResource, ToolListResources, ToolGetResourceEvents},
	},
	models.AgentMonitoring: {
		Role: models.AgentMonitoring,
		SystemPrompt: "You are the monitoring agent of a Kubernetes troubleshooting engine. " +
			"Query Prometheus, Grafana, and Datadog for the metrics relevant to the incident: " +
			"resource saturation, error rates, restarts, latency. Quote concrete numbers with " +
			"timestamps and state whether they are anomalous against recent history.",
		Tools: []string{ToolQueryPrometheus, ToolQueryGrafana, ToolQueryDatadog, ToolGetAlerts},
	},
	models.AgentSecurity: {
		Role: models.AgentSecurity,
		SystemPrompt: "You are the security agent of a Kubernetes troubleshooting engine. " +
			"Check RBAC bindings, service accounts, network policies, and pod security settings " +
			"touching the affected resources. Search for known CVEs matching reported image " +
			"versions or error signatures. Flag only findings relevant to the incident.",
		Tools: []string{ToolGetResource, ToolDescribeResource, ToolListResources, ToolWebSearch},
	},
	models.AgentLogging: {
		Role: models.AgentLogging,
		SystemPrompt: "You are the logging agent of a Kubernetes troubleshooting engine. " +
			"Pull container logs for the affected pods, including previous instances of crashed " +
			"containers, and the Warning events on the resources. Extract the error lines that " +
			"matter, with timestamps, and note repeating patterns.",
		Tools: []string{ToolGetLogs, ToolGetResourceEvents},
	},
	models.AgentIntegration: {
		Role: models.AgentIntegration,
		SystemPrompt: "You are the integration agent of a Kubernetes troubleshooting engine. " +
			"Correlate the incident with external systems: ArgoCD sync status and recent " +
			"deployments, Alertmanager alerts, and Datadog monitors. Establish whether a recent " +
			"change or an upstream dependency lines up with the incident timeline.",
		Tools: []string{ToolListArgoCDApps, ToolGetAlerts, ToolQueryDatadog, ToolSyncArgoCDApp},
	},
	models.AgentRootCause: {
		Role: models.AgentRootCause,
		SystemPrompt: "You are the root-cause agent of a Kubernetes troubleshooting engine. " +
			"Given the extracted events and the findings of the other agents, verify the " +
			"candidate causal chain against the evidence and state the most probable root cause " +
			"with its supporting facts.",
		Tools: []string{ToolGetResource, ToolGetResourceEvents},
	},
}

// SpecFor returns the role definition.
func SpecFor(role models.AgentRole) (RoleSpec, bool) {
	spec, ok := RoleTable[role]
	return spec, ok
}

// RoleTools resolves a role's allowlist against the tool catalog.
func RoleTools(role models.AgentRole) []ToolDefinition {
	spec, ok := RoleTable[role]
	if !ok {
		return nil
	}
	return ToolsByName(spec.Tools)
}
