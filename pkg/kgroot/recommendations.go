package kgroot

// FailurePattern is one named entry in the pattern-matching library:
// a characteristic event-type sequence plus its remediation playbook.
type FailurePattern struct {
	Name            string
	Sequence        []AbstractType
	Description     string
	Recommendations []string
}

// failurePatterns is the named pattern library matched against the
// event-type sequence of the primary propagation chain.
var failurePatterns = []FailurePattern{
	{
		Name:        "MEMORY_LEAK_PATTERN",
		Sequence:    []AbstractType{MemoryPressure, OOMKilled, PodCrashLoop},
		Description: "Memory usage grows until the container is OOM-killed and enters a crash loop.",
		Recommendations: []string{
			"Review container memory limits and requests; raise limits if the workload legitimately needs more memory",
			"Profile the application for memory leaks (heap growth between restarts is a strong signal)",
			"Enable a memory-based HorizontalPodAutoscaler or vertical pod autoscaling",
		},
	},
	{
		Name:        "OOM_CASCADE_PATTERN",
		Sequence:    []AbstractType{NodeMemoryPressure, OOMKilled, Evicted},
		Description: "Node-level memory pressure causes OOM kills and pod evictions across workloads.",
		Recommendations: []string{
			"Set memory limits on all pods so a single workload cannot exhaust the node",
			"Check node allocatable memory against the sum of pod requests",
			"Consider adding nodes or rebalancing workloads across the cluster",
		},
	},
	{
		Name:        "IMAGE_PULL_PATTERN",
		Sequence:    []AbstractType{InvalidImageName, ImagePullFailure, PodCrashLoop},
		Description: "A bad image reference prevents the container from starting.",
		Recommendations: []string{
			"Verify the image name, tag, and registry path in the pod spec",
			"Confirm the image exists in the registry and the tag was pushed",
			"Check imagePullSecrets if the registry requires authentication",
		},
	},
	{
		Name:        "IMAGE_BACKOFF_PATTERN",
		Sequence:    []AbstractType{ImagePullFailure, ImagePullBackOff, PodPending},
		Description: "Repeated pull failures push the pod into ImagePullBackOff.",
		Recommendations: []string{
			"Verify the image name and registry are reachable from cluster nodes",
			"Check registry rate limits and credentials (imagePullSecrets)",
		},
	},
	{
		Name:        "CRASH_LOOP_PATTERN",
		Sequence:    []AbstractType{ContainerStartFailure, PodCrashLoop, ReadinessProbeFailure},
		Description: "The container fails on startup and never becomes ready.",
		Recommendations: []string{
			"Inspect container logs from the previous restart (kubectl logs --previous)",
			"Verify the entrypoint/command and required environment variables",
			"Check init containers and mounted configuration for errors",
		},
	},
	{
		Name:        "CONFIG_MISSING_PATTERN",
		Sequence:    []AbstractType{SecretNotFound, ContainerCreateFailure, PodCrashLoop},
		Description: "A referenced Secret or ConfigMap does not exist, blocking container creation.",
		Recommendations: []string{
			"Create the missing Secret/ConfigMap or fix the reference in the pod spec",
			"Check namespace: references are namespace-local",
		},
	},
	{
		Name:        "VOLUME_MOUNT_PATTERN",
		Sequence:    []AbstractType{VolumeAttachFailure, VolumeMountFailure, PodPending},
		Description: "Volume attach/mount failures keep the pod from starting.",
		Recommendations: []string{
			"Check the PersistentVolumeClaim status and storage class provisioner health",
			"Verify the volume is not still attached to another node",
			"Inspect CSI driver logs on the affected node",
		},
	},
	{
		Name:        "SCHEDULING_PRESSURE_PATTERN",
		Sequence:    []AbstractType{InsufficientResources, FailedScheduling, PodPending},
		Description: "The scheduler cannot place the pod due to resource shortage.",
		Recommendations: []string{
			"Reduce the pod's resource requests or add cluster capacity",
			"Check for unschedulable nodes (cordoned, tainted, NotReady)",
		},
	},
	{
		Name:        "NODE_PRESSURE_EVICTION_PATTERN",
		Sequence:    []AbstractType{NodeDiskPressure, Evicted, FailedScheduling},
		Description: "Disk pressure evicts pods which then fail to reschedule.",
		Recommendations: []string{
			"Free disk space on the affected node (image garbage collection, log rotation)",
			"Review ephemeral-storage requests/limits for noisy workloads",
		},
	},
	{
		Name:        "PROBE_FAILURE_PATTERN",
		Sequence:    []AbstractType{LivenessProbeFailure, PodCrashLoop},
		Description: "Liveness probe failures restart the container repeatedly.",
		Recommendations: []string{
			"Verify the probe endpoint, port, and timeout match the application's behavior",
			"Increase initialDelaySeconds if the application starts slowly",
		},
	},
	{
		Name:        "DNS_FAILURE_PATTERN",
		Sequence:    []AbstractType{DNSFailure, ServiceUnreachable, ReadinessProbeFailure},
		Description: "Cluster DNS problems cascade into service connectivity failures.",
		Recommendations: []string{
			"Check CoreDNS pod health and logs in kube-system",
			"Verify the pod's dnsPolicy and /etc/resolv.conf contents",
		},
	},
	{
		Name:        "NODE_FLAP_PATTERN",
		Sequence:    []AbstractType{KubeletRestart, NodeNotReady, Evicted},
		Description: "A flapping kubelet marks the node NotReady and evicts its pods.",
		Recommendations: []string{
			"Inspect kubelet logs on the affected node for restart causes",
			"Check node-level resource exhaustion and OS health",
		},
	},
	{
		Name:        "QUOTA_PATTERN",
		Sequence:    []AbstractType{QuotaExceeded, PodFailedCreate},
		Description: "Namespace resource quota blocks pod creation.",
		Recommendations: []string{
			"Raise the namespace ResourceQuota or delete unused workloads",
			"Check LimitRange defaults that may inflate pod requests",
		},
	},
}

// genericRecommendations is the always-available fallback so every
// analysis returns at least one recommendation.
var genericRecommendations = []string{
	"Inspect recent Warning events and container logs for the affected resources",
	"Check resource requests/limits and node capacity for the workload",
}

// typeRecommendations provides abstract-type-specific fallback
// recommendations, keyed by the root cause's abstract type.
var typeRecommendations = map[AbstractType][]string{
	OOMKilled:             {"Increase the container memory limit or reduce the application's working set"},
	MemoryPressure:        {"Review memory limits; the workload is approaching its memory ceiling"},
	PodCrashLoop:          {"Inspect logs from the previous container restart to find the crash cause"},
	ImagePullFailure:      {"Verify the image name, registry availability, and pull credentials"},
	InvalidImageName:      {"Fix the image reference in the pod spec (name, tag, or registry path)"},
	ImagePullBackOff:      {"Verify the image name and registry; backoff clears once a pull succeeds"},
	FailedScheduling:      {"Check node capacity, taints, and affinity rules blocking placement"},
	InsufficientResources: {"Lower resource requests or add capacity to the cluster"},
	VolumeMountFailure:    {"Check PVC binding status and CSI driver health on the node"},
	SecretNotFound:        {"Create the missing Secret or correct the reference in the pod spec"},
	ConfigMapNotFound:     {"Create the missing ConfigMap or correct the reference in the pod spec"},
	NodeNotReady:          {"Investigate kubelet health and connectivity on the affected node"},
	Evicted:               {"Check node pressure conditions that triggered the eviction"},
	RBACDenied:            {"Review the RBAC role bindings for the failing service account"},
	DNSFailure:            {"Check CoreDNS health and the pod's DNS configuration"},
	LivenessProbeFailure:  {"Validate the liveness probe endpoint and timing configuration"},
	ReadinessProbeFailure: {"Validate the readiness probe endpoint and the service's startup time"},
	QuotaExceeded:         {"Raise the namespace quota or free resources consumed by other workloads"},
	CertificateExpired:    {"Rotate the expired certificate and check cert-manager renewal"},
}

// FailurePatterns returns the named pattern library (for tests).
func FailurePatterns() []FailurePattern {
	out := make([]FailurePattern, len(failurePatterns))
	copy(out, failurePatterns)
	return out
}
