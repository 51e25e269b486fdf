package kgroot

import "strings"

// Abstract event taxonomy. Grouped by failure domain; every extracted
// event is normalized to exactly one of these tags.
const (
	// Image
	ImagePullFailure  AbstractType = "IMAGE_PULL_FAILURE"
	ImagePullBackOff  AbstractType = "IMAGE_PULL_BACKOFF"
	InvalidImageName  AbstractType = "INVALID_IMAGE_NAME"
	ImageInspectError AbstractType = "IMAGE_INSPECT_ERROR"
	RegistryUnreached AbstractType = "REGISTRY_UNAVAILABLE"

	// Pod lifecycle
	PodCrashLoop    AbstractType = "POD_CRASH_LOOP"
	PodPending      AbstractType = "POD_PENDING"
	PodFailedCreate AbstractType = "POD_CREATE_FAILURE"
	PodFailedKill   AbstractType = "POD_KILL_FAILURE"
	PodTerminating  AbstractType = "POD_STUCK_TERMINATING"

	// Scheduling
	FailedScheduling      AbstractType = "SCHEDULING_FAILURE"
	InsufficientResources AbstractType = "INSUFFICIENT_RESOURCES"
	NodeAffinityMismatch  AbstractType = "NODE_AFFINITY_MISMATCH"
	TaintNotTolerated     AbstractType = "TAINT_NOT_TOLERATED"
	Preempted             AbstractType = "PREEMPTED"

	// Volume
	VolumeMountFailure  AbstractType = "VOLUME_MOUNT_FAILURE"
	VolumeAttachFailure AbstractType = "VOLUME_ATTACH_FAILURE"
	VolumeProvisionFail AbstractType = "VOLUME_PROVISION_FAILURE"
	VolumeResizeFailure AbstractType = "VOLUME_RESIZE_FAILURE"

	// Network
	DNSFailure         AbstractType = "DNS_FAILURE"
	NetworkUnavailable AbstractType = "NETWORK_UNAVAILABLE"
	NetworkSetupFail   AbstractType = "NETWORK_SETUP_FAILURE"
	PortConflict       AbstractType = "PORT_CONFLICT"
	ServiceUnreachable AbstractType = "SERVICE_UNREACHABLE"

	// Health probes
	LivenessProbeFailure  AbstractType = "LIVENESS_PROBE_FAILURE"
	ReadinessProbeFailure AbstractType = "READINESS_PROBE_FAILURE"
	StartupProbeFailure   AbstractType = "STARTUP_PROBE_FAILURE"
	ContainerUnhealthy    AbstractType = "CONTAINER_UNHEALTHY"

	// Node
	NodeNotReady       AbstractType = "NODE_NOT_READY"
	NodeMemoryPressure AbstractType = "NODE_MEMORY_PRESSURE"
	NodeDiskPressure   AbstractType = "NODE_DISK_PRESSURE"
	NodePIDPressure    AbstractType = "NODE_PID_PRESSURE"
	KubeletRestart     AbstractType = "KUBELET_RESTART"
	NodeRebooted       AbstractType = "NODE_REBOOTED"

	// Resource / quota
	OOMKilled       AbstractType = "OOM_KILLED"
	MemoryPressure  AbstractType = "MEMORY_PRESSURE"
	CPUThrottling   AbstractType = "CPU_THROTTLING"
	QuotaExceeded   AbstractType = "QUOTA_EXCEEDED"
	LimitExceeded   AbstractType = "LIMIT_EXCEEDED"
	EphemeralBurst  AbstractType = "EPHEMERAL_STORAGE_EXCEEDED"
	HPAScaleFailure AbstractType = "SCALE_FAILURE"

	// Security / config
	RBACDenied         AbstractType = "RBAC_DENIED"
	SecretNotFound     AbstractType = "SECRET_NOT_FOUND"
	ConfigMapNotFound  AbstractType = "CONFIGMAP_NOT_FOUND"
	CertificateExpired AbstractType = "CERTIFICATE_EXPIRED"
	PolicyViolation    AbstractType = "POLICY_VIOLATION"

	// Eviction
	Evicted AbstractType = "EVICTED"

	// Container runtime
	ContainerCreateFailure AbstractType = "CONTAINER_CREATE_FAILURE"
	ContainerStartFailure  AbstractType = "CONTAINER_START_FAILURE"
	RuntimeError           AbstractType = "CONTAINER_RUNTIME_ERROR"
	SandboxFailure         AbstractType = "SANDBOX_FAILURE"
	DeadlineExceeded       AbstractType = "DEADLINE_EXCEEDED"

	Unknown AbstractType = "UNKNOWN"
)

// reasonTaxonomy maps exact Kubernetes event reasons to abstract types.
// Checked before the message heuristics in messageTaxonomy.
var reasonTaxonomy = map[string]AbstractType{
	"Failed":                   ImagePullFailure, // refined by message rules below
	"ErrImagePull":             ImagePullFailure,
	"ImagePullBackOff":         ImagePullBackOff,
	"InvalidImageName":         InvalidImageName,
	"InspectFailed":            ImageInspectError,
	"ErrImageNeverPull":        ImagePullFailure,
	"RegistryUnavailable":      RegistryUnreached,
	"CrashLoopBackOff":         PodCrashLoop,
	"FailedCreate":             PodFailedCreate,
	"FailedKillPod":            PodFailedKill,
	"FailedScheduling":         FailedScheduling,
	"Preempted":                Preempted,
	"Preempting":               Preempted,
	"FailedMount":              VolumeMountFailure,
	"FailedAttachVolume":       VolumeAttachFailure,
	"FailedMapVolume":          VolumeMountFailure,
	"ProvisioningFailed":       VolumeProvisionFail,
	"VolumeResizeFailed":       VolumeResizeFailure,
	"NetworkNotReady":          NetworkUnavailable,
	"FailedCreatePodSandBox":   SandboxFailure,
	"FailedPodSandBoxStatus":   SandboxFailure,
	"Unhealthy":                ContainerUnhealthy, // refined by message rules below
	"ProbeWarning":             ContainerUnhealthy,
	"NodeNotReady":             NodeNotReady,
	"NodeHasMemoryPressure":    NodeMemoryPressure,
	"NodeHasDiskPressure":      NodeDiskPressure,
	"NodeHasPIDPressure":       NodePIDPressure,
	"Starting":                 KubeletRestart,
	"Rebooted":                 NodeRebooted,
	"OOMKilling":               OOMKilled,
	"OOMKilled":                OOMKilled,
	"SystemOOM":                MemoryPressure,
	"MemoryPressure":           MemoryPressure,
	"CPUThrottlingHigh":        CPUThrottling,
	"ExceededQuota":            QuotaExceeded,
	"FailedScaleUp":            HPAScaleFailure,
	"FailedGetScale":           HPAScaleFailure,
	"FailedComputeMetricsReplicas": HPAScaleFailure,
	"Forbidden":                RBACDenied,
	"FailedValidation":         PolicyViolation,
	"Evicted":                  Evicted,
	"Evicting":                 Evicted,
	"CreateContainerError":     ContainerCreateFailure,
	"CreateContainerConfigError": ContainerCreateFailure,
	"RunContainerError":        ContainerStartFailure,
	"StartError":               ContainerStartFailure,
	"ContainerCannotRun":       ContainerStartFailure,
	"DeadlineExceeded":         DeadlineExceeded,
	"BackOff":                  PodCrashLoop, // refined by message rules below
}

// messageRule refines an abstract type based on a substring of the raw
// event message. Rules are applied in order; first match wins.
type messageRule struct {
	contains string
	abstract AbstractType
}

// messageTaxonomy handles reasons whose meaning depends on the message
// body. Kubernetes reuses generic reasons ("Failed", "BackOff",
// "Unhealthy", "FailedScheduling") for several distinct failures.
var messageTaxonomy = []messageRule{
	{"back-off pulling image", ImagePullBackOff},
	{"back-off restarting failed container", PodCrashLoop},
	{"invalid image name", InvalidImageName},
	{"repository does not exist", InvalidImageName},
	{"manifest unknown", InvalidImageName},
	{"failed to pull image", ImagePullFailure},
	{"pull access denied", ImagePullFailure},
	{"image pull", ImagePullFailure},
	{"liveness probe failed", LivenessProbeFailure},
	{"readiness probe failed", ReadinessProbeFailure},
	{"startup probe failed", StartupProbeFailure},
	{"insufficient memory", InsufficientResources},
	{"insufficient cpu", InsufficientResources},
	{"insufficient ephemeral-storage", InsufficientResources},
	{"node(s) didn't match pod's node affinity", NodeAffinityMismatch},
	{"node(s) had untolerated taint", TaintNotTolerated},
	{"exceeded its ephemeral-storage", EphemeralBurst},
	{"oom", OOMKilled},
	{"out of memory", OOMKilled},
	{"memory pressure", MemoryPressure},
	{"secret", SecretNotFound},
	{"configmap", ConfigMapNotFound},
	{"certificate has expired", CertificateExpired},
	{"x509", CertificateExpired},
	{"no route to host", ServiceUnreachable},
	{"connection refused", ServiceUnreachable},
	{"lookup", DNSFailure},
	{"dns", DNSFailure},
	{"address already in use", PortConflict},
	{"failed to set up pod network", NetworkSetupFail},
	{"context deadline exceeded", DeadlineExceeded},
	{"quota", QuotaExceeded},
	{"limit", LimitExceeded},
}

// ambiguousReasons lists reasons for which the message rules take
// precedence over the exact-reason table.
var ambiguousReasons = map[string]bool{
	"Failed":           true,
	"BackOff":          true,
	"Unhealthy":        true,
	"FailedScheduling": true,
	"FailedCreate":     true,
	"Evicted":          true,
}

// Normalize maps a raw Kubernetes event (reason, message) onto the
// abstract taxonomy. Unmatched events become Unknown, never an error.
func Normalize(reason, message string) AbstractType {
	lower := strings.ToLower(message)

	if ambiguousReasons[reason] {
		for _, rule := range messageTaxonomy {
			if strings.Contains(lower, rule.contains) {
				return rule.abstract
			}
		}
	}
	if abstract, ok := reasonTaxonomy[reason]; ok {
		return abstract
	}
	for _, rule := range messageTaxonomy {
		if strings.Contains(lower, rule.contains) {
			return rule.abstract
		}
	}
	return Unknown
}

// severityTaxonomy marks abstract types that are more urgent than the
// default "warning" bucket.
var severityTaxonomy = map[AbstractType]Severity{
	OOMKilled:        SeverityCritical,
	PodCrashLoop:     SeverityCritical,
	NodeNotReady:     SeverityCritical,
	Evicted:          SeverityHigh,
	MemoryPressure:   SeverityHigh,
	NodeMemoryPressure: SeverityHigh,
	NodeDiskPressure: SeverityHigh,
	SandboxFailure:   SeverityHigh,
	InvalidImageName: SeverityHigh,
	CertificateExpired: SeverityHigh,
}

// SeverityOf returns the severity bucket for an abstract type.
func SeverityOf(abstract AbstractType) Severity {
	if s, ok := severityTaxonomy[abstract]; ok {
		return s
	}
	return SeverityWarning
}
