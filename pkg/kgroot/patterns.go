package kgroot

import "time"

// CausalPattern is one curated Kubernetes cause→effect relationship.
// A matching ordered event pair is classified causal with the pattern's
// confidence, provided the pair is within MaxGap (and co-located when
// SameLocation is set).
type CausalPattern struct {
	Name         string
	Cause        AbstractType
	Effect       AbstractType
	MaxGap       time.Duration
	SameLocation bool
	Confidence   float64
}

// causalPatterns is the curated pattern library. Declarative data, kept
// separate from the correlation algorithm so it can be tested and
// extended independently.
var causalPatterns = []CausalPattern{
	// Memory exhaustion chain
	{Name: "MEMORY_TO_OOM", Cause: MemoryPressure, Effect: OOMKilled, MaxGap: 2 * time.Minute, SameLocation: true, Confidence: 0.95},
	{Name: "NODE_MEMORY_TO_OOM", Cause: NodeMemoryPressure, Effect: OOMKilled, MaxGap: 5 * time.Minute, Confidence: 0.85},
	{Name: "OOM_TO_CRASH_LOOP", Cause: OOMKilled, Effect: PodCrashLoop, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.98},
	{Name: "OOM_TO_START_FAILURE", Cause: OOMKilled, Effect: ContainerStartFailure, MaxGap: 2 * time.Minute, SameLocation: true, Confidence: 0.8},
	{Name: "SYSTEM_OOM_TO_EVICTION", Cause: MemoryPressure, Effect: Evicted, MaxGap: 10 * time.Minute, Confidence: 0.85},

	// Image chain
	{Name: "INVALID_IMAGE_TO_PULL_FAILURE", Cause: InvalidImageName, Effect: ImagePullFailure, MaxGap: 2 * time.Minute, SameLocation: true, Confidence: 0.97},
	{Name: "PULL_FAILURE_TO_BACKOFF", Cause: ImagePullFailure, Effect: ImagePullBackOff, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.95},
	{Name: "PULL_FAILURE_TO_CRASH_LOOP", Cause: ImagePullFailure, Effect: PodCrashLoop, MaxGap: 10 * time.Minute, SameLocation: true, Confidence: 0.9},
	{Name: "REGISTRY_TO_PULL_FAILURE", Cause: RegistryUnreached, Effect: ImagePullFailure, MaxGap: 10 * time.Minute, Confidence: 0.9},
	{Name: "PULL_BACKOFF_TO_PENDING", Cause: ImagePullBackOff, Effect: PodPending, MaxGap: 10 * time.Minute, SameLocation: true, Confidence: 0.8},

	// Crash / probe chain
	{Name: "START_FAILURE_TO_CRASH_LOOP", Cause: ContainerStartFailure, Effect: PodCrashLoop, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.92},
	{Name: "CREATE_FAILURE_TO_CRASH_LOOP", Cause: ContainerCreateFailure, Effect: PodCrashLoop, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.9},
	{Name: "CRASH_LOOP_TO_READINESS", Cause: PodCrashLoop, Effect: ReadinessProbeFailure, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.85},
	{Name: "LIVENESS_TO_CRASH_LOOP", Cause: LivenessProbeFailure, Effect: PodCrashLoop, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.88},
	{Name: "STARTUP_PROBE_TO_CRASH_LOOP", Cause: StartupProbeFailure, Effect: PodCrashLoop, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.85},
	{Name: "UNHEALTHY_TO_RESTART", Cause: ContainerUnhealthy, Effect: PodCrashLoop, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.7},

	// Config / secret chain
	{Name: "SECRET_TO_CREATE_FAILURE", Cause: SecretNotFound, Effect: ContainerCreateFailure, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.93},
	{Name: "CONFIGMAP_TO_CREATE_FAILURE", Cause: ConfigMapNotFound, Effect: ContainerCreateFailure, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.93},
	{Name: "SECRET_TO_MOUNT_FAILURE", Cause: SecretNotFound, Effect: VolumeMountFailure, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.9},
	{Name: "CONFIGMAP_TO_MOUNT_FAILURE", Cause: ConfigMapNotFound, Effect: VolumeMountFailure, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.9},

	// Volume chain
	{Name: "PROVISION_TO_MOUNT_FAILURE", Cause: VolumeProvisionFail, Effect: VolumeMountFailure, MaxGap: 15 * time.Minute, Confidence: 0.88},
	{Name: "ATTACH_TO_MOUNT_FAILURE", Cause: VolumeAttachFailure, Effect: VolumeMountFailure, MaxGap: 10 * time.Minute, Confidence: 0.9},
	{Name: "MOUNT_FAILURE_TO_PENDING", Cause: VolumeMountFailure, Effect: PodPending, MaxGap: 10 * time.Minute, SameLocation: true, Confidence: 0.85},

	// Scheduling chain
	{Name: "INSUFFICIENT_TO_PENDING", Cause: InsufficientResources, Effect: PodPending, MaxGap: 15 * time.Minute, SameLocation: true, Confidence: 0.9},
	{Name: "SCHEDULING_TO_PENDING", Cause: FailedScheduling, Effect: PodPending, MaxGap: 15 * time.Minute, SameLocation: true, Confidence: 0.85},
	{Name: "QUOTA_TO_CREATE_FAILURE", Cause: QuotaExceeded, Effect: PodFailedCreate, MaxGap: 10 * time.Minute, Confidence: 0.9},
	{Name: "PREEMPTION_TO_EVICTION", Cause: Preempted, Effect: Evicted, MaxGap: 5 * time.Minute, Confidence: 0.9},

	// Node chain
	{Name: "NODE_NOT_READY_TO_EVICTION", Cause: NodeNotReady, Effect: Evicted, MaxGap: 10 * time.Minute, Confidence: 0.85},
	{Name: "DISK_PRESSURE_TO_EVICTION", Cause: NodeDiskPressure, Effect: Evicted, MaxGap: 10 * time.Minute, Confidence: 0.9},
	{Name: "NODE_NOT_READY_TO_SCHEDULING", Cause: NodeNotReady, Effect: FailedScheduling, MaxGap: 15 * time.Minute, Confidence: 0.8},
	{Name: "KUBELET_RESTART_TO_NOT_READY", Cause: KubeletRestart, Effect: NodeNotReady, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.8},
	{Name: "REBOOT_TO_NOT_READY", Cause: NodeRebooted, Effect: NodeNotReady, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.85},

	// Network chain
	{Name: "NETWORK_TO_SANDBOX", Cause: NetworkUnavailable, Effect: SandboxFailure, MaxGap: 10 * time.Minute, Confidence: 0.85},
	{Name: "SANDBOX_TO_CREATE_FAILURE", Cause: SandboxFailure, Effect: PodFailedCreate, MaxGap: 5 * time.Minute, SameLocation: true, Confidence: 0.85},
	{Name: "DNS_TO_UNREACHABLE", Cause: DNSFailure, Effect: ServiceUnreachable, MaxGap: 10 * time.Minute, Confidence: 0.8},
	{Name: "UNREACHABLE_TO_READINESS", Cause: ServiceUnreachable, Effect: ReadinessProbeFailure, MaxGap: 5 * time.Minute, Confidence: 0.75},

	// Eviction aftermath
	{Name: "EVICTION_TO_SCHEDULING", Cause: Evicted, Effect: FailedScheduling, MaxGap: 10 * time.Minute, Confidence: 0.75},
}

// MatchPattern returns the highest-confidence pattern matching the
// ordered pair (cause, effect), or nil. Pure function of its inputs.
func MatchPattern(cause, effect *Event) *CausalPattern {
	var best *CausalPattern
	for i := range causalPatterns {
		p := &causalPatterns[i]
		if p.Cause != cause.AbstractType || p.Effect != effect.AbstractType {
			continue
		}
		if Gap(cause, effect) > p.MaxGap {
			continue
		}
		if p.SameLocation && !SameLocation(cause, effect) {
			continue
		}
		if best == nil || p.Confidence > best.Confidence {
			best = p
		}
	}
	return best
}

// Patterns returns the full pattern library (for tests and docs tooling).
func Patterns() []CausalPattern {
	out := make([]CausalPattern, len(causalPatterns))
	copy(out, causalPatterns)
	return out
}
