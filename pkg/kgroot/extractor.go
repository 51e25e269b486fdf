package kgroot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kuberoot/kuberoot/pkg/cluster"
)

// ResourceAPI is the slice of the cluster proxy the extractor consumes.
// *cluster.Client satisfies it.
type ResourceAPI interface {
	WarningEvents(ctx context.Context, ref cluster.ResourceRef) ([]cluster.WarningEvent, error)
	GetResource(ctx context.Context, ref cluster.ResourceRef) (*cluster.Resource, error)
}

// DefaultMaxOwnerDepth bounds owner-reference traversal. The normal
// chain (Pod -> ReplicaSet -> Deployment) is depth 2; the bound protects
// against pathological CRD owner cycles.
const DefaultMaxOwnerDepth = 5

// canonicalKinds normalizes user-supplied resource kinds to the
// capitalization the Kubernetes API expects.
var canonicalKinds = map[string]string{
	"pod":                   "Pod",
	"replicaset":            "ReplicaSet",
	"deployment":            "Deployment",
	"statefulset":           "StatefulSet",
	"daemonset":             "DaemonSet",
	"job":                   "Job",
	"cronjob":               "CronJob",
	"service":               "Service",
	"node":                  "Node",
	"namespace":             "Namespace",
	"configmap":             "ConfigMap",
	"secret":                "Secret",
	"persistentvolumeclaim": "PersistentVolumeClaim",
	"persistentvolume":      "PersistentVolume",
	"ingress":               "Ingress",
	"horizontalpodautoscaler": "HorizontalPodAutoscaler",
}

// CanonicalKind normalizes a resource kind's capitalization. Unknown
// kinds (CRDs) get a simple title-case fallback.
func CanonicalKind(kind string) string {
	if canonical, ok := canonicalKinds[strings.ToLower(kind)]; ok {
		return canonical
	}
	if kind == "" {
		return kind
	}
	return strings.ToUpper(kind[:1]) + kind[1:]
}

// Extractor pulls Warning events for a resource and its owner chain and
// normalizes them into the abstract taxonomy.
type Extractor struct {
	api           ResourceAPI
	maxOwnerDepth int
}

// NewExtractor creates an extractor. maxOwnerDepth <= 0 selects the default.
func NewExtractor(api ResourceAPI, maxOwnerDepth int) *Extractor {
	if maxOwnerDepth <= 0 {
		maxOwnerDepth = DefaultMaxOwnerDepth
	}
	return &Extractor{api: api, maxOwnerDepth: maxOwnerDepth}
}

// Extract returns the deduplicated, chronologically sorted events for
// the resource and every ancestor on its owner-reference chain. A
// missing resource yields an empty list; transport errors propagate.
func (x *Extractor) Extract(ctx context.Context, ref cluster.ResourceRef) ([]*Event, error) {
	ref.Kind = CanonicalKind(ref.Kind)

	visited := make(map[string]bool)
	var raw []*Event
	if err := x.extractRecursive(ctx, ref, 0, visited, &raw); err != nil {
		return nil, err
	}

	deduped := dedupe(raw)
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Timestamp.Before(deduped[j].Timestamp)
	})
	return deduped, nil
}

func (x *Extractor) extractRecursive(
	ctx context.Context,
	ref cluster.ResourceRef,
	depth int,
	visited map[string]bool,
	out *[]*Event,
) error {
	if depth > x.maxOwnerDepth {
		slog.Warn("Owner-reference traversal depth exceeded, stopping",
			"resource", ref.String(), "max_depth", x.maxOwnerDepth)
		return nil
	}
	key := strings.ToLower(ref.String())
	if visited[key] {
		return nil
	}
	visited[key] = true

	rawEvents, err := x.api.WarningEvents(ctx, ref)
	if err != nil {
		return fmt.Errorf("extract events for %s: %w", ref, err)
	}
	for i := range rawEvents {
		*out = append(*out, normalizeEvent(&rawEvents[i], ref))
	}

	// Walk the owner chain. A missing body ends traversal for this
	// branch without failing the extraction.
	res, err := x.api.GetResource(ctx, ref)
	if err != nil {
		if errors.Is(err, cluster.ErrResourceNotFound) {
			return nil
		}
		return fmt.Errorf("fetch resource %s: %w", ref, err)
	}

	for _, owner := range res.Metadata.OwnerReferences {
		ownerRef := cluster.ResourceRef{
			Cluster:   ref.Cluster,
			Namespace: ref.Namespace,
			Kind:      CanonicalKind(owner.Kind),
			Name:      owner.Name,
		}
		if err := x.extractRecursive(ctx, ownerRef, depth+1, visited, out); err != nil {
			return err
		}
	}
	return nil
}

// normalizeEvent converts one raw Kubernetes event into a taxonomy event.
func normalizeEvent(raw *cluster.WarningEvent, ref cluster.ResourceRef) *Event {
	ts := raw.LastTimestamp
	if ts.IsZero() {
		ts = raw.FirstTimestamp
	}

	kind := raw.InvolvedObject.Kind
	name := raw.InvolvedObject.Name
	if kind == "" {
		kind, name = ref.Kind, ref.Name
	}

	abstract := Normalize(raw.Reason, raw.Message)
	return &Event{
		ID:           uuid.New().String(),
		Timestamp:    ts.UTC(),
		RawType:      raw.Reason,
		AbstractType: abstract,
		Location:     Location(kind, name),
		Severity:     SeverityOf(abstract),
		Details: map[string]string{
			"namespace": ref.Namespace,
			"cluster":   ref.Cluster,
			"count":     fmt.Sprintf("%d", raw.Count),
		},
		RawMessage: raw.Message,
	}
}

// dedupe keeps the first occurrence per (abstract_type, location,
// second-truncated timestamp) key, preserving input order.
func dedupe(events []*Event) []*Event {
	seen := make(map[string]bool, len(events))
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		key := e.dedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
