// Package kgroot implements the root-cause analysis pipeline: event
// extraction from Kubernetes resources, pairwise event correlation, fault
// propagation graph construction, and pattern-based cause ranking.
package kgroot

import (
	"fmt"
	"strings"
	"time"
)

// AbstractType is a normalized taxonomy key for a failure event.
// The full taxonomy lives in taxonomy.go.
type AbstractType string

// Severity buckets for extracted events.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Event is one normalized Kubernetes failure event. Distinct from the
// orchestrator's persisted event type — this is analyzer input.
type Event struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"` // always UTC
	RawType      string            `json:"raw_type"`  // source-specific reason, e.g. "FailedScheduling"
	AbstractType AbstractType      `json:"abstract_type"`
	Location     string            `json:"location"` // "pod:api-1", "node:worker-3"
	Severity     Severity          `json:"severity"`
	Details      map[string]string `json:"details,omitempty"`
	RawMessage   string            `json:"raw_message,omitempty"`
}

// Location builds the canonical location string for a resource.
func Location(kind, name string) string {
	return strings.ToLower(kind) + ":" + name
}

// dedupeKey identifies an event for deduplication: same abstract type at
// the same location within the same second is one occurrence.
func (e *Event) dedupeKey() string {
	return fmt.Sprintf("%s|%s|%d", e.AbstractType, e.Location, e.Timestamp.Unix())
}

// SameLocation reports whether two events occurred on the same resource.
func SameLocation(a, b *Event) bool {
	return a.Location != "" && a.Location == b.Location
}

// Gap returns the absolute time distance between two events.
func Gap(a, b *Event) time.Duration {
	d := b.Timestamp.Sub(a.Timestamp)
	if d < 0 {
		return -d
	}
	return d
}
