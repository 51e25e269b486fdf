// Package models defines the persisted data types shared across the
// orchestrator, services, and API layers.
package models

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle status of an investigation task.
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusFailed:
		return true
	}
	return false
}

// Resolved tracks whether the underlying incident was resolved.
// Empty string means "not yet determined".
type Resolved string

const (
	ResolvedYes     Resolved = "yes"
	ResolvedNo      Resolved = "no"
	ResolvedUnknown Resolved = ""
)

// Task is the persisted record of one investigation.
// Events and SubTasks are stored as JSON blobs on the task row.
type Task struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Title     string     `json:"title"`
	Tags      []string   `json:"tags"`
	Severity  string     `json:"severity,omitempty"`
	Resolved  Resolved   `json:"resolved,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Events    []Event    `json:"events"`
	SubTasks  []SubTask  `json:"sub_tasks"`
}

// EventKind identifies the shape of an orchestrator event's payload.
type EventKind string

const (
	EventInvestigationStarted   EventKind = "investigation_started"
	EventTodoUpdated            EventKind = "todo_updated"
	EventAnalysisStep           EventKind = "analysis_step"
	EventAgentPhaseComplete     EventKind = "agent_phase_complete"
	EventToolApprovalRequest    EventKind = "tool_approval_request"
	EventInvestigationComplete  EventKind = "investigation_complete"
	EventInvestigationCancelled EventKind = "investigation_cancelled"
	EventError                  EventKind = "error"

	// Title generation streams token-by-token so clients can render the
	// title while the metadata call is still in flight.
	EventTitleToken    EventKind = "title_token"
	EventTitleComplete EventKind = "title_complete"

	// EventStreamLag is never persisted. It is emitted on a subscriber's
	// channel as its terminal event when the subscriber fell too far
	// behind and was dropped from the live fan-out.
	EventStreamLag EventKind = "stream_lag"
)

// IsTerminal reports whether this event kind ends an investigation stream.
func (k EventKind) IsTerminal() bool {
	switch k {
	case EventInvestigationComplete, EventInvestigationCancelled, EventError:
		return true
	}
	return false
}

// Event is one persisted investigation step.
// Sequence is dense and strictly increasing per task.
type Event struct {
	Sequence  int             `json:"sequence"`
	TaskID    string          `json:"task_id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      EventKind       `json:"type"`
	Reason    string          `json:"reason,omitempty"`
	Analysis  string          `json:"analysis,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Terminal reports whether this event closes the task's stream.
// An error event is terminal only when flagged as such by the worker
// (sub-agent errors are recorded with Reason but do not end the task).
func (e Event) Terminal() bool {
	if e.Kind == EventError {
		return e.Reason == ErrorReasonFatal
	}
	return e.Kind.IsTerminal()
}

// ErrorReasonFatal marks an error event that terminates the task.
// Non-fatal error events (tool failures, denied tools) carry the
// originating error kind in Reason instead.
const ErrorReasonFatal = "fatal"

// SubTaskStatus mirrors the sub-agent execution lifecycle.
type SubTaskStatus string

const (
	SubTaskStatusActive    SubTaskStatus = "active"
	SubTaskStatusCompleted SubTaskStatus = "completed"
	SubTaskStatusFailed    SubTaskStatus = "failed"
	SubTaskStatusTimedOut  SubTaskStatus = "timed_out"
	SubTaskStatusCancelled SubTaskStatus = "cancelled"
)

// SubTask records one sub-agent invocation within a task.
type SubTask struct {
	SubTaskID     string        `json:"sub_task_id"`
	Agent         AgentRole     `json:"agent"`
	InputSummary  string        `json:"input_summary"`
	OutputSummary string        `json:"output_summary,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Status        SubTaskStatus `json:"status"`
}

// AgentRole identifies one of the fixed sub-agent roles.
type AgentRole string

const (
	AgentDiscovery   AgentRole = "discovery"
	AgentMonitoring  AgentRole = "monitoring"
	AgentSecurity    AgentRole = "security"
	AgentLogging     AgentRole = "logging"
	AgentIntegration AgentRole = "integration"
	AgentRootCause   AgentRole = "root_cause"
)

// AgentRoles lists every dispatchable role in a stable order.
var AgentRoles = []AgentRole{
	AgentDiscovery,
	AgentMonitoring,
	AgentSecurity,
	AgentLogging,
	AgentIntegration,
	AgentRootCause,
}

// Valid reports whether r is a known agent role.
func (r AgentRole) Valid() bool {
	for _, known := range AgentRoles {
		if r == known {
			return true
		}
	}
	return false
}

// InvestigationTaskRequest is the client's description of an incident.
type InvestigationTaskRequest struct {
	Title           string `json:"title,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
	ResourceContext string `json:"resource_context,omitempty"`
	LogContext      string `json:"log_context,omitempty"`
	Context         string `json:"context,omitempty"`
}

// Empty reports whether the request carries neither a prompt nor any context.
func (r *InvestigationTaskRequest) Empty() bool {
	return r.Prompt == "" && r.ResourceContext == "" && r.LogContext == "" && r.Context == ""
}

// Impact quantifies the blast radius of the incident. All three fields
// are mandatory in the final report wire format.
type Impact struct {
	ImpactDuration  int64 `json:"impact_duration"`  // seconds
	ServiceAffected int   `json:"service_affected"` // count of affected services
	ImpactedSince   int64 `json:"impacted_since"`   // unix seconds
}

// FinalReport is the structured result carried by the terminal
// investigation_complete event.
type FinalReport struct {
	Summary     string `json:"summary"`
	Remediation string `json:"remediation"`
	Impact      Impact `json:"impact"`
}
