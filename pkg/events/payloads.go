package events

import (
	"encoding/json"

	"github.com/kuberoot/kuberoot/pkg/models"
)

// Typed payloads for each event kind. The log stores them as raw JSON on
// the event row; these structs define the wire shape clients parse.

// InvestigationStartedPayload is the payload for investigation_started.
type InvestigationStartedPayload struct {
	Title   string                           `json:"title"`
	Request *models.InvestigationTaskRequest `json:"request"`
}

// TodoUpdatedPayload is the payload for todo_updated. It carries the
// full board so clients render state, not diffs.
type TodoUpdatedPayload struct {
	Todos []*models.Todo `json:"todos"`
}

// AnalysisStepPayload is the payload for analysis_step: one sub-agent
// finding with the tool calls that produced it.
type AnalysisStepPayload struct {
	Agent     models.AgentRole `json:"agent"`
	Title     string           `json:"title"`
	Summary   string           `json:"summary"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolCallRecord is one executed tool call inside an analysis step.
type ToolCallRecord struct {
	CallID    string `json:"call_id"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments,omitempty"`
	Outcome   string `json:"outcome,omitempty"` // ok, denied, error, redirected
}

// AgentPhaseCompletePayload is the payload for agent_phase_complete.
type AgentPhaseCompletePayload struct {
	Agent         models.AgentRole     `json:"agent"`
	SubTaskID     string               `json:"sub_task_id"`
	Status        models.SubTaskStatus `json:"status"`
	OutputSummary string               `json:"output_summary,omitempty"`
	DurationMS    int64                `json:"duration_ms"`
}

// ToolApprovalRequestPayload is the payload for tool_approval_request.
// The client resolves it via POST /chat/tool-approval.
type ToolApprovalRequestPayload struct {
	TraceID   string `json:"trace_id"`
	CallID    string `json:"call_id"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
	Agent     string `json:"agent,omitempty"`
}

// TitleTokenPayload streams one generated-title token.
type TitleTokenPayload struct {
	Delta string `json:"delta"`
}

// TitleCompletePayload is the payload for title_complete.
type TitleCompletePayload struct {
	Title    string   `json:"title"`
	Tags     []string `json:"tags,omitempty"`
	Severity string   `json:"severity,omitempty"`
}

// ErrorPayload is the payload for error events, fatal or not.
type ErrorPayload struct {
	Kind    string `json:"kind"` // error taxonomy kind, e.g. "ToolDenied"
	Message string `json:"message"`
	Agent   string `json:"agent,omitempty"`
	Tool    string `json:"tool,omitempty"`
}

// InvestigationCompletePayload is the terminal payload: the final
// structured report. All impact fields are mandatory on the wire.
type InvestigationCompletePayload struct {
	models.FinalReport
}

// DecodePayload unmarshals an event's payload into out.
func DecodePayload(e models.Event, out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}
