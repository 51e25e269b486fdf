package agent

import (
	"context"
	"log/slog"

	"github.com/kuberoot/kuberoot/pkg/config"
	"github.com/kuberoot/kuberoot/pkg/events"
	"github.com/kuberoot/kuberoot/pkg/models"
	"github.com/kuberoot/kuberoot/pkg/signals"
)

// ExecutionStatus is the terminal status of one agent invocation.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ExecutionContext carries everything one agent invocation needs. It is
// assembled by the caller (supervisor or orchestrator) and owned by the
// invocation for its lifetime.
type ExecutionContext struct {
	TaskID  string
	TraceID string
	Role    models.AgentRole

	// SystemPrompt and Instruction open the conversation.
	SystemPrompt string
	Instruction  string

	Limits   config.AgentLimits
	Provider *config.LLMProviderConfig

	LLM   LLMClient
	Tools ToolExecutor

	// Abort is checked at every suspension point. Nil means the
	// invocation cannot be aborted from outside.
	Abort *signals.Token

	// Redirects, when set, is drained at the top of each iteration so an
	// operator redirect lands as the next user turn. Sub-agents run with
	// nil; redirects steer the supervisor.
	Redirects *signals.RedirectTable

	// OnText streams response deltas as they arrive. Nil disables
	// streaming; the collected text still lands in the result.
	OnText func(delta string)

	// Collector surfaces finished sub-agent results to the conversation.
	// Nil for sub-agents; only the supervisor dispatches.
	Collector ResultCollector

	Logger *slog.Logger
}

// ResultCollector hands finished sub-agent results to the loop as
// conversation turns. Implemented by the supervisor's runner adapter.
type ResultCollector interface {
	// TryDrainResult returns a finished result without blocking.
	TryDrainResult() (ConversationMessage, bool)

	// HasPending reports whether dispatched agents are still running.
	HasPending() bool

	// WaitForResult blocks until a result arrives or ctx is done.
	WaitForResult(ctx context.Context) (ConversationMessage, error)
}

// Log returns the invocation logger, defaulting when unset.
func (e *ExecutionContext) Log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// ExecutionResult is the outcome of one agent invocation.
type ExecutionResult struct {
	Status        ExecutionStatus
	FinalAnalysis string

	// ToolCalls is the audit trail of every tool call the invocation
	// made, in execution order, with its outcome.
	ToolCalls []events.ToolCallRecord

	Iterations int
	TokensUsed TokenUsage
	Err        error
}
