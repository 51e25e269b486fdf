package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kuberoot/kuberoot/pkg/config"
	"github.com/kuberoot/kuberoot/pkg/signals"
)

// ApprovalRequest describes a mutating tool call parked for a client
// decision. It is published on the event stream before the agent blocks.
type ApprovalRequest struct {
	TaskID    string
	TraceID   string
	CallID    string
	Tool      string
	Arguments string
}

// ApprovalNotifier publishes an approval request to clients. A failed
// publish means no client can ever answer, so the call is denied
// instead of parked.
type ApprovalNotifier func(ctx context.Context, req ApprovalRequest) error

// GuardedExecutor enforces tool policy in front of an inner executor.
// Deny-listed tools and mutating tools in recon mode are refused with a
// classified result; mutating tools outside recon mode park on the
// approval table until a client decision, a timeout, or an abort.
type GuardedExecutor struct {
	inner     ToolExecutor
	policy    *config.PolicyContext
	approvals *signals.ApprovalTable
	redirects *signals.RedirectTable
	abort     *signals.Token
	taskID    string
	traceID   string
	notify    ApprovalNotifier
	logger    *slog.Logger
}

// NewGuardedExecutor wraps inner with policy and approval enforcement.
// abort and notify may be nil; a nil notify denies every mutating call
// outside recon mode since no client could answer.
func NewGuardedExecutor(
	inner ToolExecutor,
	policy *config.PolicyContext,
	approvals *signals.ApprovalTable,
	redirects *signals.RedirectTable,
	abort *signals.Token,
	taskID, traceID string,
	notify ApprovalNotifier,
	logger *slog.Logger,
) *GuardedExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedExecutor{
		inner:     inner,
		policy:    policy,
		approvals: approvals,
		redirects: redirects,
		abort:     abort,
		taskID:    taskID,
		traceID:   traceID,
		notify:    notify,
		logger:    logger.With("task_id", taskID, "trace_id", traceID),
	}
}

func (g *GuardedExecutor) Execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	def, known := LookupTool(call.Name)
	if !known {
		// Not a cluster tool; the inner executor owns its own surface.
		return g.inner.Execute(ctx, call)
	}

	if g.policy.Denied(call.Name) {
		return deniedResult(call, KindToolDenied,
			"tool %q is denied by policy", call.Name), nil
	}
	if def.Name == ToolWebSearch && g.policy != nil && !g.policy.WebSearchEnabled {
		return deniedResult(call, KindToolDenied,
			"web search is disabled by policy"), nil
	}
	if !def.Mutating {
		return g.inner.Execute(ctx, call)
	}
	if g.policy != nil && g.policy.ReconMode {
		return deniedResult(call, KindToolDenied,
			"tool %q mutates cluster state and is unavailable in recon mode", call.Name), nil
	}
	return g.executeWithApproval(ctx, call)
}

// executeWithApproval parks the call until a client decision. The
// request is published only after registration so a reply can never
// race an absent entry.
func (g *GuardedExecutor) executeWithApproval(ctx context.Context, call ToolCall) (*ToolResult, error) {
	pending, err := g.approvals.Register(g.traceID, call.ID)
	if err != nil {
		return deniedResult(call, KindToolError,
			"approval registration failed: %v", err), nil
	}
	if pending.Resolved() {
		// Session-wide grant from an earlier approve_for_session.
		return g.inner.Execute(ctx, call)
	}

	if g.notify == nil {
		g.approvals.Drop(g.traceID, call.ID)
		return deniedResult(call, KindToolDenied,
			"tool %q requires approval but no approval channel is attached", call.Name), nil
	}
	if err := g.notify(ctx, ApprovalRequest{
		TaskID:    g.taskID,
		TraceID:   g.traceID,
		CallID:    call.ID,
		Tool:      call.Name,
		Arguments: call.Arguments,
	}); err != nil {
		g.approvals.Drop(g.traceID, call.ID)
		g.logger.Error("failed to publish approval request", "tool", call.Name, "error", err)
		return deniedResult(call, KindToolError,
			"could not request approval for %q: %v", call.Name, err), nil
	}

	g.logger.Info("awaiting approval for mutating tool", "tool", call.Name, "call_id", call.ID)
	res, err := pending.Await(ctx, g.abort)
	if err != nil {
		return nil, Wrap(KindCancelled, fmt.Sprintf("aborted while awaiting approval for %q", call.Name), err)
	}

	switch res.Decision {
	case signals.DecisionApprove, signals.DecisionApproveForSession:
		g.logger.Info("tool approved", "tool", call.Name, "decision", res.Decision)
		return g.inner.Execute(ctx, call)
	case signals.DecisionRedirect:
		instruction := res.Message
		if instruction == "" {
			instruction, _ = g.redirects.Take(g.traceID)
		}
		return &ToolResult{
			CallID:     call.ID,
			Name:       call.Name,
			Redirected: true,
			Content: fmt.Sprintf(
				"Call not executed. The operator redirected the investigation: %s", instruction),
		}, nil
	default:
		if res.Message == signals.DeniedByTimeout {
			return deniedResult(call, KindApprovalTimeout,
				"approval for %q timed out and was treated as a deny", call.Name), nil
		}
		content := fmt.Sprintf("tool %q was denied by the operator", call.Name)
		if res.Message != "" {
			content += ": " + res.Message
		}
		return &ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: content,
			IsError: true,
			Kind:    KindToolDenied,
		}, nil
	}
}

// ListTools returns the inner surface minus what policy hides: denied
// tools always, mutating tools in recon mode, web_search when disabled.
// Refusal on Execute still backstops a model that calls a hidden tool.
func (g *GuardedExecutor) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	defs, err := g.inner.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]ToolDefinition, 0, len(defs))
	for _, def := range defs {
		if g.policy.Denied(def.Name) {
			continue
		}
		if g.policy != nil {
			if def.Mutating && g.policy.ReconMode {
				continue
			}
			if def.Name == ToolWebSearch && !g.policy.WebSearchEnabled {
				continue
			}
		}
		visible = append(visible, def)
	}
	return visible, nil
}

func (g *GuardedExecutor) Close() error { return g.inner.Close() }

// deniedResult builds a classified refusal result.
func deniedResult(call ToolCall, kind Kind, format string, args ...any) *ToolResult {
	res := errorResult(call, format, args...)
	res.Kind = kind
	return res
}
