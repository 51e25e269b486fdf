package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/agent/controller"
	"github.com/kuberoot/kuberoot/pkg/agent/supervisor"
	"github.com/kuberoot/kuberoot/pkg/events"
	"github.com/kuberoot/kuberoot/pkg/models"
	"github.com/kuberoot/kuberoot/pkg/signals"
	"github.com/kuberoot/kuberoot/pkg/slack"
)

// finalizeTimeout bounds the terminal persistence writes that run after
// the task context is already dead.
const finalizeTimeout = 10 * time.Second

const supervisorSystemPrompt = `You are the supervisor of a Kubernetes troubleshooting engine investigating one incident.

You coordinate six specialist agents (discovery, monitoring, security, logging, integration, root_cause) through invoke_* tools and track your plan on a todo board.

Rules:
- Work the todo board: mark exactly one todo in_progress before working on it, complete it before starting the next, cancel todos that became irrelevant with a reason.
- When invoking an agent, compose an enriched task: the incident summary, the resources involved, findings from earlier agents, and the specific question. Batch every resource the agent needs into one call; never fan out per resource.
- Agent results arrive as later messages. You may dispatch agents in parallel and continue planning while they run.
- If a tool is denied by policy, do not retry it; work read-only or cancel the todo with a reason.
- Always finish by calling root_cause_analysis exactly once. Its output is the final report; after it returns, summarize the investigation and stop calling tools.`

// runInvestigation is the per-task worker goroutine.
func (o *Orchestrator) runInvestigation(task *models.Task, req *models.InvestigationTaskRequest, abort *signals.Token) {
	taskID := task.TaskID
	logger := o.logger.With("task_id", taskID)

	defer o.wg.Done()
	defer o.releaseSlot(taskID)
	defer o.deps.Aborts.Remove(taskID)
	defer o.deps.Log.Close(taskID)

	// The task context lives for the whole investigation and dies with
	// the abort token.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := watchAbort(ctx, abort, cancel)
	defer stop()

	logger.Info("Investigation started")
	start := time.Now()

	ns := &notifyState{}
	err := o.investigate(ctx, taskID, req, abort, ns, logger)
	switch {
	case err == nil:
		logger.Info("Investigation finished", "duration", time.Since(start))
	case abort.Cancelled():
		o.finalizeCancelled(taskID, ns, logger)
	default:
		o.finalizeFailed(taskID, err, ns, logger)
	}
}

// notifyState carries the Slack thread anchor from the start
// notification to the terminal one.
type notifyState struct {
	title    string
	threadTS string
}

// investigate runs one investigation to its terminal event. A nil return
// means the terminal event and status transition already happened; a
// non-nil return is an orchestrator-level failure (or cancellation) the
// caller finalizes.
func (o *Orchestrator) investigate(ctx context.Context, taskID string, req *models.InvestigationTaskRequest, abort *signals.Token, ns *notifyState, logger *slog.Logger) error {
	if _, err := o.deps.Log.Append(ctx, taskID, models.EventInvestigationStarted, "", "",
		&events.InvestigationStartedPayload{Title: req.Title, Request: req}); err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	plan, err := o.plan(ctx, taskID, req, logger)
	if err != nil {
		return err
	}

	ns.title = plan.Title
	ns.threadTS = o.deps.Notifier.NotifyTaskStarted(ctx, slack.TaskStartedInput{
		TaskID: taskID,
		Title:  plan.Title,
	})

	board := supervisor.NewBoard()
	if _, err := board.Write(plan.Todos); err != nil {
		return fmt.Errorf("seed todo board: %w", err)
	}
	if _, err := o.deps.Log.Append(ctx, taskID, models.EventTodoUpdated, "", "",
		&events.TodoUpdatedPayload{Todos: board.Snapshot()}); err != nil {
		return fmt.Errorf("publish initial plan: %w", err)
	}

	raw, err := o.deps.Tools.NewExecutor(ctx, taskID)
	if err != nil {
		return fmt.Errorf("build tool executor: %w", err)
	}

	notify := func(ctx context.Context, req agent.ApprovalRequest) error {
		_, err := o.deps.Log.Append(ctx, req.TaskID, models.EventToolApprovalRequest,
			req.Tool, "", &events.ToolApprovalRequestPayload{
				TraceID:   req.TraceID,
				CallID:    req.CallID,
				Tool:      req.Tool,
				Arguments: req.Arguments,
			})
		return err
	}
	// Investigations use the task id as the approval/redirect trace key.
	guarded := agent.NewGuardedExecutor(raw, o.deps.Policy, o.deps.Approvals,
		o.deps.Redirects, abort, taskID, taskID, notify, logger)

	runner := supervisor.NewSubAgentRunner(ctx, &supervisor.Deps{
		TaskID:   taskID,
		TraceID:  taskID,
		Limits:   *o.deps.Limits,
		Provider: o.deps.Provider,
		LLM:      o.deps.LLM,
		RoleTools: func(role models.AgentRole) agent.ToolExecutor {
			spec, _ := agent.SpecFor(role)
			return agent.NewScopedExecutor(sharedExecutor{guarded}, spec.Tools)
		},
		Tasks:  o.deps.Store,
		Sink:   o.deps.Log,
		Abort:  abort,
		Logger: logger,
	})

	composite := supervisor.NewCompositeToolExecutor(board, runner, guarded,
		o.deps.Log, taskID, o.analyzeFunc(taskID, req, logger))
	defer func() { _ = composite.Close() }()

	execCtx := &agent.ExecutionContext{
		TaskID:       taskID,
		TraceID:      taskID,
		Role:         "supervisor",
		SystemPrompt: supervisorSystemPrompt,
		Instruction:  buildInstruction(req, plan),
		Limits:       *o.deps.Limits,
		Provider:     o.deps.Provider,
		LLM:          o.deps.LLM,
		Tools:        composite,
		Abort:        abort,
		Redirects:    o.deps.Redirects,
		Collector:    supervisor.NewResultCollector(runner),
		Logger:       logger,
	}

	result, err := controller.NewIteratingController().Run(ctx, execCtx)
	if err != nil {
		return fmt.Errorf("supervisor loop: %w", err)
	}

	switch result.Status {
	case agent.ExecutionCancelled:
		return context.Canceled
	case agent.ExecutionFailed:
		return fmt.Errorf("supervisor failed: %w", result.Err)
	}

	report, ok := composite.Report()
	if !ok {
		// The model concluded without calling root_cause_analysis; run it
		// directly so the terminal event always carries a report.
		logger.Warn("Supervisor skipped root_cause_analysis, running it directly")
		report, err = o.analyzeFunc(taskID, req, logger)(ctx)
		if err != nil {
			return fmt.Errorf("root cause analysis: %w", err)
		}
	}

	if _, err := o.deps.Log.Append(ctx, taskID, models.EventInvestigationComplete,
		"", result.FinalAnalysis, &events.InvestigationCompletePayload{FinalReport: *report}); err != nil {
		return fmt.Errorf("append terminal event: %w", err)
	}
	if err := o.deps.Store.SetStatus(ctx, taskID, models.TaskStatusCompleted); err != nil {
		logger.Error("Terminal event appended but status transition failed", "error", err)
	}
	o.deps.Notifier.NotifyTaskCompleted(ctx, slack.TaskCompletedInput{
		TaskID:      taskID,
		Title:       ns.title,
		Status:      string(models.TaskStatusCompleted),
		Summary:     report.Summary,
		Remediation: report.Remediation,
		ThreadTS:    ns.threadTS,
	})
	return nil
}

// plan generates the title, metadata, and todo seed, streaming title
// tokens as events.
func (o *Orchestrator) plan(ctx context.Context, taskID string, req *models.InvestigationTaskRequest, logger *slog.Logger) (*supervisor.Plan, error) {
	planner := supervisor.NewPlanner(o.deps.LLM, o.deps.Structured, o.deps.Provider, logger)

	plan, err := planner.Plan(ctx, req, func(delta string) {
		_, _ = o.deps.Log.Append(ctx, taskID, models.EventTitleToken, "", "",
			&events.TitleTokenPayload{Delta: delta})
	})
	if err != nil {
		return nil, fmt.Errorf("plan investigation: %w", err)
	}

	if _, err := o.deps.Log.Append(ctx, taskID, models.EventTitleComplete, "", "",
		&events.TitleCompletePayload{Title: plan.Title, Tags: plan.Tags, Severity: plan.Severity}); err != nil {
		return nil, fmt.Errorf("publish title: %w", err)
	}
	if err := o.deps.Store.UpdateMetadata(ctx, taskID, plan.Title, plan.Tags, plan.Severity); err != nil {
		return nil, fmt.Errorf("store metadata: %w", err)
	}
	return plan, nil
}

// finalizeCancelled appends the terminal cancellation event and flips the
// status, on a fresh context since the task's is dead.
func (o *Orchestrator) finalizeCancelled(taskID string, ns *notifyState, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if _, err := o.deps.Log.Append(ctx, taskID, models.EventInvestigationCancelled,
		"cancelled by operator", "", nil); err != nil {
		logger.Error("Failed to append cancellation event", "error", err)
	}
	if err := o.deps.Store.SetStatus(ctx, taskID, models.TaskStatusCancelled); err != nil {
		logger.Error("Failed to mark task cancelled", "error", err)
	}
	o.deps.Notifier.NotifyTaskCompleted(ctx, slack.TaskCompletedInput{
		TaskID:   taskID,
		Title:    ns.title,
		Status:   string(models.TaskStatusCancelled),
		ThreadTS: ns.threadTS,
	})
	logger.Info("Investigation cancelled")
}

// finalizeFailed appends the terminal fatal error event and flips the
// status.
func (o *Orchestrator) finalizeFailed(taskID string, cause error, ns *notifyState, logger *slog.Logger) {
	logger.Error("Investigation failed", "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if _, err := o.deps.Log.Append(ctx, taskID, models.EventError,
		models.ErrorReasonFatal, cause.Error(), &events.ErrorPayload{
			Kind:    string(agent.Classify(cause)),
			Message: cause.Error(),
		}); err != nil {
		logger.Error("Failed to append fatal error event", "error", err)
	}
	if err := o.deps.Store.SetStatus(ctx, taskID, models.TaskStatusFailed); err != nil {
		logger.Error("Failed to mark task failed", "error", err)
	}
	o.deps.Notifier.NotifyTaskCompleted(ctx, slack.TaskCompletedInput{
		TaskID:       taskID,
		Title:        ns.title,
		Status:       string(models.TaskStatusFailed),
		ErrorMessage: cause.Error(),
		ThreadTS:     ns.threadTS,
	})
}

// buildInstruction opens the supervisor conversation: the request plus
// the seeded plan.
func buildInstruction(req *models.InvestigationTaskRequest, plan *supervisor.Plan) string {
	var b strings.Builder
	b.WriteString("Investigate this Kubernetes incident.\n\nIncident:\n")
	if req.Prompt != "" {
		b.WriteString(req.Prompt)
	} else {
		b.WriteString(req.Context)
	}
	if req.ResourceContext != "" {
		b.WriteString("\n\nResources involved:\n")
		b.WriteString(req.ResourceContext)
	}
	if req.LogContext != "" {
		b.WriteString("\n\nRelevant logs:\n")
		b.WriteString(req.LogContext)
	}
	if req.Context != "" && req.Prompt != "" {
		b.WriteString("\n\nAdditional context:\n")
		b.WriteString(req.Context)
	}

	b.WriteString("\n\nYour todo board has been seeded with this plan:\n")
	for _, todo := range plan.Todos {
		fmt.Fprintf(&b, "- [%s/%s] %s", todo.Type, todo.Priority, todo.Content)
		if todo.AssignedTo != "" {
			fmt.Fprintf(&b, " (suggested agent: %s)", todo.AssignedTo)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nRefine the plan if needed, then work it todo by todo.")
	return b.String()
}

// watchAbort cancels the context when the token fires. The returned stop
// function releases the watcher.
func watchAbort(ctx context.Context, abort *signals.Token, cancel context.CancelFunc) func() {
	if abort.Cancelled() {
		cancel()
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-abort.Done():
			cancel()
		case <-ctx.Done():
		case <-done:
		}
	}()
	return func() { close(done) }
}

// sharedExecutor hands a borrowed executor to a sub-agent. Sub-agents
// close their executors on exit; the guarded executor underneath is
// owned by the task and must survive them.
type sharedExecutor struct {
	agent.ToolExecutor
}

func (sharedExecutor) Close() error { return nil }
