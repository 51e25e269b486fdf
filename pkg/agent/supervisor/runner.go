package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/agent/controller"
	"github.com/kuberoot/kuberoot/pkg/config"
	"github.com/kuberoot/kuberoot/pkg/events"
	"github.com/kuberoot/kuberoot/pkg/models"
	"github.com/kuberoot/kuberoot/pkg/signals"
)

var (
	// ErrUnknownRole is returned when dispatching a role outside the table.
	ErrUnknownRole = errors.New("unknown agent role")
	// ErrMaxConcurrentAgents is returned when every slot is taken.
	ErrMaxConcurrentAgents = errors.New("max concurrent sub-agents reached")
	// ErrSubTaskNotFound is returned for cancels against unknown sub-tasks.
	ErrSubTaskNotFound = errors.New("sub-task not found")
)

// TaskStore is the persistence slice the runner writes sub-task
// lifecycle records through. Implemented by services.TaskService.
type TaskStore interface {
	AppendSubTask(ctx context.Context, taskID string, subTask models.SubTask) error
	UpdateSubTask(ctx context.Context, taskID string, subTask models.SubTask) error
}

// EventSink appends investigation events. Implemented by events.Log.
type EventSink interface {
	Append(ctx context.Context, taskID string, kind models.EventKind, reason, analysis string, payload any) (models.Event, error)
}

// Deps bundles what every sub-agent invocation needs. RoleTools builds
// the role's tool executor; it is called once per dispatch so each
// invocation owns its executor.
type Deps struct {
	TaskID  string
	TraceID string

	Limits   config.AgentLimits
	Provider *config.LLMProviderConfig

	LLM       agent.LLMClient
	RoleTools func(role models.AgentRole) agent.ToolExecutor

	Tasks TaskStore
	Sink  EventSink
	Abort *signals.Token

	Logger *slog.Logger
}

func (d *Deps) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// SubAgentResult is one finished sub-agent invocation.
type SubAgentResult struct {
	SubTaskID string
	Role      models.AgentRole
	Task      string
	Status    models.SubTaskStatus
	Analysis  string
	Error     string
}

type subAgentRun struct {
	subTaskID string
	role      models.AgentRole
	task      string
	status    models.SubTaskStatus
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// SubAgentRunner manages sub-agent goroutines for one investigation:
// push-based result delivery over a buffered channel plus lifecycle
// management (cancel one, cancel all, wait).
type SubAgentRunner struct {
	mu   sync.Mutex
	runs map[string]*subAgentRun
	// Slots reserved by in-flight Dispatch calls that passed the
	// concurrency check but have not registered yet. Protected by mu.
	reserved int

	// Capacity = MaxConcurrentAgents so finished goroutines never block.
	resultsCh chan *SubAgentResult

	// Closed by CancelAll: undelivered results are dropped, the
	// supervisor is shutting down and will not consume them.
	closeCh chan struct{}

	// Results delivered but not yet consumed, plus agents still running.
	pending int32

	// parentCtx derives sub-agent contexts. Never a per-iteration
	// context; sub-agents outlive individual supervisor iterations.
	parentCtx context.Context

	deps *Deps
}

// NewSubAgentRunner creates a runner. parentCtx should be the
// task-level context.
func NewSubAgentRunner(parentCtx context.Context, deps *Deps) *SubAgentRunner {
	capacity := deps.Limits.MaxConcurrentAgents
	if capacity < 1 {
		capacity = 1
	}
	return &SubAgentRunner{
		runs:      make(map[string]*subAgentRun),
		resultsCh: make(chan *SubAgentResult, capacity),
		closeCh:   make(chan struct{}),
		parentCtx: parentCtx,
		deps:      deps,
	}
}

// Dispatch starts a sub-agent for the given role and instruction,
// returning its sub-task id immediately. The result arrives on the
// results channel when the goroutine finishes.
func (r *SubAgentRunner) Dispatch(ctx context.Context, role models.AgentRole, task string) (string, error) {
	spec, ok := agent.SpecFor(role)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	// Reserve a slot atomically with the concurrency check so two
	// concurrent Dispatch calls cannot both pass it.
	limit := r.deps.Limits.MaxConcurrentAgents
	r.mu.Lock()
	active := 0
	for _, run := range r.runs {
		if run.status == models.SubTaskStatusActive {
			active++
		}
	}
	if active+r.reserved >= limit {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: limit is %d", ErrMaxConcurrentAgents, limit)
	}
	r.reserved++
	r.mu.Unlock()

	releaseReservation := true
	defer func() {
		if releaseReservation {
			r.mu.Lock()
			r.reserved--
			r.mu.Unlock()
		}
	}()

	subTaskID := uuid.New().String()
	startedAt := time.Now().UTC()
	if err := r.deps.Tasks.AppendSubTask(ctx, r.deps.TaskID, models.SubTask{
		SubTaskID:    subTaskID,
		Agent:        role,
		InputSummary: task,
		StartedAt:    startedAt,
		Status:       models.SubTaskStatusActive,
	}); err != nil {
		return "", fmt.Errorf("record sub-task: %w", err)
	}

	subCtx, cancel := context.WithTimeout(r.parentCtx, r.deps.Limits.SubAgentTimeout)
	run := &subAgentRun{
		subTaskID: subTaskID,
		role:      role,
		task:      task,
		status:    models.SubTaskStatusActive,
		startedAt: startedAt,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	// Register and release the reservation in one lock hold so
	// concurrent dispatches see a consistent count.
	r.mu.Lock()
	r.runs[subTaskID] = run
	r.reserved--
	releaseReservation = false
	r.mu.Unlock()

	atomic.AddInt32(&r.pending, 1)

	go r.runSubAgent(subCtx, cancel, run, spec)
	return subTaskID, nil
}

func (r *SubAgentRunner) runSubAgent(ctx context.Context, cancel context.CancelFunc, run *subAgentRun, spec agent.RoleSpec) {
	defer cancel()
	defer close(run.done)

	logger := r.deps.log().With(
		"task_id", r.deps.TaskID,
		"sub_task_id", run.subTaskID,
		"agent", run.role,
	)

	tools := r.deps.RoleTools(run.role)
	defer func() { _ = tools.Close() }()

	execCtx := &agent.ExecutionContext{
		TaskID:       r.deps.TaskID,
		TraceID:      r.deps.TraceID,
		Role:         run.role,
		SystemPrompt: spec.SystemPrompt,
		Instruction:  run.task,
		Limits:       r.deps.Limits,
		Provider:     r.deps.Provider,
		LLM:          r.deps.LLM,
		Tools:        tools,
		Abort:        r.deps.Abort,
		Logger:       logger,
	}

	result, err := controller.NewIteratingController().Run(ctx, execCtx)
	if err != nil {
		status := models.SubTaskStatusFailed
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = models.SubTaskStatusTimedOut
		} else if ctx.Err() != nil {
			status = models.SubTaskStatusCancelled
		}
		logger.Error("sub-agent invocation error", "error", err, "status", status)
		r.complete(run, status, nil, err.Error())
		return
	}

	status := mapExecutionStatus(result.Status, ctx)
	var errMsg string
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	r.complete(run, status, result, errMsg)
}

// complete records the terminal sub-task state, emits the events
// clients watch, and delivers the result to the supervisor.
func (r *SubAgentRunner) complete(run *subAgentRun, status models.SubTaskStatus, result *agent.ExecutionResult, errMsg string) {
	r.mu.Lock()
	run.status = status
	r.mu.Unlock()

	completedAt := time.Now().UTC()
	analysis := ""
	var toolCalls []events.ToolCallRecord
	if result != nil {
		analysis = result.FinalAnalysis
		toolCalls = result.ToolCalls
	}

	// Persistence and event emission run on a background context: the
	// sub-agent context may already be cancelled, the record must land.
	bg, cancelBg := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelBg()

	if err := r.deps.Tasks.UpdateSubTask(bg, r.deps.TaskID, models.SubTask{
		SubTaskID:     run.subTaskID,
		Agent:         run.role,
		InputSummary:  run.task,
		OutputSummary: summarize(analysis, errMsg),
		StartedAt:     run.startedAt,
		CompletedAt:   &completedAt,
		Status:        status,
	}); err != nil {
		r.deps.log().Warn("failed to update sub-task record",
			"sub_task_id", run.subTaskID, "status", status, "error", err)
	}

	if status == models.SubTaskStatusCompleted {
		_, _ = r.deps.Sink.Append(bg, r.deps.TaskID, models.EventAnalysisStep,
			string(run.role), stepTitle(run.role), &events.AnalysisStepPayload{
				Agent:     run.role,
				Title:     stepTitle(run.role),
				Summary:   analysis,
				ToolCalls: toolCalls,
			})
	} else {
		// Sub-agent failures never fail the task; the supervisor decides
		// what to do with the reduced coverage.
		_, _ = r.deps.Sink.Append(bg, r.deps.TaskID, models.EventError,
			string(agent.KindToolError), fmt.Sprintf("%s agent %s", run.role, status),
			&events.ErrorPayload{
				Kind:    string(agent.KindToolError),
				Message: errMsg,
				Agent:   string(run.role),
			})
	}
	_, _ = r.deps.Sink.Append(bg, r.deps.TaskID, models.EventAgentPhaseComplete,
		string(status), "", &events.AgentPhaseCompletePayload{
			Agent:         run.role,
			SubTaskID:     run.subTaskID,
			Status:        status,
			OutputSummary: summarize(analysis, errMsg),
			DurationMS:    completedAt.Sub(run.startedAt).Milliseconds(),
		})

	out := &SubAgentResult{
		SubTaskID: run.subTaskID,
		Role:      run.role,
		Task:      run.task,
		Status:    status,
		Analysis:  analysis,
		Error:     errMsg,
	}

	// Drop on shutdown only; individual cancellations still deliver.
	select {
	case r.resultsCh <- out:
	case <-r.closeCh:
		atomic.AddInt32(&r.pending, -1)
	}
}

// TryGetNext returns a finished result without blocking.
func (r *SubAgentRunner) TryGetNext() (*SubAgentResult, bool) {
	select {
	case result := <-r.resultsCh:
		atomic.AddInt32(&r.pending, -1)
		return result, true
	default:
		return nil, false
	}
}

// WaitForNext blocks until a result is available or ctx is done.
func (r *SubAgentRunner) WaitForNext(ctx context.Context) (*SubAgentResult, error) {
	select {
	case result := <-r.resultsCh:
		atomic.AddInt32(&r.pending, -1)
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HasPending reports whether any dispatched agent has not yet been
// consumed by the supervisor.
func (r *SubAgentRunner) HasPending() bool {
	return atomic.LoadInt32(&r.pending) > 0
}

// Cancel cancels one sub-agent. Returns a human-readable status.
func (r *SubAgentRunner) Cancel(subTaskID string) (string, error) {
	r.mu.Lock()
	run, ok := r.runs[subTaskID]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrSubTaskNotFound, subTaskID)
	}
	if run.status != models.SubTaskStatusActive {
		status := run.status
		r.mu.Unlock()
		return fmt.Sprintf("already %s", status), nil
	}
	r.mu.Unlock()

	run.cancel()
	return "cancellation requested", nil
}

// List snapshots every dispatched sub-agent.
func (r *SubAgentRunner) List() []SubAgentResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SubAgentResult, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, SubAgentResult{
			SubTaskID: run.subTaskID,
			Role:      run.role,
			Task:      run.task,
			Status:    run.status,
		})
	}
	return out
}

// CancelAll cancels every running sub-agent and drops undelivered
// results.
func (r *SubAgentRunner) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.closeCh:
	default:
		close(r.closeCh)
	}
	for _, run := range r.runs {
		if run.status == models.SubTaskStatusActive && run.cancel != nil {
			run.cancel()
		}
	}
}

// WaitAll waits for every sub-agent goroutine to finish or ctx to
// expire. Called during cleanup.
func (r *SubAgentRunner) WaitAll(ctx context.Context) {
	r.mu.Lock()
	runs := make([]*subAgentRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.Unlock()

	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			return
		}
	}
}

func mapExecutionStatus(status agent.ExecutionStatus, ctx context.Context) models.SubTaskStatus {
	switch status {
	case agent.ExecutionCompleted:
		return models.SubTaskStatusCompleted
	case agent.ExecutionCancelled:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.SubTaskStatusTimedOut
		}
		return models.SubTaskStatusCancelled
	default:
		return models.SubTaskStatusFailed
	}
}

// summarize picks the output summary for the sub-task record.
func summarize(analysis, errMsg string) string {
	s := analysis
	if s == "" {
		s = errMsg
	}
	const maxLen = 500
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

// stepTitle renders the human-readable analysis_step heading.
func stepTitle(role models.AgentRole) string {
	switch role {
	case models.AgentDiscovery:
		return "Resource discovery"
	case models.AgentMonitoring:
		return "Metrics analysis"
	case models.AgentSecurity:
		return "Security review"
	case models.AgentLogging:
		return "Log analysis"
	case models.AgentIntegration:
		return "External system correlation"
	case models.AgentRootCause:
		return "Root cause verification"
	}
	return string(role)
}
