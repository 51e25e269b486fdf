// Package orchestrator owns the investigation lifecycle: start allocates
// a task and spawns its worker, cancel trips the task's abort token, and
// subscribe replays the persisted event log before tailing live events.
// Each investigation runs in its own goroutine; the supervisor loop and
// its sub-agents all hang off that goroutine's context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/agent/supervisor"
	"github.com/kuberoot/kuberoot/pkg/config"
	"github.com/kuberoot/kuberoot/pkg/events"
	"github.com/kuberoot/kuberoot/pkg/kgroot"
	"github.com/kuberoot/kuberoot/pkg/models"
	"github.com/kuberoot/kuberoot/pkg/services"
	"github.com/kuberoot/kuberoot/pkg/signals"
	"github.com/kuberoot/kuberoot/pkg/slack"
)

var (
	// ErrCapacity is returned when every investigation slot is taken.
	ErrCapacity = errors.New("max concurrent investigations reached")
	// ErrShuttingDown is returned for starts after shutdown began.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// TaskStore is the persistence surface the orchestrator drives.
// Implemented by services.TaskService.
type TaskStore interface {
	CreateTask(ctx context.Context, req *models.InvestigationTaskRequest) (*models.Task, error)
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	SetStatus(ctx context.Context, taskID string, status models.TaskStatus) error
	UpdateMetadata(ctx context.Context, taskID, title string, tags []string, severity string) error
	DeleteTask(ctx context.Context, taskID string) error

	supervisor.TaskStore
}

// ToolFactory builds the raw cluster tool executor for one task. The
// orchestrator wraps it with policy enforcement and per-role scoping.
type ToolFactory interface {
	NewExecutor(ctx context.Context, taskID string) (agent.ToolExecutor, error)
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Limits   *config.AgentLimits
	Worker   *config.WorkerConfig
	Policy   *config.PolicyContext
	Provider *config.LLMProviderConfig

	Store TaskStore
	Log   *events.Log

	LLM        agent.LLMClient
	Structured supervisor.StructuredLLM
	Tools      ToolFactory

	// Analyzer produces the root-cause analysis; Extractor pulls live
	// Kubernetes events for the resources named in the request.
	// Extractor may be nil, the analyzer then runs on an empty event set.
	Analyzer  *kgroot.Analyzer
	Extractor *kgroot.Extractor

	// Ignore filters resources out of evidence extraction. May be nil.
	Ignore *config.Kubeignore

	Aborts    *signals.AbortTable
	Approvals *signals.ApprovalTable
	Redirects *signals.RedirectTable

	// Notifier posts lifecycle notifications. Nil disables them.
	Notifier *slack.Service

	Logger *slog.Logger
}

// Orchestrator is the investigation lifecycle manager.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	running  int                 // reserved slots, including not-yet-registered starts
	active   map[string]struct{} // task ids with a running worker
	shutdown bool
	wg       sync.WaitGroup
}

// New creates an orchestrator. Deps must carry non-nil Store, Log, LLM,
// Structured, Tools, Analyzer, Aborts, Approvals, and Redirects.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Limits == nil {
		deps.Limits = config.DefaultAgentLimits()
	}
	if deps.Worker == nil {
		deps.Worker = config.DefaultWorkerConfig()
	}
	return &Orchestrator{
		deps:   deps,
		logger: logger,
		active: make(map[string]struct{}),
	}
}

// Start creates a task, spawns its worker, and returns the task plus a
// replay-then-tail stream bound to ctx. The stream ends with a terminal
// event; closing ctx detaches the subscriber without affecting the task.
func (o *Orchestrator) Start(ctx context.Context, req *models.InvestigationTaskRequest) (*models.Task, <-chan models.Event, error) {
	if req == nil || req.Empty() {
		return nil, nil, services.NewValidationError("request", "prompt or context is required")
	}

	if err := o.acquireSlot(); err != nil {
		return nil, nil, err
	}
	started := false
	defer func() {
		if !started {
			o.mu.Lock()
			o.running--
			o.mu.Unlock()
		}
	}()

	task, err := o.deps.Store.CreateTask(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	o.deps.Log.Open(task.TaskID)
	abort := o.deps.Aborts.Register(task.TaskID)

	stream, err := o.deps.Log.ReplayThenTail(ctx, task.TaskID)
	if err != nil {
		o.deps.Aborts.Remove(task.TaskID)
		o.deps.Log.Close(task.TaskID)
		return nil, nil, err
	}

	o.mu.Lock()
	o.active[task.TaskID] = struct{}{}
	o.mu.Unlock()
	started = true

	o.wg.Add(1)
	go o.runInvestigation(task, req, abort)

	return task, stream, nil
}

// Cancel trips the task's abort token. Idempotent: cancelling an already
// cancelled but still-running task succeeds. For tasks unknown to this
// process it falls back to a status check so callers get NotFound or
// AlreadyTerminal instead of silence.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	if _, found := o.deps.Aborts.Cancel(taskID); found {
		return nil
	}

	task, err := o.deps.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("task %s is %s: %w", taskID, task.Status, services.ErrAlreadyTerminal)
	}
	// Processing with no token: left over from a dead process. The
	// startup drain normally catches these; finalize directly.
	return o.deps.Store.SetStatus(ctx, taskID, models.TaskStatusCancelled)
}

// Subscribe returns a replay-then-tail stream for the task.
func (o *Orchestrator) Subscribe(ctx context.Context, taskID string) (<-chan models.Event, error) {
	if _, err := o.deps.Store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return o.deps.Log.ReplayThenTail(ctx, taskID)
}

// Status returns the task row.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*models.Task, error) {
	return o.deps.Store.GetTask(ctx, taskID)
}

// Delete cancels the task if it is still running, then removes it.
func (o *Orchestrator) Delete(ctx context.Context, taskID string) error {
	if _, found := o.deps.Aborts.Cancel(taskID); found {
		// Give the worker its chance to finalize; deletion does not wait.
		o.logger.Info("Cancelling task before delete", "task_id", taskID)
	}
	if err := o.deps.Store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	o.deps.Log.Close(taskID)
	return nil
}

// Shutdown stops accepting new investigations, waits for running ones up
// to ctx's deadline, then aborts whatever is left and waits again.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	o.shutdown = true
	remaining := len(o.active)
	o.mu.Unlock()

	o.logger.Info("Orchestrator shutting down", "active_tasks", remaining)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("All investigations finished")
		return
	case <-ctx.Done():
	}

	// Deadline hit: abort stragglers and wait for them to finalize.
	o.mu.Lock()
	stragglers := make([]string, 0, len(o.active))
	for taskID := range o.active {
		stragglers = append(stragglers, taskID)
	}
	o.mu.Unlock()

	o.logger.Warn("Aborting investigations still running at shutdown", "count", len(stragglers))
	for _, taskID := range stragglers {
		o.deps.Aborts.Cancel(taskID)
	}
	o.wg.Wait()
}

// ActiveTasks returns the number of running investigations.
func (o *Orchestrator) ActiveTasks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// acquireSlot reserves an investigation slot under the concurrency cap.
// The slot is counted before the task id exists so two concurrent starts
// cannot both pass the check.
func (o *Orchestrator) acquireSlot() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shutdown {
		return ErrShuttingDown
	}
	if o.running >= o.deps.Worker.MaxConcurrentTasks {
		return fmt.Errorf("%w: limit is %d", ErrCapacity, o.deps.Worker.MaxConcurrentTasks)
	}
	o.running++
	return nil
}

// releaseSlot frees a worker's slot on exit.
func (o *Orchestrator) releaseSlot(taskID string) {
	o.mu.Lock()
	o.running--
	delete(o.active, taskID)
	o.mu.Unlock()
}
