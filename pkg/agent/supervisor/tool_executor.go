package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/events"
	"github.com/kuberoot/kuberoot/pkg/models"
)

var _ agent.ToolExecutor = (*CompositeToolExecutor)(nil)

// closeTimeout bounds how long Close waits for sub-agent goroutines.
// Package-level var so tests can shorten it.
var closeTimeout = 30 * time.Second

// Supervisor tool names.
const (
	ToolWriteTodos        = "write_todos"
	ToolUpdateTodo        = "update_todo"
	ToolCancelAgent       = "cancel_agent"
	ToolListAgents        = "list_agents"
	ToolRootCauseAnalysis = "root_cause_analysis"

	invokePrefix = "invoke_"
)

// AnalyzeFunc runs the root-cause analyzer over the evidence collected
// so far and returns the final structured report.
type AnalyzeFunc func(ctx context.Context) (*models.FinalReport, error)

// supervisorTools is the declarative non-dispatch tool table.
var supervisorTools = []agent.ToolDefinition{
	{
		Name: ToolWriteTodos,
		Description: "Create investigation plan items. Must be your first tool call: " +
			"no other tool is available until a plan exists.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"todos": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"content": {"type": "string"},
							"type": {"type": "string", "enum": ["collection", "analysis", "validation", "remediation"]},
							"priority": {"type": "string", "enum": ["high", "medium", "low"]},
							"assigned_to": {"type": "string", "enum": ["discovery", "monitoring", "security", "logging", "integration", "root_cause"]}
						},
						"required": ["content"]
					}
				}
			},
			"required": ["todos"]
		}`,
	},
	{
		Name: ToolUpdateTodo,
		Description: "Transition one plan item. Mark exactly one todo in_progress before " +
			"working on it and complete it before starting another.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"status": {"type": "string", "enum": ["pending", "in_progress", "completed", "cancelled"]},
				"reason": {"type": "string", "description": "Required when cancelling"}
			},
			"required": ["id", "status"]
		}`,
	},
	{
		Name:        ToolCancelAgent,
		Description: "Cancel a dispatched sub-agent that is no longer needed.",
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"sub_task_id": {"type": "string"}
			},
			"required": ["sub_task_id"]
		}`,
	},
	{
		Name:        ToolListAgents,
		Description: "List every dispatched sub-agent with its status.",
		ParametersSchema: `{
			"type": "object",
			"properties": {}
		}`,
	},
	{
		Name: ToolRootCauseAnalysis,
		Description: "Run the final root-cause analysis over everything gathered. " +
			"Always call this exactly once, after the plan is settled, to close the investigation.",
		ParametersSchema: `{
			"type": "object",
			"properties": {}
		}`,
	},
}

// invokeToolFor builds the dispatch tool definition for one role.
func invokeToolFor(role models.AgentRole) agent.ToolDefinition {
	return agent.ToolDefinition{
		Name: invokePrefix + string(role),
		Description: fmt.Sprintf("Dispatch the %s agent with a task. Returns a sub_task_id immediately; "+
			"the result arrives as a later message. Batch every resource the agent needs into one call.", role),
		ParametersSchema: `{
			"type": "object",
			"properties": {
				"task": {"type": "string", "description": "The enriched task: incident summary, resources involved, prior findings, and the specific question"}
			},
			"required": ["task"]
		}`,
	}
}

// CompositeToolExecutor is the supervisor's tool surface: todo board
// operations, one dispatch tool per role, runner management, the final
// analysis call, and (through inner) the policy-guarded cluster tools.
type CompositeToolExecutor struct {
	board   *Board
	runner  *SubAgentRunner
	inner   agent.ToolExecutor // may be nil
	sink    EventSink
	taskID  string
	analyze AnalyzeFunc

	mu     sync.Mutex
	report *models.FinalReport
}

// NewCompositeToolExecutor creates the supervisor executor. inner may
// be nil when the supervisor has no direct cluster tools.
func NewCompositeToolExecutor(board *Board, runner *SubAgentRunner, inner agent.ToolExecutor, sink EventSink, taskID string, analyze AnalyzeFunc) *CompositeToolExecutor {
	if board == nil || runner == nil {
		panic("NewCompositeToolExecutor: board and runner must not be nil")
	}
	return &CompositeToolExecutor{
		board:   board,
		runner:  runner,
		inner:   inner,
		sink:    sink,
		taskID:  taskID,
		analyze: analyze,
	}
}

// Report returns the final report produced by root_cause_analysis, if
// it ran.
func (c *CompositeToolExecutor) Report() (*models.FinalReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report, c.report != nil
}

// ListTools returns the supervisor tools, the per-role dispatch tools,
// and the inner cluster surface.
func (c *CompositeToolExecutor) ListTools(ctx context.Context) ([]agent.ToolDefinition, error) {
	tools := make([]agent.ToolDefinition, 0, len(supervisorTools)+len(models.AgentRoles))
	tools = append(tools, supervisorTools...)
	for _, role := range models.AgentRoles {
		tools = append(tools, invokeToolFor(role))
	}
	if c.inner != nil {
		innerTools, err := c.inner.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list cluster tools: %w", err)
		}
		tools = append(tools, innerTools...)
	}
	return tools, nil
}

// Execute routes one call. Until the board holds a plan, every tool
// except write_todos is rejected.
func (c *CompositeToolExecutor) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	if call.Name != ToolWriteTodos && !c.board.HasTodos() {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: "No plan exists yet. Call write_todos with 3-5 atomic investigation items first.",
			IsError: true,
			Kind:    agent.KindInvalidRequest,
		}, nil
	}

	switch {
	case call.Name == ToolWriteTodos:
		return c.handleWriteTodos(ctx, call)
	case call.Name == ToolUpdateTodo:
		return c.handleUpdateTodo(ctx, call)
	case call.Name == ToolCancelAgent:
		return c.handleCancelAgent(call)
	case call.Name == ToolListAgents:
		return c.handleListAgents(call)
	case call.Name == ToolRootCauseAnalysis:
		return c.handleRootCauseAnalysis(ctx, call)
	case strings.HasPrefix(call.Name, invokePrefix):
		return c.handleInvoke(ctx, call)
	}

	if c.inner != nil {
		return c.inner.Execute(ctx, call)
	}
	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("unknown tool: %s", call.Name),
		IsError: true,
	}, nil
}

// Close cancels outstanding sub-agents, waits for them, then closes the
// inner executor. Runs on a fresh context; the caller's may already be
// cancelled.
func (c *CompositeToolExecutor) Close() error {
	c.runner.CancelAll()

	waitCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	c.runner.WaitAll(waitCtx)

	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

func (c *CompositeToolExecutor) handleWriteTodos(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	var args struct {
		Todos []TodoWrite `json:"todos"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return invalidArgs(call, err), nil
	}

	created, err := c.board.Write(args.Todos)
	if err != nil {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: err.Error(),
			IsError: true,
			Kind:    agent.KindInvalidRequest,
		}, nil
	}
	c.publishBoard(ctx)

	resp, _ := json.Marshal(map[string]any{"created": len(created)})
	return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: string(resp)}, nil
}

func (c *CompositeToolExecutor) handleUpdateTodo(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	var args struct {
		ID     string            `json:"id"`
		Status models.TodoStatus `json:"status"`
		Reason string            `json:"reason"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return invalidArgs(call, err), nil
	}
	if args.ID == "" || args.Status == "" {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: "both 'id' and 'status' are required",
			IsError: true,
			Kind:    agent.KindInvalidRequest,
		}, nil
	}

	todo, err := c.board.SetStatus(args.ID, args.Status, args.Reason)
	if err != nil {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: err.Error(),
			IsError: true,
			Kind:    agent.KindInvalidRequest,
		}, nil
	}
	c.publishBoard(ctx)

	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("todo %s is now %s", todo.ID, todo.Status),
	}, nil
}

func (c *CompositeToolExecutor) handleInvoke(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	role := models.AgentRole(strings.TrimPrefix(call.Name, invokePrefix))
	if !role.Valid() {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("unknown agent role: %s", role),
			IsError: true,
		}, nil
	}

	var args struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return invalidArgs(call, err), nil
	}
	if args.Task == "" {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: "'task' is required",
			IsError: true,
			Kind:    agent.KindInvalidRequest,
		}, nil
	}

	subTaskID, err := c.runner.Dispatch(ctx, role, args.Task)
	if err != nil {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("dispatch failed: %v", err),
			IsError: true,
		}, nil
	}

	resp, _ := json.Marshal(map[string]string{
		"sub_task_id": subTaskID,
		"status":      "accepted",
	})
	return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: string(resp)}, nil
}

func (c *CompositeToolExecutor) handleCancelAgent(call agent.ToolCall) (*agent.ToolResult, error) {
	var args struct {
		SubTaskID string `json:"sub_task_id"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return invalidArgs(call, err), nil
	}
	if args.SubTaskID == "" {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: "'sub_task_id' is required",
			IsError: true,
			Kind:    agent.KindInvalidRequest,
		}, nil
	}

	status, err := c.runner.Cancel(args.SubTaskID)
	if err != nil {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("cancel failed: %v", err),
			IsError: true,
		}, nil
	}
	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("cancel %s: %s", args.SubTaskID, status),
	}, nil
}

func (c *CompositeToolExecutor) handleListAgents(call agent.ToolCall) (*agent.ToolResult, error) {
	statuses := c.runner.List()
	if len(statuses) == 0 {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: "No sub-agents dispatched yet.",
		}, nil
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].SubTaskID < statuses[j].SubTaskID
	})

	var b strings.Builder
	for i, s := range statuses {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s (sub-task %s): status=%s, task=%q",
			s.Role, s.SubTaskID, s.Status, s.Task)
	}
	return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: b.String()}, nil
}

func (c *CompositeToolExecutor) handleRootCauseAnalysis(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	if c.analyze == nil {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: "root cause analysis is not available",
			IsError: true,
		}, nil
	}

	report, err := c.analyze(ctx)
	if err != nil {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("root cause analysis failed: %v", err),
			IsError: true,
		}, nil
	}

	c.mu.Lock()
	c.report = report
	c.mu.Unlock()

	resp, _ := json.Marshal(report)
	return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: string(resp)}, nil
}

// publishBoard emits the full board as a todo_updated event. Clients
// render state, not diffs.
func (c *CompositeToolExecutor) publishBoard(ctx context.Context) {
	if c.sink == nil {
		return
	}
	_, _ = c.sink.Append(ctx, c.taskID, models.EventTodoUpdated, "", "",
		&events.TodoUpdatedPayload{Todos: c.board.Snapshot()})
}

func invalidArgs(call agent.ToolCall, err error) *agent.ToolResult {
	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("invalid arguments: %v", err),
		IsError: true,
		Kind:    agent.KindInvalidRequest,
	}
}
