// Package controller implements the multi-turn tool-calling loop shared
// by the supervisor and every sub-agent. Tool calls arrive as structured
// chunks, not parsed text; a response without tool calls is the
// completion signal.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/events"
)

// MaxConsecutiveTimeouts is the threshold for abandoning the loop.
const MaxConsecutiveTimeouts = 2

// iterationState tracks failure history across iterations.
type iterationState struct {
	CurrentIteration           int
	MaxIterations              int
	LastInteractionFailed      bool
	LastErrorMessage           string
	ConsecutiveTimeoutFailures int
}

func (s *iterationState) ShouldAbortOnTimeouts() bool {
	return s.ConsecutiveTimeoutFailures >= MaxConsecutiveTimeouts
}

func (s *iterationState) RecordSuccess() {
	s.LastInteractionFailed = false
	s.LastErrorMessage = ""
	s.ConsecutiveTimeoutFailures = 0
}

func (s *iterationState) RecordFailure(errMsg string, isTimeout bool) {
	s.LastInteractionFailed = true
	s.LastErrorMessage = errMsg
	if isTimeout {
		s.ConsecutiveTimeoutFailures++
	} else {
		s.ConsecutiveTimeoutFailures = 0
	}
}

// IteratingController runs an agent invocation to completion: call the
// LLM with tools, execute the calls it makes, feed the outputs back, and
// stop at the first response without tool calls or at the iteration
// budget.
type IteratingController struct{}

// NewIteratingController creates a controller.
func NewIteratingController() *IteratingController {
	return &IteratingController{}
}

// Run executes the invocation described by execCtx.
func (c *IteratingController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	runCtx, stop := withAbort(ctx, execCtx.Abort)
	defer stop()

	logger := execCtx.Log().With("task_id", execCtx.TaskID, "agent", execCtx.Role)
	state := &iterationState{MaxIterations: execCtx.Limits.MaxIterations}
	totalUsage := agent.TokenUsage{}
	var records []events.ToolCallRecord

	history := agent.NewChatHistory()
	history.AddSystem(execCtx.SystemPrompt)
	history.AddUser(execCtx.Instruction)

	tools, err := execCtx.Tools.ListTools(runCtx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	for iteration := 0; iteration < state.MaxIterations; iteration++ {
		state.CurrentIteration = iteration + 1

		if runCtx.Err() != nil {
			return c.interrupted(execCtx, state, totalUsage, records, runCtx.Err()), nil
		}
		if state.ShouldAbortOnTimeouts() {
			return &agent.ExecutionResult{
				Status: agent.ExecutionFailed,
				Err: fmt.Errorf("aborted after %d consecutive timeouts (iteration %d/%d): %s",
					state.ConsecutiveTimeoutFailures, state.CurrentIteration, state.MaxIterations, state.LastErrorMessage),
				ToolCalls:  records,
				Iterations: state.CurrentIteration,
				TokensUsed: totalUsage,
			}, nil
		}

		// Drain sub-agent results that finished while the loop was busy.
		if collector := execCtx.Collector; collector != nil {
			for {
				msg, ok := collector.TryDrainResult()
				if !ok {
					break
				}
				history.AddUser(msg.Content)
			}
		}

		// An operator redirect lands as the next user turn.
		if execCtx.Redirects != nil {
			if instruction, ok := execCtx.Redirects.Take(execCtx.TraceID); ok {
				logger.Info("applying operator redirect", "iteration", state.CurrentIteration)
				history.AddUser("The operator redirected the investigation: " + instruction)
			}
		}

		iterCtx, iterCancel := context.WithTimeout(runCtx, execCtx.Limits.IterationTimeout)

		resp, err := collectResponse(iterCtx, execCtx.LLM, &agent.GenerateInput{
			TaskID:   execCtx.TaskID,
			TraceID:  execCtx.TraceID,
			Messages: history.Messages(),
			Config:   execCtx.Provider,
			Tools:    tools,
		}, execCtx.OnText)
		if err != nil {
			iterCancel()
			if runCtx.Err() != nil {
				return c.interrupted(execCtx, state, totalUsage, records, err), nil
			}
			var poe *PartialOutputError
			if !errors.As(err, &poe) {
				// A partial stream failure is recoverable without counting
				// as a hard failure; everything else is recorded.
				state.RecordFailure(err.Error(), isTimeoutError(err))
			}
			logger.Warn("llm call failed, retrying with error context",
				"iteration", state.CurrentIteration, "error", err)
			history.AddUser(buildRetryMessage(err))
			continue
		}

		totalUsage.Add(resp.Usage)
		state.RecordSuccess()

		if len(resp.ToolCalls) == 0 {
			// Not final while dispatched agents are still running: park on
			// the next result instead and let the loop continue.
			if collector := execCtx.Collector; collector != nil && collector.HasPending() {
				if resp.Text != "" {
					history.AddAssistant(resp.Text, nil)
				}
				msg, waitErr := collector.WaitForResult(runCtx)
				iterCancel()
				if waitErr != nil {
					return c.interrupted(execCtx, state, totalUsage, records, waitErr), nil
				}
				history.AddUser(msg.Content)
				continue
			}

			iterCancel()
			return &agent.ExecutionResult{
				Status:        agent.ExecutionCompleted,
				FinalAnalysis: resp.Text,
				ToolCalls:     records,
				Iterations:    state.CurrentIteration,
				TokensUsed:    totalUsage,
			}, nil
		}

		history.AddAssistant(resp.Text, resp.ToolCalls)
		for _, call := range resp.ToolCalls {
			result, execErr := execCtx.Tools.Execute(iterCtx, call)
			if execErr != nil {
				if runCtx.Err() != nil || agent.IsKind(execErr, agent.KindCancelled) {
					iterCancel()
					return c.interrupted(execCtx, state, totalUsage, records, execErr), nil
				}
				state.RecordFailure(execErr.Error(), isTimeoutError(execErr))
				result = &agent.ToolResult{
					CallID:  call.ID,
					Name:    call.Name,
					Content: fmt.Sprintf("tool execution failed: %v", execErr),
					IsError: true,
				}
			} else if result.IsError {
				state.RecordFailure(result.Content, false)
			}

			records = append(records, events.ToolCallRecord{
				CallID:    call.ID,
				Tool:      call.Name,
				Arguments: call.Arguments,
				Outcome:   result.Outcome(),
			})
			if err := history.AddToolOutput(call.ID, result.Content); err != nil {
				logger.Error("dropping unbindable tool output", "call_id", call.ID, "error", err)
			}
		}
		iterCancel()
	}

	return c.forceConclusion(runCtx, execCtx, history, state, totalUsage, records)
}

// forceConclusion asks for a final answer without tools once the
// iteration budget is spent. A loop that ended on a failure fails
// outright instead of concluding from bad state.
func (c *IteratingController) forceConclusion(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	history *agent.ChatHistory,
	state *iterationState,
	totalUsage agent.TokenUsage,
	records []events.ToolCallRecord,
) (*agent.ExecutionResult, error) {
	if state.LastInteractionFailed {
		return &agent.ExecutionResult{
			Status: agent.ExecutionFailed,
			Err: fmt.Errorf("max iterations (%d) reached with last interaction failed: %s",
				state.MaxIterations, state.LastErrorMessage),
			ToolCalls:  records,
			Iterations: state.CurrentIteration,
			TokensUsed: totalUsage,
		}, nil
	}

	execCtx.Log().Info("forcing conclusion", "task_id", execCtx.TaskID,
		"agent", execCtx.Role, "iterations", state.CurrentIteration)
	history.AddUser(fmt.Sprintf(
		"You have used all %d investigation iterations. Provide your final analysis now, "+
			"based only on the information already gathered. Do not request any further tool calls.",
		state.MaxIterations))

	concCtx, cancel := context.WithTimeout(ctx, execCtx.Limits.IterationTimeout)
	defer cancel()

	resp, err := collectResponse(concCtx, execCtx.LLM, &agent.GenerateInput{
		TaskID:   execCtx.TaskID,
		TraceID:  execCtx.TraceID,
		Messages: history.Messages(),
		Config:   execCtx.Provider,
		Tools:    nil, // no tools, text only
	}, execCtx.OnText)
	if err != nil {
		if ctx.Err() != nil {
			return c.interrupted(execCtx, state, totalUsage, records, err), nil
		}
		return &agent.ExecutionResult{
			Status:     agent.ExecutionFailed,
			Err:        fmt.Errorf("forced conclusion failed: %w", err),
			ToolCalls:  records,
			Iterations: state.CurrentIteration,
			TokensUsed: totalUsage,
		}, nil
	}
	totalUsage.Add(resp.Usage)

	return &agent.ExecutionResult{
		Status:        agent.ExecutionCompleted,
		FinalAnalysis: resp.Text,
		ToolCalls:     records,
		Iterations:    state.CurrentIteration,
		TokensUsed:    totalUsage,
	}, nil
}

// interrupted maps an abort or context cancellation to its result. An
// external deadline fails the invocation; everything else is cancelled.
func (c *IteratingController) interrupted(
	execCtx *agent.ExecutionContext,
	state *iterationState,
	totalUsage agent.TokenUsage,
	records []events.ToolCallRecord,
	err error,
) *agent.ExecutionResult {
	status := agent.ExecutionCancelled
	if execCtx.Abort == nil || !execCtx.Abort.Cancelled() {
		if errors.Is(err, context.DeadlineExceeded) {
			status = agent.ExecutionFailed
		}
	}
	return &agent.ExecutionResult{
		Status:     status,
		Err:        fmt.Errorf("invocation interrupted: %w", err),
		ToolCalls:  records,
		Iterations: state.CurrentIteration,
		TokensUsed: totalUsage,
	}
}
