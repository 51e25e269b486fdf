package supervisor

import (
	"context"
	"fmt"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/models"
)

// ResultCollector adapts the runner to agent.ResultCollector, turning
// raw sub-agent results into conversation turns for the supervisor.
type ResultCollector struct {
	runner *SubAgentRunner
}

// NewResultCollector wraps a runner.
func NewResultCollector(runner *SubAgentRunner) agent.ResultCollector {
	return &ResultCollector{runner: runner}
}

func (c *ResultCollector) TryDrainResult() (agent.ConversationMessage, bool) {
	result, ok := c.runner.TryGetNext()
	if !ok {
		return agent.ConversationMessage{}, false
	}
	return formatResult(result), true
}

func (c *ResultCollector) WaitForResult(ctx context.Context) (agent.ConversationMessage, error) {
	result, err := c.runner.WaitForNext(ctx)
	if err != nil {
		return agent.ConversationMessage{}, err
	}
	return formatResult(result), nil
}

func (c *ResultCollector) HasPending() bool {
	return c.runner.HasPending()
}

// formatResult renders one finished sub-agent as a user turn.
func formatResult(r *SubAgentResult) agent.ConversationMessage {
	var body string
	if r.Status == models.SubTaskStatusCompleted {
		body = r.Analysis
	} else {
		body = fmt.Sprintf("The agent did not finish (%s): %s", r.Status, r.Error)
	}
	return agent.ConversationMessage{
		Role: agent.RoleUser,
		Content: fmt.Sprintf("Result from %s agent (sub-task %s, status %s):\n%s",
			r.Role, r.SubTaskID, r.Status, body),
	}
}
