package config

import "time"

// AgentLimits bounds agent execution. These values control iteration
// budgets, timeouts, and the event extractor's owner traversal.
type AgentLimits struct {
	// MaxIterations is the tool-calling iteration budget per sub-agent.
	// Reaching it forces a conclusion call without tools.
	MaxIterations int `yaml:"max_iterations"`

	// IterationTimeout bounds a single LLM interaction.
	IterationTimeout time.Duration `yaml:"iteration_timeout"`

	// SubAgentTimeout bounds one whole sub-agent invocation.
	SubAgentTimeout time.Duration `yaml:"sub_agent_timeout"`

	// TaskTimeout bounds one whole investigation.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// ApprovalTimeout bounds the dangerous-tool approval rendezvous.
	// Expiry behaves as deny.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// MaxOwnerDepth bounds owner-reference traversal in the event
	// extractor. Protects against pathological CRD owner cycles.
	MaxOwnerDepth int `yaml:"max_owner_depth"`

	// MaxConcurrentAgents caps sub-agents running at once per task.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`
}

// DefaultAgentLimits returns the built-in execution limits.
func DefaultAgentLimits() *AgentLimits {
	return &AgentLimits{
		MaxIterations:    10,
		IterationTimeout: 2 * time.Minute,
		SubAgentTimeout:  10 * time.Minute,
		TaskTimeout:      30 * time.Minute,
		ApprovalTimeout:  5 * time.Minute,
		MaxOwnerDepth:    5,

		MaxConcurrentAgents: 3,
	}
}
