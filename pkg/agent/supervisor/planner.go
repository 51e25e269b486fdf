package supervisor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/config"
	"github.com/kuberoot/kuberoot/pkg/models"
)

// StructuredLLM is the constrained-output LLM capability. The planner
// uses it for tags, severity, and the initial todo seed.
type StructuredLLM interface {
	CompleteStructured(ctx context.Context, system, user string, out any) error
}

// Plan is the investigation's initial metadata and todo seed.
type Plan struct {
	Title    string
	Tags     []string
	Severity string
	Todos    []TodoWrite
}

const titleSystemPrompt = "You title Kubernetes incident investigations. " +
	"Reply with a single short title (at most ten words), nothing else. " +
	"No quotes, no trailing punctuation."

const metadataSystemPrompt = "You plan Kubernetes incident investigations. " +
	"Given the incident description, respond with JSON: " +
	`{"tags": ["..."], "severity": "critical|high|medium|low", ` +
	`"todos": [{"content": "...", "type": "collection|analysis|validation|remediation", ` +
	`"priority": "high|medium|low", "assigned_to": "discovery|monitoring|security|logging|integration|root_cause"}]}. ` +
	"Produce 3 to 5 atomic todos ordered by priority."

// Planner produces the plan at task start: a streamed title plus a
// structured metadata call. Both degrade instead of failing; an
// investigation never dies on plan generation.
type Planner struct {
	llm        agent.LLMClient
	structured StructuredLLM
	provider   *config.LLMProviderConfig
	logger     *slog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(llm agent.LLMClient, structured StructuredLLM, provider *config.LLMProviderConfig, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{llm: llm, structured: structured, provider: provider, logger: logger}
}

// Plan generates title, tags, severity, and the todo seed. Title deltas
// stream through onTitleToken as they arrive so clients can render the
// title while the metadata call is still in flight.
func (p *Planner) Plan(ctx context.Context, req *models.InvestigationTaskRequest, onTitleToken func(delta string)) (*Plan, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	summary := requestSummary(req)

	title := p.generateTitle(ctx, req, summary, onTitleToken)

	var meta struct {
		Tags     []string    `json:"tags"`
		Severity string      `json:"severity"`
		Todos    []TodoWrite `json:"todos"`
	}
	if err := p.structured.CompleteStructured(ctx, metadataSystemPrompt, summary, &meta); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("plan metadata generation failed, using defaults", "error", err)
		return &Plan{Title: title, Severity: "medium", Todos: defaultTodos()}, nil
	}

	plan := &Plan{
		Title:    title,
		Tags:     meta.Tags,
		Severity: normalizeSeverity(meta.Severity),
		Todos:    normalizeTodos(meta.Todos),
	}
	if len(plan.Todos) == 0 {
		plan.Todos = defaultTodos()
	}
	return plan, nil
}

// generateTitle streams a title, falling back to the client's title and
// then to a prompt truncation.
func (p *Planner) generateTitle(ctx context.Context, req *models.InvestigationTaskRequest, summary string, onTitleToken func(string)) string {
	if req.Title != "" {
		if onTitleToken != nil {
			onTitleToken(req.Title)
		}
		return req.Title
	}

	stream, err := p.llm.Generate(ctx, &agent.GenerateInput{
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: titleSystemPrompt},
			{Role: agent.RoleUser, Content: summary},
		},
		Config: p.provider,
	})
	if err != nil {
		p.logger.Warn("title generation failed, truncating prompt", "error", err)
		return fallbackTitle(req)
	}

	var b strings.Builder
	for chunk := range stream {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			b.WriteString(c.Content)
			if onTitleToken != nil {
				onTitleToken(c.Content)
			}
		case *agent.ErrorChunk:
			p.logger.Warn("title stream failed, truncating prompt", "error", c.Message)
			if b.Len() == 0 {
				return fallbackTitle(req)
			}
		}
	}

	title := strings.TrimSpace(b.String())
	if title == "" {
		return fallbackTitle(req)
	}
	return title
}

// fallbackTitle truncates the request to a displayable line.
func fallbackTitle(req *models.InvestigationTaskRequest) string {
	source := req.Prompt
	if source == "" {
		source = req.Context
	}
	if source == "" {
		source = req.ResourceContext
	}
	if source == "" {
		return "Kubernetes incident investigation"
	}
	source = strings.TrimSpace(strings.Split(source, "\n")[0])
	const maxLen = 60
	if len(source) > maxLen {
		source = source[:maxLen] + "..."
	}
	return source
}

// requestSummary folds the request into one incident description block.
func requestSummary(req *models.InvestigationTaskRequest) string {
	var b strings.Builder
	write := func(label, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(label)
		b.WriteString(":\n")
		b.WriteString(value)
	}
	write("Incident", req.Prompt)
	write("Resources involved", req.ResourceContext)
	write("Relevant logs", req.LogContext)
	write("Additional context", req.Context)
	return b.String()
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return "critical"
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

// normalizeTodos drops empty items and invalid role assignments; the
// board applies type and priority defaults.
func normalizeTodos(todos []TodoWrite) []TodoWrite {
	out := make([]TodoWrite, 0, len(todos))
	for _, todo := range todos {
		if strings.TrimSpace(todo.Content) == "" {
			continue
		}
		if todo.AssignedTo != "" && !todo.AssignedTo.Valid() {
			todo.AssignedTo = ""
		}
		switch todo.Type {
		case models.TodoTypeCollection, models.TodoTypeAnalysis, models.TodoTypeValidation, models.TodoTypeRemediation:
		default:
			todo.Type = models.TodoTypeAnalysis
		}
		switch todo.Priority {
		case models.TodoPriorityHigh, models.TodoPriorityMedium, models.TodoPriorityLow:
		default:
			todo.Priority = models.TodoPriorityMedium
		}
		out = append(out, todo)
	}
	return out
}

// defaultTodos is the minimal plan used when metadata generation fails.
func defaultTodos() []TodoWrite {
	return []TodoWrite{
		{
			Content:    "Map the resources involved in the incident and their status conditions",
			Type:       models.TodoTypeCollection,
			Priority:   models.TodoPriorityHigh,
			AssignedTo: models.AgentDiscovery,
		},
		{
			Content:    "Collect container logs and Warning events for the affected workloads",
			Type:       models.TodoTypeCollection,
			Priority:   models.TodoPriorityMedium,
			AssignedTo: models.AgentLogging,
		},
		{
			Content:    "Determine the most probable root cause from the collected evidence",
			Type:       models.TodoTypeAnalysis,
			Priority:   models.TodoPriorityHigh,
			AssignedTo: models.AgentRootCause,
		},
	}
}
