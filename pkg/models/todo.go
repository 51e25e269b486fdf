package models

import "time"

// TodoType classifies planner items by the kind of work they represent.
type TodoType string

const (
	TodoTypeCollection  TodoType = "collection"
	TodoTypeAnalysis    TodoType = "analysis"
	TodoTypeValidation  TodoType = "validation"
	TodoTypeRemediation TodoType = "remediation"
)

// TodoPriority orders planner items.
type TodoPriority string

const (
	TodoPriorityHigh   TodoPriority = "high"
	TodoPriorityMedium TodoPriority = "medium"
	TodoPriorityLow    TodoPriority = "low"
)

// TodoStatus is the lifecycle status of a planner item.
// At most one todo per task may be in_progress at a time.
type TodoStatus string

const (
	TodoStatusPending    TodoStatus = "pending"
	TodoStatusInProgress TodoStatus = "in_progress"
	TodoStatusCompleted  TodoStatus = "completed"
	TodoStatusCancelled  TodoStatus = "cancelled"
)

// Todo is one planner item on a task's board. Todos are ordered by creation.
type Todo struct {
	ID         string       `json:"id"`
	Content    string       `json:"content"`
	Type       TodoType     `json:"type"`
	Priority   TodoPriority `json:"priority"`
	Status     TodoStatus   `json:"status"`
	AssignedTo AgentRole    `json:"assigned_to,omitempty"`
	Reason     string       `json:"reason,omitempty"` // set when cancelled
	CreatedAt  time.Time    `json:"created_at"`
}
