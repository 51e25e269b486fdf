// Package supervisor implements the supervisor's tool surface: the todo
// board, the sub-agent runner with its result collector, the composite
// tool executor routing between them, and the investigation planner.
package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kuberoot/kuberoot/pkg/models"
)

var (
	// ErrTodoNotFound is returned for updates against an unknown todo id.
	ErrTodoNotFound = errors.New("todo not found")
	// ErrTodoInProgress guards the single in-progress invariant.
	ErrTodoInProgress = errors.New("another todo is already in progress")
	// ErrInvalidTodo is returned for writes that fail validation.
	ErrInvalidTodo = errors.New("invalid todo")
)

// Board is the task's in-memory todo plan. It is the source of truth
// during the run; clients see it through todo_updated events carrying
// full snapshots. At most one todo is in_progress at any time.
type Board struct {
	mu    sync.Mutex
	todos []*models.Todo
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{}
}

// TodoWrite is one item of a write_todos call.
type TodoWrite struct {
	Content    string              `json:"content"`
	Type       models.TodoType     `json:"type"`
	Priority   models.TodoPriority `json:"priority"`
	AssignedTo models.AgentRole    `json:"assigned_to,omitempty"`
}

// Write appends new pending todos to the board. Items are validated
// all-or-nothing; a bad item rejects the whole write.
func (b *Board) Write(items []TodoWrite) ([]*models.Todo, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty todo list", ErrInvalidTodo)
	}
	created := make([]*models.Todo, 0, len(items))
	for i, item := range items {
		if item.Content == "" {
			return nil, fmt.Errorf("%w: item %d has no content", ErrInvalidTodo, i)
		}
		todo := &models.Todo{
			ID:         uuid.New().String(),
			Content:    item.Content,
			Type:       item.Type,
			Priority:   item.Priority,
			Status:     models.TodoStatusPending,
			AssignedTo: item.AssignedTo,
			CreatedAt:  time.Now().UTC(),
		}
		if todo.Type == "" {
			todo.Type = models.TodoTypeAnalysis
		}
		if todo.Priority == "" {
			todo.Priority = models.TodoPriorityMedium
		}
		created = append(created, todo)
	}

	b.mu.Lock()
	b.todos = append(b.todos, created...)
	b.mu.Unlock()
	return created, nil
}

// SetStatus transitions one todo. Moving a todo to in_progress while
// another is in_progress is rejected; reason is recorded on cancel.
func (b *Board) SetStatus(id string, status models.TodoStatus, reason string) (*models.Todo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var target *models.Todo
	for _, todo := range b.todos {
		if todo.ID == id {
			target = todo
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("todo %s: %w", id, ErrTodoNotFound)
	}
	if status == models.TodoStatusInProgress {
		for _, todo := range b.todos {
			if todo.ID != id && todo.Status == models.TodoStatusInProgress {
				return nil, fmt.Errorf("todo %s blocks %s: %w", todo.ID, id, ErrTodoInProgress)
			}
		}
	}

	target.Status = status
	if status == models.TodoStatusCancelled {
		target.Reason = reason
	}
	return target, nil
}

// Snapshot returns the board in creation order. The returned todos are
// copies; mutating them does not touch the board.
func (b *Board) Snapshot() []*models.Todo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Todo, len(b.todos))
	for i, todo := range b.todos {
		copied := *todo
		out[i] = &copied
	}
	return out
}

// HasTodos reports whether a plan exists. The composite executor
// rejects any non-todo tool before the first write.
func (b *Board) HasTodos() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.todos) > 0
}

// InProgress returns the currently active todo, if any.
func (b *Board) InProgress() (*models.Todo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, todo := range b.todos {
		if todo.Status == models.TodoStatusInProgress {
			copied := *todo
			return &copied, true
		}
	}
	return nil, false
}
