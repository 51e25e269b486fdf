package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kuberoot/kuberoot/pkg/models"
)

// TaskService persists investigation tasks. Summary fields live on the
// tasks row for cheap listing; the request, event log, and sub-task
// records live as JSON blobs on the investigation_tasks row.
type TaskService struct {
	db *sql.DB
}

// NewTaskService creates a TaskService.
func NewTaskService(db *sql.DB) *TaskService {
	return &TaskService{db: db}
}

// CreateTask inserts a new processing task for a request.
func (s *TaskService) CreateTask(ctx context.Context, req *models.InvestigationTaskRequest) (*models.Task, error) {
	if req == nil || req.Empty() {
		return nil, NewValidationError("request", "prompt or context is required")
	}

	task := &models.Task{
		TaskID:    uuid.New().String(),
		Status:    models.TaskStatusProcessing,
		Title:     req.Title,
		Tags:      []string{},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	requestJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (task_id, status, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		task.TaskID, task.Status, task.Title, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO investigation_tasks (task_id, request) VALUES ($1, $2)`,
		task.TaskID, requestJSON)
	if err != nil {
		return nil, fmt.Errorf("insert investigation body: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create task: %w", err)
	}
	return task, nil
}

// GetTask loads a task with its events and sub-tasks.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT t.task_id, t.status, t.title, t.severity, t.resolved,
		        t.created_at, t.updated_at, i.tags, i.events, i.sub_tasks
		 FROM tasks t JOIN investigation_tasks i USING (task_id)
		 WHERE t.task_id = $1`, taskID)

	var task models.Task
	var tags, events, subTasks []byte
	err := row.Scan(&task.TaskID, &task.Status, &task.Title, &task.Severity,
		&task.Resolved, &task.CreatedAt, &task.UpdatedAt, &tags, &events, &subTasks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	if err := json.Unmarshal(tags, &task.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", taskID, err)
	}
	if err := json.Unmarshal(events, &task.Events); err != nil {
		return nil, fmt.Errorf("decode events for %s: %w", taskID, err)
	}
	if err := json.Unmarshal(subTasks, &task.SubTasks); err != nil {
		return nil, fmt.Errorf("decode sub_tasks for %s: %w", taskID, err)
	}
	return &task, nil
}

// ListTasks returns task summaries ordered by created_at DESC. status
// may be empty to list all; limit <= 0 selects 50.
func (s *TaskService) ListTasks(ctx context.Context, status models.TaskStatus, limit, offset int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT task_id, status, title, severity, resolved, created_at, updated_at
	          FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.TaskID, &t.Status, &t.Title, &t.Severity,
			&t.Resolved, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// SetStatus transitions a task's status. Transitions out of a terminal
// status are rejected with ErrAlreadyTerminal.
func (s *TaskService) SetStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $2, updated_at = now()
		 WHERE task_id = $1 AND status = $3`,
		taskID, status, models.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("set status %s on %s: %w", status, taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current models.TaskStatus
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM tasks WHERE task_id = $1`, taskID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check task %s: %w", taskID, err)
	}
	if current == status {
		// Idempotent repeat of the same transition.
		return nil
	}
	return fmt.Errorf("task %s is %s: %w", taskID, current, ErrAlreadyTerminal)
}

// UpdateMetadata sets the generated title, tags, and severity.
func (s *TaskService) UpdateMetadata(ctx context.Context, taskID, title string, tags []string, severity string) error {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metadata update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET title = $2, severity = $3, updated_at = now() WHERE task_id = $1`,
		taskID, title, severity)
	if err != nil {
		return fmt.Errorf("update task metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE investigation_tasks SET tags = $2 WHERE task_id = $1`, taskID, tagsJSON); err != nil {
		return fmt.Errorf("update task tags: %w", err)
	}
	return tx.Commit()
}

// SetResolved records whether the incident was resolved.
func (s *TaskService) SetResolved(ctx context.Context, taskID string, resolved models.Resolved) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET resolved = $2, updated_at = now() WHERE task_id = $1`,
		taskID, resolved)
	if err != nil {
		return fmt.Errorf("set resolved on %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// AppendEvent appends one event to the task's log blob. The jsonb
// concatenation runs under the row lock, so appends are serialized per
// task. Implements the event log's Store.
func (s *TaskService) AppendEvent(ctx context.Context, taskID string, event models.Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append event: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE investigation_tasks SET events = events || $2::jsonb WHERE task_id = $1`,
		taskID, eventJSON)
	if err != nil {
		return fmt.Errorf("append event to %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET updated_at = now() WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("touch task %s: %w", taskID, err)
	}
	return tx.Commit()
}

// ListEvents returns the persisted event log in sequence order.
// Implements the event log's Store.
func (s *TaskService) ListEvents(ctx context.Context, taskID string) ([]models.Event, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT events FROM investigation_tasks WHERE task_id = $1`, taskID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", taskID, err)
	}

	var events []models.Event
	if err := json.Unmarshal(blob, &events); err != nil {
		return nil, fmt.Errorf("decode events for %s: %w", taskID, err)
	}
	return events, nil
}

// AppendSubTask records a new sub-agent invocation.
func (s *TaskService) AppendSubTask(ctx context.Context, taskID string, subTask models.SubTask) error {
	subTaskJSON, err := json.Marshal(subTask)
	if err != nil {
		return fmt.Errorf("marshal sub_task: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE investigation_tasks SET sub_tasks = sub_tasks || $2::jsonb WHERE task_id = $1`,
		taskID, subTaskJSON)
	if err != nil {
		return fmt.Errorf("append sub_task to %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// UpdateSubTask rewrites the sub-task entry matching SubTaskID.
func (s *TaskService) UpdateSubTask(ctx context.Context, taskID string, subTask models.SubTask) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	found := false
	for i := range task.SubTasks {
		if task.SubTasks[i].SubTaskID == subTask.SubTaskID {
			task.SubTasks[i] = subTask
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("sub_task %s on %s: %w", subTask.SubTaskID, taskID, ErrNotFound)
	}

	blob, err := json.Marshal(task.SubTasks)
	if err != nil {
		return fmt.Errorf("marshal sub_tasks: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE investigation_tasks SET sub_tasks = $2::jsonb WHERE task_id = $1`,
		taskID, blob)
	if err != nil {
		return fmt.Errorf("update sub_tasks on %s: %w", taskID, err)
	}
	return nil
}

// DeleteTask removes a task and its investigation body.
func (s *TaskService) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// DrainOrphans marks tasks left processing by a dead process as failed.
// Abort tokens are process-scoped, so after a restart nothing can ever
// finish these tasks. Called once at startup before the API comes up.
func (s *TaskService) DrainOrphans(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = now()
		 WHERE status = $2 RETURNING task_id`,
		models.TaskStatusFailed, models.TaskStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("drain orphaned tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	drained := 0
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return drained, fmt.Errorf("scan drained task: %w", err)
		}
		drained++

		// Best-effort terminal event so replaying clients see closure.
		event := models.Event{
			TaskID:    taskID,
			Timestamp: time.Now().UTC(),
			Kind:      models.EventError,
			Reason:    models.ErrorReasonFatal,
			Analysis:  "process restarted while the investigation was running",
		}
		if events, lerr := s.ListEvents(ctx, taskID); lerr == nil {
			event.Sequence = len(events) + 1
			if aerr := s.AppendEvent(ctx, taskID, event); aerr != nil {
				slog.Warn("Failed to append drain event", "task_id", taskID, "error", aerr)
			}
		}
		slog.Info("Drained orphaned task", "task_id", taskID, "reason", "process_restart")
	}
	return drained, rows.Err()
}

// PurgeTerminalTasks deletes terminal tasks whose last update is older
// than the retention window. The investigation body, conversations, and
// messages cascade with the task row.
func (s *TaskService) PurgeTerminalTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks
		 WHERE status IN ($1, $2, $3)
		   AND updated_at < now() - make_interval(secs => $4)`,
		models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("purge terminal tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
