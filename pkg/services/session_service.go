package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kuberoot/kuberoot/pkg/models"
)

// SessionService persists interactive chat sessions with their messages
// and todo boards.
type SessionService struct {
	db *sql.DB
}

// NewSessionService creates a SessionService.
func NewSessionService(db *sql.DB) *SessionService {
	return &SessionService{db: db}
}

// CreateSession inserts a new active session.
func (s *SessionService) CreateSession(ctx context.Context, title, model string) (*models.Session, error) {
	session := &models.Session{
		SessionID: uuid.New().String(),
		Title:     title,
		Model:     model,
		Status:    models.SessionStatusActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, model, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.SessionID, session.Title, session.Model, session.Status,
		session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// GetSession loads one session.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, title, model, status, created_at, updated_at
		 FROM sessions WHERE session_id = $1`, sessionID).
		Scan(&session.SessionID, &session.Title, &session.Model, &session.Status,
			&session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return &session, nil
}

// ListSessions returns sessions ordered by created_at DESC.
func (s *SessionService) ListSessions(ctx context.Context, limit, offset int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, model, status, created_at, updated_at
		 FROM sessions ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(&session.SessionID, &session.Title, &session.Model,
			&session.Status, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its messages and todos.
func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// AddMessage appends one chat turn to a session.
func (s *SessionService) AddMessage(ctx context.Context, sessionID string, msg *models.Message) (*models.Message, error) {
	if msg.Content == "" && msg.Role != models.MessageRoleToolCall {
		return nil, NewValidationError("content", "message content is required")
	}
	msg.SessionID = sessionID
	msg.Timestamp = time.Now().UTC()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO session_messages (session_id, role, content, name, call_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		sessionID, msg.Role, msg.Content, msg.Name, msg.CallID, msg.Timestamp).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert message for %s: %w", sessionID, err)
	}
	msg.ID = fmt.Sprintf("%d", id)

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = now() WHERE session_id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return msg, nil
}

// ListMessages returns a session's messages in insertion order.
func (s *SessionService) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, name, call_id, created_at
		 FROM session_messages WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var id int64
		if err := rows.Scan(&id, &msg.Role, &msg.Content, &msg.Name,
			&msg.CallID, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ID = fmt.Sprintf("%d", id)
		msg.SessionID = sessionID
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// CreateTodo adds a todo to a session's board. Creating it directly as
// in_progress is subject to the single-in-progress invariant.
func (s *SessionService) CreateTodo(ctx context.Context, sessionID string, todo *models.Todo) (*models.Todo, error) {
	if todo.Content == "" {
		return nil, NewValidationError("content", "todo content is required")
	}
	if todo.ID == "" {
		todo.ID = uuid.New().String()
	}
	if todo.Status == "" {
		todo.Status = models.TodoStatusPending
	}
	todo.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create todo: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if todo.Status == models.TodoStatusInProgress {
		if err := s.checkNoInProgress(ctx, tx, sessionID, todo.ID); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO session_todos (todo_id, session_id, content, todo_type, priority, status, assigned_to, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		todo.ID, sessionID, todo.Content, todo.Type, todo.Priority, todo.Status,
		todo.AssignedTo, todo.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert todo for %s: %w", sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create todo: %w", err)
	}
	return todo, nil
}

// UpdateTodoStatus transitions one todo, enforcing the invariant that at
// most one todo per session is in_progress.
func (s *SessionService) UpdateTodoStatus(ctx context.Context, sessionID, todoID string, status models.TodoStatus, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin todo update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if status == models.TodoStatusInProgress {
		if err := s.checkNoInProgress(ctx, tx, sessionID, todoID); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE session_todos SET status = $3, reason = $4, updated_at = now()
		 WHERE session_id = $1 AND todo_id = $2`,
		sessionID, todoID, status, reason)
	if err != nil {
		return fmt.Errorf("update todo %s: %w", todoID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("todo %s on %s: %w", todoID, sessionID, ErrNotFound)
	}
	return tx.Commit()
}

// ListTodos returns a session's board ordered by creation.
func (s *SessionService) ListTodos(ctx context.Context, sessionID string) ([]*models.Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT todo_id, content, todo_type, priority, status, assigned_to, reason, created_at
		 FROM session_todos WHERE session_id = $1 ORDER BY created_at, todo_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list todos for %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var todos []*models.Todo
	for rows.Next() {
		var todo models.Todo
		if err := rows.Scan(&todo.ID, &todo.Content, &todo.Type, &todo.Priority,
			&todo.Status, &todo.AssignedTo, &todo.Reason, &todo.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, &todo)
	}
	return todos, rows.Err()
}

// checkNoInProgress locks the session's in_progress rows and fails when
// another todo is already in flight.
func (s *SessionService) checkNoInProgress(ctx context.Context, tx *sql.Tx, sessionID, todoID string) error {
	var existing string
	err := tx.QueryRowContext(ctx,
		`SELECT todo_id FROM session_todos
		 WHERE session_id = $1 AND status = $2 AND todo_id <> $3
		 FOR UPDATE`,
		sessionID, models.TodoStatusInProgress, todoID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check in-progress todos for %s: %w", sessionID, err)
	}
	return fmt.Errorf("todo %s is in progress: %w", existing, ErrTodoInProgress)
}

// PurgeIdleSessions deletes sessions untouched for longer than the
// retention window. Messages and todos cascade with the session row.
func (s *SessionService) PurgeIdleSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions
		 WHERE updated_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("purge idle sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
