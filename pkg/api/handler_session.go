package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kuberoot/kuberoot/pkg/models"
)

type createSessionRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

// CreateSession opens a new interactive chat session.
func (s *Server) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	session, err := s.sessions.CreateSession(c.Request.Context(), req.Title, req.Model)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions returns sessions newest first.
func (s *Server) ListSessions(c *gin.Context) {
	sessions, err := s.sessions.ListSessions(c.Request.Context(),
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GetSession loads one session.
func (s *Server) GetSession(c *gin.Context) {
	session, err := s.sessions.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// DeleteSession removes a session with its messages and todos.
func (s *Server) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := s.sessions.DeleteSession(c.Request.Context(), sessionID); err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "deleted": true})
}

type addMessageRequest struct {
	Role    models.MessageRole `json:"role" binding:"required"`
	Content string             `json:"content"`
	Name    string             `json:"name"`
	CallID  string             `json:"call_id"`
}

// AddMessage appends one chat turn to a session.
func (s *Server) AddMessage(c *gin.Context) {
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}

	msg, err := s.sessions.AddMessage(c.Request.Context(), c.Param("session_id"), &models.Message{
		Role:    req.Role,
		Content: req.Content,
		Name:    req.Name,
		CallID:  req.CallID,
	})
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages returns a session's messages in insertion order.
func (s *Server) ListMessages(c *gin.Context) {
	messages, err := s.sessions.ListMessages(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

type createTodoRequest struct {
	Content    string              `json:"content" binding:"required"`
	Type       models.TodoType     `json:"type"`
	Priority   models.TodoPriority `json:"priority"`
	Status     models.TodoStatus   `json:"status"`
	AssignedTo models.AgentRole    `json:"assigned_to"`
}

// CreateTodo adds one item to a session's todo board.
func (s *Server) CreateTodo(c *gin.Context) {
	var req createTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	todo, err := s.sessions.CreateTodo(c.Request.Context(), c.Param("session_id"), &models.Todo{
		Content:    req.Content,
		Type:       req.Type,
		Priority:   req.Priority,
		Status:     req.Status,
		AssignedTo: req.AssignedTo,
	})
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, todo)
}

type updateTodoRequest struct {
	Status models.TodoStatus `json:"status" binding:"required"`
	Reason string            `json:"reason"`
}

// UpdateTodo transitions one todo's status.
func (s *Server) UpdateTodo(c *gin.Context) {
	var req updateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	err := s.sessions.UpdateTodoStatus(c.Request.Context(),
		c.Param("session_id"), c.Param("todo_id"), req.Status, req.Reason)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"todo_id": c.Param("todo_id"), "status": req.Status})
}

// ListTodos returns a session's board ordered by creation.
func (s *Server) ListTodos(c *gin.Context) {
	todos, err := s.sessions.ListTodos(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"todos": todos, "count": len(todos)})
}
