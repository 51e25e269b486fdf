package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kuberoot/kuberoot/pkg/models"
	"github.com/kuberoot/kuberoot/pkg/services"
)

// StartInvestigation creates a task and streams its events until the
// terminal event. The task id arrives in a header so SSE clients can
// reconnect after a drop.
func (s *Server) StartInvestigation(c *gin.Context) {
	var req models.InvestigationTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	task, stream, err := s.investigator.Start(c.Request.Context(), &req)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}

	c.Writer.Header().Set("X-Task-ID", task.TaskID)
	s.streamEvents(c, stream)
}

// StreamEvents replays the task's persisted events and tails live ones.
// For terminal tasks the replay is followed by a closed stream.
func (s *Server) StreamEvents(c *gin.Context) {
	stream, err := s.investigator.Subscribe(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	s.streamEvents(c, stream)
}

// InvestigationStatus returns the task row for polling clients.
func (s *Server) InvestigationStatus(c *gin.Context) {
	task, err := s.investigator.Status(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id":    task.TaskID,
		"status":     task.Status,
		"title":      task.Title,
		"tags":       task.Tags,
		"severity":   task.Severity,
		"resolved":   task.Resolved,
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	})
}

// CancelInvestigation signals the task's abort token. 400 when the task
// is already terminal, 404 when unknown.
func (s *Server) CancelInvestigation(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := s.investigator.Cancel(c.Request.Context(), taskID); err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "cancelled": true})
}

// DeleteInvestigation cancels the task if still running, then deletes it.
func (s *Server) DeleteInvestigation(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := s.investigator.Delete(c.Request.Context(), taskID); err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "deleted": true})
}

// ListInvestigations returns recent tasks, newest first, optionally
// filtered by status.
func (s *Server) ListInvestigations(c *gin.Context) {
	status := models.TaskStatus(c.Query("status"))
	if status != "" {
		switch status {
		case models.TaskStatusProcessing, models.TaskStatusCompleted,
			models.TaskStatusCancelled, models.TaskStatusFailed:
		default:
			s.mapServiceError(c, services.NewValidationError("status", "unknown status filter"))
			return
		}
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	tasks, err := s.tasks.ListTasks(c.Request.Context(), status, limit, offset)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}

	items := make([]gin.H, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, gin.H{
			"task_id":    task.TaskID,
			"status":     task.Status,
			"title":      task.Title,
			"tags":       task.Tags,
			"severity":   task.Severity,
			"created_at": task.CreatedAt,
			"updated_at": task.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tasks": items, "count": len(items)})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
