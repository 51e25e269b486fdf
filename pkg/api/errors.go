package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kuberoot/kuberoot/pkg/orchestrator"
	"github.com/kuberoot/kuberoot/pkg/services"
	"github.com/kuberoot/kuberoot/pkg/signals"
)

// mapServiceError maps service and orchestrator errors to one JSON error
// response. Unexpected errors become opaque 500s; the detail stays in
// the log.
func (s *Server) mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, services.ErrAlreadyTerminal):
		c.JSON(http.StatusBadRequest, gin.H{"error": "task is already terminal"})
	case errors.Is(err, services.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "resource already exists"})
	case errors.Is(err, services.ErrTodoInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "another todo is already in progress"})
	case errors.Is(err, orchestrator.ErrCapacity), errors.Is(err, orchestrator.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, signals.ErrNoPendingApproval):
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending approval for call"})
	case errors.Is(err, signals.ErrInvalidDecision):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approval decision"})
	default:
		s.logger.Error("Unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
