// Package api is the gin HTTP/SSE facade over the orchestrator and the
// persistence services. The facade is thin: handlers validate input,
// call one collaborator, and map service errors to HTTP statuses. All
// investigation semantics live behind the orchestrator.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kuberoot/kuberoot/pkg/database"
	"github.com/kuberoot/kuberoot/pkg/models"
	"github.com/kuberoot/kuberoot/pkg/services"
	"github.com/kuberoot/kuberoot/pkg/signals"
	"github.com/kuberoot/kuberoot/pkg/version"
)

// Investigator is the orchestrator surface the API consumes.
type Investigator interface {
	Start(ctx context.Context, req *models.InvestigationTaskRequest) (*models.Task, <-chan models.Event, error)
	Cancel(ctx context.Context, taskID string) error
	Subscribe(ctx context.Context, taskID string) (<-chan models.Event, error)
	Status(ctx context.Context, taskID string) (*models.Task, error)
	Delete(ctx context.Context, taskID string) error
}

// TaskLister lists persisted tasks for the dashboard index.
type TaskLister interface {
	ListTasks(ctx context.Context, status models.TaskStatus, limit, offset int) ([]*models.Task, error)
}

// Server wires the handlers to their collaborators.
type Server struct {
	investigator Investigator
	tasks        TaskLister
	sessions     *services.SessionService
	aborts       *signals.AbortTable
	approvals    *signals.ApprovalTable
	redirects    *signals.RedirectTable
	db           *database.Client
	logger       *slog.Logger
}

// Deps bundles the server's collaborators.
type Deps struct {
	Investigator Investigator
	Tasks        TaskLister
	Sessions     *services.SessionService
	Aborts       *signals.AbortTable
	Approvals    *signals.ApprovalTable
	Redirects    *signals.RedirectTable
	DB           *database.Client
	Logger       *slog.Logger
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		investigator: deps.Investigator,
		tasks:        deps.Tasks,
		sessions:     deps.Sessions,
		aborts:       deps.Aborts,
		approvals:    deps.Approvals,
		redirects:    deps.Redirects,
		db:           deps.DB,
		logger:       logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))

	router.GET("/healthz", s.Health)

	router.POST("/investigate", s.StartInvestigation)
	router.GET("/investigate", s.ListInvestigations)
	router.GET("/investigate/:task_id/event", s.StreamEvents)
	router.GET("/investigate/:task_id/status", s.InvestigationStatus)
	router.POST("/investigate/:task_id/cancel", s.CancelInvestigation)
	router.DELETE("/investigate/:task_id", s.DeleteInvestigation)

	router.POST("/chat/abort", s.Abort)
	router.POST("/chat/tool-approval", s.ToolApproval)

	router.GET("/session", s.ListSessions)
	router.POST("/session", s.CreateSession)
	router.GET("/session/:session_id", s.GetSession)
	router.DELETE("/session/:session_id", s.DeleteSession)
	router.GET("/session/:session_id/messages", s.ListMessages)
	router.POST("/session/:session_id/messages", s.AddMessage)
	router.GET("/session/:session_id/todos", s.ListTodos)
	router.POST("/session/:session_id/todos", s.CreateTodo)
	router.PATCH("/session/:session_id/todos/:todo_id", s.UpdateTodo)

	return router
}

// Health reports process and database health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{"status": "healthy", "version": version.Full()}
	if s.db != nil {
		dbHealth, err := s.db.Health(ctx)
		body["database"] = dbHealth
		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

// requestLogger is a minimal slog access logger.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
