// Package cleanup enforces data retention: terminal investigation tasks
// and idle chat sessions past their retention window are purged on a
// fixed cadence.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/kuberoot/kuberoot/pkg/config"
)

// TaskPurger deletes terminal tasks older than the window.
// Implemented by services.TaskService.
type TaskPurger interface {
	PurgeTerminalTasks(ctx context.Context, olderThan time.Duration) (int, error)
}

// SessionPurger deletes idle sessions older than the window.
// Implemented by services.SessionService.
type SessionPurger interface {
	PurgeIdleSessions(ctx context.Context, olderThan time.Duration) (int, error)
}

// Service runs the periodic retention sweep. All operations are
// idempotent and safe to run from multiple replicas.
type Service struct {
	config   *config.RetentionConfig
	tasks    TaskPurger
	sessions SessionPurger
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the cleanup service.
func NewService(cfg *config.RetentionConfig, tasks TaskPurger, sessions SessionPurger) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	return &Service{
		config:   cfg,
		tasks:    tasks,
		sessions: sessions,
		logger:   slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background sweep loop. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"task_retention", s.config.TaskRetention,
		"session_retention", s.config.SessionRetention,
		"interval", s.config.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one retention pass. Failures are logged and retried on the
// next tick.
func (s *Service) sweep(ctx context.Context) {
	if s.tasks != nil && s.config.TaskRetention > 0 {
		count, err := s.tasks.PurgeTerminalTasks(ctx, s.config.TaskRetention)
		switch {
		case err != nil:
			s.logger.Error("Retention: task purge failed", "error", err)
		case count > 0:
			s.logger.Info("Retention: purged terminal tasks", "count", count)
		}
	}

	if s.sessions != nil && s.config.SessionRetention > 0 {
		count, err := s.sessions.PurgeIdleSessions(ctx, s.config.SessionRetention)
		switch {
		case err != nil:
			s.logger.Error("Retention: session purge failed", "error", err)
		case count > 0:
			s.logger.Info("Retention: purged idle sessions", "count", count)
		}
	}
}
