// Package slack posts investigation lifecycle notifications to a Slack
// channel. Notifications are fail-open: delivery errors are logged and
// never surface into the investigation itself.
package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// TaskStartedInput contains data for an investigation start notification.
type TaskStartedInput struct {
	TaskID string
	Title  string

	// Fingerprint is alert text used to locate an existing channel
	// message to thread under. Empty means post a fresh message.
	Fingerprint string
}

// TaskCompletedInput contains data for a terminal task notification.
type TaskCompletedInput struct {
	TaskID      string
	Title       string
	Status      string // completed, failed, cancelled
	Summary     string
	Remediation string
	ErrorMessage string

	// ThreadTS threads the terminal message under the start
	// notification. Cached from NotifyTaskStarted.
	ThreadTS    string
	Fingerprint string
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyTaskStarted sends an "investigation started" notification and
// returns the thread anchor timestamp for the terminal notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyTaskStarted(ctx context.Context, input TaskStartedInput) string {
	if s == nil {
		return ""
	}

	threadTS := ""
	if input.Fingerprint != "" {
		var err error
		threadTS, err = s.client.FindMessageByFingerprint(ctx, input.Fingerprint)
		if err != nil {
			s.logger.Warn("Failed to find Slack thread for fingerprint",
				"task_id", input.TaskID,
				"error", err)
		}
	}

	blocks := BuildStartedMessage(input.TaskID, input.Title, s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, threadTS, 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send Slack start notification",
			"task_id", input.TaskID,
			"error", err)
		return threadTS
	}

	// Thread terminal messages under the alert when one was found,
	// otherwise under the start notification itself.
	if threadTS != "" {
		return threadTS
	}
	return ts
}

// NotifyTaskCompleted sends a terminal status notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyTaskCompleted(ctx context.Context, input TaskCompletedInput) {
	if s == nil {
		return
	}

	threadTS := input.ThreadTS
	if threadTS == "" && input.Fingerprint != "" {
		var err error
		threadTS, err = s.client.FindMessageByFingerprint(ctx, input.Fingerprint)
		if err != nil {
			s.logger.Warn("Failed to find Slack thread for fingerprint",
				"task_id", input.TaskID,
				"error", err)
		}
	}

	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if _, err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"task_id", input.TaskID,
			"status", input.Status,
			"error", err)
	}
}
