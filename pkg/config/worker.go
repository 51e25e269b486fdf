package config

import "time"

// WorkerConfig controls the investigation worker pool.
type WorkerConfig struct {
	// MaxConcurrentTasks is the number of investigations this process
	// runs at once. Excess start requests are rejected.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// SubscriberBuffer is the per-subscriber live event buffer depth.
	// A subscriber that falls this far behind is dropped with a
	// stream_lag event.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// GracefulShutdownTimeout is the max time to wait for running
	// investigations during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultWorkerConfig returns the built-in worker defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		MaxConcurrentTasks:      5,
		SubscriberBuffer:        16,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
