package config

import "time"

// RetentionConfig controls the background purge of finished work.
type RetentionConfig struct {
	// TaskRetention is how long terminal tasks are kept.
	TaskRetention time.Duration `yaml:"task_retention"`

	// SessionRetention is how long idle chat sessions are kept.
	SessionRetention time.Duration `yaml:"session_retention"`

	// Interval is the purge cadence.
	Interval time.Duration `yaml:"interval"`
}

// DefaultRetentionConfig returns the built-in retention policy.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TaskRetention:    30 * 24 * time.Hour,
		SessionRetention: 30 * 24 * time.Hour,
		Interval:         time.Hour,
	}
}
