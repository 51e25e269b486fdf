// Package masking scrubs credentials and Kubernetes Secret data from
// tool output before it reaches the LLM or the persisted event log.
package masking

import (
	"log/slog"
)

// Config controls the masking service.
type Config struct {
	// Enabled turns masking off entirely when false.
	Enabled bool `yaml:"enabled"`
	// CustomPatterns extend the built-in rules.
	CustomPatterns []PatternConfig `yaml:"custom_patterns"`
}

// Service applies code-based maskers and regex rules to tool output.
// Created once at startup; stateless aside from compiled patterns, so
// safe for concurrent use. Nil-safe: a nil Service masks nothing.
type Service struct {
	patterns []*CompiledPattern
	maskers  []Masker
	logger   *slog.Logger
}

// NewService compiles the built-in rules plus any custom patterns.
// Returns nil when masking is disabled.
func NewService(cfg Config, logger *slog.Logger) *Service {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	rules := append(append([]PatternConfig{}, builtinPatterns...), cfg.CustomPatterns...)
	s := &Service{
		patterns: compilePatterns(rules, logger),
		maskers:  []Masker{&KubernetesSecretMasker{}},
		logger:   logger,
	}
	logger.Info("Masking service initialized",
		"patterns", len(s.patterns), "code_maskers", len(s.maskers))
	return s
}

// Mask scrubs one tool result. Code-based maskers run first since they
// understand structure; the regex sweep catches the rest.
func (s *Service) Mask(content string) string {
	if s == nil || content == "" {
		return content
	}

	masked := content
	for _, masker := range s.maskers {
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}
	for _, pattern := range s.patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked
}
