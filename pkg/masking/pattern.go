package masking

import (
	"fmt"
	"log/slog"
	"regexp"
)

// PatternConfig is one regex masking rule as configured.
type PatternConfig struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are the regex rules applied to every tool result.
// Structural masking of Secret resources is handled by the code-based
// KubernetesSecretMasker; these catch credentials leaking through logs,
// environment dumps, and connection strings.
var builtinPatterns = []PatternConfig{
	{
		Name:        "bearer_token",
		Pattern:     `(?i)(bearer\s+)[A-Za-z0-9\-._~+/]{16,}=*`,
		Replacement: "${1}[MASKED_TOKEN]",
	},
	{
		Name:        "api_key_assignment",
		Pattern:     `(?i)((?:api[_-]?key|apikey|secret[_-]?key|access[_-]?key|auth[_-]?token)["']?\s*[:=]\s*["']?)[A-Za-z0-9\-._~+/]{8,}=*`,
		Replacement: "${1}[MASKED_KEY]",
	},
	{
		Name:        "password_assignment",
		Pattern:     `(?i)((?:password|passwd|pwd)["']?\s*[:=]\s*["']?)[^\s"',;]{4,}`,
		Replacement: "${1}[MASKED_PASSWORD]",
	},
	{
		Name:        "connection_string_credentials",
		Pattern:     `(?i)([a-z][a-z0-9+\-.]*://[^:/\s]+:)[^@\s]+(@)`,
		Replacement: "${1}[MASKED_PASSWORD]${2}",
	},
	{
		Name:        "private_key_block",
		Pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
		Replacement: "[MASKED_PRIVATE_KEY]",
	},
	{
		Name:        "aws_access_key_id",
		Pattern:     `\bAKIA[0-9A-Z]{16}\b`,
		Replacement: "[MASKED_AWS_KEY]",
	},
}

// compilePatterns compiles a rule list, logging and skipping invalid
// entries rather than failing startup.
func compilePatterns(configs []PatternConfig, logger *slog.Logger) []*CompiledPattern {
	if logger == nil {
		logger = slog.Default()
	}
	compiled := make([]*CompiledPattern, 0, len(configs))
	for _, cfg := range configs {
		regex, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			logger.Error("Failed to compile masking pattern, skipping",
				"pattern", cfg.Name, "error", err)
			continue
		}
		replacement := cfg.Replacement
		if replacement == "" {
			replacement = fmt.Sprintf("[MASKED_%s]", cfg.Name)
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        cfg.Name,
			Regex:       regex,
			Replacement: replacement,
		})
	}
	return compiled
}
