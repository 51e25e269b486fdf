package agent

import "context"

// ScopedExecutor restricts an inner executor to a tool allowlist. The
// list is what the LLM sees; calls outside it are refused without ever
// reaching the inner executor.
type ScopedExecutor struct {
	inner   ToolExecutor
	defs    []ToolDefinition
	allowed map[string]bool
}

// NewScopedExecutor wraps inner with the named allowlist. Unknown names
// are dropped from the visible surface.
func NewScopedExecutor(inner ToolExecutor, names []string) *ScopedExecutor {
	defs := ToolsByName(names)
	allowed := make(map[string]bool, len(defs))
	for _, def := range defs {
		allowed[def.Name] = true
	}
	return &ScopedExecutor{inner: inner, defs: defs, allowed: allowed}
}

func (s *ScopedExecutor) Execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	if !s.allowed[call.Name] {
		return errorResult(call, "tool %q is not available to this agent", call.Name), nil
	}
	return s.inner.Execute(ctx, call)
}

// ListTools intersects the allowlist with the inner surface, so policy
// filtering underneath (recon mode, deny-list) still applies.
func (s *ScopedExecutor) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	inner, err := s.inner.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]ToolDefinition, 0, len(s.defs))
	for _, def := range inner {
		if s.allowed[def.Name] {
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func (s *ScopedExecutor) Close() error { return s.inner.Close() }
