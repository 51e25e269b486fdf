package config

import "strings"

// PolicyYAMLConfig is the policy block of kuberoot.yaml.
type PolicyYAMLConfig struct {
	ReconMode        *bool    `yaml:"recon_mode,omitempty"`
	WebSearchEnabled *bool    `yaml:"web_search_enabled,omitempty"`
	DeniedTools      []string `yaml:"denied_tools,omitempty"`
}

// PolicyContext carries the process-wide tool policy. It is passed
// explicitly to agent constructors and tool runtimes; there are no
// ambient policy globals.
type PolicyContext struct {
	// ReconMode restricts every agent to read-only tools.
	ReconMode bool

	// WebSearchEnabled gates the web_search tool.
	WebSearchEnabled bool

	deniedTools map[string]struct{}
}

// NewPolicyContext builds a PolicyContext from resolved settings.
func NewPolicyContext(reconMode, webSearch bool, deniedTools []string) *PolicyContext {
	denied := make(map[string]struct{}, len(deniedTools))
	for _, tool := range deniedTools {
		tool = strings.TrimSpace(tool)
		if tool != "" {
			denied[tool] = struct{}{}
		}
	}
	return &PolicyContext{
		ReconMode:        reconMode,
		WebSearchEnabled: webSearch,
		deniedTools:      denied,
	}
}

// Denied reports whether the tool is on the explicit deny-list.
func (p *PolicyContext) Denied(tool string) bool {
	if p == nil {
		return false
	}
	_, denied := p.deniedTools[tool]
	return denied
}

// Allows reports whether policy permits invoking the tool. Mutating
// tools are refused in recon mode; deny-listed tools are refused always.
func (p *PolicyContext) Allows(tool string, mutating bool) bool {
	if p == nil {
		return true
	}
	if p.Denied(tool) {
		return false
	}
	if mutating && p.ReconMode {
		return false
	}
	return true
}

// DeniedTools returns the deny-list for logging.
func (p *PolicyContext) DeniedTools() []string {
	if p == nil {
		return nil
	}
	tools := make([]string, 0, len(p.deniedTools))
	for tool := range p.deniedTools {
		tools = append(tools, tool)
	}
	return tools
}

// resolvePolicy resolves the policy context from YAML, applying defaults.
// Recon mode defaults to on: mutating tools require an explicit opt-in.
func resolvePolicy(yml *PolicyYAMLConfig) *PolicyContext {
	reconMode := true
	webSearch := false
	var denied []string

	if yml != nil {
		if yml.ReconMode != nil {
			reconMode = *yml.ReconMode
		}
		if yml.WebSearchEnabled != nil {
			webSearch = *yml.WebSearchEnabled
		}
		denied = yml.DeniedTools
	}
	return NewPolicyContext(reconMode, webSearch, denied)
}
