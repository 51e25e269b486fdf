package signals

import "sync"

// RedirectTable stores the follow-up instruction attached to a redirect
// decision. The agent reads (and clears) it when it resumes.
type RedirectTable struct {
	mu           sync.Mutex
	instructions map[string]string // trace id -> instruction
}

// NewRedirectTable creates an empty table.
func NewRedirectTable() *RedirectTable {
	return &RedirectTable{instructions: make(map[string]string)}
}

// Set stores the redirect instruction for a trace, replacing any
// previous one.
func (r *RedirectTable) Set(traceID, instruction string) {
	r.mu.Lock()
	r.instructions[traceID] = instruction
	r.mu.Unlock()
}

// Take reads and clears the instruction for a trace.
func (r *RedirectTable) Take(traceID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instruction, ok := r.instructions[traceID]
	if ok {
		delete(r.instructions, traceID)
	}
	return instruction, ok
}

// Clear drops any instruction for a trace. Called on session abort.
func (r *RedirectTable) Clear(traceID string) {
	r.mu.Lock()
	delete(r.instructions, traceID)
	r.mu.Unlock()
}
