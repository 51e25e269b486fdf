// Package signals holds the in-process rendezvous tables that connect
// live HTTP requests to running workers: one-shot abort tokens keyed by
// task or trace id, and the tool-approval table keyed by (trace id,
// call id). All state is process-scoped and lost on restart; the
// startup drain finalizes tasks orphaned that way.
package signals

import (
	"sync"
)

// Token is a one-shot cancellation cell. Workers select on Done() at
// every suspension point.
type Token struct {
	once sync.Once
	ch   chan struct{}
}

func newToken() *Token {
	return &Token{ch: make(chan struct{})}
}

// Done returns a channel closed when the token is set.
func (t *Token) Done() <-chan struct{} { return t.ch }

// Cancelled reports whether the token has been set.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

func (t *Token) set() (already bool) {
	already = true
	t.once.Do(func() {
		already = false
		close(t.ch)
	})
	return already
}

// AbortTable maps keys (task ids or trace ids, depending on the
// instance) to one-shot cancellation tokens.
type AbortTable struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewAbortTable creates an empty table.
func NewAbortTable() *AbortTable {
	return &AbortTable{tokens: make(map[string]*Token)}
}

// Register creates (or returns) the token for a key. Called by the
// worker before it starts blocking work.
func (a *AbortTable) Register(key string) *Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	tok, ok := a.tokens[key]
	if !ok {
		tok = newToken()
		a.tokens[key] = tok
	}
	return tok
}

// Cancel sets the token for a key. The second return reports whether
// the key was known; the first whether the token had already been set
// (cancel is idempotent either way).
func (a *AbortTable) Cancel(key string) (already, found bool) {
	a.mu.Lock()
	tok, found := a.tokens[key]
	a.mu.Unlock()
	if !found {
		return false, false
	}
	return tok.set(), true
}

// Remove drops the key. Called by the worker on exit; a set token stays
// set for any goroutine still holding it.
func (a *AbortTable) Remove(key string) {
	a.mu.Lock()
	delete(a.tokens, key)
	a.mu.Unlock()
}

// Lookup returns the token for a key, if registered.
func (a *AbortTable) Lookup(key string) (*Token, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tok, ok := a.tokens[key]
	return tok, ok
}

// Active returns the number of registered keys.
func (a *AbortTable) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tokens)
}
