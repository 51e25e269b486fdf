package signals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Decision is a client's reply to a tool-approval request.
type Decision string

const (
	DecisionApprove           Decision = "approve"
	DecisionDeny              Decision = "deny"
	DecisionApproveForSession Decision = "approve_for_session"
	DecisionRedirect          Decision = "redirect"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionDeny, DecisionApproveForSession, DecisionRedirect:
		return true
	}
	return false
}

// Resolution is the resolved outcome delivered to the waiting agent.
type Resolution struct {
	Decision Decision
	Message  string // redirect instruction, or optional deny reason
}

// DefaultApprovalTimeout bounds how long an agent waits for a decision
// before treating the silence as a deny.
const DefaultApprovalTimeout = 5 * time.Minute

// DeniedByTimeout is the Resolution.Message of a timeout-deny, letting
// callers distinguish operator denies from expired waits.
const DeniedByTimeout = "approval timed out"

var (
	// ErrApprovalPending is returned when registering a (trace, call)
	// pair that already has an unresolved entry.
	ErrApprovalPending = errors.New("approval already pending for call")
	// ErrNoPendingApproval is returned for replies against an unknown or
	// already-resolved (trace, call) pair. Duplicate replies land here
	// because resolution deletes the entry.
	ErrNoPendingApproval = errors.New("no pending approval for call")
)

type approvalKey struct {
	traceID string
	callID  string
}

type pendingApproval struct {
	ch chan Resolution // buffered(1): resolver never blocks
}

// ApprovalTable parks dangerous tool calls until a client decision
// arrives. Entries are deleted on resolution or on session abort, so a
// reader observes each resolution exactly once.
type ApprovalTable struct {
	mu       sync.Mutex
	pending  map[approvalKey]*pendingApproval
	approved map[string]bool // trace ids granted approve_for_session
	timeout  time.Duration
}

// NewApprovalTable creates a table. timeout <= 0 selects the default.
func NewApprovalTable(timeout time.Duration) *ApprovalTable {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	return &ApprovalTable{
		pending:  make(map[approvalKey]*pendingApproval),
		approved: make(map[string]bool),
		timeout:  timeout,
	}
}

// Register parks a pending approval for (traceID, callID). When the
// trace already holds a session-wide approval, the call is resolved
// immediately without a round trip.
func (t *ApprovalTable) Register(traceID, callID string) (*Pending, error) {
	key := approvalKey{traceID, callID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.approved[traceID] {
		return &Pending{table: t, key: key, resolved: &Resolution{Decision: DecisionApprove}}, nil
	}
	if _, exists := t.pending[key]; exists {
		return nil, fmt.Errorf("trace %s call %s: %w", traceID, callID, ErrApprovalPending)
	}
	p := &pendingApproval{ch: make(chan Resolution, 1)}
	t.pending[key] = p
	return &Pending{table: t, key: key, inner: p}, nil
}

// Resolve delivers a client decision. The entry is deleted atomically
// with the delivery; a second reply gets ErrNoPendingApproval.
func (t *ApprovalTable) Resolve(traceID, callID string, decision Decision, message string) error {
	if !decision.Valid() {
		return fmt.Errorf("decision %q: %w", decision, ErrInvalidDecision)
	}
	key := approvalKey{traceID, callID}

	t.mu.Lock()
	p, ok := t.pending[key]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("trace %s call %s: %w", traceID, callID, ErrNoPendingApproval)
	}
	delete(t.pending, key)
	if decision == DecisionApproveForSession {
		t.approved[traceID] = true
	}
	t.mu.Unlock()

	p.ch <- Resolution{Decision: decision, Message: message}
	return nil
}

// AbortTrace drops every pending approval for a trace, waking each
// waiter with a deny, and clears the session-wide grant.
func (t *ApprovalTable) AbortTrace(traceID string) {
	t.mu.Lock()
	var dropped []*pendingApproval
	for key, p := range t.pending {
		if key.traceID == traceID {
			delete(t.pending, key)
			dropped = append(dropped, p)
		}
	}
	delete(t.approved, traceID)
	t.mu.Unlock()

	for _, p := range dropped {
		p.ch <- Resolution{Decision: DecisionDeny, Message: "session aborted"}
	}
}

// Drop removes a parked approval without resolving it. Used when the
// request could not be delivered to any client.
func (t *ApprovalTable) Drop(traceID, callID string) {
	t.remove(approvalKey{traceID, callID})
}

// PendingCount returns the number of parked approvals. Used by tests.
func (t *ApprovalTable) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// ErrInvalidDecision is returned for decisions outside the taxonomy.
var ErrInvalidDecision = errors.New("invalid approval decision")

// Pending is the agent-side handle of one parked approval.
type Pending struct {
	table    *ApprovalTable
	key      approvalKey
	inner    *pendingApproval
	resolved *Resolution
}

// Resolved reports whether the approval was settled at registration by
// a session-wide grant. Callers skip the client round trip in that case.
func (p *Pending) Resolved() bool { return p.resolved != nil }

// Await blocks until a decision, the approval timeout, or an abort. A
// timeout behaves exactly as a deny; an abort yields ctx-style
// cancellation via the returned error.
func (p *Pending) Await(ctx context.Context, abort *Token) (Resolution, error) {
	if p.resolved != nil {
		return *p.resolved, nil
	}

	timer := time.NewTimer(p.table.timeout)
	defer timer.Stop()

	var done <-chan struct{}
	if abort != nil {
		done = abort.Done()
	}

	select {
	case res := <-p.inner.ch:
		return res, nil
	case <-timer.C:
		p.table.remove(p.key)
		return Resolution{Decision: DecisionDeny, Message: DeniedByTimeout}, nil
	case <-done:
		p.table.remove(p.key)
		return Resolution{}, context.Canceled
	case <-ctx.Done():
		p.table.remove(p.key)
		return Resolution{}, ctx.Err()
	}
}

func (t *ApprovalTable) remove(key approvalKey) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
}
