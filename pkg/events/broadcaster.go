// Package events implements the per-task event log and its live
// delivery: append-only persisted events, a bounded in-process fan-out,
// and the replay-then-tail stream contract used by SSE subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kuberoot/kuberoot/pkg/models"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth. A
// subscriber that falls further behind than this is dropped with a
// stream_lag event rather than blocking the worker.
const DefaultSubscriberBuffer = 16

// Subscription is one live tail attached to a task's broadcast. The
// subscription's own mutex serializes every send against close: the
// broadcaster lock only guards membership, so a subscriber detaching
// mid-publish must never race a send onto a closed channel.
type Subscription struct {
	ID     string
	TaskID string
	C      <-chan models.Event

	mu     sync.Mutex
	ch     chan models.Event
	closed bool
}

// trySend queues the event without blocking. A full buffer reports
// false; a closed subscription reports true, there is nobody left to
// deliver to.
func (s *Subscription) trySend(event models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// closeLagged queues the terminal lag marker, evicting the oldest
// buffered event if the buffer is still full, then closes. The client
// has to reconnect via replay either way.
func (s *Subscription) closeLagged(lag models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- lag:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- lag:
		default:
		}
	}
	s.closed = true
	close(s.ch)
}

// Broadcaster fans out live events to per-task subscriber sets. Each
// process has one Broadcaster; it holds no persisted state.
type Broadcaster struct {
	mu     sync.RWMutex
	tasks  map[string]map[string]*Subscription // task_id -> sub_id -> sub
	buffer int
}

// NewBroadcaster creates a broadcaster. buffer <= 0 selects the default.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		tasks:  make(map[string]map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe attaches a new live tail to a task. The caller must release
// it with Unsubscribe (closing is not enough; the broadcaster tracks
// membership separately from channel state).
func (b *Broadcaster) Subscribe(taskID string) *Subscription {
	sub := &Subscription{
		ID:     uuid.New().String(),
		TaskID: taskID,
		ch:     make(chan models.Event, b.buffer),
	}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.tasks[taskID]
	if !ok {
		subs = make(map[string]*Subscription)
		b.tasks[taskID] = subs
	}
	subs[sub.ID] = sub
	return sub
}

// Unsubscribe detaches a live tail. Idempotent.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if subs, ok := b.tasks[sub.TaskID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(b.tasks, sub.TaskID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Publish delivers an event to every subscriber of its task. Sends never
// block: a subscriber whose buffer is full is dropped with a terminal
// stream_lag event. The persisted log is unaffected; the client can
// reconnect via replay.
func (b *Broadcaster) Publish(event models.Event) {
	// Snapshot subscribers, then send without holding the lock.
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.tasks[event.TaskID]))
	for _, sub := range b.tasks[event.TaskID] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var lagged []*Subscription
	for _, sub := range subs {
		if !sub.trySend(event) {
			lagged = append(lagged, sub)
		}
	}

	for _, sub := range lagged {
		slog.Warn("Dropping lagged event subscriber",
			"task_id", sub.TaskID, "subscription_id", sub.ID, "buffer", b.buffer)
		b.drop(sub)
	}
}

// CloseTask detaches every subscriber of a task, closing their channels.
// Called after the terminal event has been delivered.
func (b *Broadcaster) CloseTask(taskID string) {
	b.mu.Lock()
	subs := b.tasks[taskID]
	delete(b.tasks, taskID)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// SubscriberCount returns the live tail count for a task. Used by tests
// to poll instead of sleeping.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tasks[taskID])
}

// drop detaches a lagged subscriber, best-effort queueing a stream_lag
// event so the client knows to reconnect via replay.
func (b *Broadcaster) drop(sub *Subscription) {
	b.mu.Lock()
	if subs, ok := b.tasks[sub.TaskID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(b.tasks, sub.TaskID)
		}
	}
	b.mu.Unlock()

	sub.closeLagged(models.Event{
		TaskID:    sub.TaskID,
		Timestamp: time.Now().UTC(),
		Kind:      models.EventStreamLag,
		Reason:    "subscriber buffer overflow",
	})
}
