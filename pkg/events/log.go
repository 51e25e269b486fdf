package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kuberoot/kuberoot/pkg/models"
)

// Store is the persistence slice the log writes through. Implemented by
// services.TaskService; events are appended to the task row's JSON blob
// in the same transaction that bumps updated_at.
type Store interface {
	AppendEvent(ctx context.Context, taskID string, event models.Event) error
	ListEvents(ctx context.Context, taskID string) ([]models.Event, error)
}

// Log is the per-task append-only event log plus its live fan-out.
// Append assigns dense per-task sequence numbers, persists the event,
// and publishes it to live subscribers as one serialized step, so the
// replay-then-tail seam never sees a gap or a duplicate.
type Log struct {
	store       Store
	broadcaster *Broadcaster

	mu    sync.Mutex
	tasks map[string]*taskLog
}

type taskLog struct {
	mu     sync.Mutex
	seq    int
	closed bool
}

// NewLog creates a log over the given store and broadcaster.
func NewLog(store Store, broadcaster *Broadcaster) *Log {
	return &Log{
		store:       store,
		broadcaster: broadcaster,
		tasks:       make(map[string]*taskLog),
	}
}

// Open registers a task with the log. Called by the orchestrator when
// the worker starts; sequence numbering begins at 1.
func (l *Log) Open(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tasks[taskID]; !ok {
		l.tasks[taskID] = &taskLog{}
	}
}

// Append persists and publishes one event, assigning the next sequence
// number. Appending to a closed (terminal) task fails; appending a
// terminal event closes the task's live subscribers after delivery.
func (l *Log) Append(ctx context.Context, taskID string, kind models.EventKind, reason, analysis string, payload any) (models.Event, error) {
	tl, err := l.task(taskID)
	if err != nil {
		return models.Event{}, err
	}

	var raw json.RawMessage
	if payload != nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			return models.Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.closed {
		return models.Event{}, fmt.Errorf("append %s to task %s: %w", kind, taskID, ErrLogClosed)
	}

	event := models.Event{
		Sequence:  tl.seq + 1,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Reason:    reason,
		Analysis:  analysis,
		Payload:   raw,
	}
	if err := l.store.AppendEvent(ctx, taskID, event); err != nil {
		return models.Event{}, fmt.Errorf("persist event %s/%d: %w", taskID, event.Sequence, err)
	}
	tl.seq = event.Sequence

	l.broadcaster.Publish(event)
	if event.Terminal() {
		tl.closed = true
		l.broadcaster.CloseTask(taskID)
	}
	return event, nil
}

// Replay returns the persisted history for a task in sequence order.
func (l *Log) Replay(ctx context.Context, taskID string) ([]models.Event, error) {
	return l.store.ListEvents(ctx, taskID)
}

// ReplayThenTail returns a stream that first carries every persisted
// event for the task in order, then continues with live events. For a
// terminal task the stream closes after replay. The per-task lock is
// held across snapshot-and-subscribe, which is what guarantees the
// no-gap/no-duplicate seam.
func (l *Log) ReplayThenTail(ctx context.Context, taskID string) (<-chan models.Event, error) {
	l.mu.Lock()
	tl, live := l.tasks[taskID]
	l.mu.Unlock()

	var history []models.Event
	var sub *Subscription
	var err error

	if live {
		tl.mu.Lock()
		history, err = l.store.ListEvents(ctx, taskID)
		if err == nil && !tl.closed {
			sub = l.broadcaster.Subscribe(taskID)
		}
		tl.mu.Unlock()
	} else {
		// Unknown to this process: either terminal or orphaned by a
		// restart. Replay-only; the startup drain has already finalized
		// orphaned tasks in the store.
		history, err = l.store.ListEvents(ctx, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("replay task %s: %w", taskID, err)
	}

	snapshot := 0
	if n := len(history); n > 0 {
		snapshot = history[n-1].Sequence
	}

	out := make(chan models.Event)
	go func() {
		defer close(out)
		if sub != nil {
			defer l.broadcaster.Unsubscribe(sub)
		}

		for _, e := range history {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
		if sub == nil {
			return
		}

		for {
			select {
			case e, ok := <-sub.C:
				if !ok {
					return
				}
				// The seam: drop live events already covered by replay.
				if e.Sequence != 0 && e.Sequence <= snapshot {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				if e.Terminal() || e.Kind == models.EventStreamLag {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Tail returns live events from now on, without replay.
func (l *Log) Tail(taskID string) *Subscription {
	return l.broadcaster.Subscribe(taskID)
}

// Close drops the task's in-memory log state. Called by the orchestrator
// after the worker exits; the persisted history remains replayable.
func (l *Log) Close(taskID string) {
	l.mu.Lock()
	delete(l.tasks, taskID)
	l.mu.Unlock()
	l.broadcaster.CloseTask(taskID)
}

func (l *Log) task(taskID string) (*taskLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl, ok := l.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrLogUnknownTask)
	}
	return tl, nil
}
