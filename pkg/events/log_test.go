package events

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuberoot/kuberoot/pkg/models"
)

// memStore is an in-memory Store for log tests.
type memStore struct {
	mu     sync.Mutex
	events map[string][]models.Event
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string][]models.Event)}
}

func (s *memStore) AppendEvent(_ context.Context, taskID string, event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[taskID] = append(s.events[taskID], event)
	return nil
}

func (s *memStore) ListEvents(_ context.Context, taskID string) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, len(s.events[taskID]))
	copy(out, s.events[taskID])
	return out, nil
}

func newTestLog() (*Log, *memStore) {
	store := newMemStore()
	return NewLog(store, NewBroadcaster(0)), store
}

func appendStep(t *testing.T, log *Log, taskID string, kind models.EventKind) models.Event {
	t.Helper()
	e, err := log.Append(context.Background(), taskID, kind, "", "", nil)
	require.NoError(t, err)
	return e
}

func collect(t *testing.T, ch <-chan models.Event, n int) []models.Event {
	t.Helper()
	out := make([]models.Event, 0, n)
	for len(out) < n {
		select {
		case e, ok := <-ch:
			require.True(t, ok, "stream closed after %d of %d events", len(out), n)
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func requireClosed(t *testing.T, ch <-chan models.Event) {
	t.Helper()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected closed stream")
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
}

func TestAppend_SequenceDenseAndIncreasing(t *testing.T) {
	log, store := newTestLog()
	log.Open("t1")

	appendStep(t, log, "t1", models.EventInvestigationStarted)
	appendStep(t, log, "t1", models.EventTodoUpdated)
	appendStep(t, log, "t1", models.EventAnalysisStep)

	persisted, err := store.ListEvents(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, persisted, 3)
	for i, e := range persisted {
		assert.Equal(t, i+1, e.Sequence)
		assert.Equal(t, "t1", e.TaskID)
	}
}

func TestAppend_UnknownTaskRejected(t *testing.T) {
	log, _ := newTestLog()
	_, err := log.Append(context.Background(), "nope", models.EventAnalysisStep, "", "", nil)
	assert.ErrorIs(t, err, ErrLogUnknownTask)
}

func TestAppend_NothingAfterTerminal(t *testing.T) {
	log, store := newTestLog()
	log.Open("t1")

	appendStep(t, log, "t1", models.EventAnalysisStep)
	appendStep(t, log, "t1", models.EventInvestigationComplete)

	_, err := log.Append(context.Background(), "t1", models.EventAnalysisStep, "", "", nil)
	assert.ErrorIs(t, err, ErrLogClosed)

	persisted, err := store.ListEvents(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestAppend_NonFatalErrorIsNotTerminal(t *testing.T) {
	log, _ := newTestLog()
	log.Open("t1")

	_, err := log.Append(context.Background(), "t1", models.EventError, "ToolDenied", "", nil)
	require.NoError(t, err)

	// The stream stays open for further steps.
	appendStep(t, log, "t1", models.EventAnalysisStep)
}

func TestReplayThenTail_NoGapNoDuplicate(t *testing.T) {
	log, _ := newTestLog()
	log.Open("t1")

	appendStep(t, log, "t1", models.EventInvestigationStarted)
	appendStep(t, log, "t1", models.EventTodoUpdated)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := log.ReplayThenTail(ctx, "t1")
	require.NoError(t, err)

	// Replay covers the first two; live continues from there.
	head := collect(t, stream, 2)
	assert.Equal(t, 1, head[0].Sequence)
	assert.Equal(t, 2, head[1].Sequence)

	appendStep(t, log, "t1", models.EventAnalysisStep)
	appendStep(t, log, "t1", models.EventInvestigationComplete)

	tail := collect(t, stream, 2)
	assert.Equal(t, 3, tail[0].Sequence)
	assert.Equal(t, 4, tail[1].Sequence)
	requireClosed(t, stream)
}

func TestReplayThenTail_TerminalTaskReplayOnly(t *testing.T) {
	log, _ := newTestLog()
	log.Open("t1")

	appendStep(t, log, "t1", models.EventInvestigationStarted)
	appendStep(t, log, "t1", models.EventInvestigationCancelled)

	stream, err := log.ReplayThenTail(context.Background(), "t1")
	require.NoError(t, err)

	got := collect(t, stream, 2)
	assert.Equal(t, models.EventInvestigationCancelled, got[1].Kind)
	requireClosed(t, stream)
}

func TestReplayThenTail_UnknownTaskReplaysPersisted(t *testing.T) {
	log, store := newTestLog()
	// Simulate a restart: persisted history exists, no in-memory state.
	require.NoError(t, store.AppendEvent(context.Background(), "old", models.Event{
		Sequence: 1, TaskID: "old", Kind: models.EventInvestigationStarted,
	}))

	stream, err := log.ReplayThenTail(context.Background(), "old")
	require.NoError(t, err)
	got := collect(t, stream, 1)
	assert.Equal(t, 1, got[0].Sequence)
	requireClosed(t, stream)
}

func TestReplayThenTail_ConcurrentAppendsNoDuplicates(t *testing.T) {
	log, _ := newTestLog()
	log.Open("t1")

	const total = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total-1; i++ {
			appendStep(t, log, "t1", models.EventAnalysisStep)
		}
		appendStep(t, log, "t1", models.EventInvestigationComplete)
	}()

	// Attach mid-flight; the union of replay and tail must be exactly 1..total.
	stream, err := log.ReplayThenTail(context.Background(), "t1")
	require.NoError(t, err)

	seen := make(map[int]bool)
	last := 0
	for e := range stream {
		require.False(t, seen[e.Sequence], "duplicate sequence %d", e.Sequence)
		require.Equal(t, last+1, e.Sequence, "gap before sequence %d", e.Sequence)
		seen[e.Sequence] = true
		last = e.Sequence
	}
	<-done
	assert.Equal(t, total, last)
}

func TestBroadcaster_SlowSubscriberDropped(t *testing.T) {
	b := NewBroadcaster(2)
	sub := b.Subscribe("t1")

	for i := 1; i <= 5; i++ {
		b.Publish(models.Event{Sequence: i, TaskID: "t1", Kind: models.EventAnalysisStep})
	}

	// The overflow at event 3 discards the oldest buffered event in
	// favour of the terminal stream_lag marker; later publishes see no
	// subscriber at all.
	var got []models.Event
	for e := range sub.C {
		got = append(got, e)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, models.EventStreamLag, got[len(got)-1].Kind)
	assert.Zero(t, b.SubscriberCount("t1"))

	// The worker side is unaffected; further publishes are no-ops.
	b.Publish(models.Event{Sequence: 6, TaskID: "t1"})
}

func TestBroadcaster_UnsubscribeDuringPublish(t *testing.T) {
	// Subscribers detaching while the worker publishes must never reach
	// the worker goroutine: a send racing a close would panic it. The
	// tiny buffer forces the lag-drop path as well. Run under -race.
	b := NewBroadcaster(2)

	for i := 0; i < 2000; i++ {
		subs := make([]*Subscription, 0, 20)
		for j := 0; j < 20; j++ {
			subs = append(subs, b.Subscribe("t1"))
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Publish(models.Event{Sequence: 1, TaskID: "t1", Kind: models.EventAnalysisStep})
			runtime.Gosched()
			b.Publish(models.Event{Sequence: 2, TaskID: "t1", Kind: models.EventAnalysisStep})
		}()
		go func() {
			defer wg.Done()
			for _, sub := range subs {
				b.Unsubscribe(sub)
			}
		}()
		wg.Wait()
	}
	assert.Zero(t, b.SubscriberCount("t1"))
}

func TestBroadcaster_UnsubscribeIdempotent(t *testing.T) {
	b := NewBroadcaster(0)
	sub := b.Subscribe("t1")
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Zero(t, b.SubscriberCount("t1"))
}
