package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuberoot/kuberoot/pkg/config"
)

type fakeTaskPurger struct {
	calls  atomic.Int64
	window atomic.Int64
	count  int
	err    error
}

func (f *fakeTaskPurger) PurgeTerminalTasks(_ context.Context, olderThan time.Duration) (int, error) {
	f.calls.Add(1)
	f.window.Store(int64(olderThan))
	return f.count, f.err
}

type fakeSessionPurger struct {
	calls atomic.Int64
	count int
	err   error
}

func (f *fakeSessionPurger) PurgeIdleSessions(_ context.Context, _ time.Duration) (int, error) {
	f.calls.Add(1)
	return f.count, f.err
}

func TestSweep_PurgesTasksAndSessions(t *testing.T) {
	tasks := &fakeTaskPurger{count: 3}
	sessions := &fakeSessionPurger{count: 2}
	svc := NewService(&config.RetentionConfig{
		TaskRetention:    7 * 24 * time.Hour,
		SessionRetention: 24 * time.Hour,
		Interval:         time.Hour,
	}, tasks, sessions)

	svc.sweep(context.Background())

	assert.Equal(t, int64(1), tasks.calls.Load())
	assert.Equal(t, int64(7*24*time.Hour), tasks.window.Load())
	assert.Equal(t, int64(1), sessions.calls.Load())
}

func TestSweep_TaskFailureDoesNotBlockSessions(t *testing.T) {
	tasks := &fakeTaskPurger{err: errors.New("db down")}
	sessions := &fakeSessionPurger{}
	svc := NewService(&config.RetentionConfig{
		TaskRetention:    time.Hour,
		SessionRetention: time.Hour,
		Interval:         time.Hour,
	}, tasks, sessions)

	svc.sweep(context.Background())

	assert.Equal(t, int64(1), sessions.calls.Load())
}

func TestSweep_ZeroRetentionDisablesPurge(t *testing.T) {
	tasks := &fakeTaskPurger{}
	sessions := &fakeSessionPurger{}
	svc := NewService(&config.RetentionConfig{
		TaskRetention:    0,
		SessionRetention: 0,
		Interval:         time.Hour,
	}, tasks, sessions)

	svc.sweep(context.Background())

	assert.Zero(t, tasks.calls.Load())
	assert.Zero(t, sessions.calls.Load())
}

func TestStartStop_RunsInitialSweep(t *testing.T) {
	tasks := &fakeTaskPurger{}
	sessions := &fakeSessionPurger{}
	svc := NewService(&config.RetentionConfig{
		TaskRetention:    time.Hour,
		SessionRetention: time.Hour,
		Interval:         time.Hour,
	}, tasks, sessions)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return tasks.calls.Load() >= 1 && sessions.calls.Load() >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestStartStop_TicksOnInterval(t *testing.T) {
	tasks := &fakeTaskPurger{}
	svc := NewService(&config.RetentionConfig{
		TaskRetention:    time.Hour,
		SessionRetention: 0,
		Interval:         20 * time.Millisecond,
	}, tasks, nil)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return tasks.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestStop_BeforeStartIsNoop(t *testing.T) {
	svc := NewService(nil, nil, nil)
	svc.Stop()
}

func TestNewService_NilConfigUsesDefaults(t *testing.T) {
	svc := NewService(nil, nil, nil)
	require.NotNil(t, svc.config)
	assert.Equal(t, config.DefaultRetentionConfig().Interval, svc.config.Interval)
}
