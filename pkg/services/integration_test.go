package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuberoot/kuberoot/pkg/models"
	testdb "github.com/kuberoot/kuberoot/test/database"
)

func testRequest(prompt string) *models.InvestigationTaskRequest {
	return &models.InvestigationTaskRequest{
		Title:  "checkout latency",
		Prompt: prompt,
	}
}

func TestTaskServiceIntegration(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	svc := NewTaskService(client.DB())

	t.Run("create and get round trip", func(t *testing.T) {
		task, err := svc.CreateTask(ctx, testRequest("pods crash looping in prod"))
		require.NoError(t, err)
		require.NotEmpty(t, task.TaskID)
		assert.Equal(t, models.TaskStatusProcessing, task.Status)

		loaded, err := svc.GetTask(ctx, task.TaskID)
		require.NoError(t, err)
		assert.Equal(t, task.TaskID, loaded.TaskID)
		assert.Equal(t, models.TaskStatusProcessing, loaded.Status)
		assert.Equal(t, "checkout latency", loaded.Title)
		assert.Empty(t, loaded.Events)
		assert.Empty(t, loaded.SubTasks)
	})

	t.Run("empty request rejected", func(t *testing.T) {
		_, err := svc.CreateTask(ctx, &models.InvestigationTaskRequest{Title: "only a title"})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		_, err = svc.CreateTask(ctx, nil)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("get unknown task", func(t *testing.T) {
		_, err := svc.GetTask(ctx, uuid.New().String())
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list ordering and status filter", func(t *testing.T) {
		first, err := svc.CreateTask(ctx, testRequest("first"))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		second, err := svc.CreateTask(ctx, testRequest("second"))
		require.NoError(t, err)
		require.NoError(t, svc.SetStatus(ctx, second.TaskID, models.TaskStatusCompleted))

		all, err := svc.ListTasks(ctx, "", 0, 0)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(all), 2)
		// Newest first.
		idx := map[string]int{}
		for i, task := range all {
			idx[task.TaskID] = i
		}
		assert.Less(t, idx[second.TaskID], idx[first.TaskID])

		completed, err := svc.ListTasks(ctx, models.TaskStatusCompleted, 0, 0)
		require.NoError(t, err)
		for _, task := range completed {
			assert.Equal(t, models.TaskStatusCompleted, task.Status)
		}
	})

	t.Run("status transitions", func(t *testing.T) {
		task, err := svc.CreateTask(ctx, testRequest("status lifecycle"))
		require.NoError(t, err)

		require.NoError(t, svc.SetStatus(ctx, task.TaskID, models.TaskStatusCancelled))
		// Repeating the same terminal transition is idempotent.
		require.NoError(t, svc.SetStatus(ctx, task.TaskID, models.TaskStatusCancelled))
		// Any other transition out of a terminal status is rejected.
		err = svc.SetStatus(ctx, task.TaskID, models.TaskStatusCompleted)
		require.ErrorIs(t, err, ErrAlreadyTerminal)

		err = svc.SetStatus(ctx, uuid.New().String(), models.TaskStatusCompleted)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("event log round trip", func(t *testing.T) {
		task, err := svc.CreateTask(ctx, testRequest("event log"))
		require.NoError(t, err)

		payload, err := json.Marshal(map[string]string{"agent": "discovery"})
		require.NoError(t, err)
		for seq := 1; seq <= 3; seq++ {
			event := models.Event{
				Sequence:  seq,
				TaskID:    task.TaskID,
				Timestamp: time.Now().UTC().Truncate(time.Millisecond),
				Kind:      models.EventAnalysisStep,
				Payload:   payload,
			}
			require.NoError(t, svc.AppendEvent(ctx, task.TaskID, event))
		}

		events, err := svc.ListEvents(ctx, task.TaskID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, event := range events {
			assert.Equal(t, i+1, event.Sequence)
			assert.Equal(t, models.EventAnalysisStep, event.Kind)
			assert.JSONEq(t, string(payload), string(event.Payload))
		}

		err = svc.AppendEvent(ctx, uuid.New().String(), models.Event{Sequence: 1})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("sub task lifecycle", func(t *testing.T) {
		task, err := svc.CreateTask(ctx, testRequest("sub tasks"))
		require.NoError(t, err)

		subTask := models.SubTask{
			SubTaskID:    uuid.New().String(),
			Agent:        models.AgentMonitoring,
			InputSummary: "check memory pressure on prod nodes",
			StartedAt:    time.Now().UTC().Truncate(time.Millisecond),
			Status:       models.SubTaskStatusActive,
		}
		require.NoError(t, svc.AppendSubTask(ctx, task.TaskID, subTask))

		done := time.Now().UTC().Truncate(time.Millisecond)
		subTask.Status = models.SubTaskStatusCompleted
		subTask.OutputSummary = "node memory pressure confirmed"
		subTask.CompletedAt = &done
		require.NoError(t, svc.UpdateSubTask(ctx, task.TaskID, subTask))

		loaded, err := svc.GetTask(ctx, task.TaskID)
		require.NoError(t, err)
		require.Len(t, loaded.SubTasks, 1)
		assert.Equal(t, models.SubTaskStatusCompleted, loaded.SubTasks[0].Status)
		assert.Equal(t, "node memory pressure confirmed", loaded.SubTasks[0].OutputSummary)

		err = svc.UpdateSubTask(ctx, task.TaskID, models.SubTask{SubTaskID: uuid.New().String()})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("metadata and resolution", func(t *testing.T) {
		task, err := svc.CreateTask(ctx, testRequest("metadata"))
		require.NoError(t, err)

		err = svc.UpdateMetadata(ctx, task.TaskID, "OOM kills in checkout", []string{"oom", "prod"}, "high")
		require.NoError(t, err)
		require.NoError(t, svc.SetResolved(ctx, task.TaskID, models.ResolvedYes))

		loaded, err := svc.GetTask(ctx, task.TaskID)
		require.NoError(t, err)
		assert.Equal(t, "OOM kills in checkout", loaded.Title)
		assert.Equal(t, []string{"oom", "prod"}, loaded.Tags)
		assert.Equal(t, "high", loaded.Severity)
		assert.Equal(t, models.ResolvedYes, loaded.Resolved)
	})

	t.Run("delete task cascades", func(t *testing.T) {
		task, err := svc.CreateTask(ctx, testRequest("delete me"))
		require.NoError(t, err)

		require.NoError(t, svc.DeleteTask(ctx, task.TaskID))
		_, err = svc.GetTask(ctx, task.TaskID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = svc.ListEvents(ctx, task.TaskID)
		require.ErrorIs(t, err, ErrNotFound)

		err = svc.DeleteTask(ctx, task.TaskID)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTaskServiceDrainOrphans(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	svc := NewTaskService(client.DB())

	orphan, err := svc.CreateTask(ctx, testRequest("left running by a dead process"))
	require.NoError(t, err)
	finished, err := svc.CreateTask(ctx, testRequest("already finished"))
	require.NoError(t, err)
	require.NoError(t, svc.SetStatus(ctx, finished.TaskID, models.TaskStatusCompleted))

	drained, err := svc.DrainOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, drained)

	loaded, err := svc.GetTask(ctx, orphan.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, loaded.Status)
	require.NotEmpty(t, loaded.Events)
	last := loaded.Events[len(loaded.Events)-1]
	assert.Equal(t, models.EventError, last.Kind)
	assert.Equal(t, models.ErrorReasonFatal, last.Reason)
	assert.True(t, last.Terminal())

	untouched, err := svc.GetTask(ctx, finished.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, untouched.Status)

	// Nothing left to drain on a second pass.
	drained, err = svc.DrainOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, drained)
}

func TestSessionServiceIntegration(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	svc := NewSessionService(client.DB())

	t.Run("session lifecycle", func(t *testing.T) {
		session, err := svc.CreateSession(ctx, "debugging payments", "gpt-4.1")
		require.NoError(t, err)
		require.NotEmpty(t, session.SessionID)
		assert.Equal(t, models.SessionStatusActive, session.Status)

		loaded, err := svc.GetSession(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "debugging payments", loaded.Title)

		sessions, err := svc.ListSessions(ctx, 0, 0)
		require.NoError(t, err)
		require.NotEmpty(t, sessions)

		require.NoError(t, svc.DeleteSession(ctx, session.SessionID))
		_, err = svc.GetSession(ctx, session.SessionID)
		require.ErrorIs(t, err, ErrNotFound)
		err = svc.DeleteSession(ctx, session.SessionID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("messages keep insertion order", func(t *testing.T) {
		session, err := svc.CreateSession(ctx, "message order", "")
		require.NoError(t, err)

		_, err = svc.AddMessage(ctx, session.SessionID, &models.Message{
			Role:    models.MessageRoleUser,
			Content: "why is the api pod restarting?",
		})
		require.NoError(t, err)
		_, err = svc.AddMessage(ctx, session.SessionID, &models.Message{
			Role:    models.MessageRoleToolCall,
			Name:    "kubectl_describe",
			CallID:  "call-1",
			Content: "",
		})
		require.NoError(t, err)
		_, err = svc.AddMessage(ctx, session.SessionID, &models.Message{
			Role:    models.MessageRoleToolOutput,
			CallID:  "call-1",
			Content: "Last State: OOMKilled",
		})
		require.NoError(t, err)

		messages, err := svc.ListMessages(ctx, session.SessionID)
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, models.MessageRoleUser, messages[0].Role)
		assert.Equal(t, models.MessageRoleToolCall, messages[1].Role)
		assert.Equal(t, models.MessageRoleToolOutput, messages[2].Role)
		assert.Equal(t, messages[1].CallID, messages[2].CallID)
	})

	t.Run("empty content rejected outside tool calls", func(t *testing.T) {
		session, err := svc.CreateSession(ctx, "validation", "")
		require.NoError(t, err)

		_, err = svc.AddMessage(ctx, session.SessionID, &models.Message{Role: models.MessageRoleUser})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("single in progress todo", func(t *testing.T) {
		session, err := svc.CreateSession(ctx, "todo board", "")
		require.NoError(t, err)

		first, err := svc.CreateTodo(ctx, session.SessionID, &models.Todo{
			Content:  "collect pod events",
			Type:     models.TodoTypeCollection,
			Priority: models.TodoPriorityHigh,
		})
		require.NoError(t, err)
		assert.Equal(t, models.TodoStatusPending, first.Status)
		time.Sleep(5 * time.Millisecond)
		second, err := svc.CreateTodo(ctx, session.SessionID, &models.Todo{
			Content:  "correlate with node metrics",
			Type:     models.TodoTypeAnalysis,
			Priority: models.TodoPriorityMedium,
		})
		require.NoError(t, err)

		require.NoError(t, svc.UpdateTodoStatus(ctx, session.SessionID, first.ID, models.TodoStatusInProgress, ""))

		// A second in_progress todo violates the board invariant.
		err = svc.UpdateTodoStatus(ctx, session.SessionID, second.ID, models.TodoStatusInProgress, "")
		require.ErrorIs(t, err, ErrTodoInProgress)
		_, err = svc.CreateTodo(ctx, session.SessionID, &models.Todo{
			Content: "eager item",
			Status:  models.TodoStatusInProgress,
		})
		require.ErrorIs(t, err, ErrTodoInProgress)

		// Finishing the first frees the slot.
		require.NoError(t, svc.UpdateTodoStatus(ctx, session.SessionID, first.ID, models.TodoStatusCompleted, ""))
		require.NoError(t, svc.UpdateTodoStatus(ctx, session.SessionID, second.ID, models.TodoStatusInProgress, ""))

		todos, err := svc.ListTodos(ctx, session.SessionID)
		require.NoError(t, err)
		require.Len(t, todos, 2)
		assert.Equal(t, "collect pod events", todos[0].Content)
		assert.Equal(t, models.TodoStatusCompleted, todos[0].Status)
		assert.Equal(t, models.TodoStatusInProgress, todos[1].Status)

		err = svc.UpdateTodoStatus(ctx, session.SessionID, uuid.New().String(), models.TodoStatusCancelled, "obsolete")
		require.ErrorIs(t, err, ErrNotFound)
	})
}
