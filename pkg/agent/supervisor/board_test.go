package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuberoot/kuberoot/pkg/models"
)

func TestBoard_Write(t *testing.T) {
	board := NewBoard()
	assert.False(t, board.HasTodos())

	created, err := board.Write([]TodoWrite{
		{Content: "map resources", Type: models.TodoTypeCollection, Priority: models.TodoPriorityHigh, AssignedTo: models.AgentDiscovery},
		{Content: "pull logs"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.True(t, board.HasTodos())

	// Defaults for omitted type and priority.
	assert.Equal(t, models.TodoTypeAnalysis, created[1].Type)
	assert.Equal(t, models.TodoPriorityMedium, created[1].Priority)
	assert.Equal(t, models.TodoStatusPending, created[0].Status)
	assert.NotEmpty(t, created[0].ID)

	snapshot := board.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "map resources", snapshot[0].Content)
	assert.Equal(t, "pull logs", snapshot[1].Content)
}

func TestBoard_WriteValidation(t *testing.T) {
	board := NewBoard()

	_, err := board.Write(nil)
	assert.ErrorIs(t, err, ErrInvalidTodo)

	// A bad item rejects the whole write.
	_, err = board.Write([]TodoWrite{{Content: "ok"}, {Content: ""}})
	assert.ErrorIs(t, err, ErrInvalidTodo)
	assert.False(t, board.HasTodos())
}

func TestBoard_SingleInProgress(t *testing.T) {
	board := NewBoard()
	created, err := board.Write([]TodoWrite{{Content: "first"}, {Content: "second"}})
	require.NoError(t, err)

	_, err = board.SetStatus(created[0].ID, models.TodoStatusInProgress, "")
	require.NoError(t, err)

	_, err = board.SetStatus(created[1].ID, models.TodoStatusInProgress, "")
	assert.ErrorIs(t, err, ErrTodoInProgress)

	active, ok := board.InProgress()
	require.True(t, ok)
	assert.Equal(t, created[0].ID, active.ID)

	// Completing the active todo frees the slot.
	_, err = board.SetStatus(created[0].ID, models.TodoStatusCompleted, "")
	require.NoError(t, err)
	_, err = board.SetStatus(created[1].ID, models.TodoStatusInProgress, "")
	require.NoError(t, err)
}

func TestBoard_CancelRecordsReason(t *testing.T) {
	board := NewBoard()
	created, err := board.Write([]TodoWrite{{Content: "restart the deployment"}})
	require.NoError(t, err)

	todo, err := board.SetStatus(created[0].ID, models.TodoStatusCancelled, "mutating tools unavailable in recon mode")
	require.NoError(t, err)
	assert.Equal(t, models.TodoStatusCancelled, todo.Status)
	assert.Equal(t, "mutating tools unavailable in recon mode", todo.Reason)

	_, ok := board.InProgress()
	assert.False(t, ok)
}

func TestBoard_UnknownTodo(t *testing.T) {
	board := NewBoard()
	_, err := board.SetStatus("nope", models.TodoStatusCompleted, "")
	assert.ErrorIs(t, err, ErrTodoNotFound)
}

func TestBoard_SnapshotIsACopy(t *testing.T) {
	board := NewBoard()
	created, err := board.Write([]TodoWrite{{Content: "original"}})
	require.NoError(t, err)

	snapshot := board.Snapshot()
	snapshot[0].Content = "mutated"
	snapshot[0].Status = models.TodoStatusCompleted

	fresh := board.Snapshot()
	assert.Equal(t, "original", fresh[0].Content)
	assert.Equal(t, models.TodoStatusPending, fresh[0].Status)
	_ = created
}
