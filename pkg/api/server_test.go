package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuberoot/kuberoot/pkg/models"
	"github.com/kuberoot/kuberoot/pkg/orchestrator"
	"github.com/kuberoot/kuberoot/pkg/services"
	"github.com/kuberoot/kuberoot/pkg/signals"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeInvestigator struct {
	task   *models.Task
	events []models.Event

	startErr     error
	cancelErr    error
	subscribeErr error

	cancelled []string
	deleted   []string
}

func (f *fakeInvestigator) Start(ctx context.Context, req *models.InvestigationTaskRequest) (*models.Task, <-chan models.Event, error) {
	if f.startErr != nil {
		return nil, nil, f.startErr
	}
	return f.task, f.stream(), nil
}

func (f *fakeInvestigator) Cancel(ctx context.Context, taskID string) error {
	f.cancelled = append(f.cancelled, taskID)
	return f.cancelErr
}

func (f *fakeInvestigator) Subscribe(ctx context.Context, taskID string) (<-chan models.Event, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.stream(), nil
}

func (f *fakeInvestigator) Status(ctx context.Context, taskID string) (*models.Task, error) {
	if f.task == nil || f.task.TaskID != taskID {
		return nil, fmt.Errorf("task %s: %w", taskID, services.ErrNotFound)
	}
	return f.task, nil
}

func (f *fakeInvestigator) Delete(ctx context.Context, taskID string) error {
	f.deleted = append(f.deleted, taskID)
	return nil
}

func (f *fakeInvestigator) stream() <-chan models.Event {
	ch := make(chan models.Event, len(f.events))
	for _, event := range f.events {
		ch <- event
	}
	close(ch)
	return ch
}

type fakeLister struct {
	tasks  []*models.Task
	status models.TaskStatus
	limit  int
}

func (f *fakeLister) ListTasks(ctx context.Context, status models.TaskStatus, limit, offset int) ([]*models.Task, error) {
	f.status = status
	f.limit = limit
	return f.tasks, nil
}

func testServer(investigator *fakeInvestigator, lister *fakeLister) (*Server, *signals.AbortTable, *signals.ApprovalTable, *signals.RedirectTable) {
	aborts := signals.NewAbortTable()
	approvals := signals.NewApprovalTable(time.Minute)
	redirects := signals.NewRedirectTable()
	server := NewServer(Deps{
		Investigator: investigator,
		Tasks:        lister,
		Aborts:       aborts,
		Approvals:    approvals,
		Redirects:    redirects,
	})
	return server, aborts, approvals, redirects
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rec = httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(rec, req)
	return rec
}

func payloadFor(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestStartInvestigation_StreamsSSE(t *testing.T) {
	now := time.Now().UTC()
	investigator := &fakeInvestigator{
		task: &models.Task{TaskID: "task-1", Status: models.TaskStatusProcessing},
		events: []models.Event{
			{Sequence: 1, TaskID: "task-1", Timestamp: now, Kind: models.EventInvestigationStarted},
			{Sequence: 2, TaskID: "task-1", Timestamp: now, Kind: models.EventInvestigationComplete,
				Payload: payloadFor(t, models.FinalReport{Summary: "root cause found"})},
		},
	}
	server, _, _, _ := testServer(investigator, &fakeLister{})

	rec := doJSON(t, server.Router(), http.MethodPost, "/investigate", `{"prompt":"pods crash looping"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "task-1", rec.Header().Get("X-Task-ID"))
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "investigation_started", frames[0]["type"])
	assert.Equal(t, float64(1), frames[0]["sequence"])
	assert.Equal(t, "task-1", frames[0]["task_id"])

	// Payload fields are hoisted onto the frame.
	assert.Equal(t, "investigation_complete", frames[1]["type"])
	assert.Equal(t, "root cause found", frames[1]["summary"])
	impact, ok := frames[1]["impact"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, impact, "impact_duration")
	assert.Contains(t, impact, "service_affected")
	assert.Contains(t, impact, "impacted_since")
}

func TestStartInvestigation_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", services.NewValidationError("request", "prompt or context is required"), http.StatusBadRequest},
		{"capacity", orchestrator.ErrCapacity, http.StatusServiceUnavailable},
		{"shutdown", orchestrator.ErrShuttingDown, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, _, _, _ := testServer(&fakeInvestigator{startErr: tc.err}, &fakeLister{})
			rec := doJSON(t, server.Router(), http.MethodPost, "/investigate", `{"prompt":"x"}`)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestStartInvestigation_MalformedBody(t *testing.T) {
	server, _, _, _ := testServer(&fakeInvestigator{}, &fakeLister{})
	rec := doJSON(t, server.Router(), http.MethodPost, "/investigate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamEvents_UnknownTask(t *testing.T) {
	server, _, _, _ := testServer(&fakeInvestigator{
		subscribeErr: fmt.Errorf("task nope: %w", services.ErrNotFound),
	}, &fakeLister{})
	rec := doJSON(t, server.Router(), http.MethodGet, "/investigate/nope/event", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvestigationStatus(t *testing.T) {
	server, _, _, _ := testServer(&fakeInvestigator{
		task: &models.Task{TaskID: "task-1", Status: models.TaskStatusCompleted, Title: "OOM loop"},
	}, &fakeLister{})

	rec := doJSON(t, server.Router(), http.MethodGet, "/investigate/task-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "OOM loop", body["title"])

	rec = doJSON(t, server.Router(), http.MethodGet, "/investigate/other/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelInvestigation(t *testing.T) {
	investigator := &fakeInvestigator{}
	server, _, _, _ := testServer(investigator, &fakeLister{})

	rec := doJSON(t, server.Router(), http.MethodPost, "/investigate/task-1/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"task-1"}, investigator.cancelled)

	investigator.cancelErr = fmt.Errorf("task task-1 is completed: %w", services.ErrAlreadyTerminal)
	rec = doJSON(t, server.Router(), http.MethodPost, "/investigate/task-1/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	investigator.cancelErr = fmt.Errorf("task nope: %w", services.ErrNotFound)
	rec = doJSON(t, server.Router(), http.MethodPost, "/investigate/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteInvestigation(t *testing.T) {
	investigator := &fakeInvestigator{}
	server, _, _, _ := testServer(investigator, &fakeLister{})

	rec := doJSON(t, server.Router(), http.MethodDelete, "/investigate/task-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"task-1"}, investigator.deleted)
}

func TestListInvestigations(t *testing.T) {
	lister := &fakeLister{tasks: []*models.Task{
		{TaskID: "t2", Status: models.TaskStatusCompleted, Title: "b"},
		{TaskID: "t1", Status: models.TaskStatusCompleted, Title: "a"},
	}}
	server, _, _, _ := testServer(&fakeInvestigator{}, lister)

	rec := doJSON(t, server.Router(), http.MethodGet, "/investigate?status=completed&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TaskStatusCompleted, lister.status)
	assert.Equal(t, 10, lister.limit)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["count"])
}

func TestListInvestigations_BadStatus(t *testing.T) {
	server, _, _, _ := testServer(&fakeInvestigator{}, &fakeLister{})
	rec := doJSON(t, server.Router(), http.MethodGet, "/investigate?status=exploded", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAbort(t *testing.T) {
	server, aborts, approvals, redirects := testServer(&fakeInvestigator{}, &fakeLister{})
	aborts.Register("trace-1")
	pending, err := approvals.Register("trace-1", "call-1")
	require.NoError(t, err)
	redirects.Set("trace-1", "stale instruction")

	rec := doJSON(t, server.Router(), http.MethodPost, "/chat/abort", `{"trace_id":"trace-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// The parked approval was woken with a deny.
	res, err := pending.Await(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, signals.DecisionDeny, res.Decision)

	_, found := redirects.Take("trace-1")
	assert.False(t, found)

	rec = doJSON(t, server.Router(), http.MethodPost, "/chat/abort", `{"trace_id":"unknown"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, server.Router(), http.MethodPost, "/chat/abort", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAbort_InvestigationTableIsSeparate(t *testing.T) {
	// The endpoint's table holds chat trace ids only. A task id registered
	// in the investigation abort table is invisible to it and its token
	// stays untripped.
	server, _, _, _ := testServer(&fakeInvestigator{}, &fakeLister{})
	taskAborts := signals.NewAbortTable()
	taskAborts.Register("task-7")

	rec := doJSON(t, server.Router(), http.MethodPost, "/chat/abort", `{"trace_id":"task-7"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, found := taskAborts.Cancel("task-7")
	assert.True(t, found)
}

func TestToolApproval(t *testing.T) {
	server, _, approvals, _ := testServer(&fakeInvestigator{}, &fakeLister{})
	pending, err := approvals.Register("trace-1", "call-1")
	require.NoError(t, err)

	rec := doJSON(t, server.Router(), http.MethodPost, "/chat/tool-approval",
		`{"trace_id":"trace-1","call_id":"call-1","decision":"approve"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	res, err := pending.Await(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, signals.DecisionApprove, res.Decision)

	// Second reply against the same call: the entry is gone.
	rec = doJSON(t, server.Router(), http.MethodPost, "/chat/tool-approval",
		`{"trace_id":"trace-1","call_id":"call-1","decision":"deny"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolApproval_Redirect(t *testing.T) {
	server, _, approvals, redirects := testServer(&fakeInvestigator{}, &fakeLister{})
	pending, err := approvals.Register("trace-1", "call-9")
	require.NoError(t, err)

	rec := doJSON(t, server.Router(), http.MethodPost, "/chat/tool-approval",
		`{"trace_id":"trace-1","call_id":"call-9","decision":"redirect","message":"only describe, do not delete"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	res, err := pending.Await(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, signals.DecisionRedirect, res.Decision)

	instruction, found := redirects.Take("trace-1")
	require.True(t, found)
	assert.Equal(t, "only describe, do not delete", instruction)
}

func TestToolApproval_Validation(t *testing.T) {
	server, _, _, redirects := testServer(&fakeInvestigator{}, &fakeLister{})

	// Redirect without a message.
	rec := doJSON(t, server.Router(), http.MethodPost, "/chat/tool-approval",
		`{"trace_id":"t","call_id":"c","decision":"redirect"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown decision.
	rec = doJSON(t, server.Router(), http.MethodPost, "/chat/tool-approval",
		`{"trace_id":"t","call_id":"c","decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Redirect against an unknown call leaves no stale instruction behind.
	rec = doJSON(t, server.Router(), http.MethodPost, "/chat/tool-approval",
		`{"trace_id":"t","call_id":"ghost","decision":"redirect","message":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, found := redirects.Take("t")
	assert.False(t, found)
}

func TestHealthWithoutDB(t *testing.T) {
	server, _, _, _ := testServer(&fakeInvestigator{}, &fakeLister{})
	rec := doJSON(t, server.Router(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestFlattenEvent_NonObjectPayload(t *testing.T) {
	frame := flattenEvent(models.Event{
		Sequence: 3,
		TaskID:   "t",
		Kind:     models.EventTitleToken,
		Payload:  json.RawMessage(`"bare string"`),
	})
	assert.Equal(t, models.EventTitleToken, frame["type"])
	assert.Equal(t, json.RawMessage(`"bare string"`), frame["payload"])
}

func TestFlattenEvent_EnvelopeWinsOnCollision(t *testing.T) {
	frame := flattenEvent(models.Event{
		Sequence: 7,
		TaskID:   "t",
		Kind:     models.EventAnalysisStep,
		Payload:  json.RawMessage(`{"sequence":99,"agent":"discovery"}`),
	})
	assert.Equal(t, 7, frame["sequence"])
	assert.Equal(t, "discovery", frame["agent"])
}

// parseSSE splits an SSE body into its JSON data frames.
func parseSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}
