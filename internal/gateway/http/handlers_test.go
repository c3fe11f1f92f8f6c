package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ember/internal/app"
	"ember/internal/store"
)

func newTestEngine(t *testing.T) http.Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue.sqlite")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	repo := app.New(s)
	return NewRouter(repo, Config{})
}

func doJSON(t *testing.T, engine http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	engine := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestQueueTaskRejectsEmptyPrompt(t *testing.T) {
	engine := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodPost, "/tasks/queue", queueTaskRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueThenGetThenList(t *testing.T) {
	engine := newTestEngine(t)

	rec := doJSON(t, engine, http.MethodPost, "/tasks/queue", queueTaskRequest{Prompt: "say hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created queueTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.TaskID)

	rec = doJSON(t, engine, http.MethodGet, "/tasks/"+created.TaskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "queued", got.Status)

	rec = doJSON(t, engine, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listTasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Tasks, 1)
}

func TestGetUnknownTaskIs404(t *testing.T) {
	engine := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodGet, "/tasks/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaseHeartbeatCompleteLifecycle(t *testing.T) {
	engine := newTestEngine(t)

	rec := doJSON(t, engine, http.MethodPost, "/tasks/queue", queueTaskRequest{Prompt: "say hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created queueTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, engine, http.MethodPost, "/tasks/lease", leaseRequest{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var leased leaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leased))
	require.NotNil(t, leased.Task)
	require.Equal(t, created.TaskID, leased.Task.ID)
	require.Equal(t, 1, leased.AttemptNo)

	rec = doJSON(t, engine, http.MethodPost, "/tasks/"+created.TaskID+"/heartbeat", heartbeatRequest{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/tasks/"+created.TaskID+"/events", appendEventRequest{
		Phase: "execute", Level: "info", Message: "started",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/tasks/"+created.TaskID+"/complete", completeRequest{
		WorkerID:   "w1",
		Succeeded:  true,
		FinalPhase: "report",
		OutputJSON: json.RawMessage(`{"phase_outputs":{"report":{"message_markdown":"done"}}}`),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var completed completeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	require.Equal(t, "done", completed.Status)

	rec = doJSON(t, engine, http.MethodGet, "/tasks/"+created.TaskID+"/attempts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var attempts listAttemptsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attempts))
	require.Len(t, attempts.Attempts, 1)
	require.Equal(t, "done", attempts.Attempts[0].Status)
}

func TestCompleteWithAttemptsRemainingReportsQueuedNotFailed(t *testing.T) {
	engine := newTestEngine(t)

	rec := doJSON(t, engine, http.MethodPost, "/tasks/queue", queueTaskRequest{Prompt: "retry me"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created queueTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, engine, http.MethodPost, "/tasks/lease", leaseRequest{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/tasks/"+created.TaskID+"/complete", completeRequest{
		WorkerID:     "w1",
		Succeeded:    false,
		FinalPhase:   "execute",
		ErrorMessage: "boom",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var completed completeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	require.Equal(t, "queued", completed.Status, "a failed attempt with retries remaining must report the requeued status, not a terminal failure")

	rec = doJSON(t, engine, http.MethodGet, "/tasks/"+created.TaskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "queued", got.Status)
}

func TestLeaseWhenQueueEmptyReturnsNullTask(t *testing.T) {
	engine := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodPost, "/tasks/lease", leaseRequest{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var leased leaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leased))
	require.Nil(t, leased.Task)
}

func TestStateRoundTrip(t *testing.T) {
	engine := newTestEngine(t)

	rec := doJSON(t, engine, http.MethodGet, "/state/idempotency:abc", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/state/idempotency:abc", setStateRequest{Value: json.RawMessage(`{"done":true}`)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/state/idempotency:abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.JSONEq(t, `{"done":true}`, string(got.Value))
}

func TestRunTaskStreamsIntakeEnvelopeFirst(t *testing.T) {
	engine := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req := httptest.NewRequest(http.MethodPost, "/tasks/run", strings.NewReader(`{"prompt":"say hi"}`))
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		engine.ServeHTTP(rec, req)
		close(done)
	}()

	// The task never gets leased or completed in this test, so the stream
	// keeps polling; we only assert on the first line (the intake
	// envelope), which is written synchronously before any polling starts.
	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), `"task accepted"`)
	}, streamPollInterval*3, streamPollInterval/4)

	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var first map[string]any
	line := strings.SplitN(rec.Body.String(), "\n", 2)[0]
	require.NoError(t, json.Unmarshal([]byte(line), &first))
	require.Equal(t, float64(0), first["sequence"])
	require.Equal(t, "event", first["type"])

	cancel()
	<-done
}
