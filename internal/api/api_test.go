package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"anvil/internal/contextstore"
	"anvil/internal/display"
	"anvil/internal/queue"
	"anvil/internal/sandbox"
	"anvil/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server  *Server
	jobsDir string
	queue   *queue.Queue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jobsDir := t.TempDir()

	store, err := contextstore.New(t.TempDir(), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	agent := sandbox.NewAgent(store, display.NewLease(), 10*time.Second)

	q, err := queue.New(queue.Options{
		JobsDir:    jobsDir,
		Workers:    2,
		QueueLimit: 16,
		JobTimeout: 30 * time.Second,
	}, agent, nil, nil)
	require.NoError(t, err)
	q.Start()
	t.Cleanup(q.Close)

	packager := storage.NewPackager(jobsDir)
	srv := NewServer(q, packager, store, nil, nil)

	return &testEnv{server: srv, jobsDir: jobsDir, queue: q}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) schedule(t *testing.T, task string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"task": task})
	w := e.do(t, http.MethodPost, "/schedule", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	assert.Equal(t, "pending", resp.Status)
	return resp.JobID
}

func (e *testEnv) pollUntil(t *testing.T, jobID, state string) map[string]any {
	t.Helper()

	var last map[string]any
	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodGet, "/status/"+jobID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		last = map[string]any{}
		if err := json.Unmarshal(w.Body.Bytes(), &last); err != nil {
			return false
		}
		return last["state"] == state
	}, 10*time.Second, 20*time.Millisecond, "job %s never reached %s (last: %v)", jobID, state, last)
	return last
}

func TestRootBanner(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "running")
}

func TestScheduleRejectsEmptyTask(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(map[string]string{"task": ""})
	w := env.do(t, http.MethodPost, "/schedule", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "job_id")
}

func TestStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/status/unknown-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScheduleAndDownloadRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	jobID := env.schedule(t, "create file a.txt with content X")
	status := env.pollUntil(t, jobID, "completed")

	// Completed jobs resolve to a download reference.
	require.Equal(t, "/download/"+jobID, status["output_url"])
	assert.Nil(t, status["error"])

	// The artifact landed in the job's private output dir.
	data, err := os.ReadFile(filepath.Join(env.jobsDir, jobID, "output", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "X", string(data))

	w := env.do(t, http.MethodGet, "/download/"+jobID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())
}

func TestDownloadBeforeCompletion(t *testing.T) {
	env := newTestEnv(t)

	// Workers will fail this task; download must refuse either way.
	jobID := env.schedule(t, "run: exit 7")
	env.pollUntil(t, jobID, "failed")

	w := env.do(t, http.MethodGet, "/download/"+jobID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFailedTaskSurfacesError(t *testing.T) {
	env := newTestEnv(t)

	jobID := env.schedule(t, "run: exit 3")
	status := env.pollUntil(t, jobID, "failed")

	errMsg, ok := status["error"].(string)
	require.True(t, ok, "failed job must carry an error: %v", status)
	assert.NotEmpty(t, errMsg)
	assert.Nil(t, status["output_url"])

	// A failing job leaves other jobs unaffected.
	okID := env.schedule(t, "create file ok.txt with content fine")
	env.pollUntil(t, okID, "completed")
}

func TestListJobsAndStats(t *testing.T) {
	env := newTestEnv(t)

	jobID := env.schedule(t, "create file x.txt with content 1")
	env.pollUntil(t, jobID, "completed")

	w := env.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), jobID)

	w = env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Jobs map[string]int `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Jobs["completed"])
}

func TestContextEndpointReturnsRecentEntries(t *testing.T) {
	env := newTestEnv(t)

	jobID := env.schedule(t, "create file c.txt with content ctx")
	env.pollUntil(t, jobID, "completed")

	w := env.do(t, http.MethodGet, "/context?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "New task:")
}
