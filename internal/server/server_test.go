package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boardrepo "github.com/claimboard/claimboard/internal/board/repositoryimpl"
	"github.com/claimboard/claimboard/internal/claim"
	"github.com/claimboard/claimboard/internal/config"
	"github.com/claimboard/claimboard/internal/eventbus"
	"github.com/claimboard/claimboard/internal/hook"
	"github.com/claimboard/claimboard/internal/task"
	taskrepo "github.com/claimboard/claimboard/internal/task/repositoryimpl"
	"github.com/claimboard/claimboard/internal/telemetry"
	"github.com/claimboard/claimboard/pkg/storage"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	tasks := taskrepo.NewYAMLRepository(store)
	boards := boardrepo.NewYAMLRepository(store)
	_, err = boards.EnsureDefault(t.Context())
	require.NoError(t, err)

	bus := eventbus.New()
	sink := telemetry.NewBusSink(bus)
	hookDir := t.TempDir()
	hooks := hook.NewOrchestrator(
		hook.NewLoader(filepath.Join(hookDir, "hooks.conf")),
		hook.NewExecutor(hookDir),
		sink,
		5*time.Second,
	)
	coordinator := claim.NewCoordinator(tasks, boards, hooks, sink, time.Hour)
	validator := claim.NewValidator(tasks, boards)

	env := &config.Env{}
	env.APIKey = testAPIKey
	srv := NewServer(env, tasks, boards, coordinator, validator, bus)

	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func createTestTask(t *testing.T, ts *httptest.Server, title string) *task.Task {
	t.Helper()
	resp, body := doRequest(t, ts, http.MethodPost, "/api/tasks", map[string]any{
		"title":     title,
		"column_id": "ready",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created task.Task
	require.NoError(t, json.Unmarshal(body, &created))
	return &created
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	// No API key required.
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_APIKeyRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/tasks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_ClaimFlow(t *testing.T) {
	ts := newTestServer(t)
	created := createTestTask(t, ts, "write docs")

	// Peek without claiming.
	resp, body := doRequest(t, ts, http.MethodGet, "/api/tasks/next?agent=worker", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var next task.Task
	require.NoError(t, json.Unmarshal(body, &next))
	assert.Equal(t, created.ID, next.ID)

	// Claim it.
	resp, body = doRequest(t, ts, http.MethodPost, "/api/claims", map[string]any{
		"agent": map[string]any{"name": "worker"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var claimed task.Task
	require.NoError(t, json.Unmarshal(body, &claimed))
	assert.Equal(t, task.StatusLeased, claimed.Status)
	assert.NotNil(t, claimed.LeaseExpiresAt)

	// Nothing left to claim.
	resp, body = doRequest(t, ts, http.MethodPost, "/api/claims", map[string]any{
		"agent": map[string]any{"name": "worker"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))

	// Validate explains the lease.
	resp, body = doRequest(t, ts, http.MethodGet, "/api/tasks/"+created.ID+"/validate?agent=worker", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report claim.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.False(t, report.Ready)
	assert.Equal(t, claim.CheckLease, report.FailingCheck)

	// Unclaim puts it back.
	resp, body = doRequest(t, ts, http.MethodPost, "/api/tasks/"+created.ID+"/unclaim", map[string]any{
		"reason": "handing off",
		"agent":  map[string]any{"name": "worker"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var released task.Task
	require.NoError(t, json.Unmarshal(body, &released))
	assert.Equal(t, task.StatusOpen, released.Status)

	// Unclaiming an open task is rejected without mutation.
	resp, body = doRequest(t, ts, http.MethodPost, "/api/tasks/"+created.ID+"/unclaim", map[string]any{
		"agent": map[string]any{"name": "worker"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))
}

func TestServer_CompleteFlow(t *testing.T) {
	ts := newTestServer(t)
	created := createTestTask(t, ts, "review changes")

	resp, body := doRequest(t, ts, http.MethodPost, "/api/claims", map[string]any{
		"agent": map[string]any{"name": "worker"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doRequest(t, ts, http.MethodPost, "/api/tasks/"+created.ID+"/complete", map[string]any{
		"agent": map[string]any{"name": "worker"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var done task.Task
	require.NoError(t, json.Unmarshal(body, &done))
	assert.Equal(t, task.StatusDone, done.Status)
}

func TestServer_MoveAndList(t *testing.T) {
	ts := newTestServer(t)
	created := createTestTask(t, ts, "triage")

	resp, body := doRequest(t, ts, http.MethodPost, "/api/tasks/"+created.ID+"/move", map[string]any{
		"column": "doing",
		"agent":  map[string]any{"name": "worker"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doRequest(t, ts, http.MethodGet, "/api/tasks?column=doing", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Tasks []*task.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, created.ID, list.Tasks[0].ID)
}

func TestServer_GetBoard(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doRequest(t, ts, http.MethodGet, "/api/boards/default", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var b struct {
		ID      string `json:"id"`
		Columns []struct {
			ID        string `json:"id"`
			Claimable bool   `json:"claimable"`
		} `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(body, &b))
	assert.Equal(t, "default", b.ID)
	assert.Len(t, b.Columns, 5)
}

func TestServer_CreateTaskValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doRequest(t, ts, http.MethodPost, "/api/tasks", map[string]any{"column_id": "ready"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = doRequest(t, ts, http.MethodPost, "/api/tasks", map[string]any{
		"title":     "x",
		"column_id": "nowhere",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))
}
