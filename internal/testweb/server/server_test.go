package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testweb/testweb/internal/testweb/backend"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testweb/metrics"
	"github.com/testweb/testweb/internal/testweb/orchestrator"
	"github.com/testweb/testweb/internal/testweb/repository"
)

// stubBackend completes tests whose config asks for it and keeps all others running.
type stubBackend struct{}

func (stubBackend) StartTest(_ context.Context, _ domain.TestType, config map[string]interface{}) (backend.StartResponse, error) {
	if config["inline"] == true {
		return backend.StartResponse{Result: json.RawMessage(`{"score":80}`)}, nil
	}
	return backend.StartResponse{RemoteId: "remote"}, nil
}

func (stubBackend) GetTestStatus(context.Context, string) (backend.StatusResponse, error) {
	return backend.StatusResponse{Status: backend.RemoteRunning}, nil
}

func (stubBackend) CancelTest(context.Context, string) error {
	return nil
}

type brokenStore struct {
	*repository.MemoryStore
}

func (brokenStore) HealthCheck(context.Context) error {
	return errors.New("disk full")
}

func setup(t *testing.T, store repository.Store) (*httptest.Server, *orchestrator.Orchestrator) {
	registry := prometheus.NewRegistry()
	config := configuration.TestWebConfiguration{
		Poller:      configuration.PollerConfig{Interval: 10 * time.Millisecond, MaxAttempts: 1000},
		Simulator:   configuration.SimulatorConfig{StepDuration: time.Millisecond},
		Persistence: configuration.PersistenceConfig{Key: "testweb:state"},
	}
	o, err := orchestrator.New(context.Background(), config, orchestrator.Dependencies{
		Backend: stubBackend{},
		Store:   store,
		Metrics: metrics.New(registry),
	})
	require.NoError(t, err)

	server := httptest.NewServer(NewRouter(o, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	t.Cleanup(func() {
		server.Close()
		_ = o.Close(context.Background())
	})
	return server, o
}

func do(t *testing.T, method, url, body string) (int, string) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.String()
}

func startTest(t *testing.T, server *httptest.Server, testType string, config string) string {
	status, body := do(t, http.MethodPost, server.URL+"/api/tests/"+testType, config)
	require.Equal(t, http.StatusAccepted, status, body)
	var resp startResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.NotEmpty(t, resp.Id)
	return resp.Id
}

func TestStartAndGet(t *testing.T) {
	server, o := setup(t, repository.NewMemoryStore())

	id := startTest(t, server, "performance", `{"url":"https://example.com"}`)

	status, body := do(t, http.MethodGet, server.URL+"/api/tests/"+id, "")
	require.Equal(t, http.StatusOK, status)
	var job domain.Job
	require.NoError(t, json.Unmarshal([]byte(body), &job))
	assert.Equal(t, id, job.Id)
	assert.Equal(t, domain.Performance, job.Type)
	assert.Equal(t, "https://example.com", job.Config["url"])

	running := o.GetRunning()
	require.Len(t, running, 1)
	assert.Equal(t, id, running[0].Id)
}

func TestStart_BadRequests(t *testing.T) {
	server, _ := setup(t, repository.NewMemoryStore())

	status, _ := do(t, http.MethodPost, server.URL+"/api/tests/chaos", `{}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, body := do(t, http.MethodPost, server.URL+"/api/tests/seo", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "invalid test config")
}

func TestGet_NotFound(t *testing.T) {
	server, _ := setup(t, repository.NewMemoryStore())

	status, body := do(t, http.MethodGet, server.URL+"/api/tests/test_1_missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "not found")
}

func TestCancel(t *testing.T) {
	server, o := setup(t, repository.NewMemoryStore())
	id := startTest(t, server, "stress", "")

	status, _ := do(t, http.MethodDelete, server.URL+"/api/tests/"+id, "")
	assert.Equal(t, http.StatusNoContent, status)

	job, ok := o.GetStatus(id)
	require.True(t, ok)
	assert.Equal(t, domain.Cancelled, job.Status)

	status, _ = do(t, http.MethodDelete, server.URL+"/api/tests/"+id, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListAndCleanup(t *testing.T) {
	server, o := setup(t, repository.NewMemoryStore())

	completedId := startTest(t, server, "seo", `{"inline":true}`)
	require.Eventually(t, func() bool {
		job, _ := o.GetStatus(completedId)
		return job.Status == domain.Completed
	}, 5*time.Second, 5*time.Millisecond)
	runningId := startTest(t, server, "api", "")

	var jobs []domain.Job
	status, body := do(t, http.MethodGet, server.URL+"/api/tests?running=true", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal([]byte(body), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, runningId, jobs[0].Id)

	status, body = do(t, http.MethodGet, server.URL+"/api/tests?limit=5", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal([]byte(body), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, completedId, jobs[0].Id)
	assert.JSONEq(t, `{"score":80}`, string(jobs[0].Result))

	status, _ = do(t, http.MethodGet, server.URL+"/api/tests?limit=many", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPost, server.URL+"/api/tests/cleanup", "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, o.GetHistory(0))
}

func TestHealthAndMetrics(t *testing.T) {
	server, _ := setup(t, repository.NewMemoryStore())

	status, _ := do(t, http.MethodGet, server.URL+"/health", "")
	assert.Equal(t, http.StatusNoContent, status)

	startTest(t, server, "ux", "")
	status, body := do(t, http.MethodGet, server.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `testweb_tests_started_total{type="ux"} 1`)
}

func TestHealth_Unhealthy(t *testing.T) {
	server, _ := setup(t, brokenStore{repository.NewMemoryStore()})

	status, body := do(t, http.MethodGet, server.URL+"/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "disk full", body)
}
