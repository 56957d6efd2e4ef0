package testwebctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/testweb/testweb/internal/testweb/backend"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testweb/orchestrator"
	"github.com/testweb/testweb/internal/testweb/repository"
)

// stubBackend answers every start request with an inline result, except for security
// tests, which fail, and seo tests, which never get an answer. Stress tests are accepted
// after a short delay.
type stubBackend struct{}

func (stubBackend) StartTest(ctx context.Context, testType domain.TestType, _ map[string]interface{}) (backend.StartResponse, error) {
	switch testType {
	case domain.Security:
		return backend.StartResponse{}, errors.New("connection refused")
	case domain.Seo:
		<-ctx.Done()
		return backend.StartResponse{}, ctx.Err()
	case domain.Stress:
		select {
		case <-time.After(30 * time.Millisecond):
		case <-ctx.Done():
			return backend.StartResponse{}, ctx.Err()
		}
	}
	return backend.StartResponse{Result: json.RawMessage(`{"score":92}`)}, nil
}

func (stubBackend) GetTestStatus(context.Context, string) (backend.StatusResponse, error) {
	return backend.StatusResponse{Status: backend.RemoteRunning}, nil
}

func (stubBackend) CancelTest(context.Context, string) error {
	return nil
}

func newTestApp(store repository.Store) (*App, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	app := &App{
		Params: &Params{
			RunnerFactory: func(ctx context.Context, config *configuration.TestWebConfiguration) (TestRunner, error) {
				config.Simulator.StepDuration = time.Millisecond
				config.Poller.Interval = time.Millisecond
				return orchestrator.New(ctx, *config, orchestrator.Dependencies{
					Backend: stubBackend{},
					Store:   store,
				})
			},
		},
		Out: buf,
	}
	return app, buf
}

func seedHistory(t *testing.T, store repository.Store) []domain.Job {
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(-time.Minute)
	failedEnd := now.Add(-2 * time.Minute)
	jobs := []domain.Job{
		{
			Id:        "test_2_b",
			Type:      domain.Performance,
			Status:    domain.Completed,
			Progress:  100,
			StartTime: now.Add(-90 * time.Second),
			EndTime:   &end,
			Result:    json.RawMessage(`{"score":92}`),
		},
		{
			Id:        "test_1_a",
			Type:      domain.Security,
			Status:    domain.Failed,
			Progress:  10,
			StartTime: now.Add(-3 * time.Minute),
			EndTime:   &failedEnd,
			Error:     "security test failed",
		},
	}
	adapter := repository.NewAdapter(store, "testweb:state")
	require.NoError(t, adapter.Save(context.Background(), repository.NewState(jobs, 2)))
	return jobs
}

func TestVersion(t *testing.T) {
	app, buf := newTestApp(repository.NewMemoryStore())

	require.NoError(t, app.Version())

	for _, s := range []string{"Version", "Commit", "Go version", "Built"} {
		assert.Contains(t, buf.String(), s)
	}
}

func TestRun_Completes(t *testing.T) {
	app, buf := newTestApp(repository.NewMemoryStore())

	err := app.Run(context.Background(), RunConfig{Types: []domain.TestType{domain.Ux, domain.Performance}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "| started, test id: test_1_")
	assert.Contains(t, out, "| started, test id: test_2_")
	assert.Contains(t, out, "completed:   2")
	assert.Contains(t, out, `ux test_1_`)
	assert.Contains(t, out, `result: {"score":92}`)
}

func TestRun_TestsFinishingAtDifferentTimes(t *testing.T) {
	app, buf := newTestApp(repository.NewMemoryStore())

	err := app.Run(context.Background(), RunConfig{Types: []domain.TestType{domain.Ux, domain.Stress}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	var results []string
	for _, line := range lines {
		if strings.Contains(line, " result: ") {
			results = append(results, line)
		}
	}
	require.Len(t, results, 2)
	assert.True(t, strings.HasPrefix(results[0], "ux test_1_"), results[0])
	assert.True(t, strings.HasPrefix(results[1], "stress test_2_"), results[1])

	// Each result line directly follows the completed event of its test.
	for i, line := range lines {
		if strings.Contains(line, " result: ") {
			require.Greater(t, i, 0)
			assert.Contains(t, lines[i-1], "| completed, test id: ")
		}
	}
}

func TestRun_FailedTestReturnsError(t *testing.T) {
	app, buf := newTestApp(repository.NewMemoryStore())

	err := app.Run(context.Background(), RunConfig{Types: []domain.TestType{domain.Ux, domain.Security}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 tests did not complete")
	assert.Contains(t, buf.String(), "failed, test id: test_2_")
	assert.Contains(t, buf.String(), "error: failed to start security test: connection refused")
}

func TestRun_ContextCancelsTests(t *testing.T) {
	app, buf := newTestApp(repository.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := app.Run(ctx, RunConfig{Types: []domain.TestType{domain.Seo}})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "cancelled, test id: test_1_")
	assert.Contains(t, buf.String(), "error: test cancelled by user")
}

func TestRun_Raw(t *testing.T) {
	app, buf := newTestApp(repository.NewMemoryStore())

	require.NoError(t, app.Run(context.Background(), RunConfig{Types: []domain.TestType{domain.Ux}, Raw: true}))

	var types []string
	scanner := bufio.NewScanner(strings.NewReader(buf.String()))
	for scanner.Scan() {
		var event struct {
			Type string     `json:"type"`
			Job  domain.Job `json:"job"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event), scanner.Text())
		assert.Equal(t, domain.Ux, event.Job.Type)
		types = append(types, event.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "started", types[0])
	assert.Equal(t, "completed", types[len(types)-1])
}

func TestRun_NoTypes(t *testing.T) {
	app, _ := newTestApp(repository.NewMemoryStore())
	assert.Error(t, app.Run(context.Background(), RunConfig{}))
}

func TestRun_RecordsHistory(t *testing.T) {
	store := repository.NewMemoryStore()
	app, buf := newTestApp(store)
	require.NoError(t, app.Run(context.Background(), RunConfig{Types: []domain.TestType{domain.Ux}}))
	buf.Reset()

	require.NoError(t, app.History(context.Background(), 0, JsonOutput))

	var jobs []domain.Job
	require.NoError(t, json.Unmarshal(buf.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.Completed, jobs[0].Status)
	assert.JSONEq(t, `{"score":92}`, string(jobs[0].Result))
}

func TestHistory_Table(t *testing.T) {
	store := repository.NewMemoryStore()
	seedHistory(t, store)
	app, buf := newTestApp(store)

	require.NoError(t, app.History(context.Background(), 0, TableOutput))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "test_2_b")
	assert.Contains(t, lines[1], "30s")
	assert.Contains(t, lines[2], "security test failed")
}

func TestHistory_Limit(t *testing.T) {
	store := repository.NewMemoryStore()
	seedHistory(t, store)
	app, buf := newTestApp(store)

	require.NoError(t, app.History(context.Background(), 1, JsonOutput))

	var jobs []domain.Job
	require.NoError(t, json.Unmarshal(buf.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "test_2_b", jobs[0].Id)
}

func TestHistory_Yaml(t *testing.T) {
	store := repository.NewMemoryStore()
	seedHistory(t, store)
	app, buf := newTestApp(store)

	require.NoError(t, app.History(context.Background(), 0, YamlOutput))

	var jobs []map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "test_2_b", jobs[0]["id"])
	assert.Equal(t, "failed", jobs[1]["status"])
}

func TestHistory_NegativeLimit(t *testing.T) {
	app, _ := newTestApp(repository.NewMemoryStore())
	assert.Error(t, app.History(context.Background(), -1, TableOutput))
}

func TestStatus(t *testing.T) {
	store := repository.NewMemoryStore()
	seedHistory(t, store)
	app, buf := newTestApp(store)

	require.NoError(t, app.Status(context.Background(), "test_1_a", JsonOutput))
	var jobs []domain.Job
	require.NoError(t, json.Unmarshal(buf.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.Failed, jobs[0].Status)

	err := app.Status(context.Background(), "missing", TableOutput)
	assert.EqualError(t, err, "test missing not found")
}

func TestCleanup(t *testing.T) {
	store := repository.NewMemoryStore()
	seedHistory(t, store)
	app, buf := newTestApp(store)

	require.NoError(t, app.Cleanup(context.Background()))
	assert.Equal(t, "Removed 2 completed tests\n", buf.String())

	buf.Reset()
	require.NoError(t, app.History(context.Background(), 0, JsonOutput))
	assert.Equal(t, "[]\n", buf.String())
}

func TestParseOutputFormat(t *testing.T) {
	for _, valid := range []string{"table", "json", "yaml"} {
		format, err := ParseOutputFormat(valid)
		require.NoError(t, err)
		assert.Equal(t, OutputFormat(valid), format)
	}
	_, err := ParseOutputFormat("xml")
	assert.Error(t, err)
}

func TestConfig_BaseUrlOverride(t *testing.T) {
	app, _ := newTestApp(repository.NewMemoryStore())
	app.Params.BaseUrl = "https://tests.example.com/api"

	config, err := app.Config()
	require.NoError(t, err)
	assert.Equal(t, "https://tests.example.com/api", config.Backend.BaseUrl)
	assert.Equal(t, uint16(8089), config.HttpPort)
}
