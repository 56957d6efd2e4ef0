package poller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/testweb/testweb/internal/testweb/backend"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
)

const interval = 5 * time.Second

type scriptedSource struct {
	mu        sync.Mutex
	responses []backend.StatusResponse
	errs      []error
	calls     int
}

func (s *scriptedSource) GetTestStatus(_ context.Context, remoteId string) (backend.StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return backend.StatusResponse{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return backend.StatusResponse{Status: backend.RemoteRunning}, nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type progressRecorder struct {
	mu       sync.Mutex
	progress []int
	steps    []string
}

func (r *progressRecorder) record(progress int, step string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, progress)
	r.steps = append(r.steps, step)
}

// advance steps the fake clock whenever something is waiting on it, until done is closed.
func advance(fakeClock *clock.FakeClock, step time.Duration, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if fakeClock.HasWaiters() {
			fakeClock.Step(step)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

func runPoll(source StatusSource, maxAttempts int, recorder *progressRecorder) (json.RawMessage, time.Duration, error) {
	fakeClock := clock.NewFakeClock(time.Now())
	start := fakeClock.Now()
	p := New(source, configuration.PollerConfig{Interval: interval, MaxAttempts: maxAttempts}, fakeClock)

	done := make(chan struct{})
	go advance(fakeClock, interval, done)
	result, err := p.Poll(context.Background(), domain.Performance, "abc", recorder.record)
	close(done)
	return result, fakeClock.Since(start), err
}

func TestPoll_CompletesAfterRunning(t *testing.T) {
	source := &scriptedSource{responses: []backend.StatusResponse{
		{Status: backend.RemoteRunning},
		{Status: backend.RemoteRunning, CurrentStep: "Analysing resources"},
		{Status: backend.RemoteCompleted, Results: json.RawMessage(`{"score":92}`)},
	}}
	recorder := &progressRecorder{}

	result, elapsed, err := runPoll(source, 60, recorder)
	require.NoError(t, err)

	assert.JSONEq(t, `{"score":92}`, string(result))
	assert.Equal(t, []int{32, 34}, recorder.progress)
	assert.Equal(t, []string{"Running performance test", "Analysing resources"}, recorder.steps)
	assert.Equal(t, 3*interval, elapsed)
}

func TestPoll_RemoteFailure(t *testing.T) {
	tests := map[string]struct {
		status          backend.StatusResponse
		expectedMessage string
	}{
		"failed with message": {
			status:          backend.StatusResponse{Status: backend.RemoteFailed, Message: "lighthouse crashed"},
			expectedMessage: "lighthouse crashed",
		},
		"error without message": {
			status:          backend.StatusResponse{Status: backend.RemoteError},
			expectedMessage: "performance test failed",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			source := &scriptedSource{responses: []backend.StatusResponse{tc.status}}
			_, _, err := runPoll(source, 60, &progressRecorder{})

			var remoteFailure *backend.RemoteFailure
			require.True(t, errors.As(err, &remoteFailure))
			assert.Equal(t, tc.expectedMessage, err.Error())
		})
	}
}

func TestPoll_BoundedAttempts(t *testing.T) {
	source := &scriptedSource{}
	recorder := &progressRecorder{}

	_, elapsed, err := runPoll(source, 5, recorder)

	assert.True(t, errors.Is(err, ErrPollTimeout))
	assert.Contains(t, err.Error(), "performance")
	assert.Equal(t, 5, source.Calls())
	assert.LessOrEqual(t, elapsed, 5*interval)
	assert.Equal(t, []int{32, 34, 36, 38, 40}, recorder.progress)
}

func TestPoll_TransientErrorsAreRetried(t *testing.T) {
	source := &scriptedSource{
		errs: []error{errors.New("connection refused"), nil},
		responses: []backend.StatusResponse{
			{},
			{Status: backend.RemoteCompleted, Results: json.RawMessage(`{}`)},
		},
	}

	result, _, err := runPoll(source, 3, &progressRecorder{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(result))
	assert.Equal(t, 2, source.Calls())
}

func TestPoll_UnknownStatusIgnored(t *testing.T) {
	source := &scriptedSource{responses: []backend.StatusResponse{
		{Status: "queued"},
		{Status: backend.RemoteCompleted},
	}}
	recorder := &progressRecorder{}

	_, _, err := runPoll(source, 3, recorder)
	require.NoError(t, err)
	assert.Empty(t, recorder.progress)
}

func TestPoll_ContextCancelled(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Now())
	p := New(&scriptedSource{}, configuration.PollerConfig{Interval: interval, MaxAttempts: 60}, fakeClock)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Poll(ctx, domain.Security, "abc", nil)
		errCh <- err
	}()
	assert.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
}

func TestRampProgress(t *testing.T) {
	assert.Equal(t, 32, RampProgress(1))
	assert.Equal(t, 90, RampProgress(30))
	assert.Equal(t, 90, RampProgress(60))
}
