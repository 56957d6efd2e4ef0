package testwebctl

import (
	"context"

	"github.com/testweb/testweb/internal/testweb"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testweb/events"
	"github.com/testweb/testweb/internal/testweb/orchestrator"
)

// TestRunner is the orchestrator surface used by the command line.
type TestRunner interface {
	StartTest(testType domain.TestType, config map[string]interface{}, callbacks orchestrator.Callbacks) (*orchestrator.Handle, error)
	CancelTest(id string) bool
	GetStatus(id string) (domain.Job, bool)
	GetHistory(limit int) []domain.Job
	CleanupCompletedTests() int
	AddListener(fn events.Listener) func()
	Close(ctx context.Context) error
}

type RunnerFactory func(ctx context.Context, config *configuration.TestWebConfiguration) (TestRunner, error)

// NewOrchestratorRunner builds an in-process orchestrator without metrics.
func NewOrchestratorRunner(ctx context.Context, config *configuration.TestWebConfiguration) (TestRunner, error) {
	o, err := testweb.New(config).NewOrchestrator(ctx, nil)
	if err != nil {
		return nil, err
	}
	return o, nil
}
