package testwebctl

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/testweb/testweb/internal/testweb/domain"
)

// Status prints one test from the history.
func (a *App) Status(ctx context.Context, id string, format OutputFormat) error {
	return a.withRunner(ctx, func(runner TestRunner) error {
		job, ok := runner.GetStatus(id)
		if !ok {
			return errors.Errorf("test %s not found", id)
		}
		return a.printJobs([]domain.Job{job}, format)
	})
}

// History prints the most recent finished tests, newest first. A limit of zero prints all.
func (a *App) History(ctx context.Context, limit int, format OutputFormat) error {
	if limit < 0 {
		return errors.Errorf("limit must not be negative, got %d", limit)
	}
	return a.withRunner(ctx, func(runner TestRunner) error {
		return a.printJobs(runner.GetHistory(limit), format)
	})
}

// Cleanup empties the history.
func (a *App) Cleanup(ctx context.Context) error {
	return a.withRunner(ctx, func(runner TestRunner) error {
		removed := runner.CleanupCompletedTests()
		fmt.Fprintf(a.Out, "Removed %d completed tests\n", removed)
		return nil
	})
}
