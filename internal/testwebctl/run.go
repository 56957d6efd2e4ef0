package testwebctl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testweb/events"
	"github.com/testweb/testweb/internal/testweb/orchestrator"
)

type RunConfig struct {
	Types []domain.TestType
	// Sent as the request body of every start request.
	TestConfig map[string]interface{}
	// Print events as JSON instead of summary lines.
	Raw bool
}

// Run starts one test per type and prints their events until all of them finished.
// Cancelling ctx cancels the tests that are still running. An error is returned if any
// test did not complete. All output is written by the event listener.
func (a *App) Run(ctx context.Context, config RunConfig) error {
	if len(config.Types) == 0 {
		return errors.New("no test types given")
	}
	return a.withRunner(ctx, func(runner TestRunner) error {
		watchContext := domain.NewWatchContext()
		removeListener := runner.AddListener(func(event events.Event) {
			watchContext.ProcessUpdate(event.Job)
			if config.Raw {
				a.printRaw(event)
				return
			}
			a.printSummary(watchContext, event)
			if event.Type == events.Completed {
				fmt.Fprintf(a.Out, "%s %s result: %s\n", event.Job.Type, event.Job.Id, event.Job.Result)
			}
		})
		defer removeListener()

		handles := make([]*orchestrator.Handle, 0, len(config.Types))
		for _, testType := range config.Types {
			handle, err := runner.StartTest(testType, config.TestConfig, orchestrator.Callbacks{})
			if err != nil {
				cancelAll(runner, handles)
				return errors.WithMessagef(err, "error starting %s test", testType)
			}
			handles = append(handles, handle)
		}

		failed := 0
		for i, handle := range handles {
			select {
			case <-handle.Done():
			case <-ctx.Done():
				cancelAll(runner, handles[i:])
			}
			if _, err := handle.Wait(context.Background()); err != nil {
				failed++
			}
		}
		if failed > 0 {
			return errors.Errorf("%d of %d tests did not complete", failed, len(handles))
		}
		return nil
	})
}

func cancelAll(runner TestRunner, handles []*orchestrator.Handle) {
	for _, handle := range handles {
		runner.CancelTest(handle.ID())
	}
}

func (a *App) printRaw(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(a.Out, "error encoding event for test %s: %s\n", event.Job.Id, err)
		return
	}
	fmt.Fprintf(a.Out, "%s\n", data)
}

func (a *App) printSummary(watchContext *domain.WatchContext, event events.Event) {
	summary := fmt.Sprintf("%s | ", event.Created.Format(time.Stamp))
	summary += watchContext.GetCurrentStateSummary()
	summary += fmt.Sprintf(" | %s, test id: %s", event.Type, event.Job.Id)

	switch event.Type {
	case events.Progress:
		summary += fmt.Sprintf(" %3d%% %s", event.Job.Progress, event.Job.CurrentStep)
	case events.Failed, events.Cancelled:
		summary += fmt.Sprintf(" error: %s", event.Job.Error)
	}
	fmt.Fprintf(a.Out, "%s\n", summary)
}
