package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/testweb/testweb/internal/testweb/backend"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
)

const (
	rampBase = 30
	rampStep = 2
	// Polling never reports more than this; 100 is reserved for completion.
	MaxPolledProgress = 90
)

var ErrPollTimeout = errors.New("timed out waiting for test result")

type StatusSource interface {
	GetTestStatus(ctx context.Context, remoteId string) (backend.StatusResponse, error)
}

// Poller repeatedly asks the backend for the status of a remote test until it finishes
// or the attempt budget is spent.
type Poller struct {
	source      StatusSource
	interval    time.Duration
	maxAttempts int
	clock       clock.Clock
}

func New(source StatusSource, config configuration.PollerConfig, clk clock.Clock) *Poller {
	return &Poller{
		source:      source,
		interval:    config.Interval,
		maxAttempts: config.MaxAttempts,
		clock:       clk,
	}
}

// RampProgress is the progress reported for a running test on the given 1-based attempt.
func RampProgress(attempt int) int {
	progress := rampBase + rampStep*attempt
	if progress > MaxPolledProgress {
		return MaxPolledProgress
	}
	return progress
}

// Poll waits one interval before every status request. It returns the remote results once
// the test completes, a *backend.RemoteFailure if the backend reports a failure, ErrPollTimeout
// when the budget runs out and ctx.Err() if ctx is cancelled first.
func (p *Poller) Poll(ctx context.Context, testType domain.TestType, remoteId string, onProgress domain.ProgressFunc) (json.RawMessage, error) {
	logger := log.WithFields(log.Fields{"type": testType, "remoteId": remoteId})

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(p.interval):
		}

		status, err := p.source.GetTestStatus(ctx, remoteId)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WithError(err).Warnf("Status poll %d/%d failed", attempt, p.maxAttempts)
			continue
		}

		switch status.Status {
		case backend.RemoteCompleted:
			return status.Results, nil
		case backend.RemoteFailed, backend.RemoteError:
			return nil, backend.NewRemoteFailure(testType, status.Message)
		case backend.RemotePending, backend.RemoteRunning:
			if onProgress != nil {
				onProgress(RampProgress(attempt), stepLabel(testType, status), status.Metrics)
			}
		default:
			logger.Debugf("Ignoring unknown remote status %q", status.Status)
		}
	}
	return nil, errors.Wrapf(ErrPollTimeout, "%s test after %d attempts", testType, p.maxAttempts)
}

func stepLabel(testType domain.TestType, status backend.StatusResponse) string {
	if status.CurrentStep != "" {
		return status.CurrentStep
	}
	return fmt.Sprintf("Running %s test", testType)
}
