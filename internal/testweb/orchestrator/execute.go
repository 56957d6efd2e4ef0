package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/testweb/testweb/internal/common/logging"
	"github.com/testweb/testweb/internal/testweb/backend"
	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testweb/events"
	"github.com/testweb/testweb/internal/testweb/poller"
	"github.com/testweb/testweb/internal/testweb/push"
)

const (
	PreparingProgress = 10
	// Upper bound of the labels replayed before the first status poll.
	simulatedPollStart = 30
	// Running tests never report more than this; 100 means completed.
	maxRunningProgress = 99
)

// execute drives one test through start, wait and finalize. Every failure goes through
// handleTestError.
func (o *Orchestrator) execute(ctx context.Context, rec *jobRecord, descriptor backend.Descriptor) {
	defer o.wg.Done()
	testType := descriptor.Type
	logger := log.WithFields(log.Fields{"testId": rec.handle.ID(), "type": testType})

	started, err := o.backend.StartTest(ctx, testType, o.configOf(rec))
	if err != nil {
		o.handleTestError(rec, errors.Wrapf(err, "failed to start %s test", testType))
		return
	}
	if !o.markRunning(rec, started.RemoteId) {
		return
	}
	logger.WithField("remoteId", started.RemoteId).Debug("Test accepted by backend")

	progress := o.progressFunc(rec)
	var result json.RawMessage
	if started.IsInline() {
		if err := o.simulator.Run(ctx, PreparingProgress, poller.MaxPolledProgress, descriptor.Steps, progress); err != nil {
			o.handleTestError(rec, err)
			return
		}
		result = started.Result
	} else {
		if o.simulateBeforePoll {
			if err := o.simulator.Run(ctx, PreparingProgress, simulatedPollStart, descriptor.Steps, progress); err != nil {
				o.handleTestError(rec, err)
				return
			}
		}
		result, err = o.awaitRemote(ctx, testType, started.RemoteId, progress)
		if err != nil {
			o.handleTestError(rec, err)
			return
		}
	}
	o.completeTest(rec, result)
}

// awaitRemote waits for the remote outcome by polling and, when a watcher is configured,
// by listening on the push channel at the same time. The first outcome wins. A broken
// push channel leaves polling in charge. Pushed progress shares the polling ceiling.
func (o *Orchestrator) awaitRemote(ctx context.Context, testType domain.TestType, remoteId string, progress domain.ProgressFunc) (json.RawMessage, error) {
	if o.watcher == nil {
		return o.poller.Poll(ctx, testType, remoteId, progress)
	}

	type outcome struct {
		result json.RawMessage
		err    error
		push   bool
	}
	ctx, cancel := context.WithCancel(ctx)
	outcomes := make(chan outcome, 2)
	pending := 2
	defer func() {
		cancel()
		for ; pending > 0; pending-- {
			<-outcomes
		}
	}()

	go func() {
		result, err := o.poller.Poll(ctx, testType, remoteId, progress)
		outcomes <- outcome{result: result, err: err}
	}()
	pushed := func(p int, step string, metrics map[string]interface{}) {
		if p > poller.MaxPolledProgress {
			p = poller.MaxPolledProgress
		}
		progress(p, step, metrics)
	}
	go func() {
		result, err := o.watcher.Watch(ctx, testType, remoteId, pushed)
		outcomes <- outcome{result: result, err: err, push: true}
	}()

	for pending > 0 {
		out := <-outcomes
		pending--
		if out.push && errors.Is(out.err, push.ErrConnection) {
			log.WithFields(log.Fields{"type": testType, "remoteId": remoteId}).
				Warnf("Push channel unavailable, relying on polling: %v", out.err)
			continue
		}
		return out.result, out.err
	}
	return nil, ctx.Err()
}

func (o *Orchestrator) configOf(rec *jobRecord) map[string]interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return domain.CopyMap(rec.job.Config)
}

func (o *Orchestrator) progressFunc(rec *jobRecord) domain.ProgressFunc {
	return func(progress int, step string, metrics map[string]interface{}) {
		o.updateProgress(rec, progress, step, metrics)
	}
}

// markRunning records the backend acknowledgement. Returns false if the orchestrator is
// closed or the test was cancelled while the start request was in flight. In the latter
// case the backend is asked to cancel the remote test as well; abandoned tests are left
// alone.
func (o *Orchestrator) markRunning(rec *jobRecord, remoteId string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	if rec.job.Status.IsTerminal() {
		if rec.job.Status == domain.Cancelled && remoteId != "" {
			o.wg.Add(1)
			go o.cancelRemote(rec.job.Id, rec.job.Type, remoteId)
		}
		return false
	}
	rec.job.RemoteId = remoteId
	if err := rec.job.Transition(domain.Running, o.clock.Now()); err != nil {
		log.WithField("testId", rec.job.Id).Error(err)
		return false
	}
	rec.job.Progress = PreparingProgress
	rec.job.CurrentStep = fmt.Sprintf("Preparing %s test", rec.job.Type)
	o.emit(rec, events.Progress, nil)
	return true
}

// updateProgress applies a progress report. Progress never moves backwards and stays
// below 100 until the test completes. Reports that change nothing are dropped.
func (o *Orchestrator) updateProgress(rec *jobRecord, progress int, step string, metrics map[string]interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || rec.job.Status != domain.Running {
		return
	}
	if progress > maxRunningProgress {
		progress = maxRunningProgress
	}
	if progress < rec.job.Progress {
		progress = rec.job.Progress
	}
	if step == "" {
		step = rec.job.CurrentStep
	}
	if progress == rec.job.Progress && step == rec.job.CurrentStep && metrics == nil {
		return
	}
	rec.job.Progress = progress
	rec.job.CurrentStep = step
	if metrics != nil {
		rec.job.Metrics = domain.CopyMap(metrics)
	}
	o.emit(rec, events.Progress, nil)
}

func (o *Orchestrator) completeTest(rec *jobRecord, result json.RawMessage) {
	o.mu.Lock()
	if o.closed || rec.job.Status.IsTerminal() {
		o.mu.Unlock()
		log.WithField("testId", rec.job.Id).Debug("Dropping result of finished test")
		return
	}
	if trimmed := bytes.TrimSpace(result); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		result = json.RawMessage("{}")
	}
	rec.job.Result = append(json.RawMessage(nil), result...)
	rec.job.Progress = 100
	rec.job.CurrentStep = "Completed"
	if err := rec.job.Transition(domain.Completed, o.clock.Now()); err != nil {
		o.mu.Unlock()
		log.WithField("testId", rec.job.Id).Error(err)
		return
	}
	o.finish(rec, events.Completed, nil)
	o.mu.Unlock()

	log.WithFields(log.Fields{"testId": rec.handle.ID(), "type": rec.job.Type}).Info("Test completed")
	o.persist(o.ctx)
}

// handleTestError is the only place a test becomes failed. Errors for tests that have
// already finished are dropped.
func (o *Orchestrator) handleTestError(rec *jobRecord, err error) {
	o.mu.Lock()
	if o.closed || rec.job.Status.IsTerminal() {
		o.mu.Unlock()
		log.WithField("testId", rec.handle.ID()).Debugf("Dropping error of finished test: %v", err)
		return
	}
	rec.job.Error = err.Error()
	if transitionErr := rec.job.Transition(domain.Failed, o.clock.Now()); transitionErr != nil {
		o.mu.Unlock()
		log.WithField("testId", rec.handle.ID()).Error(transitionErr)
		return
	}
	o.finish(rec, events.Failed, err)
	o.mu.Unlock()

	logging.WithStacktrace(log.WithFields(log.Fields{"testId": rec.handle.ID(), "type": rec.job.Type}), err).
		Error("Test failed")
	o.persist(o.ctx)
}

// finish moves a test that just reached a terminal state into the history and queues its
// terminal event. Must be called with o.mu held.
func (o *Orchestrator) finish(rec *jobRecord, eventType events.EventType, err error) {
	delete(o.running, rec.job.Id)
	o.completed[rec.job.Id] = rec.job.DeepCopy()
	o.dirty = true
	o.emit(rec, eventType, err)
	o.metrics.RecordFinished(rec.job.Type, rec.job.Status, rec.job.Duration())
}

func (o *Orchestrator) cancelRemote(id string, testType domain.TestType, remoteId string) {
	defer o.wg.Done()
	logger := log.WithFields(log.Fields{"testId": id, "type": testType, "remoteId": remoteId})
	if err := o.backend.CancelTest(o.ctx, remoteId); err != nil {
		o.metrics.RecordCancelFailure()
		logger.Warnf("Backend did not accept cancellation: %v", err)
		return
	}
	logger.Debug("Backend cancellation sent")
}
