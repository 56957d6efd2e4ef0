package orchestrator

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/testweb/testweb/internal/common/logging"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testweb/repository"
)

func (o *Orchestrator) restore(ctx context.Context) {
	state := o.adapter.Restore(ctx)

	o.mu.Lock()
	for _, job := range state.Jobs() {
		o.completed[job.Id] = job
	}
	o.counter = state.JobCounter
	o.mu.Unlock()

	log.Infof("Restored %d completed tests", len(state.CompletedJobs))
	o.applyRetention()
}

// schedule registers the periodic flush and retention jobs.
func (o *Orchestrator) schedule(config configuration.TestWebConfiguration) error {
	if interval := config.Persistence.FlushInterval; interval > 0 {
		spec := fmt.Sprintf("@every %s", interval)
		if _, err := o.cron.AddFunc(spec, o.flushIfDirty); err != nil {
			return errors.Wrapf(err, "invalid flush interval %s", interval)
		}
	}
	if spec := config.Retention.CleanupSchedule; spec != "" {
		if _, err := o.cron.AddFunc(spec, func() {
			if o.applyRetention() > 0 {
				o.flushIfDirty()
			}
		}); err != nil {
			return errors.Wrapf(err, "invalid retention schedule %q", spec)
		}
	}
	return nil
}

// applyRetention drops completed tests outside the retention policy and returns how many.
func (o *Orchestrator) applyRetention() int {
	o.mu.Lock()
	jobs := make([]domain.Job, 0, len(o.completed))
	for _, job := range o.completed {
		jobs = append(jobs, job)
	}
	expired := o.retention.Expired(jobs, o.clock.Now())
	for _, id := range expired {
		delete(o.completed, id)
	}
	if len(expired) > 0 {
		o.dirty = true
	}
	o.mu.Unlock()

	if len(expired) > 0 {
		o.metrics.RecordPruned(len(expired))
		log.Infof("Pruned %d completed tests from history", len(expired))
	}
	return len(expired)
}

// flushIfDirty persists the history if it changed. Once Close has begun it leaves the
// write to Close.
func (o *Orchestrator) flushIfDirty() {
	o.mu.Lock()
	dirty := o.dirty && !o.closed
	o.mu.Unlock()
	if dirty {
		o.persist(o.ctx)
	}
}

// flushInBackground schedules a flush off the caller's goroutine. Must be called with o.mu
// held on an open orchestrator.
func (o *Orchestrator) flushInBackground() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.flushIfDirty()
	}()
}

// persist writes the history and counter, logging failures. The state is captured under
// o.mu but written outside it.
func (o *Orchestrator) persist(ctx context.Context) {
	if err := o.flush(ctx); err != nil {
		o.metrics.RecordPersistFailure()
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("Failed to persist test history")
	}
}

func (o *Orchestrator) flush(ctx context.Context) error {
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	o.mu.Lock()
	jobs := make([]domain.Job, 0, len(o.completed))
	for _, job := range o.completed {
		jobs = append(jobs, job.DeepCopy())
	}
	counter := o.counter
	o.dirty = false
	o.mu.Unlock()

	repository.SortNewestFirst(jobs)
	if err := o.adapter.Save(ctx, repository.NewState(jobs, counter)); err != nil {
		o.mu.Lock()
		o.dirty = true
		o.mu.Unlock()
		return err
	}
	return nil
}
