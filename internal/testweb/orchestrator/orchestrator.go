package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/testweb/testweb/internal/common/util"
	"github.com/testweb/testweb/internal/testweb/backend"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testweb/events"
	"github.com/testweb/testweb/internal/testweb/metrics"
	"github.com/testweb/testweb/internal/testweb/poller"
	"github.com/testweb/testweb/internal/testweb/repository"
	"github.com/testweb/testweb/internal/testweb/simulator"
)

var ErrClosed = errors.New("orchestrator is closed")

// Backend is the part of the Test-Web API the orchestrator drives.
type Backend interface {
	StartTest(ctx context.Context, testType domain.TestType, config map[string]interface{}) (backend.StartResponse, error)
	GetTestStatus(ctx context.Context, remoteId string) (backend.StatusResponse, error)
	CancelTest(ctx context.Context, remoteId string) error
}

// Watcher follows a remote test over a push channel.
type Watcher interface {
	Watch(ctx context.Context, testType domain.TestType, remoteId string, onProgress domain.ProgressFunc) (json.RawMessage, error)
}

type Dependencies struct {
	Backend  Backend
	Registry *backend.Registry
	// Optional; polling alone is used when nil.
	Watcher Watcher
	Store   repository.Store
	// Optional.
	Metrics *metrics.Metrics
	// Defaults to the real clock.
	Clock clock.Clock
}

type jobRecord struct {
	job       domain.Job
	callbacks Callbacks
	handle    *Handle
	cancel    context.CancelFunc
}

// Orchestrator starts website tests on the backend and tracks them to completion.
// Completed tests are kept in a history that survives restarts.
type Orchestrator struct {
	backend            Backend
	registry           *backend.Registry
	watcher            Watcher
	poller             *poller.Poller
	simulator          *simulator.Simulator
	adapter            *repository.Adapter
	retention          repository.RetentionPolicy
	metrics            *metrics.Metrics
	clock              clock.Clock
	simulateBeforePoll bool

	bus        *events.Bus
	dispatcher *dispatcher
	cron       *cron.Cron

	// Cancelled on Close; parent of every job context.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	running   map[string]*jobRecord
	completed map[string]domain.Job
	counter   int64
	dirty     bool
	closed    bool

	// Serializes writes to the store.
	persistMu sync.Mutex
}

// New creates an orchestrator and restores the completed tests held by deps.Store.
func New(ctx context.Context, config configuration.TestWebConfiguration, deps Dependencies) (*Orchestrator, error) {
	if deps.Backend == nil || deps.Store == nil {
		return nil, errors.New("orchestrator requires a backend and a store")
	}
	if deps.Registry == nil {
		deps.Registry = backend.DefaultRegistry()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		backend:            deps.Backend,
		registry:           deps.Registry,
		watcher:            deps.Watcher,
		poller:             poller.New(deps.Backend, config.Poller, deps.Clock),
		simulator:          simulator.New(config.Simulator, deps.Clock),
		adapter:            repository.NewAdapter(deps.Store, config.Persistence.Key),
		retention:          repository.NewRetentionPolicy(config.Retention),
		metrics:            deps.Metrics,
		clock:              deps.Clock,
		simulateBeforePoll: config.Simulator.BeforePoll,
		bus:                events.NewBus(),
		ctx:                rootCtx,
		cancel:             cancel,
		running:            map[string]*jobRecord{},
		completed:          map[string]domain.Job{},
	}

	o.restore(ctx)

	o.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if err := o.schedule(config); err != nil {
		cancel()
		return nil, err
	}
	o.dispatcher = newDispatcher(o.bus)
	o.cron.Start()
	return o, nil
}

// AddListener registers fn for every test event and returns a function removing it again.
func (o *Orchestrator) AddListener(fn events.Listener) func() {
	return o.bus.AddListener(fn)
}

// StartTest submits a test and returns without waiting for the backend. The only errors
// are an unknown test type and a closed orchestrator; everything later is reported
// through callbacks, listeners and the returned Handle.
func (o *Orchestrator) StartTest(testType domain.TestType, config map[string]interface{}, callbacks Callbacks) (*Handle, error) {
	descriptor, err := o.registry.Lookup(testType)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.counter++
	id := fmt.Sprintf("test_%d_%s", o.counter, util.NewULID())
	jobCtx, cancel := context.WithCancel(o.ctx)
	rec := &jobRecord{
		job: domain.Job{
			Id:          id,
			Type:        testType,
			Config:      domain.CopyMap(config),
			CurrentStep: "Queued",
			StartTime:   o.clock.Now(),
		},
		callbacks: callbacks,
		handle:    newHandle(id),
		cancel:    cancel,
	}
	if err := rec.job.Transition(domain.Pending, rec.job.StartTime); err != nil {
		o.mu.Unlock()
		cancel()
		return nil, err
	}
	o.running[id] = rec
	o.dirty = true
	o.emit(rec, events.Started, nil)
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.RecordStarted(testType)
	log.WithFields(log.Fields{"testId": id, "type": testType}).Info("Starting test")

	go o.execute(jobCtx, rec, descriptor)
	return rec.handle, nil
}

// CancelTest marks a pending or running test as cancelled and asks the backend to stop it.
// The local cancellation always takes effect; the backend request is best effort.
// Returns false if the test is unknown or already finished.
func (o *Orchestrator) CancelTest(id string) bool {
	o.mu.Lock()
	rec, ok := o.running[id]
	if !ok || o.closed {
		o.mu.Unlock()
		return false
	}
	rec.job.Error = domain.ErrCancelled.Error()
	if err := rec.job.Transition(domain.Cancelled, o.clock.Now()); err != nil {
		o.mu.Unlock()
		log.WithField("testId", id).Errorf("Failed to cancel test: %v", err)
		return false
	}
	o.finish(rec, events.Cancelled, domain.ErrCancelled)
	if rec.job.RemoteId != "" {
		o.wg.Add(1)
		go o.cancelRemote(id, rec.job.Type, rec.job.RemoteId)
	}
	o.flushInBackground()
	o.mu.Unlock()

	rec.cancel()
	log.WithField("testId", id).Info("Test cancelled")
	return true
}

// GetStatus returns a copy of the test with the given local id.
func (o *Orchestrator) GetStatus(id string) (domain.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rec, ok := o.running[id]; ok {
		return rec.job.DeepCopy(), true
	}
	if job, ok := o.completed[id]; ok {
		return job.DeepCopy(), true
	}
	return domain.Job{}, false
}

// GetHistory returns finished tests, newest first. A limit of zero or less returns all of them.
func (o *Orchestrator) GetHistory(limit int) []domain.Job {
	o.mu.Lock()
	jobs := make([]domain.Job, 0, len(o.completed))
	for _, job := range o.completed {
		jobs = append(jobs, job.DeepCopy())
	}
	o.mu.Unlock()

	repository.SortNewestFirst(jobs)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// GetRunning returns the tests that have not finished yet, newest first.
func (o *Orchestrator) GetRunning() []domain.Job {
	o.mu.Lock()
	jobs := make([]domain.Job, 0, len(o.running))
	for _, rec := range o.running {
		jobs = append(jobs, rec.job.DeepCopy())
	}
	o.mu.Unlock()

	repository.SortNewestFirst(jobs)
	return jobs
}

// CleanupCompletedTests empties the history and returns the number of tests removed.
func (o *Orchestrator) CleanupCompletedTests() int {
	o.mu.Lock()
	removed := len(o.completed)
	o.completed = map[string]domain.Job{}
	o.dirty = true
	if !o.closed {
		o.flushInBackground()
	}
	o.mu.Unlock()

	log.Infof("Removed %d completed tests from history", removed)
	return removed
}

// HealthCheck reports whether the history store is reachable.
func (o *Orchestrator) HealthCheck(ctx context.Context) error {
	return o.adapter.Store().HealthCheck(ctx)
}

// Close stops all background work. Tests still running are abandoned without further
// events; their handles are released with ErrClosed. The history is flushed and the
// store closed.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	abandoned := make([]*jobRecord, 0, len(o.running))
	for _, rec := range o.running {
		abandoned = append(abandoned, rec)
	}
	o.mu.Unlock()

	for _, rec := range abandoned {
		rec.cancel()
	}
	o.cancel()

	var result *multierror.Error
	if err := waitFor(ctx, o.wg.Wait); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "waiting for running tests"))
	}
	if err := waitFor(ctx, func() { <-o.cron.Stop().Done() }); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "stopping maintenance jobs"))
	}
	o.dispatcher.close()

	o.mu.Lock()
	for _, rec := range abandoned {
		rec.handle.finish(rec.job.DeepCopy(), ErrClosed)
	}
	o.mu.Unlock()
	o.metrics.RecordAbandoned(len(abandoned))
	if len(abandoned) > 0 {
		log.Infof("Abandoned %d running tests", len(abandoned))
	}

	if err := o.flush(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := o.adapter.Store().Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "closing store"))
	}
	return result.ErrorOrNil()
}

func waitFor(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emit queues an event for rec. Must be called with o.mu held.
func (o *Orchestrator) emit(rec *jobRecord, eventType events.EventType, err error) {
	item := delivery{
		event: events.Event{
			Type:    eventType,
			Job:     rec.job.DeepCopy(),
			Created: o.clock.Now(),
		},
		callbacks: rec.callbacks,
		err:       err,
	}
	if eventType.IsTerminal() {
		item.handle = rec.handle
	}
	o.dispatcher.enqueue(item)
}
