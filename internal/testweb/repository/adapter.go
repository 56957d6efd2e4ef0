package repository

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/testweb/testweb/internal/common/logging"
	"github.com/testweb/testweb/internal/testweb/domain"
)

// Entry is one completed test as written to the store.
type Entry struct {
	Id  string     `json:"id"`
	Job domain.Job `json:"job"`
}

// State is the durable part of the orchestrator: its completed tests and job counter.
type State struct {
	CompletedJobs []Entry `json:"completedJobs"`
	JobCounter    int64   `json:"jobCounter"`
}

// Jobs returns the restored jobs, keyed entries first.
func (s State) Jobs() []domain.Job {
	jobs := make([]domain.Job, 0, len(s.CompletedJobs))
	for _, entry := range s.CompletedJobs {
		jobs = append(jobs, entry.Job)
	}
	return jobs
}

func NewState(jobs []domain.Job, counter int64) State {
	entries := make([]Entry, 0, len(jobs))
	for _, job := range jobs {
		entries = append(entries, Entry{Id: job.Id, Job: job})
	}
	return State{CompletedJobs: entries, JobCounter: counter}
}

// Adapter serializes orchestrator state into a single record of a Store.
type Adapter struct {
	store Store
	key   string
}

func NewAdapter(store Store, key string) *Adapter {
	return &Adapter{store: store, key: key}
}

func (a *Adapter) Store() Store {
	return a.store
}

// Load reads the stored state. A missing record is not an error.
func (a *Adapter) Load(ctx context.Context) (State, error) {
	data, err := a.store.Get(ctx, a.key)
	if errors.Is(err, ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, errors.Wrapf(err, "error reading state %s", a.key)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, errors.Wrapf(err, "error decoding state %s", a.key)
	}
	return sanitize(state), nil
}

func (a *Adapter) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "error encoding state")
	}
	if err := a.store.Put(ctx, a.key, data); err != nil {
		return errors.Wrapf(err, "error writing state %s", a.key)
	}
	return nil
}

// Restore is Load for callers that cannot act on failure: errors are logged and an empty
// state returned.
func (a *Adapter) Restore(ctx context.Context) State {
	state, err := a.Load(ctx)
	if err != nil {
		logging.WithStacktrace(log.WithField("key", a.key), err).Error("Failed to restore test history, starting empty")
		return State{}
	}
	return state
}

// sanitize drops entries that could not have been written by a healthy client.
func sanitize(state State) State {
	entries := make([]Entry, 0, len(state.CompletedJobs))
	for _, entry := range state.CompletedJobs {
		if entry.Id == "" {
			continue
		}
		if !entry.Job.Status.IsTerminal() {
			log.WithField("testId", entry.Id).Warnf("Skipping stored test in non-terminal state %q", entry.Job.Status)
			continue
		}
		entry.Job.Id = entry.Id
		entries = append(entries, entry)
	}
	if state.JobCounter < 0 {
		state.JobCounter = 0
	}
	state.CompletedJobs = entries
	return state
}
