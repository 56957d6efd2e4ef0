package orchestrator

import (
	"context"
	"sync"

	"github.com/testweb/testweb/internal/testweb/domain"
)

// Handle refers to a test submitted through StartTest.
type Handle struct {
	id   string
	done chan struct{}
	once sync.Once
	job  domain.Job
	err  error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

func (h *Handle) ID() string {
	return h.id
}

// Done is closed once the terminal event of the test has been delivered, or when the
// orchestrator shuts down while the test is still running.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until Done and returns the final state of the test together with its error,
// which is nil only for completed tests.
func (h *Handle) Wait(ctx context.Context) (domain.Job, error) {
	select {
	case <-h.done:
		return h.job.DeepCopy(), h.err
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
}

func (h *Handle) finish(job domain.Job, err error) {
	h.once.Do(func() {
		h.job = job
		h.err = err
		close(h.done)
	})
}
