package orchestrator

import (
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testweb/events"
)

// Callbacks are optional per-test hooks. They run on the dispatcher goroutine, after the
// listeners of the event that triggered them.
type Callbacks struct {
	OnProgress domain.ProgressFunc
	OnComplete func(result json.RawMessage)
	OnError    func(err error)
}

type delivery struct {
	event     events.Event
	callbacks Callbacks
	err       error
	handle    *Handle
}

// dispatcher delivers events in the order they were queued from a single goroutine.
type dispatcher struct {
	bus     *events.Bus
	lock    sync.Mutex
	queue   []delivery
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newDispatcher(bus *events.Bus) *dispatcher {
	d := &dispatcher{
		bus:     bus,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(item delivery) {
	d.lock.Lock()
	d.queue = append(d.queue, item)
	d.lock.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// close delivers whatever is still queued and waits for the dispatcher goroutine to exit.
func (d *dispatcher) close() {
	d.once.Do(func() { close(d.stop) })
	<-d.stopped
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.lock.Lock()
		batch := d.queue
		d.queue = nil
		d.lock.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, item := range batch {
			d.deliver(item)
		}
	}
}

func (d *dispatcher) deliver(item delivery) {
	d.bus.Notify(item.event)

	job := item.event.Job
	switch item.event.Type {
	case events.Progress:
		if item.callbacks.OnProgress != nil {
			safely(job.Id, "OnProgress", func() {
				item.callbacks.OnProgress(job.Progress, job.CurrentStep, domain.CopyMap(job.Metrics))
			})
		}
	case events.Completed:
		if item.callbacks.OnComplete != nil {
			safely(job.Id, "OnComplete", func() {
				item.callbacks.OnComplete(append(json.RawMessage(nil), job.Result...))
			})
		}
	case events.Failed, events.Cancelled:
		if item.callbacks.OnError != nil {
			safely(job.Id, "OnError", func() { item.callbacks.OnError(item.err) })
		}
	}

	if item.event.Type.IsTerminal() && item.handle != nil {
		item.handle.finish(job, item.err)
	}
}

func safely(testId string, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"testId": testId, "callback": name}).Errorf("Test callback panicked: %v", r)
		}
	}()
	fn()
}
