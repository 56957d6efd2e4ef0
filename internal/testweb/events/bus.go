package events

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/testweb/testweb/internal/testweb/domain"
)

type EventType string

const (
	Started   EventType = "started"
	Progress  EventType = "progress"
	Completed EventType = "completed"
	Failed    EventType = "failed"
	Cancelled EventType = "cancelled"
)

func (e EventType) IsTerminal() bool {
	return e == Completed || e == Failed || e == Cancelled
}

// TerminalEventFor maps a terminal job status to the event announcing it.
func TerminalEventFor(status domain.JobStatus) (EventType, bool) {
	switch status {
	case domain.Completed:
		return Completed, true
	case domain.Failed:
		return Failed, true
	case domain.Cancelled:
		return Cancelled, true
	}
	return "", false
}

// Event is a lifecycle notification. Job is a point-in-time copy, never a live reference.
type Event struct {
	Type    EventType  `json:"type"`
	Job     domain.Job `json:"job"`
	Created time.Time  `json:"created"`
}

type Listener func(Event)

type registration struct {
	id       int
	listener Listener
}

// Bus fans events out to registered listeners in registration order.
type Bus struct {
	mu        sync.RWMutex
	listeners []registration
	nextId    int
}

func NewBus() *Bus {
	return &Bus{}
}

// AddListener registers fn and returns a function that removes it again.
func (b *Bus) AddListener(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextId++
	id := b.nextId
	b.listeners = append(b.listeners, registration{id: id, listener: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, r := range b.listeners {
		if r.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Notify calls every listener synchronously. A panicking listener is logged and
// does not prevent the remaining listeners from being called.
func (b *Bus) Notify(event Event) {
	b.mu.RLock()
	listeners := make([]registration, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, r := range listeners {
		e := event
		e.Job = event.Job.DeepCopy()
		callListener(r, e)
	}
}

func callListener(r registration, event Event) {
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(log.Fields{
				"listener": r.id,
				"event":    event.Type,
				"testId":   event.Job.Id,
			}).Errorf("event listener panicked: %v", p)
		}
	}()
	r.listener(event)
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s (%s) %d%% %s", e.Type, e.Job.Id, e.Job.Type, e.Job.Progress, e.Job.CurrentStep)
}
