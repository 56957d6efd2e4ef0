package domain

import (
	"time"

	"github.com/pkg/errors"
)

type JobStatus string

const (
	Pending   JobStatus = "pending"
	Running   JobStatus = "running"
	Completed JobStatus = "completed"
	Failed    JobStatus = "failed"
	Cancelled JobStatus = "cancelled"
)

// Terminal states have no outgoing transitions.
var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	"": {
		Pending: true,
	},
	Pending: {
		Running:   true,
		Failed:    true,
		Cancelled: true,
	},
	Running: {
		Completed: true,
		Failed:    true,
		Cancelled: true,
	},
	Completed: {},
	Failed:    {},
	Cancelled: {},
}

var terminalStates = map[JobStatus]bool{
	Completed: true,
	Failed:    true,
	Cancelled: true,
}

func (s JobStatus) IsTerminal() bool {
	return terminalStates[s]
}

func IsKnownStatus(status JobStatus) bool {
	_, ok := allowedTransitions[status]
	return ok && status != ""
}

func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Transition moves the job to the given status. Entering a terminal status stamps EndTime.
func (j *Job) Transition(to JobStatus, at time.Time) error {
	from := j.Status
	if !CanTransition(from, to) {
		return errors.Errorf("invalid test status transition: %q -> %q (test_id=%s)", from, to, j.Id)
	}
	j.Status = to
	if to.IsTerminal() {
		j.EndTime = &at
	}
	return nil
}
