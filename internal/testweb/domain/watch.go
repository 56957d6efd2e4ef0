package domain

import (
	"fmt"
	"strings"
	"time"
)

type JobInfo struct {
	Status      JobStatus
	Type        TestType
	Progress    int
	CurrentStep string
	LastUpdate  time.Time
	Error       string
}

var statesToIncludeInSummary = []JobStatus{
	Pending,
	Running,
	Completed,
	Failed,
	Cancelled,
}

// WatchContext keeps track of the current state when processing a stream of test updates.
// It is not threadsafe and is expected to only ever be used in a single thread.
type WatchContext struct {
	state        map[string]*JobInfo
	stateSummary map[JobStatus]int
}

func NewWatchContext() *WatchContext {
	return &WatchContext{
		state:        make(map[string]*JobInfo, 10),
		stateSummary: make(map[JobStatus]int, 5),
	}
}

// ProcessUpdate folds a job snapshot into the context. Snapshots for a job that
// already reached a terminal state are ignored.
func (context *WatchContext) ProcessUpdate(job Job) {
	info, exists := context.state[job.Id]
	if !exists {
		info = &JobInfo{Type: job.Type}
		context.state[job.Id] = info
	}
	if info.Status.IsTerminal() {
		return
	}

	previous := info.Status
	info.Status = job.Status
	info.Progress = job.Progress
	info.CurrentStep = job.CurrentStep
	info.Error = job.Error
	info.LastUpdate = time.Now()
	if job.EndTime != nil {
		info.LastUpdate = *job.EndTime
	}
	context.updateStateSummary(previous, info.Status)
}

func (context *WatchContext) updateStateSummary(oldJobStatus JobStatus, newJobStatus JobStatus) {
	if newJobStatus == "" || oldJobStatus == newJobStatus {
		return
	}
	if oldJobStatus != "" {
		context.stateSummary[oldJobStatus]--
	}
	context.stateSummary[newJobStatus]++
}

func (context *WatchContext) GetJobInfo(jobId string) *JobInfo {
	return context.state[jobId]
}

func (context *WatchContext) GetCurrentStateSummary() string {
	parts := make([]string, 0, len(statesToIncludeInSummary))
	for _, state := range statesToIncludeInSummary {
		parts = append(parts, fmt.Sprintf("%s: %3d", state, context.stateSummary[state]))
	}
	return strings.Join(parts, ", ")
}

func (context *WatchContext) GetNumberOfJobsInStates(states ...JobStatus) int {
	numberOfJobs := 0
	for _, state := range states {
		numberOfJobs += context.stateSummary[state]
	}
	return numberOfJobs
}

func (context *WatchContext) GetNumberOfFinishedJobs() int {
	return context.GetNumberOfJobsInStates(Completed, Failed, Cancelled)
}

func (context *WatchContext) GetNumberOfJobs() int {
	numberOfJobs := 0
	for _, num := range context.stateSummary {
		numberOfJobs += num
	}
	return numberOfJobs
}

func (context *WatchContext) AreJobsFinished(ids []string) bool {
	for _, id := range ids {
		info, ok := context.state[id]
		if !ok || !info.Status.IsTerminal() {
			return false
		}
	}
	return true
}
