package repository

import (
	"sort"
	"time"

	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
)

// RetentionPolicy bounds the number and age of completed tests kept in history.
// Zero values disable the corresponding limit.
type RetentionPolicy struct {
	MaxCompleted int
	MaxAge       time.Duration
}

func NewRetentionPolicy(config configuration.RetentionConfig) RetentionPolicy {
	return RetentionPolicy{MaxCompleted: config.MaxCompleted, MaxAge: config.MaxAge}
}

// Expired returns the ids of the jobs the policy no longer keeps, oldest first.
func (p RetentionPolicy) Expired(jobs []domain.Job, now time.Time) []string {
	sorted := make([]domain.Job, len(jobs))
	copy(sorted, jobs)
	SortNewestFirst(sorted)

	var expired []string
	for i := len(sorted) - 1; i >= 0; i-- {
		job := sorted[i]
		if (p.MaxCompleted > 0 && i >= p.MaxCompleted) || p.tooOld(job, now) {
			expired = append(expired, job.Id)
		}
	}
	return expired
}

func (p RetentionPolicy) tooOld(job domain.Job, now time.Time) bool {
	if p.MaxAge <= 0 {
		return false
	}
	finished := job.StartTime
	if job.EndTime != nil {
		finished = *job.EndTime
	}
	return now.Sub(finished) > p.MaxAge
}

// SortNewestFirst orders jobs by start time descending, breaking ties by id.
func SortNewestFirst(jobs []domain.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].StartTime.Equal(jobs[j].StartTime) {
			return jobs[i].StartTime.After(jobs[j].StartTime)
		}
		return jobs[i].Id > jobs[j].Id
	})
}
