package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrCancelled is the error reported for tests cancelled through the client.
var ErrCancelled = errors.New("test cancelled by user")

// ProgressFunc receives progress reports while a test is running.
type ProgressFunc func(progress int, step string, metrics map[string]interface{})

// Job is the client-side record of one website test.
type Job struct {
	Id          string                 `json:"id"`
	RemoteId    string                 `json:"remoteId,omitempty"`
	Type        TestType               `json:"type"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Status      JobStatus              `json:"status"`
	Progress    int                    `json:"progress"`
	CurrentStep string                 `json:"currentStep,omitempty"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
	StartTime   time.Time              `json:"startTime"`
	EndTime     *time.Time             `json:"endTime,omitempty"`
	Result      json.RawMessage        `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// DeepCopy returns a copy that shares no mutable state with the receiver.
func (j *Job) DeepCopy() Job {
	c := *j
	c.Config = CopyMap(j.Config)
	c.Metrics = CopyMap(j.Metrics)
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return c
}

// Err returns the terminal error of a failed or cancelled job and nil otherwise.
func (j *Job) Err() error {
	switch j.Status {
	case Cancelled:
		return ErrCancelled
	case Failed:
		return errors.New(j.Error)
	}
	return nil
}

func (j *Job) Duration() time.Duration {
	if j.EndTime == nil {
		return 0
	}
	return j.EndTime.Sub(j.StartTime)
}

// CopyMap deep copies decoded JSON values.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return CopyMap(typed)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = copyValue(item)
		}
		return out
	case json.RawMessage:
		return append(json.RawMessage(nil), typed...)
	default:
		return v
	}
}
