package broker

import (
	"time"

	"github.com/jobmesh/jobmesh/pkg/api"
)

// TaskSubmission is the payload handed to the broker for one leaf job.
// The job id doubles as the broker task id so that later status events
// can be correlated back to the job.
type TaskSubmission struct {
	TaskId string                 `json:"taskId"`
	Queue  string                 `json:"queue"`
	Method api.JobMethod          `json:"method"`
	Kwargs map[string]interface{} `json:"kwargs,omitempty"`
}

// Broker is the boundary to the task transport. The production
// implementation is redis backed; tests inject a recording fake.
type Broker interface {
	// Submit sends the task to the named queue, fire and forget.
	Submit(submission *TaskSubmission) error

	// FetchResult reads the materialized result of a finished task from
	// the result store, blocking up to timeout.
	FetchResult(taskId string, timeout time.Duration) (*api.TaskResult, error)

	// Terminate requests that the executing task stop. Cooperative: the
	// task itself honours the signal, nothing is force killed, and the
	// call does not wait for the task to exit.
	Terminate(taskId string, signal string) error
}
