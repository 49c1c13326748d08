package api

import "time"

// Task event types emitted by the execution fleet, one record per
// lifecycle transition of a leaf job.
const (
	TaskSent      = "task-sent"
	TaskReceived  = "task-received"
	TaskStarted   = "task-started"
	TaskSucceeded = "task-succeeded"
	TaskFailed    = "task-failed"
	TaskRejected  = "task-rejected"
	TaskRevoked   = "task-revoked"
	TaskRetried   = "task-retried"
)

// Worker event types. Online and offline bracket a worker's life,
// heartbeats arrive periodically in between.
const (
	WorkerOnline    = "worker-online"
	WorkerHeartbeat = "worker-heartbeat"
	WorkerOffline   = "worker-offline"
)

// TaskEvent is one asynchronous status record for a leaf job. TaskId is
// the job id the task was submitted under.
type TaskEvent struct {
	Type      string  `json:"type"`
	TaskId    string  `json:"taskId"`
	Timestamp float64 `json:"timestamp"`

	Worker  string `json:"worker,omitempty"`
	Retries int    `json:"retries,omitempty"`

	Result  interface{} `json:"result,omitempty"`
	Runtime float64     `json:"runtime,omitempty"`

	Exception string `json:"exception,omitempty"`
	Traceback string `json:"traceback,omitempty"`

	Terminated bool   `json:"terminated,omitempty"`
	Signum     string `json:"signum,omitempty"`
	Expired    bool   `json:"expired,omitempty"`
}

// Time converts the event's unix timestamp to a time.Time.
func (e *TaskEvent) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// WorkerEvent is a heartbeat-style record from one member of the
// execution fleet.
type WorkerEvent struct {
	Type      string   `json:"type"`
	Hostname  string   `json:"hostname"`
	Queues    []string `json:"queues,omitempty"`
	Timestamp float64  `json:"timestamp"`
}

// Time converts the event's unix timestamp to a time.Time.
func (e *WorkerEvent) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// JobUpdate carries the fields of a status event that apply to a job.
// Only non-nil fields are copied onto the job by the reducer.
type JobUpdate struct {
	Status  JobStatus   `json:"status"`
	Worker  string      `json:"worker,omitempty"`
	Retries *int        `json:"retries,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Runtime *float64    `json:"runtime,omitempty"`
	Began   *time.Time  `json:"began,omitempty"`
	Ended   *time.Time  `json:"ended,omitempty"`
	Log     []LogEntry  `json:"log,omitempty"`
	Error   *JobError   `json:"error,omitempty"`
}

// TaskResult is the materialized outcome of a leaf job read back from the
// broker's result store.
type TaskResult struct {
	Status JobStatus   `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Log    []LogEntry  `json:"log,omitempty"`
	Error  *JobError   `json:"error,omitempty"`
}
