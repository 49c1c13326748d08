package api

import (
	"fmt"
	"time"
)

// Account is the owning account of a project. Tier determines the priority
// index used when selecting a queue.
type Account struct {
	Name string `json:"name"`
	Tier int    `json:"tier"`
}

// Project is the identifying context a job runs within. Absent for
// anonymous or temporary work.
type Project struct {
	Id      int64   `json:"id"`
	Account Account `json:"account"`
}

// User is the creator of a job.
type User struct {
	Id      int64  `json:"id"`
	Name    string `json:"name"`
	IsStaff bool   `json:"isStaff"`
}

// JobError is a worker-reported or orchestration-reported failure.
type JobError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// LogEntry is one line of a job's log as reported by the worker fleet.
type LogEntry struct {
	Level   int    `json:"level"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Job is the central entity of the orchestration core. Jobs form trees:
// compound jobs own their children by id, children hold a weak back
// reference to the parent by id only.
type Job struct {
	Id     string    `json:"id"`
	Key    string    `json:"key"`
	Method JobMethod `json:"method"`

	Status   JobStatus `json:"status"`
	IsActive bool      `json:"isActive"`

	ParentId string   `json:"parentId,omitempty"`
	ChildIds []string `json:"childIds,omitempty"`

	// Queue is the qualified name of the queue a leaf job was submitted
	// to, empty until dispatched.
	Queue string `json:"queue,omitempty"`

	Creator *User    `json:"creator,omitempty"`
	Project *Project `json:"project,omitempty"`

	Params map[string]interface{} `json:"params,omitempty"`

	// Secrets are transient credentials needed to execute the job.
	// They are erased the moment the job becomes inactive and are never
	// persisted once the job has ended.
	Secrets map[string]string `json:"secrets,omitempty"`

	Result  interface{} `json:"result,omitempty"`
	Error   *JobError   `json:"error,omitempty"`
	Log     []LogEntry  `json:"log,omitempty"`
	Runtime float64     `json:"runtime,omitempty"`

	Worker  string     `json:"worker,omitempty"`
	Retries int        `json:"retries,omitempty"`
	Began   *time.Time `json:"began,omitempty"`
	Ended   *time.Time `json:"ended,omitempty"`

	// Callback names a registered callback to run once the job goes
	// from active to inactive. CallbackFired guards at-most-once
	// invocation.
	Callback      string `json:"callback,omitempty"`
	CallbackFired bool   `json:"callbackFired,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// IsCompound reports whether the job aggregates children.
func (job *Job) IsCompound() bool {
	return IsCompound(job.Method)
}

// Queue is a logical task queue identified by a namespace/name pair.
// Smaller priority values are tried first when iterating live queues.
type Queue struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Untrusted bool   `json:"untrusted,omitempty"`
	Interrupt bool   `json:"interrupt,omitempty"`
}

// QualifiedName returns the namespace/name identifier of the queue.
func (q *Queue) QualifiedName() string {
	return fmt.Sprintf("%s/%s", q.Namespace, q.Name)
}

// Worker is a member of the execution fleet, tracked purely from
// heartbeat events. It is never created by the orchestration core itself.
type Worker struct {
	Hostname string     `json:"hostname"`
	Queues   []string   `json:"queues,omitempty"`
	Started  time.Time  `json:"started"`
	Updated  time.Time  `json:"updated"`
	Finished *time.Time `json:"finished,omitempty"`
}

// IsLive reports whether the worker counts as alive at the given time:
// it has not finished and its last heartbeat is within the window.
func (w *Worker) IsLive(now time.Time, window time.Duration) bool {
	return w.Finished == nil && now.Sub(w.Updated) <= window
}
