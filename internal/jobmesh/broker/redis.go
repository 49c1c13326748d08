package broker

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/jobmesh/jobmesh/pkg/api"
)

const (
	brokerQueuePrefix  = "Broker:Queue:"
	brokerResultPrefix = "Broker:Result:"
	brokerControlKey   = "Broker:Control"
)

// ErrResultNotReady is returned by FetchResult when the result store has
// no entry for the task within the timeout.
var ErrResultNotReady = errors.New("task result not available yet")

// controlMessage is published to the control channel to request
// cooperative termination of a task.
type controlMessage struct {
	TaskId string `json:"taskId"`
	Signal string `json:"signal"`
}

// RedisBroker delivers task submissions through per-queue redis lists,
// reads results from per-task keys and publishes termination requests on
// a control channel the worker fleet subscribes to.
type RedisBroker struct {
	db redis.UniversalClient
}

func NewRedisBroker(db redis.UniversalClient) *RedisBroker {
	return &RedisBroker{db: db}
}

func (b *RedisBroker) Submit(submission *TaskSubmission) error {
	data, err := json.Marshal(submission)
	if err != nil {
		return errors.WithMessagef(err, "error marshalling task %s", submission.TaskId)
	}
	if err := b.db.LPush(brokerQueuePrefix+submission.Queue, data).Err(); err != nil {
		return errors.WithMessagef(err, "error submitting task %s to queue %s",
			submission.TaskId, submission.Queue)
	}
	return nil
}

func (b *RedisBroker) FetchResult(taskId string, timeout time.Duration) (*api.TaskResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		data, err := b.db.Get(brokerResultPrefix + taskId).Bytes()
		if err == nil {
			result := &api.TaskResult{}
			if err := json.Unmarshal(data, result); err != nil {
				return nil, errors.WithMessagef(err, "error unmarshalling result of task %s", taskId)
			}
			return result, nil
		}
		if err != redis.Nil {
			return nil, errors.WithMessagef(err, "error reading result of task %s", taskId)
		}
		if !time.Now().Add(100 * time.Millisecond).Before(deadline) {
			return nil, ErrResultNotReady
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (b *RedisBroker) Terminate(taskId string, signal string) error {
	data, err := json.Marshal(&controlMessage{TaskId: taskId, Signal: signal})
	if err != nil {
		return errors.WithMessagef(err, "error marshalling termination of task %s", taskId)
	}
	if err := b.db.Publish(brokerControlKey, data).Err(); err != nil {
		return errors.WithMessagef(err, "error requesting termination of task %s", taskId)
	}
	return nil
}
