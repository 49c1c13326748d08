package events

import (
	"github.com/jobmesh/jobmesh/pkg/api"
)

// Translate converts a fleet task event into the job update it implies.
// Returns nil for event types that carry no job state transition
// (sent, rejected and retried are informational only).
func Translate(event *api.TaskEvent) *api.JobUpdate {
	switch event.Type {
	case api.TaskReceived:
		retries := event.Retries
		return &api.JobUpdate{
			Status:  api.JobReceived,
			Worker:  event.Worker,
			Retries: &retries,
		}

	case api.TaskStarted:
		began := event.Time()
		return &api.JobUpdate{
			Status: api.JobStarted,
			Worker: event.Worker,
			Began:  &began,
		}

	case api.TaskSucceeded:
		ended := event.Time()
		runtime := event.Runtime
		return &api.JobUpdate{
			Status:  api.JobSuccess,
			Worker:  event.Worker,
			Ended:   &ended,
			Result:  event.Result,
			Runtime: &runtime,
		}

	case api.TaskFailed:
		ended := event.Time()
		return &api.JobUpdate{
			Status: api.JobFailure,
			Worker: event.Worker,
			Ended:  &ended,
			Log: []api.LogEntry{
				{Level: 0, Message: event.Exception, Stack: event.Traceback},
			},
		}

	case api.TaskRevoked:
		// Terminated revocations come from cooperative termination; a
		// bare revoke means the task was pulled before starting.
		ended := event.Time()
		status := api.JobCancelled
		if event.Terminated {
			status = api.JobTerminated
		}
		return &api.JobUpdate{
			Status: status,
			Worker: event.Worker,
			Ended:  &ended,
		}
	}
	return nil
}
