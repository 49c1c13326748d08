package server

import (
	log "github.com/sirupsen/logrus"

	"github.com/jobmesh/jobmesh/pkg/api"
)

// terminationSignal is the cooperative stop signal sent to executing
// tasks; the worker flushes logs and state before exiting on it.
const terminationSignal = "SIGUSR1"

// Cancel recursively cancels an active job tree. Inactive jobs are left
// untouched. Cancellation is fire-and-forget with respect to the broker:
// the job's own later TERMINATED event is reconciled by the reducer's
// rank guard.
func (o *Orchestrator) Cancel(job *api.Job) (*api.Job, error) {
	return o.cancelJob(job.Id)
}

// cancelJob re-reads the job under its lock so that a copy loaded before
// a concurrent mutation cannot overwrite what that mutation recorded.
func (o *Orchestrator) cancelJob(jobId string) (*api.Job, error) {
	unlock := o.locks.lock(jobId)
	defer unlock()

	job, err := o.jobs.GetJob(jobId)
	if err != nil {
		return nil, err
	}
	return o.cancel(job)
}

// cancel assumes the caller holds the job's lock.
func (o *Orchestrator) cancel(job *api.Job) (*api.Job, error) {
	if !job.IsActive {
		return job, nil
	}

	if job.IsCompound() {
		children, err := o.jobs.GetChildren(job)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, err := o.cancelChild(child); err != nil {
				return nil, err
			}
		}
	} else {
		if err := o.broker.Terminate(job.Id, terminationSignal); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"job": job.Id, "method": job.Method}).
			Debug("job termination requested")
	}

	job.Status = api.JobCancelled
	job.IsActive = false
	job.Secrets = nil
	o.runCallback(job)

	if err := o.jobs.SaveJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// cancelChild takes the child's lock below the parent's, mirroring
// dispatchChild.
func (o *Orchestrator) cancelChild(child *api.Job) (*api.Job, error) {
	return o.cancelJob(child.Id)
}
