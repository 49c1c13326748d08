package server

import (
	log "github.com/sirupsen/logrus"

	"github.com/jobmesh/jobmesh/pkg/api"
)

// Update merges one asynchronous status event into the job and propagates
// the consequence to its parent. Events for jobs that have already ended
// are dropped unless force is set, which makes the reducer idempotent
// against duplicate and late delivery.
func (o *Orchestrator) Update(job *api.Job, data *api.JobUpdate, force bool) (*api.Job, error) {
	job, changed, err := o.updateJob(job.Id, data, force)
	if err != nil || !changed {
		return job, err
	}

	// Propagate upward with no event data: the parent is re-derived
	// purely from its children's current state. The job's own lock is
	// released by now, so the climb holds one lock at a time.
	if job.ParentId != "" {
		parent, err := o.jobs.GetJob(job.ParentId)
		if err != nil {
			return job, err
		}
		if _, err := o.Update(parent, nil, false); err != nil {
			return job, err
		}
	}
	return job, nil
}

// updateJob loads, mutates and saves the job under its lock. The caller's
// copy is never mutated: it may predate a concurrent cancellation or a
// sibling's propagation, so the authoritative state is re-read inside the
// critical section and the guards below judge against that. Reports
// whether anything changed so that no-op updates do not ripple upward.
func (o *Orchestrator) updateJob(jobId string, data *api.JobUpdate, force bool) (*api.Job, bool, error) {
	unlock := o.locks.lock(jobId)
	defer unlock()

	job, err := o.jobs.GetJob(jobId)
	if err != nil {
		return nil, false, err
	}

	if !job.IsActive && !force {
		return job, false, nil
	}
	wasActive := job.IsActive

	if job.IsCompound() {
		if err := o.reduceCompound(job); err != nil {
			return job, false, err
		}
	} else {
		applied, err := o.reduceLeaf(job, data)
		if err != nil {
			return job, false, err
		}
		if !applied {
			return job, false, nil
		}
	}

	// The job just went inactive: erase its secrets before anything else
	// can observe or persist them, then fire its callback.
	if wasActive && !job.IsActive {
		job.Secrets = nil
		o.runCallback(job)
	}

	if err := o.jobs.SaveJob(job); err != nil {
		return job, false, err
	}
	return job, true, nil
}

// reduceCompound re-derives a compound job from its children in stored
// order, advancing or short-circuiting sequential children on the way.
func (o *Orchestrator) reduceCompound(job *api.Job) error {
	children, err := o.jobs.GetChildren(job)
	if err != nil {
		return err
	}

	status := job.Status
	isActive := false
	allPreviousSucceeded := true
	anyPreviousFailed := false

	for _, child := range children {
		status = api.Highest(status, child.Status)

		if child.Status == api.JobWaiting {
			if allPreviousSucceeded {
				// Every earlier sibling succeeded, the chain advances.
				advanced, err := o.dispatchChild(child)
				if err != nil {
					return err
				}
				child = advanced
			} else if anyPreviousFailed {
				// An earlier sibling failed; never start work whose
				// precondition failed.
				stopped, err := o.cancelChild(child)
				if err != nil {
					return err
				}
				child = stopped
			}
		}

		if child.Status != api.JobSuccess {
			allPreviousSucceeded = false
		}
		if child.Status == api.JobFailure {
			anyPreviousFailed = true
		}

		if child.IsActive {
			isActive = true
		}
	}

	job.IsActive = isActive
	if isActive {
		// The merged rank is only surfaced once the job has ended.
		job.Status = api.JobRunning
	} else {
		job.Status = status
	}
	return nil
}

// reduceLeaf copies the event's fields onto the job. It reports false
// when the event is stale and was discarded.
func (o *Orchestrator) reduceLeaf(job *api.Job, data *api.JobUpdate) (bool, error) {
	if data == nil || data.Status == "" {
		return false, &ErrMissingStatus{JobId: job.Id}
	}
	incoming := data.Status

	// A lower-ranked status can arrive after a more final one, for
	// example a SUCCESS emitted after the TERMINATED caused by
	// cancellation. The status already recorded wins.
	if api.Rank(incoming) < api.Rank(job.Status) {
		log.WithFields(log.Fields{"job": job.Id, "status": incoming, "current": job.Status}).
			Debug("discarding stale status event")
		return false, nil
	}

	job.Status = incoming
	if data.Worker != "" {
		job.Worker = data.Worker
	}
	if data.Retries != nil {
		job.Retries = *data.Retries
	}
	if data.Result != nil {
		job.Result = data.Result
	}
	if data.Runtime != nil {
		job.Runtime = *data.Runtime
	}
	if data.Began != nil {
		job.Began = data.Began
	}
	if data.Ended != nil {
		job.Ended = data.Ended
	}
	if len(data.Log) > 0 {
		job.Log = data.Log
	}
	if data.Error != nil {
		job.Error = data.Error
	}

	if incoming == api.JobSuccess && job.Result == nil {
		o.fetchResult(job)
	} else if incoming == api.JobFailure && job.Error == nil {
		o.fetchError(job)
	}

	if api.HasEnded(job.Status) {
		job.IsActive = false
	}
	return true, nil
}

// fetchResult polls the broker's result store for the materialized result
// of a succeeded job. If every attempt fails the job is downgraded to
// FAILURE rather than left silently succeeded with nothing to show.
func (o *Orchestrator) fetchResult(job *api.Job) {
	polling := o.config.ResultPolling

	// Attempts alone bound the loop, and the backoff only ever sits
	// between two attempts.
	var result *api.TaskResult
	for attempt := 0; result == nil && attempt < polling.MaxAttempts; attempt++ {
		if attempt > 0 {
			o.sleep(polling.Interval)
		}
		var err error
		result, err = o.broker.FetchResult(job.Id, polling.FetchTimeout)
		if err != nil {
			log.WithFields(log.Fields{"job": job.Id, "method": job.Method, "attempt": attempt + 1}).
				WithError(err).Warn("error fetching job result")
		}
	}

	if result != nil {
		job.Result = result.Result
		if len(result.Log) > 0 {
			job.Log = result.Log
		}
	} else {
		log.WithFields(log.Fields{"job": job.Id, "method": job.Method, "attempts": polling.MaxAttempts}).
			Error("unable to fetch job result")
		job.Status = api.JobFailure
		job.Error = &api.JobError{
			Type:    "RuntimeError",
			Message: "unable to retrieve result of job",
		}
	}
}

// fetchError records the worker-reported exception of a failed job.
func (o *Orchestrator) fetchError(job *api.Job) {
	result, err := o.broker.FetchResult(job.Id, o.config.ResultPolling.FetchTimeout)
	if err != nil {
		log.WithFields(log.Fields{"job": job.Id, "method": job.Method}).
			WithError(err).Warn("error fetching job error")
		return
	}
	if result.Error != nil {
		job.Error = result.Error
	}
}
