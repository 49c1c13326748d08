package server

import (
	log "github.com/sirupsen/logrus"

	"github.com/jobmesh/jobmesh/internal/jobmesh/broker"
	"github.com/jobmesh/jobmesh/internal/jobmesh/metrics"
	"github.com/jobmesh/jobmesh/internal/jobmesh/scheduling"
	"github.com/jobmesh/jobmesh/pkg/api"
)

// Dispatch submits a leaf job to a queue, or activates the children of a
// compound job. Called once to move a job from not-yet-submitted to
// submitted.
func (o *Orchestrator) Dispatch(job *api.Job) (*api.Job, error) {
	return o.dispatchJob(job.Id)
}

// dispatchJob re-reads the job under its lock; the caller's copy may be
// stale by the time the lock is acquired.
func (o *Orchestrator) dispatchJob(jobId string) (*api.Job, error) {
	unlock := o.locks.lock(jobId)
	defer unlock()

	job, err := o.jobs.GetJob(jobId)
	if err != nil {
		return nil, err
	}
	return o.dispatch(job)
}

// dispatch assumes the caller holds the job's lock.
func (o *Orchestrator) dispatch(job *api.Job) (*api.Job, error) {
	if !api.IsKnownMethod(job.Method) {
		return nil, &ErrUnknownMethod{Method: job.Method}
	}
	if o.config.StaffOnly(job.Method) && (job.Creator == nil || !job.Creator.IsStaff) {
		return nil, &ErrPermissionDenied{Method: job.Method}
	}

	if job.IsCompound() {
		if err := o.dispatchCompound(job); err != nil {
			return nil, err
		}
	} else {
		if err := o.dispatchLeaf(job); err != nil {
			return nil, err
		}
	}

	if err := o.jobs.SaveJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) dispatchCompound(job *api.Job) error {
	children, err := o.jobs.GetChildren(job)
	if err != nil {
		return err
	}

	if len(children) == 0 {
		// Nothing to wait for, e.g. pulling a project with no sources.
		job.Runtime = 0
		job.IsActive = false
		job.Status = api.JobSuccess
		job.Secrets = nil
		o.runCallback(job)
		return nil
	}

	if job.Method == api.MethodParallel {
		// Dispatch all child jobs simultaneously.
		for _, child := range children {
			if _, err := o.dispatchChild(child); err != nil {
				return err
			}
		}
	} else {
		// Dispatch the first child; subsequent children are reserved as
		// WAITING and get dispatched later as the parent is updated.
		for index, child := range children {
			if index == 0 {
				if _, err := o.dispatchChild(child); err != nil {
					return err
				}
			} else if err := o.reserveChild(child); err != nil {
				return err
			}
		}
	}

	job.IsActive = true
	job.Status = api.JobDispatched
	return nil
}

// dispatchChild takes the child's lock below the parent's. Locks descend
// the tree only, see jobLocks.
func (o *Orchestrator) dispatchChild(child *api.Job) (*api.Job, error) {
	return o.dispatchJob(child.Id)
}

// reserveChild marks a sequential child as WAITING, under its lock like
// any other child mutation.
func (o *Orchestrator) reserveChild(child *api.Job) error {
	unlock := o.locks.lock(child.Id)
	defer unlock()

	child, err := o.jobs.GetJob(child.Id)
	if err != nil {
		return err
	}
	child.IsActive = true
	child.Status = api.JobWaiting
	return o.jobs.SaveJob(child)
}

func (o *Orchestrator) dispatchLeaf(job *api.Job) error {
	queues, err := o.workers.GetQueuesWithLiveWorkers(o.clock.Now(), o.config.WorkerLivenessWindow)
	if err != nil {
		return err
	}

	var queue *api.Queue
	if len(queues) == 0 {
		// Keeps jobs moving even with no worker-fleet telemetry, which
		// is also what makes local development work.
		log.Warn("no queues found with live workers, falling back to default queue")
		queue, err = o.queues.GetOrCreateQueue(o.config.DefaultQueue.Namespace, o.config.DefaultQueue.Name)
		if err != nil {
			return err
		}
	} else {
		queue = scheduling.SelectQueue(queues, job)
	}

	// The job's project id, key and secrets ride along as kwargs rather
	// than being folded into params, so secrets never touch the
	// persisted params field.
	kwargs := map[string]interface{}{}
	for k, v := range job.Params {
		kwargs[k] = v
	}
	if job.Project != nil {
		kwargs["project"] = job.Project.Id
	} else {
		kwargs["project"] = nil
	}
	kwargs["key"] = job.Key
	kwargs["secrets"] = job.Secrets

	// The job id doubles as the broker task id so later events can be
	// correlated. Submission failures surface to the caller for retry.
	err = o.broker.Submit(&broker.TaskSubmission{
		TaskId: job.Id,
		Queue:  queue.QualifiedName(),
		Method: job.Method,
		Kwargs: kwargs,
	})
	if err != nil {
		return err
	}

	metrics.JobsDispatched.WithLabelValues(string(job.Method)).Inc()
	log.WithFields(log.Fields{"job": job.Id, "method": job.Method, "queue": queue.QualifiedName()}).
		Debug("job submitted")

	job.Queue = queue.QualifiedName()
	job.IsActive = true
	job.Status = api.JobDispatched
	return nil
}
