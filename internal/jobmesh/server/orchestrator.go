package server

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jobmesh/jobmesh/internal/common/util"
	"github.com/jobmesh/jobmesh/internal/jobmesh/broker"
	"github.com/jobmesh/jobmesh/internal/jobmesh/configuration"
	"github.com/jobmesh/jobmesh/internal/jobmesh/repository"
	"github.com/jobmesh/jobmesh/pkg/api"
)

// CallbackFunc runs once a job transitions from active to inactive, after
// its secrets have been cleared, with the finished job as argument.
type CallbackFunc func(job *api.Job)

// Orchestrator turns job trees into dispatch decisions, reduces
// asynchronous status events into job state and cancels active trees.
type Orchestrator struct {
	jobs    repository.JobRepository
	queues  repository.QueueRepository
	workers repository.WorkerRepository
	broker  broker.Broker
	config  *configuration.JobmeshConfig

	clock util.Clock
	// sleep is the delay hook for result polling, replaceable in tests.
	sleep func(time.Duration)

	locks *jobLocks

	callbackMu sync.RWMutex
	callbacks  map[string]CallbackFunc
}

func NewOrchestrator(
	jobs repository.JobRepository,
	queues repository.QueueRepository,
	workers repository.WorkerRepository,
	b broker.Broker,
	config *configuration.JobmeshConfig,
) *Orchestrator {
	return &Orchestrator{
		jobs:      jobs,
		queues:    queues,
		workers:   workers,
		broker:    b,
		config:    config,
		clock:     &util.DefaultClock{},
		sleep:     time.Sleep,
		locks:     newJobLocks(),
		callbacks: map[string]CallbackFunc{},
	}
}

// RegisterCallback makes fn available to jobs under the given name.
func (o *Orchestrator) RegisterCallback(name string, fn CallbackFunc) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()
	o.callbacks[name] = fn
}

// runCallback fires the job's callback if one is named and it has not
// fired before. Secrets must already be cleared by the caller.
func (o *Orchestrator) runCallback(job *api.Job) {
	if job.Callback == "" || job.CallbackFired {
		return
	}
	o.callbackMu.RLock()
	fn := o.callbacks[job.Callback]
	o.callbackMu.RUnlock()
	if fn == nil {
		log.WithFields(log.Fields{"job": job.Id, "callback": job.Callback}).
			Warn("job names an unregistered callback")
	} else {
		fn(job)
	}
	job.CallbackFired = true
}
