package repository

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/jobmesh/jobmesh/pkg/api"
)

const workerHashKey = "Worker"

// WorkerRepository tracks the execution fleet from heartbeat events.
// Workers are only ever created here, never by the dispatch path.
type WorkerRepository interface {
	RecordWorkerEvent(event *api.WorkerEvent) error
	GetAllWorkers() ([]*api.Worker, error)
	GetQueuesWithLiveWorkers(now time.Time, window time.Duration) ([]*api.Queue, error)
}

type RedisWorkerRepository struct {
	db     redis.UniversalClient
	queues QueueRepository
}

func NewRedisWorkerRepository(db redis.UniversalClient, queues QueueRepository) *RedisWorkerRepository {
	return &RedisWorkerRepository{db: db, queues: queues}
}

// RecordWorkerEvent upserts the worker named by the event. Online events
// create or revive the worker, heartbeats bump its Updated timestamp and
// offline events set Finished.
func (r *RedisWorkerRepository) RecordWorkerEvent(event *api.WorkerEvent) error {
	worker, err := r.getWorker(event.Hostname)
	if err != nil {
		if _, notFound := err.(*ErrWorkerNotFound); !notFound {
			return err
		}
		worker = &api.Worker{
			Hostname: event.Hostname,
			Started:  event.Time(),
		}
	}

	switch event.Type {
	case api.WorkerOnline:
		worker.Finished = nil
		worker.Updated = event.Time()
	case api.WorkerHeartbeat:
		worker.Updated = event.Time()
	case api.WorkerOffline:
		finished := event.Time()
		worker.Finished = &finished
		worker.Updated = finished
	default:
		return errors.Errorf("unknown worker event type %q", event.Type)
	}
	if len(event.Queues) > 0 {
		worker.Queues = event.Queues
	}

	data, err := json.Marshal(worker)
	if err != nil {
		return errors.WithMessagef(err, "error marshalling worker %s", worker.Hostname)
	}
	if err := r.db.HSet(workerHashKey, worker.Hostname, data).Err(); err != nil {
		return errors.WithMessagef(err, "error writing worker %s", worker.Hostname)
	}
	return nil
}

func (r *RedisWorkerRepository) GetAllWorkers() ([]*api.Worker, error) {
	result, err := r.db.HGetAll(workerHashKey).Result()
	if err != nil {
		return nil, errors.WithMessage(err, "error reading workers")
	}

	workers := make([]*api.Worker, 0, len(result))
	for hostname, v := range result {
		worker := &api.Worker{}
		if err := json.Unmarshal([]byte(v), worker); err != nil {
			return nil, errors.WithMessagef(err, "error unmarshalling worker %s", hostname)
		}
		workers = append(workers, worker)
	}
	return workers, nil
}

// GetQueuesWithLiveWorkers returns queues that have at least one live
// worker bound to them, ordered ascending by priority. The liveness check
// happens at call time; nothing is cached between dispatch decisions.
func (r *RedisWorkerRepository) GetQueuesWithLiveWorkers(now time.Time, window time.Duration) ([]*api.Queue, error) {
	workers, err := r.GetAllWorkers()
	if err != nil {
		return nil, err
	}

	liveQueueNames := map[string]bool{}
	for _, worker := range workers {
		if !worker.IsLive(now, window) {
			continue
		}
		for _, queueName := range worker.Queues {
			liveQueueNames[queueName] = true
		}
	}
	if len(liveQueueNames) == 0 {
		return []*api.Queue{}, nil
	}

	queues, err := r.queues.GetAllQueues()
	if err != nil {
		return nil, err
	}

	live := make([]*api.Queue, 0, len(liveQueueNames))
	for _, queue := range queues {
		if liveQueueNames[queue.QualifiedName()] {
			live = append(live, queue)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].Priority < live[j].Priority
	})
	return live, nil
}

type ErrWorkerNotFound struct {
	Hostname string
}

func (err *ErrWorkerNotFound) Error() string {
	return "could not find worker " + err.Hostname
}

func (r *RedisWorkerRepository) getWorker(hostname string) (*api.Worker, error) {
	result, err := r.db.HGet(workerHashKey, hostname).Result()
	if err == redis.Nil {
		return nil, &ErrWorkerNotFound{Hostname: hostname}
	} else if err != nil {
		return nil, errors.WithMessagef(err, "error reading worker %s", hostname)
	}

	worker := &api.Worker{}
	if err := json.Unmarshal([]byte(result), worker); err != nil {
		return nil, errors.WithMessagef(err, "error unmarshalling worker %s", hostname)
	}
	return worker, nil
}
