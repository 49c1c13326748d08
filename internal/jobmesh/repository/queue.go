package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/jobmesh/jobmesh/pkg/api"
)

const queueHashKey = "Queue"

type ErrQueueNotFound struct {
	QueueName string
}

func (err *ErrQueueNotFound) Error() string {
	return fmt.Sprintf("could not find queue %q", err.QueueName)
}

type ErrQueueAlreadyExists struct {
	QueueName string
}

func (err *ErrQueueAlreadyExists) Error() string {
	return fmt.Sprintf("queue %s already exists", err.QueueName)
}

type QueueRepository interface {
	GetAllQueues() ([]*api.Queue, error)
	GetQueue(namespace string, name string) (*api.Queue, error)
	CreateQueue(queue *api.Queue) error
	UpdateQueue(queue *api.Queue) error
	DeleteQueue(namespace string, name string) error
	GetOrCreateQueue(namespace string, name string) (*api.Queue, error)
}

type RedisQueueRepository struct {
	db redis.UniversalClient
}

func NewRedisQueueRepository(db redis.UniversalClient) *RedisQueueRepository {
	return &RedisQueueRepository{db: db}
}

func (r *RedisQueueRepository) GetAllQueues() ([]*api.Queue, error) {
	result, err := r.db.HGetAll(queueHashKey).Result()
	if err != nil {
		return nil, errors.WithMessage(err, "error reading queues")
	}

	queues := make([]*api.Queue, 0, len(result))
	for field, v := range result {
		queue := &api.Queue{}
		if err := json.Unmarshal([]byte(v), queue); err != nil {
			return nil, errors.WithMessagef(err, "error unmarshalling queue %s", field)
		}
		queues = append(queues, queue)
	}
	return queues, nil
}

func (r *RedisQueueRepository) GetQueue(namespace string, name string) (*api.Queue, error) {
	field := namespace + "/" + name
	result, err := r.db.HGet(queueHashKey, field).Result()
	if err == redis.Nil {
		return nil, &ErrQueueNotFound{QueueName: field}
	} else if err != nil {
		return nil, errors.WithMessagef(err, "error reading queue %s", field)
	}

	queue := &api.Queue{}
	if err := json.Unmarshal([]byte(result), queue); err != nil {
		return nil, errors.WithMessagef(err, "error unmarshalling queue %s", field)
	}
	return queue, nil
}

func (r *RedisQueueRepository) CreateQueue(queue *api.Queue) error {
	data, err := json.Marshal(queue)
	if err != nil {
		return errors.WithMessagef(err, "error marshalling queue %s", queue.QualifiedName())
	}

	// HSetNX is a no-op if the queue already exists.
	created, err := r.db.HSetNX(queueHashKey, queue.QualifiedName(), data).Result()
	if err != nil {
		return errors.WithMessagef(err, "error writing queue %s", queue.QualifiedName())
	}
	if !created {
		return &ErrQueueAlreadyExists{QueueName: queue.QualifiedName()}
	}
	return nil
}

func (r *RedisQueueRepository) UpdateQueue(queue *api.Queue) error {
	exists, err := r.db.HExists(queueHashKey, queue.QualifiedName()).Result()
	if err != nil {
		return errors.WithMessagef(err, "error reading queue %s", queue.QualifiedName())
	} else if !exists {
		return &ErrQueueNotFound{QueueName: queue.QualifiedName()}
	}

	data, err := json.Marshal(queue)
	if err != nil {
		return errors.WithMessagef(err, "error marshalling queue %s", queue.QualifiedName())
	}
	if err := r.db.HSet(queueHashKey, queue.QualifiedName(), data).Err(); err != nil {
		return errors.WithMessagef(err, "error writing queue %s", queue.QualifiedName())
	}
	return nil
}

func (r *RedisQueueRepository) DeleteQueue(namespace string, name string) error {
	if err := r.db.HDel(queueHashKey, namespace+"/"+name).Err(); err != nil {
		return errors.WithMessagef(err, "error deleting queue %s/%s", namespace, name)
	}
	return nil
}

// GetOrCreateQueue resolves a queue from a possibly-annotated name of the
// form name[:priority[:untrusted[:interrupt]]], creating it if missing.
func (r *RedisQueueRepository) GetOrCreateQueue(namespace string, name string) (*api.Queue, error) {
	queue, err := ParseQueueName(namespace, name)
	if err != nil {
		return nil, err
	}

	existing, err := r.GetQueue(queue.Namespace, queue.Name)
	if err == nil {
		return existing, nil
	}
	if _, notFound := err.(*ErrQueueNotFound); !notFound {
		return nil, err
	}

	if err := r.CreateQueue(queue); err != nil {
		// Lost a race with a concurrent creator; theirs wins.
		if _, exists := err.(*ErrQueueAlreadyExists); exists {
			return r.GetQueue(queue.Namespace, queue.Name)
		}
		return nil, err
	}
	return queue, nil
}

// ParseQueueName splits the priority and flag suffixes off an annotated
// queue name.
func ParseQueueName(namespace string, name string) (*api.Queue, error) {
	parts := strings.Split(name, ":")
	queue := &api.Queue{Namespace: namespace, Name: parts[0]}
	for _, part := range parts[1:] {
		switch part {
		case "untrusted":
			queue.Untrusted = true
		case "interrupt":
			queue.Interrupt = true
		default:
			priority, err := strconv.Atoi(part)
			if err != nil {
				return nil, errors.Errorf("invalid queue name annotation %q in %q", part, name)
			}
			queue.Priority = priority
		}
	}
	return queue, nil
}
