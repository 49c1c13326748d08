package configuration

import (
	"time"

	"github.com/go-redis/redis"

	"github.com/jobmesh/jobmesh/pkg/api"
)

type JobmeshConfig struct {
	MetricsPort uint16

	Redis redis.UniversalOptions

	// WorkerLivenessWindow is how recent a worker's heartbeat must be for
	// the worker to count as live when selecting queues.
	WorkerLivenessWindow time.Duration

	// DefaultQueue is the fallback used when no queue has a live worker.
	DefaultQueue QueueName

	// StaffOnlyMethods may only be dispatched by staff users.
	StaffOnlyMethods []api.JobMethod

	ResultPolling ResultPollingConfig

	Events EventsConfig
}

type QueueName struct {
	Namespace string
	Name      string
}

type ResultPollingConfig struct {
	// MaxAttempts bounds how many times the reducer polls the broker's
	// result store after a SUCCESS event before giving up.
	MaxAttempts int
	// Interval is the delay between attempts.
	Interval time.Duration
	// FetchTimeout is the per-attempt timeout passed to the broker.
	FetchTimeout time.Duration
}

type EventsConfig struct {
	// Stream is the redis stream the execution fleet appends task and
	// worker events to.
	Stream string
	// BlockTimeout is how long a single read blocks waiting for events.
	BlockTimeout time.Duration
	// BatchSize is the maximum number of records read at once.
	BatchSize int64
}

func (c *JobmeshConfig) StaffOnly(method api.JobMethod) bool {
	for _, m := range c.StaffOnlyMethods {
		if m == method {
			return true
		}
	}
	return false
}
