package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"

	"github.com/jobmesh/jobmesh/internal/jobmesh/configuration"
	"github.com/jobmesh/jobmesh/internal/jobmesh/metrics"
	"github.com/jobmesh/jobmesh/internal/jobmesh/repository"
	"github.com/jobmesh/jobmesh/internal/jobmesh/server"
	"github.com/jobmesh/jobmesh/pkg/api"
)

const recordDataKey = "event"

// cursorKeyPrefix + stream holds the id of the last record handled, so
// that a restarted ingester resumes there instead of replaying the
// stream's whole history.
const cursorKeyPrefix = "Ingester:Cursor:"

// Ingester tails the fleet's event stream and turns each record into a
// reducer call (task events) or a worker upsert (worker events). One
// ingester per orchestrator; records for different jobs are independent,
// per-job ordering is enforced by the reducer's rank guard rather than
// by the stream.
type Ingester struct {
	db           redis.UniversalClient
	jobs         repository.JobRepository
	workers      repository.WorkerRepository
	orchestrator *server.Orchestrator
	config       configuration.EventsConfig
}

func NewIngester(
	db redis.UniversalClient,
	jobs repository.JobRepository,
	workers repository.WorkerRepository,
	orchestrator *server.Orchestrator,
	config configuration.EventsConfig,
) *Ingester {
	return &Ingester{
		db:           db,
		jobs:         jobs,
		workers:      workers,
		orchestrator: orchestrator,
		config:       config,
	}
}

// Run consumes the stream until the context is cancelled. Malformed or
// unroutable records are counted and skipped, never fatal.
func (i *Ingester) Run(ctx context.Context) error {
	log.WithField("stream", i.config.Stream).Info("event ingester starting")
	defer log.Info("event ingester stopped")

	lastId := i.loadCursor()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		streams, err := i.db.XRead(&redis.XReadArgs{
			Streams: []string{i.config.Stream, lastId},
			Count:   i.config.BatchSize,
			Block:   i.config.BlockTimeout,
		}).Result()
		if err == redis.Nil {
			continue
		} else if err != nil {
			log.WithError(err).Error("error reading event stream")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastId = message.ID
				i.handleRecord(message.Values)
			}
		}
		i.saveCursor(lastId)
	}
}

func (i *Ingester) cursorKey() string {
	return cursorKeyPrefix + i.config.Stream
}

// loadCursor returns the persisted resume position, or "$" so that a
// first boot only sees records appended from now on.
func (i *Ingester) loadCursor() string {
	id, err := i.db.Get(i.cursorKey()).Result()
	if err == redis.Nil {
		return "$"
	} else if err != nil {
		log.WithError(err).Error("error loading event stream cursor, starting from new records")
		return "$"
	}
	return id
}

func (i *Ingester) saveCursor(id string) {
	if err := i.db.Set(i.cursorKey(), id, 0).Err(); err != nil {
		log.WithError(err).Error("error saving event stream cursor")
	}
}

func (i *Ingester) handleRecord(values map[string]interface{}) {
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	data, ok := values[recordDataKey].(string)
	if !ok {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		log.Warn("event record carries no data field")
		return
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		log.WithError(err).Warn("failed to decode event record")
		return
	}

	if strings.HasPrefix(envelope.Type, "worker-") {
		i.handleWorkerEvent([]byte(data))
	} else {
		i.handleTaskEvent([]byte(data))
	}
}

// handleWorkerEvent upserts the worker; worker events never touch jobs.
func (i *Ingester) handleWorkerEvent(data []byte) {
	event := &api.WorkerEvent{}
	if err := json.Unmarshal(data, event); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		log.WithError(err).Warn("failed to decode worker event")
		return
	}

	if err := i.workers.RecordWorkerEvent(event); err != nil {
		metrics.EventsDropped.WithLabelValues("worker_upsert_failed").Inc()
		log.WithError(err).WithField("worker", event.Hostname).Error("failed to record worker event")
		return
	}
	metrics.EventsProcessed.WithLabelValues(event.Type).Inc()
}

func (i *Ingester) handleTaskEvent(data []byte) {
	event := &api.TaskEvent{}
	if err := json.Unmarshal(data, event); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		log.WithError(err).Warn("failed to decode task event")
		return
	}

	update := Translate(event)
	if update == nil {
		log.WithFields(log.Fields{"type": event.Type, "task": event.TaskId}).
			Debug("ignoring informational task event")
		metrics.EventsProcessed.WithLabelValues(event.Type).Inc()
		return
	}

	job, err := i.jobs.GetJob(event.TaskId)
	if err != nil {
		if _, notFound := err.(*repository.ErrJobNotFound); notFound {
			metrics.EventsDropped.WithLabelValues("unknown_job").Inc()
			log.WithField("task", event.TaskId).Warn("event for unknown job")
		} else {
			metrics.EventsDropped.WithLabelValues("load_failed").Inc()
			log.WithError(err).WithField("task", event.TaskId).Error("failed to load job for event")
		}
		return
	}

	if _, err := i.orchestrator.Update(job, update, false); err != nil {
		metrics.EventsDropped.WithLabelValues("update_failed").Inc()
		log.WithError(err).WithField("job", job.Id).Error("failed to apply event")
		return
	}
	metrics.EventsProcessed.WithLabelValues(event.Type).Inc()
}
