package jobmesh

import (
	"context"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jobmesh/jobmesh/internal/jobmesh/broker"
	"github.com/jobmesh/jobmesh/internal/jobmesh/configuration"
	"github.com/jobmesh/jobmesh/internal/jobmesh/events"
	"github.com/jobmesh/jobmesh/internal/jobmesh/repository"
	"github.com/jobmesh/jobmesh/internal/jobmesh/server"
)

// Serve wires the orchestration core together and runs its services
// until the context is cancelled: the redis-backed repositories and
// broker, the orchestrator and the event ingester.
func Serve(ctx context.Context, config *configuration.JobmeshConfig) error {
	log.Info("jobmesh orchestrator starting")
	defer log.Info("jobmesh orchestrator shutting down")

	db := redis.NewUniversalClient(&config.Redis)
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("failed to close redis client")
		}
	}()

	queueRepository := repository.NewRedisQueueRepository(db)
	jobRepository := repository.NewRedisJobRepository(db)
	workerRepository := repository.NewRedisWorkerRepository(db, queueRepository)
	taskBroker := broker.NewRedisBroker(db)

	orchestrator := server.NewOrchestrator(
		jobRepository,
		queueRepository,
		workerRepository,
		taskBroker,
		config,
	)

	ingester := events.NewIngester(db, jobRepository, workerRepository, orchestrator, config.Events)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ingester.Run(ctx)
	})

	return g.Wait()
}
