package server

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/require"

	"github.com/jobmesh/jobmesh/internal/common/util"
	"github.com/jobmesh/jobmesh/internal/jobmesh/broker"
	"github.com/jobmesh/jobmesh/internal/jobmesh/configuration"
	"github.com/jobmesh/jobmesh/internal/jobmesh/repository"
	"github.com/jobmesh/jobmesh/pkg/api"
)

type fakeBroker struct {
	mu           sync.Mutex
	submissions  []*broker.TaskSubmission
	terminations []string
	results      map[string]*api.TaskResult
	submitErr    error
	fetchErr     error
	fetchNil     bool
	fetchCalls   int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{results: map[string]*api.TaskResult{}}
}

func (b *fakeBroker) Submit(submission *broker.TaskSubmission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return b.submitErr
	}
	b.submissions = append(b.submissions, submission)
	return nil
}

func (b *fakeBroker) FetchResult(taskId string, timeout time.Duration) (*api.TaskResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchCalls++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if b.fetchNil {
		return nil, nil
	}
	if result, ok := b.results[taskId]; ok {
		return result, nil
	}
	return nil, broker.ErrResultNotReady
}

func (b *fakeBroker) Terminate(taskId string, signal string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminations = append(b.terminations, taskId)
	return nil
}

func (b *fakeBroker) submittedIds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.submissions))
	for _, s := range b.submissions {
		ids = append(ids, s.TaskId)
	}
	return ids
}

func (b *fakeBroker) submissionFor(taskId string) *broker.TaskSubmission {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.submissions {
		if s.TaskId == taskId {
			return s
		}
	}
	return nil
}

type testFixture struct {
	orchestrator *Orchestrator
	broker       *fakeBroker
	jobs         repository.JobRepository
	queues       repository.QueueRepository
	workers      *repository.RedisWorkerRepository
	clock        *util.DummyClock
	sleeps       *int
}

func testConfig() *configuration.JobmeshConfig {
	return &configuration.JobmeshConfig{
		WorkerLivenessWindow: 15 * time.Minute,
		DefaultQueue:         configuration.QueueName{Namespace: "jobmesh", Name: "default"},
		StaffOnlyMethods:     []api.JobMethod{api.MethodSession},
		ResultPolling: configuration.ResultPollingConfig{
			MaxAttempts:  5,
			Interval:     time.Second,
			FetchTimeout: 30 * time.Second,
		},
	}
}

func withOrchestrator(t *testing.T, action func(f *testFixture)) {
	t.Helper()
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	queues := repository.NewRedisQueueRepository(client)
	jobs := repository.NewRedisJobRepository(client)
	workers := repository.NewRedisWorkerRepository(client, queues)
	fake := newFakeBroker()

	orchestrator := NewOrchestrator(jobs, queues, workers, fake, testConfig())

	// Pin time and make result-poll backoff instantaneous.
	clock := &util.DummyClock{T: time.Now()}
	orchestrator.clock = clock
	sleeps := 0
	orchestrator.sleep = func(time.Duration) { sleeps++ }

	action(&testFixture{
		orchestrator: orchestrator,
		broker:       fake,
		jobs:         jobs,
		queues:       queues,
		workers:      workers,
		clock:        clock,
		sleeps:       &sleeps,
	})
}

func (f *testFixture) newJob(t *testing.T, method api.JobMethod, spec *repository.JobSpec) *api.Job {
	t.Helper()
	if spec == nil {
		spec = &repository.JobSpec{}
	}
	spec.Method = method
	job := f.jobs.CreateJob(spec)
	require.NoError(t, f.jobs.SaveJob(job))
	return job
}

// newTree creates a compound job owning n leaf children of the given
// method, persisted but not dispatched.
func (f *testFixture) newTree(t *testing.T, method api.JobMethod, leafMethod api.JobMethod, n int) (*api.Job, []*api.Job) {
	t.Helper()
	parent := f.jobs.CreateJob(&repository.JobSpec{Method: method})
	children := make([]*api.Job, 0, n)
	for i := 0; i < n; i++ {
		child := f.jobs.CreateJob(&repository.JobSpec{Method: leafMethod, ParentId: parent.Id})
		require.NoError(t, f.jobs.SaveJob(child))
		parent.ChildIds = append(parent.ChildIds, child.Id)
		children = append(children, child)
	}
	require.NoError(t, f.jobs.SaveJob(parent))
	return parent, children
}

func (f *testFixture) reload(t *testing.T, job *api.Job) *api.Job {
	t.Helper()
	loaded, err := f.jobs.GetJob(job.Id)
	require.NoError(t, err)
	return loaded
}

// addLiveWorker binds a live worker to the named queues, creating the
// queues as needed.
func (f *testFixture) addLiveWorker(t *testing.T, hostname string, queueNames ...string) {
	t.Helper()
	qualified := make([]string, 0, len(queueNames))
	for _, name := range queueNames {
		queue, err := f.queues.GetOrCreateQueue("jobmesh", name)
		require.NoError(t, err)
		qualified = append(qualified, queue.QualifiedName())
	}
	err := f.workers.RecordWorkerEvent(&api.WorkerEvent{
		Type:      api.WorkerOnline,
		Hostname:  hostname,
		Queues:    qualified,
		Timestamp: float64(f.clock.T.Unix()),
	})
	require.NoError(t, err)
}
