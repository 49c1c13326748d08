package server

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmesh/jobmesh/internal/jobmesh/repository"
	"github.com/jobmesh/jobmesh/pkg/api"
)

func TestDispatch_ParallelFansOut(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		parent, children := f.newTree(t, api.MethodParallel, api.MethodSleep, 3)

		_, err := f.orchestrator.Dispatch(parent)
		require.NoError(t, err)

		assert.Len(t, f.broker.submissions, 3)
		for _, child := range children {
			loaded := f.reload(t, child)
			assert.Equal(t, api.JobDispatched, loaded.Status)
			assert.True(t, loaded.IsActive)
			assert.NotEmpty(t, loaded.Queue)
		}

		loaded := f.reload(t, parent)
		assert.Equal(t, api.JobDispatched, loaded.Status)
		assert.True(t, loaded.IsActive)
		assert.Empty(t, loaded.Queue, "compound jobs are never submitted to the broker")
	})
}

func TestDispatch_SeriesGatesChildren(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		parent, children := f.newTree(t, api.MethodSeries, api.MethodSleep, 2)

		_, err := f.orchestrator.Dispatch(parent)
		require.NoError(t, err)

		require.Len(t, f.broker.submissions, 1)
		assert.Equal(t, children[0].Id, f.broker.submissions[0].TaskId)

		first := f.reload(t, children[0])
		assert.Equal(t, api.JobDispatched, first.Status)
		assert.True(t, first.IsActive)

		second := f.reload(t, children[1])
		assert.Equal(t, api.JobWaiting, second.Status)
		assert.True(t, second.IsActive)
		assert.Empty(t, second.Queue, "reserved children must not be submitted")

		loaded := f.reload(t, parent)
		assert.Equal(t, api.JobDispatched, loaded.Status)
		assert.True(t, loaded.IsActive)
	})
}

func TestDispatch_ChainBehavesLikeSeries(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		parent, children := f.newTree(t, api.MethodChain, api.MethodSleep, 2)

		_, err := f.orchestrator.Dispatch(parent)
		require.NoError(t, err)

		require.Len(t, f.broker.submissions, 1)
		assert.Equal(t, children[0].Id, f.broker.submissions[0].TaskId)
		assert.Equal(t, api.JobWaiting, f.reload(t, children[1]).Status)
	})
}

func TestDispatch_EmptyCompoundIsImmediatelySuccessful(t *testing.T) {
	for _, method := range []api.JobMethod{api.MethodParallel, api.MethodSeries} {
		t.Run(string(method), func(t *testing.T) {
			withOrchestrator(t, func(f *testFixture) {
				job := f.newJob(t, method, nil)

				_, err := f.orchestrator.Dispatch(job)
				require.NoError(t, err)

				loaded := f.reload(t, job)
				assert.Equal(t, api.JobSuccess, loaded.Status)
				assert.False(t, loaded.IsActive)
				assert.Equal(t, float64(0), loaded.Runtime)
				assert.Empty(t, f.broker.submissions)
			})
		})
	}
}

func TestDispatch_FallsBackToDefaultQueue(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		job := f.newJob(t, api.MethodPull, &repository.JobSpec{
			Creator: &api.User{Id: 1},
			Project: &api.Project{Id: 7, Account: api.Account{Tier: 3}},
		})

		_, err := f.orchestrator.Dispatch(job)
		require.NoError(t, err)

		loaded := f.reload(t, job)
		assert.Equal(t, "jobmesh/default", loaded.Queue)
		require.Len(t, f.broker.submissions, 1)
		assert.Equal(t, "jobmesh/default", f.broker.submissions[0].Queue)

		// The fallback queue was created on demand.
		queue, err := f.queues.GetQueue("jobmesh", "default")
		require.NoError(t, err)
		assert.Equal(t, 0, queue.Priority)
	})
}

func TestDispatch_SelectsQueueByAccountTier(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		f.addLiveWorker(t, "worker-0", "gold")
		f.addLiveWorker(t, "worker-1", "silver:1")
		f.addLiveWorker(t, "worker-2", "bronze:2")

		tests := map[string]struct {
			spec     *repository.JobSpec
			expected string
		}{
			"anonymous work goes to the first live queue": {
				spec:     nil,
				expected: "jobmesh/gold",
			},
			"tier selects the matching queue": {
				spec: &repository.JobSpec{
					Creator: &api.User{Id: 1},
					Project: &api.Project{Id: 1, Account: api.Account{Tier: 2}},
				},
				expected: "jobmesh/silver",
			},
			"tier beyond the live queues clamps to the last": {
				spec: &repository.JobSpec{
					Creator: &api.User{Id: 1},
					Project: &api.Project{Id: 1, Account: api.Account{Tier: 9}},
				},
				expected: "jobmesh/bronze",
			},
		}
		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				job := f.newJob(t, api.MethodPull, tc.spec)
				_, err := f.orchestrator.Dispatch(job)
				require.NoError(t, err)
				assert.Equal(t, tc.expected, f.reload(t, job).Queue)
			})
		}
	})
}

func TestDispatch_IgnoresQueuesWithoutLiveWorkers(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		f.addLiveWorker(t, "worker-0", "gold")
		f.addLiveWorker(t, "worker-1", "silver:1")

		// The gold worker's heartbeat ages beyond the liveness window.
		f.clock.T = f.clock.T.Add(20 * time.Minute)
		err := f.workers.RecordWorkerEvent(&api.WorkerEvent{
			Type:      api.WorkerHeartbeat,
			Hostname:  "worker-1",
			Timestamp: float64(f.clock.T.Unix()),
		})
		require.NoError(t, err)

		job := f.newJob(t, api.MethodPull, nil)
		_, err = f.orchestrator.Dispatch(job)
		require.NoError(t, err)

		assert.Equal(t, "jobmesh/silver", f.reload(t, job).Queue)
	})
}

func TestDispatch_SubmissionCarriesProjectKeyAndSecrets(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		job := f.newJob(t, api.MethodPull, &repository.JobSpec{
			Project: &api.Project{Id: 42, Account: api.Account{Tier: 1}},
			Creator: &api.User{Id: 1},
			Params:  map[string]interface{}{"source": "upstream"},
			Secrets: map[string]string{"token": "hunter2"},
		})

		_, err := f.orchestrator.Dispatch(job)
		require.NoError(t, err)

		submission := f.broker.submissionFor(job.Id)
		require.NotNil(t, submission)
		assert.Equal(t, api.MethodPull, submission.Method)
		assert.Equal(t, int64(42), submission.Kwargs["project"])
		assert.Equal(t, job.Key, submission.Kwargs["key"])
		assert.Equal(t, map[string]string{"token": "hunter2"}, submission.Kwargs["secrets"])
		assert.Equal(t, "upstream", submission.Kwargs["source"])
	})
}

func TestDispatch_StaffOnlyMethodRejectsAnonymousCaller(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		job := f.newJob(t, api.MethodSession, nil)

		_, err := f.orchestrator.Dispatch(job)
		require.Error(t, err)
		assert.IsType(t, &ErrPermissionDenied{}, err)

		// The job was not persisted as active.
		loaded := f.reload(t, job)
		assert.False(t, loaded.IsActive)
		assert.Empty(t, f.broker.submissions)
	})
}

func TestDispatch_StaffOnlyMethodAllowsStaff(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		job := f.newJob(t, api.MethodSession, &repository.JobSpec{
			Creator: &api.User{Id: 1, IsStaff: true},
		})

		_, err := f.orchestrator.Dispatch(job)
		require.NoError(t, err)
		assert.True(t, f.reload(t, job).IsActive)
	})
}

func TestDispatch_UnknownMethod(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		job := f.newJob(t, "teleport", nil)

		_, err := f.orchestrator.Dispatch(job)
		require.Error(t, err)
		assert.IsType(t, &ErrUnknownMethod{}, err)
	})
}

func TestDispatch_BrokerFailureSurfacesToCaller(t *testing.T) {
	withOrchestrator(t, func(f *testFixture) {
		f.broker.submitErr = errors.New("connection refused")
		job := f.newJob(t, api.MethodPull, nil)

		_, err := f.orchestrator.Dispatch(job)
		require.Error(t, err)

		// Not persisted as active, so the caller can retry.
		loaded := f.reload(t, job)
		assert.False(t, loaded.IsActive)
		assert.Empty(t, loaded.Queue)
	})
}
