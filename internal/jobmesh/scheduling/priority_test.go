package scheduling

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jobmesh/jobmesh/pkg/api"
)

func candidates(names ...string) []*api.Queue {
	queues := make([]*api.Queue, 0, len(names))
	for i, name := range names {
		queues = append(queues, &api.Queue{Namespace: "acme", Name: name, Priority: i})
	}
	return queues
}

func TestPriorityIndex(t *testing.T) {
	anonymous := &api.Job{}
	assert.Equal(t, 1, PriorityIndex(anonymous))

	noProject := &api.Job{Creator: &api.User{Id: 1}}
	assert.Equal(t, 1, PriorityIndex(noProject))

	tiered := &api.Job{
		Creator: &api.User{Id: 1},
		Project: &api.Project{Id: 1, Account: api.Account{Tier: 3}},
	}
	assert.Equal(t, 3, PriorityIndex(tiered))
}

func TestSelectQueue(t *testing.T) {
	tests := map[string]struct {
		queues   []*api.Queue
		job      *api.Job
		expected string
	}{
		"anonymous jobs take the first queue": {
			queues:   candidates("gold", "silver", "bronze"),
			job:      &api.Job{},
			expected: "gold",
		},
		"tier indexes into the candidates": {
			queues: candidates("gold", "silver", "bronze"),
			job: &api.Job{
				Creator: &api.User{Id: 1},
				Project: &api.Project{Id: 1, Account: api.Account{Tier: 2}},
			},
			expected: "silver",
		},
		"tier beyond the candidates clamps to the last": {
			queues: candidates("gold", "silver"),
			job: &api.Job{
				Creator: &api.User{Id: 1},
				Project: &api.Project{Id: 1, Account: api.Account{Tier: 7}},
			},
			expected: "silver",
		},
		"zero tier clamps to the first": {
			queues: candidates("gold", "silver"),
			job: &api.Job{
				Creator: &api.User{Id: 1},
				Project: &api.Project{Id: 1, Account: api.Account{Tier: 0}},
			},
			expected: "gold",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			queue := SelectQueue(tc.queues, tc.job)
			assert.Equal(t, tc.expected, queue.Name)
		})
	}
}

func TestSelectQueue_NoCandidates(t *testing.T) {
	assert.Nil(t, SelectQueue(nil, &api.Job{}))
}
