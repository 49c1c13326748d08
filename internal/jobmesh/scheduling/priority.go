package scheduling

import (
	"github.com/jobmesh/jobmesh/pkg/api"
)

// anonymousPriorityIndex is the tier index used for jobs with no creator
// or no project.
const anonymousPriorityIndex = 1

// PriorityIndex returns the one-based index into the live-queue candidate
// list for the job. Anonymous or projectless work goes to the highest
// priority tier; everything else is placed by the account tier of the
// job's project.
func PriorityIndex(job *api.Job) int {
	if job.Creator == nil || job.Project == nil {
		return anonymousPriorityIndex
	}
	return job.Project.Account.Tier
}

// SelectQueue picks the queue for a leaf job from the candidate list,
// which must be ordered ascending by priority. The index is clamped to
// the last candidate so that every tier is served by some live queue even
// when dedicated higher tier queues currently have no workers.
func SelectQueue(candidates []*api.Queue, job *api.Job) *api.Queue {
	if len(candidates) == 0 {
		return nil
	}
	index := PriorityIndex(job)
	if index > len(candidates) {
		index = len(candidates)
	}
	if index < 1 {
		index = 1
	}
	return candidates[index-1]
}
