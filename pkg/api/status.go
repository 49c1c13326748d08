package api

// JobStatus is the lifecycle state of a job. The zero value means the job
// has been created but not yet dispatched.
type JobStatus string

const (
	JobWaiting    JobStatus = "WAITING"
	JobDispatched JobStatus = "DISPATCHED"
	JobReceived   JobStatus = "RECEIVED"
	JobStarted    JobStatus = "STARTED"
	JobRunning    JobStatus = "RUNNING"
	JobSuccess    JobStatus = "SUCCESS"
	JobCancelled  JobStatus = "CANCELLED"
	JobTerminated JobStatus = "TERMINATED"
	JobFailure    JobStatus = "FAILURE"
)

// statusRanks defines the total order used when merging statuses.
// All non-terminal states rank below every terminal state, and FAILURE
// outranks everything so that a compound job reports failure if any
// descendant failed, even if siblings succeeded.
var statusRanks = map[JobStatus]int{
	JobWaiting:    0,
	JobDispatched: 1,
	JobReceived:   2,
	JobStarted:    3,
	JobRunning:    4,
	JobSuccess:    5,
	JobCancelled:  6,
	JobTerminated: 7,
	JobFailure:    8,
}

// Rank returns the position of the status in the merge order.
// An unset status ranks below WAITING.
func Rank(status JobStatus) int {
	if rank, ok := statusRanks[status]; ok {
		return rank
	}
	return -1
}

// Highest returns the status with the maximum rank.
func Highest(statuses ...JobStatus) JobStatus {
	highest := JobStatus("")
	highestRank := -1
	for _, status := range statuses {
		if rank := Rank(status); rank > highestRank {
			highest = status
			highestRank = rank
		}
	}
	return highest
}

// HasEnded reports whether the status is terminal.
func HasEnded(status JobStatus) bool {
	switch status {
	case JobSuccess, JobCancelled, JobTerminated, JobFailure:
		return true
	}
	return false
}
