package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jobmesh/jobmesh/internal/common/util"
	"github.com/jobmesh/jobmesh/pkg/api"
)

const jobObjectPrefix = "Job:"

type ErrJobNotFound struct {
	JobId string
}

func (err *ErrJobNotFound) Error() string {
	return fmt.Sprintf("could not find job %q", err.JobId)
}

// JobSpec is what callers provide to create a job; everything else is
// assigned by the repository.
type JobSpec struct {
	Method   api.JobMethod
	Creator  *api.User
	Project  *api.Project
	Params   map[string]interface{}
	Secrets  map[string]string
	Callback string
	ParentId string
}

type JobRepository interface {
	CreateJob(spec *JobSpec) *api.Job
	SaveJob(job *api.Job) error
	GetJob(id string) (*api.Job, error)
	GetJobsByIds(ids []string) ([]*api.Job, error)
	GetChildren(job *api.Job) ([]*api.Job, error)
}

type RedisJobRepository struct {
	db redis.UniversalClient
}

func NewRedisJobRepository(db redis.UniversalClient) *RedisJobRepository {
	return &RedisJobRepository{db: db}
}

func (repo *RedisJobRepository) CreateJob(spec *JobSpec) *api.Job {
	now := time.Now().UTC()
	return &api.Job{
		Id:       util.NewULID(),
		Key:      uuid.NewString(),
		Method:   spec.Method,
		Creator:  spec.Creator,
		Project:  spec.Project,
		Params:   spec.Params,
		Secrets:  spec.Secrets,
		Callback: spec.Callback,
		ParentId: spec.ParentId,
		Created:  now,
		Updated:  now,
	}
}

func (repo *RedisJobRepository) SaveJob(job *api.Job) error {
	// Secrets must never be persisted once the job has ended.
	if !job.IsActive && api.HasEnded(job.Status) {
		job.Secrets = nil
	}
	job.Updated = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return errors.WithMessagef(err, "error marshalling job %s", job.Id)
	}
	if err := repo.db.Set(jobObjectPrefix+job.Id, data, 0).Err(); err != nil {
		return errors.WithMessagef(err, "error writing job %s", job.Id)
	}
	return nil
}

func (repo *RedisJobRepository) GetJob(id string) (*api.Job, error) {
	data, err := repo.db.Get(jobObjectPrefix + id).Bytes()
	if err == redis.Nil {
		return nil, &ErrJobNotFound{JobId: id}
	} else if err != nil {
		return nil, errors.WithMessagef(err, "error reading job %s", id)
	}
	job := &api.Job{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, errors.WithMessagef(err, "error unmarshalling job %s", id)
	}
	return job, nil
}

func (repo *RedisJobRepository) GetJobsByIds(ids []string) ([]*api.Job, error) {
	if len(ids) == 0 {
		return []*api.Job{}, nil
	}

	pipe := repo.db.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Get(jobObjectPrefix+id))
	}
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.WithMessage(err, "error reading jobs")
	}

	jobs := make([]*api.Job, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			return nil, &ErrJobNotFound{JobId: ids[i]}
		} else if err != nil {
			return nil, errors.WithMessagef(err, "error reading job %s", ids[i])
		}
		job := &api.Job{}
		if err := json.Unmarshal(data, job); err != nil {
			return nil, errors.WithMessagef(err, "error unmarshalling job %s", ids[i])
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// GetChildren returns the job's children in stored order. Order matters
// for series and chain jobs.
func (repo *RedisJobRepository) GetChildren(job *api.Job) ([]*api.Job, error) {
	return repo.GetJobsByIds(job.ChildIds)
}
