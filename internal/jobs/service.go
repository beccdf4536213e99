package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/logger"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/types"
)

// EnqueueInput describes a job to queue. DedupeKey, when set, rejects the
// enqueue while another queued/running job holds the same key.
type EnqueueInput struct {
	OwnerUserID uuid.UUID
	JobType     string
	EntityType  string
	EntityID    *uuid.UUID
	DedupeKey   string
	Priority    int
	Payload     map[string]any
}

// Service is the producer side of the queue plus job status reads.
type Service interface {
	Enqueue(ctx context.Context, in EnqueueInput) (*types.JobRun, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.JobRun, error)
	GetLatestForEntity(ctx context.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error)
}

type service struct {
	log    *logger.Logger
	runs   repos.JobRunRepo
	notify Notifier
}

func NewService(baseLog *logger.Logger, runRepo repos.JobRunRepo, notify Notifier) Service {
	return &service{
		log:    baseLog.With("service", "JobService"),
		runs:   runRepo,
		notify: notify,
	}
}

func (s *service) Enqueue(ctx context.Context, in EnqueueInput) (*types.JobRun, error) {
	if in.JobType == "" {
		return nil, fmt.Errorf("job type required")
	}
	if in.OwnerUserID == uuid.Nil {
		return nil, fmt.Errorf("owner user id required")
	}

	if in.DedupeKey != "" {
		active, err := s.runs.GetActiveByDedupeKey(ctx, nil, in.DedupeKey)
		if err != nil {
			return nil, fmt.Errorf("check dedupe key: %w", err)
		}
		if active != nil {
			return nil, fmt.Errorf("%w: %s held by job %s", apperr.ErrDuplicateJob, in.DedupeKey, active.ID)
		}
	}

	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: in.OwnerUserID,
		JobType:     in.JobType,
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
		DedupeKey:   in.DedupeKey,
		Priority:    in.Priority,
		Status:      types.JobStatusQueued,
		Stage:       "queued",
		Payload:     payload,
	}
	created, err := s.runs.Create(ctx, nil, []*types.JobRun{job})
	if err != nil {
		// Lost the race against a concurrent enqueue: the partial unique
		// index on active dedupe keys rejected the insert.
		if in.DedupeKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrDuplicateJob, in.DedupeKey)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	job = created[0]

	s.log.Info("Job enqueued",
		"job_id", job.ID,
		"job_type", job.JobType,
		"dedupe_key", job.DedupeKey,
		"priority", job.Priority,
	)
	if s.notify != nil {
		s.notify.JobCreated(job)
	}
	return job, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*types.JobRun, error) {
	jobsList, err := s.runs.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(jobsList) == 0 {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return jobsList[0], nil
}

func (s *service) GetLatestForEntity(ctx context.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	return s.runs.GetLatestByEntity(ctx, nil, entityType, entityID, jobType)
}
