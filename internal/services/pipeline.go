package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/jobs"
	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/types"
)

// PipelineService is the bridge from the synchronous API into the queue: it
// resolves ownership, builds dedupe keys and enqueues pipeline jobs.
type PipelineService interface {
	// EnqueueExtraction queues the full pipeline for a material (extract,
	// structure, then a follow-up embedding job).
	EnqueueExtraction(ctx context.Context, materialID uuid.UUID) (*types.JobRun, error)
	// EnqueueEmbedding queues only the embedding stage, reusing the stored
	// extracted text.
	EnqueueEmbedding(ctx context.Context, materialID uuid.UUID) (*types.JobRun, error)
}

type pipelineService struct {
	log       *logger.Logger
	jobs      jobs.Service
	materials repos.MaterialRepo
	chapters  repos.ChapterRepo
	courses   repos.CourseRepo
}

func NewPipelineService(
	baseLog *logger.Logger,
	jobService jobs.Service,
	materialRepo repos.MaterialRepo,
	chapterRepo repos.ChapterRepo,
	courseRepo repos.CourseRepo,
) PipelineService {
	return &pipelineService{
		log:       baseLog.With("service", "PipelineService"),
		jobs:      jobService,
		materials: materialRepo,
		chapters:  chapterRepo,
		courses:   courseRepo,
	}
}

func (s *pipelineService) EnqueueExtraction(ctx context.Context, materialID uuid.UUID) (*types.JobRun, error) {
	material, owner, err := s.resolve(ctx, materialID)
	if err != nil {
		return nil, err
	}
	id := material.ID
	return s.jobs.Enqueue(ctx, jobs.EnqueueInput{
		OwnerUserID: owner,
		JobType:     types.JobTypeExtraction,
		EntityType:  "material",
		EntityID:    &id,
		DedupeKey:   types.ExtractionDedupeKey(id),
		Payload: map[string]any{
			"material_id": id.String(),
		},
	})
}

func (s *pipelineService) EnqueueEmbedding(ctx context.Context, materialID uuid.UUID) (*types.JobRun, error) {
	material, owner, err := s.resolve(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if material.Status != types.MaterialStatusCompleted || material.ExtractedText == nil {
		return nil, fmt.Errorf("material %s has no extracted text to embed", materialID)
	}
	id := material.ID
	return s.jobs.Enqueue(ctx, jobs.EnqueueInput{
		OwnerUserID: owner,
		JobType:     types.JobTypeEmbedding,
		EntityType:  "material",
		EntityID:    &id,
		DedupeKey:   types.EmbeddingDedupeKey(id),
		Payload: map[string]any{
			"material_id": id.String(),
		},
	})
}

// resolve loads the material and walks chapter -> course for the owning user.
func (s *pipelineService) resolve(ctx context.Context, materialID uuid.UUID) (*types.Material, uuid.UUID, error) {
	if materialID == uuid.Nil {
		return nil, uuid.Nil, fmt.Errorf("material id required")
	}
	materials, err := s.materials.GetByIDs(ctx, nil, []uuid.UUID{materialID})
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("load material: %w", err)
	}
	if len(materials) == 0 {
		return nil, uuid.Nil, fmt.Errorf("material %s not found", materialID)
	}
	material := materials[0]

	chapters, err := s.chapters.GetByIDs(ctx, nil, []uuid.UUID{material.ChapterID})
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("load chapter: %w", err)
	}
	if len(chapters) == 0 {
		return nil, uuid.Nil, fmt.Errorf("chapter %s not found", material.ChapterID)
	}
	courses, err := s.courses.GetByIDs(ctx, nil, []uuid.UUID{chapters[0].CourseID})
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("load course: %w", err)
	}
	if len(courses) == 0 {
		return nil, uuid.Nil, fmt.Errorf("course %s not found", chapters[0].CourseID)
	}
	return material, courses[0].OwnerUserID, nil
}
