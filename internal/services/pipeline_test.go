package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/jobs"
	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/types"
)

type fakeCourseRepo struct {
	courses map[uuid.UUID]*types.Course
}

func newFakeCourseRepo(courses ...*types.Course) *fakeCourseRepo {
	m := make(map[uuid.UUID]*types.Course)
	for _, c := range courses {
		m[c.ID] = c
	}
	return &fakeCourseRepo{courses: m}
}

func (f *fakeCourseRepo) Create(ctx context.Context, tx *gorm.DB, courses []*types.Course) ([]*types.Course, error) {
	for _, c := range courses {
		f.courses[c.ID] = c
	}
	return courses, nil
}

func (f *fakeCourseRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Course, error) {
	var out []*types.Course
	for _, id := range ids {
		if c, ok := f.courses[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeJobService struct {
	inputs []jobs.EnqueueInput
	err    error
}

func (f *fakeJobService) Enqueue(ctx context.Context, in jobs.EnqueueInput) (*types.JobRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &types.JobRun{ID: uuid.New(), JobType: in.JobType, DedupeKey: in.DedupeKey}, nil
}

func (f *fakeJobService) GetByID(ctx context.Context, id uuid.UUID) (*types.JobRun, error) {
	return nil, nil
}

func (f *fakeJobService) GetLatestForEntity(ctx context.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	return nil, nil
}

func pipelineFixture(t *testing.T) (PipelineService, *fakeJobService, *types.Material, *types.Course) {
	t.Helper()
	course := &types.Course{ID: uuid.New(), OwnerUserID: uuid.New()}
	chapter := &types.Chapter{ID: uuid.New(), CourseID: course.ID}
	text := "stored extracted text"
	material := &types.Material{
		ID:            uuid.New(),
		ChapterID:     chapter.ID,
		Status:        types.MaterialStatusCompleted,
		ExtractedText: &text,
	}

	materialRepo := newFakeMaterialRepo()
	_, _ = materialRepo.Create(context.Background(), nil, []*types.Material{material})
	js := &fakeJobService{}
	svc := NewPipelineService(logger.NewNop(), js, materialRepo, newFakeChapterRepo(chapter), newFakeCourseRepo(course))
	return svc, js, material, course
}

func TestEnqueueExtractionBuildsJob(t *testing.T) {
	svc, js, material, course := pipelineFixture(t)

	job, err := svc.EnqueueExtraction(context.Background(), material.ID)
	if err != nil {
		t.Fatalf("EnqueueExtraction: %v", err)
	}
	if job.JobType != types.JobTypeExtraction {
		t.Fatalf("job type = %q", job.JobType)
	}
	in := js.inputs[0]
	if in.OwnerUserID != course.OwnerUserID {
		t.Fatalf("owner = %s, want course owner", in.OwnerUserID)
	}
	if in.DedupeKey != types.ExtractionDedupeKey(material.ID) {
		t.Fatalf("dedupe key = %q", in.DedupeKey)
	}
	if in.Payload["material_id"] != material.ID.String() {
		t.Fatalf("payload = %v", in.Payload)
	}
}

func TestEnqueueEmbeddingRequiresExtractedText(t *testing.T) {
	svc, js, material, _ := pipelineFixture(t)
	material.ExtractedText = nil

	if _, err := svc.EnqueueEmbedding(context.Background(), material.ID); err == nil {
		t.Fatalf("expected error for material without text")
	}
	if len(js.inputs) != 0 {
		t.Fatalf("job enqueued despite missing text")
	}
}

func TestEnqueueEmbeddingBuildsJob(t *testing.T) {
	svc, js, material, _ := pipelineFixture(t)

	job, err := svc.EnqueueEmbedding(context.Background(), material.ID)
	if err != nil {
		t.Fatalf("EnqueueEmbedding: %v", err)
	}
	if job.JobType != types.JobTypeEmbedding {
		t.Fatalf("job type = %q", job.JobType)
	}
	if js.inputs[0].DedupeKey != types.EmbeddingDedupeKey(material.ID) {
		t.Fatalf("dedupe key = %q", js.inputs[0].DedupeKey)
	}
}

func TestEnqueueExtractionUnknownMaterial(t *testing.T) {
	svc, _, _, _ := pipelineFixture(t)

	if _, err := svc.EnqueueExtraction(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error for unknown material")
	}
}
