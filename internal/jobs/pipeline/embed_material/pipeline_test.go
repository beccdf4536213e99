package embed_material

import (
	"context"
	"errors"
	"mime/multipart"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/jobs"
	"github.com/studyowl/studyowl-backend/internal/logger"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
	"github.com/studyowl/studyowl-backend/internal/services"
	"github.com/studyowl/studyowl-backend/internal/types"
)

type stubRunRepo struct{}

func (stubRunRepo) Create(ctx context.Context, tx *gorm.DB, jobsList []*types.JobRun) ([]*types.JobRun, error) {
	return jobsList, nil
}
func (stubRunRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.JobRun, error) {
	return nil, nil
}
func (stubRunRepo) GetLatestByEntity(ctx context.Context, tx *gorm.DB, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	return nil, nil
}
func (stubRunRepo) GetActiveByDedupeKey(ctx context.Context, tx *gorm.DB, dedupeKey string) (*types.JobRun, error) {
	return nil, nil
}
func (stubRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, jobType string, staleRunning time.Duration) (*types.JobRun, error) {
	return nil, nil
}
func (stubRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}
func (stubRunRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error) {
	return true, nil
}
func (stubRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error { return nil }

type fakeMaterials struct {
	material *types.Material
	loadErr  error
	failed   string
}

func (f *fakeMaterials) CreateFromUpload(ctx context.Context, chapterID uuid.UUID, file *multipart.FileHeader) (*types.Material, error) {
	return nil, errors.New("not used")
}
func (f *fakeMaterials) GetByID(ctx context.Context, id uuid.UUID) (*types.Material, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.material == nil || f.material.ID != id {
		return nil, apperr.ErrMaterialNotFound
	}
	return f.material, nil
}
func (f *fakeMaterials) GetByChapterID(ctx context.Context, chapterID uuid.UUID) ([]*types.Material, error) {
	return nil, nil
}
func (f *fakeMaterials) MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}
func (f *fakeMaterials) CompleteExtraction(ctx context.Context, tx *gorm.DB, id uuid.UUID, text string, pageCount int) error {
	return nil
}
func (f *fakeMaterials) FailExtraction(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) error {
	f.failed = reason
	return nil
}
func (f *fakeMaterials) ResetForReprocess(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}

type fakeEmbedder struct {
	out *services.EmbedOutput
	err error
	gotID uuid.UUID
}

func (f *fakeEmbedder) EmbedMaterial(ctx context.Context, material *types.Material) (*services.EmbedOutput, error) {
	f.gotID = material.ID
	return f.out, f.err
}

func completedMaterial() *types.Material {
	text := "extracted and structured text ready for embedding"
	return &types.Material{
		ID:            uuid.New(),
		ChapterID:     uuid.New(),
		Status:        types.MaterialStatusCompleted,
		ExtractedText: &text,
	}
}

func newRunContext(t *testing.T, materialID uuid.UUID, attempts, maxAttempts int) *jobs.Context {
	t.Helper()
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		JobType:     types.JobTypeEmbedding,
		Status:      types.JobStatusRunning,
		Attempts:    attempts,
		Payload:     []byte(`{"material_id":"` + materialID.String() + `"}`),
	}
	return jobs.NewContext(context.Background(), logger.NewNop(), job, stubRunRepo{}, nil, jobs.RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     time.Millisecond,
	})
}

func TestEmbedPipelineHappyPath(t *testing.T) {
	material := completedMaterial()
	mats := &fakeMaterials{material: material}
	embedder := &fakeEmbedder{out: &services.EmbedOutput{ChunksAdded: 5}}
	rc := newRunContext(t, material.ID, 1, 3)

	if err := run(rc, Deps{Materials: mats, Embedder: embedder}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if embedder.gotID != material.ID {
		t.Fatalf("embedder ran for %s, want %s", embedder.gotID, material.ID)
	}
	if rc.Job().Status != types.JobStatusSucceeded {
		t.Fatalf("job status = %q, want succeeded", rc.Job().Status)
	}
}

func TestEmbedPipelineFailureKeepsMaterialCompleted(t *testing.T) {
	material := completedMaterial()
	mats := &fakeMaterials{material: material}
	embedder := &fakeEmbedder{err: errors.New("index unavailable")}
	rc := newRunContext(t, material.ID, 3, 3)

	if err := run(rc, Deps{Materials: mats, Embedder: embedder}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rc.Job().Status != types.JobStatusFailed {
		t.Fatalf("job status = %q, want failed", rc.Job().Status)
	}
	// The extraction result is intact, so the material must not flip to
	// failed when only vector writes broke.
	if material.Status != types.MaterialStatusCompleted {
		t.Fatalf("material status = %q, want completed", material.Status)
	}
	if mats.failed != "" {
		t.Fatalf("FailExtraction called from the embedding pipeline")
	}
}

func TestEmbedPipelineRetriesTransientFailure(t *testing.T) {
	material := completedMaterial()
	mats := &fakeMaterials{material: material}
	embedder := &fakeEmbedder{err: errors.New("timeout")}
	rc := newRunContext(t, material.ID, 1, 3)

	if err := run(rc, Deps{Materials: mats, Embedder: embedder}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rc.Job().Status != types.JobStatusQueued {
		t.Fatalf("job status = %q, want requeued", rc.Job().Status)
	}
}

func TestEmbedPipelineTransientLoadErrorRetries(t *testing.T) {
	material := completedMaterial()
	mats := &fakeMaterials{material: material, loadErr: errors.New("connection refused")}
	rc := newRunContext(t, material.ID, 1, 3)

	if err := run(rc, Deps{Materials: mats, Embedder: &fakeEmbedder{}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	// A repo blip must not burn the retry budget.
	if rc.Job().Status != types.JobStatusQueued {
		t.Fatalf("job status = %q, want queued", rc.Job().Status)
	}
}

func TestEmbedPipelineRejectsMaterialWithoutText(t *testing.T) {
	material := completedMaterial()
	material.ExtractedText = nil
	mats := &fakeMaterials{material: material}
	rc := newRunContext(t, material.ID, 1, 3)

	if err := run(rc, Deps{Materials: mats, Embedder: &fakeEmbedder{}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rc.Job().Status != types.JobStatusFailed {
		t.Fatalf("job status = %q, want failed", rc.Job().Status)
	}
}
