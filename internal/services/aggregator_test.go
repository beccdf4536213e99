package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/types"
)

func TestDeriveChapterStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		current  string
		want     string
	}{
		{
			name:     "no materials stays draft",
			statuses: nil,
			current:  types.ChapterStatusDraft,
			want:     types.ChapterStatusDraft,
		},
		{
			name:     "all completed becomes ready",
			statuses: []string{types.MaterialStatusCompleted, types.MaterialStatusCompleted},
			current:  types.ChapterStatusProcessing,
			want:     types.ChapterStatusReady,
		},
		{
			name:     "single pending becomes processing",
			statuses: []string{types.MaterialStatusPending},
			current:  types.ChapterStatusDraft,
			want:     types.ChapterStatusProcessing,
		},
		{
			name:     "mixed completed and processing stays processing",
			statuses: []string{types.MaterialStatusCompleted, types.MaterialStatusProcessing},
			current:  types.ChapterStatusProcessing,
			want:     types.ChapterStatusProcessing,
		},
		{
			name:     "failure does not block siblings",
			statuses: []string{types.MaterialStatusFailed, types.MaterialStatusProcessing},
			current:  types.ChapterStatusProcessing,
			want:     types.ChapterStatusProcessing,
		},
		{
			name:     "all failed keeps chapter processing",
			statuses: []string{types.MaterialStatusFailed, types.MaterialStatusFailed},
			current:  types.ChapterStatusProcessing,
			want:     types.ChapterStatusProcessing,
		},
		{
			name:     "ready regresses when a new upload arrives",
			statuses: []string{types.MaterialStatusCompleted, types.MaterialStatusPending},
			current:  types.ChapterStatusReady,
			want:     types.ChapterStatusProcessing,
		},
		{
			name:     "completed is terminal",
			statuses: []string{types.MaterialStatusPending},
			current:  types.ChapterStatusCompleted,
			want:     types.ChapterStatusCompleted,
		},
		{
			name:     "completed with no materials is still terminal",
			statuses: nil,
			current:  types.ChapterStatusCompleted,
			want:     types.ChapterStatusCompleted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveChapterStatus(tt.statuses, tt.current); got != tt.want {
				t.Fatalf("DeriveChapterStatus(%v, %q) = %q, want %q", tt.statuses, tt.current, got, tt.want)
			}
		})
	}
}

func TestMergeProcessedContent(t *testing.T) {
	a := "first material text"
	b := "second material text"
	materials := []*types.Material{
		{Status: types.MaterialStatusCompleted, ExtractedText: &a},
		{Status: types.MaterialStatusFailed, ExtractedText: nil},
		{Status: types.MaterialStatusCompleted, ExtractedText: &b},
	}
	got := mergeProcessedContent(materials)
	want := a + ProcessedContentDelimiter + b
	if got != want {
		t.Fatalf("merged content = %q, want %q", got, want)
	}
}

func TestMergeProcessedContentSkipsEmpty(t *testing.T) {
	empty := "   "
	materials := []*types.Material{
		{Status: types.MaterialStatusCompleted, ExtractedText: &empty},
	}
	if got := mergeProcessedContent(materials); got != "" {
		t.Fatalf("expected empty merge, got %q", got)
	}
}

type fakeMaterialRepo struct {
	byChapter map[uuid.UUID][]*types.Material
	updates   map[uuid.UUID][]map[string]interface{}
}

func newFakeMaterialRepo() *fakeMaterialRepo {
	return &fakeMaterialRepo{
		byChapter: make(map[uuid.UUID][]*types.Material),
		updates:   make(map[uuid.UUID][]map[string]interface{}),
	}
}

func (f *fakeMaterialRepo) Create(ctx context.Context, tx *gorm.DB, materials []*types.Material) ([]*types.Material, error) {
	for _, m := range materials {
		f.byChapter[m.ChapterID] = append(f.byChapter[m.ChapterID], m)
	}
	return materials, nil
}

func (f *fakeMaterialRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Material, error) {
	var out []*types.Material
	for _, list := range f.byChapter {
		for _, m := range list {
			for _, id := range ids {
				if m.ID == id {
					out = append(out, m)
				}
			}
		}
	}
	return out, nil
}

func (f *fakeMaterialRepo) GetByChapterIDs(ctx context.Context, tx *gorm.DB, chapterIDs []uuid.UUID) ([]*types.Material, error) {
	var out []*types.Material
	for _, id := range chapterIDs {
		out = append(out, f.byChapter[id]...)
	}
	return out, nil
}

func (f *fakeMaterialRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.updates[id] = append(f.updates[id], updates)
	for _, list := range f.byChapter {
		for _, m := range list {
			if m.ID != id {
				continue
			}
			if s, ok := updates["status"].(string); ok {
				m.Status = s
			}
			if txt, ok := updates["extracted_text"].(string); ok {
				m.ExtractedText = &txt
			}
			if reason, ok := updates["processing_error"].(string); ok {
				m.ProcessingError = &reason
			}
		}
	}
	return nil
}

func (f *fakeMaterialRepo) FullDeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	return nil
}

type recordingChapterNotifier struct {
	events []*types.Chapter
}

func (r *recordingChapterNotifier) ChapterStatusChanged(chapter *types.Chapter) {
	r.events = append(r.events, chapter)
}

func TestRecomputeChapterMergesOnReady(t *testing.T) {
	chapter := &types.Chapter{ID: uuid.New(), CourseID: uuid.New(), Status: types.ChapterStatusProcessing}
	chapterRepo := newFakeChapterRepo(chapter)

	textA := "alpha material"
	textB := "beta material"
	materialRepo := newFakeMaterialRepo()
	_, _ = materialRepo.Create(context.Background(), nil, []*types.Material{
		{ID: uuid.New(), ChapterID: chapter.ID, Status: types.MaterialStatusCompleted, ExtractedText: &textA},
		{ID: uuid.New(), ChapterID: chapter.ID, Status: types.MaterialStatusCompleted, ExtractedText: &textB},
	})

	notifier := &recordingChapterNotifier{}
	agg := NewChapterAggregator(nil, logger.NewNop(), chapterRepo, materialRepo, notifier)

	got, err := agg.RecomputeChapter(context.Background(), nil, chapter.ID)
	if err != nil {
		t.Fatalf("RecomputeChapter: %v", err)
	}
	if got.Status != types.ChapterStatusReady {
		t.Fatalf("status = %q, want ready", got.Status)
	}
	want := textA + ProcessedContentDelimiter + textB
	if got.ProcessedContent != want {
		t.Fatalf("processed content = %q, want %q", got.ProcessedContent, want)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("expected one status event, got %d", len(notifier.events))
	}
}

func TestRecomputeChapterNoChangeNoWrite(t *testing.T) {
	chapter := &types.Chapter{ID: uuid.New(), Status: types.ChapterStatusProcessing}
	chapterRepo := newFakeChapterRepo(chapter)

	materialRepo := newFakeMaterialRepo()
	_, _ = materialRepo.Create(context.Background(), nil, []*types.Material{
		{ID: uuid.New(), ChapterID: chapter.ID, Status: types.MaterialStatusProcessing},
	})

	notifier := &recordingChapterNotifier{}
	agg := NewChapterAggregator(nil, logger.NewNop(), chapterRepo, materialRepo, notifier)

	if _, err := agg.RecomputeChapter(context.Background(), nil, chapter.ID); err != nil {
		t.Fatalf("RecomputeChapter: %v", err)
	}
	if len(chapterRepo.updates) != 0 {
		t.Fatalf("expected no writes for unchanged status, got %d", len(chapterRepo.updates))
	}
	if len(notifier.events) != 0 {
		t.Fatalf("expected no events for unchanged status, got %d", len(notifier.events))
	}
}

func TestRecomputeChapterNeverOverridesCompleted(t *testing.T) {
	chapter := &types.Chapter{ID: uuid.New(), Status: types.ChapterStatusProcessing}
	chapterRepo := newFakeChapterRepo(chapter)
	// Simulate a manual completion racing the recompute.
	chapterRepo.guardBlocks = true

	textA := "only material"
	materialRepo := newFakeMaterialRepo()
	_, _ = materialRepo.Create(context.Background(), nil, []*types.Material{
		{ID: uuid.New(), ChapterID: chapter.ID, Status: types.MaterialStatusCompleted, ExtractedText: &textA},
	})

	notifier := &recordingChapterNotifier{}
	agg := NewChapterAggregator(nil, logger.NewNop(), chapterRepo, materialRepo, notifier)

	got, err := agg.RecomputeChapter(context.Background(), nil, chapter.ID)
	if err != nil {
		t.Fatalf("RecomputeChapter: %v", err)
	}
	if got.Status != types.ChapterStatusProcessing {
		t.Fatalf("status = %q, want unchanged processing", got.Status)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("guarded write lost the race but an event still fired")
	}
}
