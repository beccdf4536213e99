package extract_material

import (
	"errors"

	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/jobs"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/services"
	"github.com/studyowl/studyowl-backend/internal/types"
)

// Deps wires the extraction pipeline: extract the file, structure the text,
// persist it on the material, recompute the chapter and chain the embedding
// job.
type Deps struct {
	Materials  services.MaterialService
	Chapters   repos.ChapterRepo
	Courses    repos.CourseRepo
	Extractor  services.TextExtractor
	Structurer services.ContentStructurer
	Aggregator services.ChapterAggregator
	Pipelines  services.PipelineService
}

func NewHandler(d Deps) jobs.Handler {
	return jobs.Handler{
		Type: types.JobTypeExtraction,
		Run: func(rc *jobs.Context) error {
			return run(rc, d)
		},
	}
}

func run(rc *jobs.Context, d Deps) error {
	ctx := rc.Ctx()

	materialID, err := rc.PayloadUUID("material_id")
	if err != nil {
		return rc.FailPermanent("payload", err)
	}
	material, err := d.Materials.GetByID(ctx, materialID)
	if err != nil {
		// Deleted before the worker got to it means nothing left to do; a
		// transient repo error keeps its retries.
		if errors.Is(err, apperr.ErrMaterialNotFound) {
			return rc.FailPermanent("load", err)
		}
		_, fErr := rc.Fail("load", err)
		return fErr
	}

	rc.Progress("extract", 5)
	if err := d.Materials.MarkProcessing(ctx, nil, materialID); err != nil {
		return failAttempt(rc, d, "extract", materialID, material.ChapterID, err)
	}
	if _, err := d.Aggregator.RecomputeChapter(ctx, nil, material.ChapterID); err != nil {
		rc.Log().Warn("Chapter recompute failed", "chapter_id", material.ChapterID, "error", err)
	}

	result, err := d.Extractor.Extract(ctx, material.FilePath, material.MimeType)
	if err != nil {
		// Unsupported formats and empty results never improve on retry.
		if errors.Is(err, apperr.ErrUnsupportedFormat) || errors.Is(err, apperr.ErrEmptyExtraction) {
			return failTerminal(rc, d, "extract", materialID, material.ChapterID, err)
		}
		return failAttempt(rc, d, "extract", materialID, material.ChapterID, err)
	}

	rc.Progress("structure", 50)
	language := courseLanguage(rc, d, material.ChapterID)
	// Structure is best effort: on model errors or timeouts it returns the
	// raw extracted text unchanged.
	text := d.Structurer.Structure(ctx, result.FullText, language)

	rc.Progress("persist", 75)
	if err := d.Materials.CompleteExtraction(ctx, nil, materialID, text, result.PageCount); err != nil {
		return failAttempt(rc, d, "persist", materialID, material.ChapterID, err)
	}
	if _, err := d.Aggregator.RecomputeChapter(ctx, nil, material.ChapterID); err != nil {
		rc.Log().Warn("Chapter recompute failed", "chapter_id", material.ChapterID, "error", err)
	}

	rc.Progress("chain", 90)
	if _, err := d.Pipelines.EnqueueEmbedding(ctx, materialID); err != nil && !errors.Is(err, apperr.ErrDuplicateJob) {
		rc.Log().Warn("Failed to chain embedding job", "material_id", materialID, "error", err)
	}

	return rc.Succeed(map[string]any{
		"material_id": materialID.String(),
		"page_count":  result.PageCount,
		"chars":       len(text),
	})
}

func courseLanguage(rc *jobs.Context, d Deps, chapterID uuid.UUID) string {
	chapters, err := d.Chapters.GetByIDs(rc.Ctx(), nil, []uuid.UUID{chapterID})
	if err != nil || len(chapters) == 0 {
		return ""
	}
	courses, err := d.Courses.GetByIDs(rc.Ctx(), nil, []uuid.UUID{chapters[0].CourseID})
	if err != nil || len(courses) == 0 {
		return ""
	}
	return courses[0].Language
}

// failAttempt records the failure; the material flips to failed only once the
// retry budget is spent, so transient errors keep it processing.
func failAttempt(rc *jobs.Context, d Deps, stage string, materialID, chapterID uuid.UUID, cause error) error {
	terminal, err := rc.Fail(stage, cause)
	if err != nil {
		return err
	}
	if terminal {
		markFailed(rc, d, materialID, chapterID, cause)
	}
	return nil
}

func failTerminal(rc *jobs.Context, d Deps, stage string, materialID, chapterID uuid.UUID, cause error) error {
	if err := rc.FailPermanent(stage, cause); err != nil {
		return err
	}
	markFailed(rc, d, materialID, chapterID, cause)
	return nil
}

func markFailed(rc *jobs.Context, d Deps, materialID, chapterID uuid.UUID, cause error) {
	if err := d.Materials.FailExtraction(rc.Ctx(), nil, materialID, cause.Error()); err != nil {
		rc.Log().Error("Failed to mark material failed", "material_id", materialID, "error", err)
		return
	}
	if _, err := d.Aggregator.RecomputeChapter(rc.Ctx(), nil, chapterID); err != nil {
		rc.Log().Warn("Chapter recompute failed", "chapter_id", chapterID, "error", err)
	}
}
