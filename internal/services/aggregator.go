package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/types"
)

// ProcessedContentDelimiter separates per-material text inside a chapter's
// merged processed_content.
const ProcessedContentDelimiter = "\n\n---\n\n"

// DeriveChapterStatus is the pure core of the aggregator: chapter status as a
// function of the child material statuses.
//
//	no materials                        -> draft
//	all completed                       -> ready
//	any pending/processing              -> processing
//	none pending, some failed           -> processing (failed materials do not
//	                                       block siblings; the chapter waits
//	                                       until they are resolved or removed)
//
// A chapter already marked completed stays completed: that mark is terminal
// and owned by an explicit user action, not this pipeline.
func DeriveChapterStatus(materialStatuses []string, currentStatus string) string {
	if currentStatus == types.ChapterStatusCompleted {
		return types.ChapterStatusCompleted
	}
	if len(materialStatuses) == 0 {
		return types.ChapterStatusDraft
	}
	allCompleted := true
	for _, st := range materialStatuses {
		if st != types.MaterialStatusCompleted {
			allCompleted = false
			break
		}
	}
	if allCompleted {
		return types.ChapterStatusReady
	}
	return types.ChapterStatusProcessing
}

// ChapterAggregator recomputes a chapter's derived status whenever a child
// material's status changes, and on the transition into ready merges the
// completed materials' extracted text (creation order) into
// processed_content.
type ChapterAggregator interface {
	RecomputeChapter(ctx context.Context, tx *gorm.DB, chapterID uuid.UUID) (*types.Chapter, error)
}

type chapterAggregator struct {
	db        *gorm.DB
	log       *logger.Logger
	chapters  repos.ChapterRepo
	materials repos.MaterialRepo
	notify    ChapterNotifier
}

func NewChapterAggregator(
	db *gorm.DB,
	baseLog *logger.Logger,
	chapterRepo repos.ChapterRepo,
	materialRepo repos.MaterialRepo,
	notify ChapterNotifier,
) ChapterAggregator {
	return &chapterAggregator{
		db:        db,
		log:       baseLog.With("service", "ChapterAggregator"),
		chapters:  chapterRepo,
		materials: materialRepo,
		notify:    notify,
	}
}

func (a *chapterAggregator) RecomputeChapter(ctx context.Context, tx *gorm.DB, chapterID uuid.UUID) (*types.Chapter, error) {
	if chapterID == uuid.Nil {
		return nil, fmt.Errorf("chapter id required")
	}

	chapters, err := a.chapters.GetByIDs(ctx, tx, []uuid.UUID{chapterID})
	if err != nil {
		return nil, fmt.Errorf("load chapter: %w", err)
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("chapter %s not found", chapterID)
	}
	chapter := chapters[0]

	materials, err := a.materials.GetByChapterIDs(ctx, tx, []uuid.UUID{chapterID})
	if err != nil {
		return nil, fmt.Errorf("load materials: %w", err)
	}

	statuses := make([]string, len(materials))
	for i, m := range materials {
		statuses[i] = m.Status
	}
	next := DeriveChapterStatus(statuses, chapter.Status)
	if next == chapter.Status {
		return chapter, nil
	}

	updates := map[string]interface{}{"status": next}
	if next == types.ChapterStatusReady {
		updates["processed_content"] = mergeProcessedContent(materials)
	}

	// Guarded write: a concurrent manual completion wins over the derived
	// status.
	ok, err := a.chapters.UpdateFieldsUnlessStatus(ctx, tx, chapterID, []string{types.ChapterStatusCompleted}, updates)
	if err != nil {
		return nil, fmt.Errorf("update chapter status: %w", err)
	}
	if !ok {
		return chapter, nil
	}

	a.log.Info("Chapter status recomputed",
		"chapter_id", chapterID,
		"from", chapter.Status,
		"to", next,
		"materials", len(materials),
	)

	chapter.Status = next
	if pc, has := updates["processed_content"]; has {
		chapter.ProcessedContent = pc.(string)
	}
	if a.notify != nil {
		a.notify.ChapterStatusChanged(chapter)
	}
	return chapter, nil
}

func mergeProcessedContent(materials []*types.Material) string {
	parts := make([]string, 0, len(materials))
	for _, m := range materials {
		if m.Status != types.MaterialStatusCompleted || m.ExtractedText == nil {
			continue
		}
		t := strings.TrimSpace(*m.ExtractedText)
		if t == "" {
			continue
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, ProcessedContentDelimiter)
}
