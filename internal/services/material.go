package services

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/logger"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/types"
	"github.com/studyowl/studyowl-backend/internal/utils"
)

// MaterialService owns material rows and their files on disk, and exposes the
// semantic status transitions the extraction pipeline drives.
type MaterialService interface {
	CreateFromUpload(ctx context.Context, chapterID uuid.UUID, file *multipart.FileHeader) (*types.Material, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Material, error)
	GetByChapterID(ctx context.Context, chapterID uuid.UUID) ([]*types.Material, error)

	MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	CompleteExtraction(ctx context.Context, tx *gorm.DB, id uuid.UUID, text string, pageCount int) error
	FailExtraction(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) error
	ResetForReprocess(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type materialService struct {
	log       *logger.Logger
	materials repos.MaterialRepo
	chapters  repos.ChapterRepo
	uploadDir string
}

func NewMaterialService(baseLog *logger.Logger, materialRepo repos.MaterialRepo, chapterRepo repos.ChapterRepo) MaterialService {
	log := baseLog.With("service", "MaterialService")
	dir := utils.GetEnv("UPLOAD_DIR", "./uploads", log)
	return &materialService{
		log:       log,
		materials: materialRepo,
		chapters:  chapterRepo,
		uploadDir: dir,
	}
}

func (s *materialService) CreateFromUpload(ctx context.Context, chapterID uuid.UUID, file *multipart.FileHeader) (*types.Material, error) {
	if chapterID == uuid.Nil {
		return nil, fmt.Errorf("chapter id required")
	}
	if file == nil {
		return nil, fmt.Errorf("file required")
	}

	chapters, err := s.chapters.GetByIDs(ctx, nil, []uuid.UUID{chapterID})
	if err != nil {
		return nil, fmt.Errorf("load chapter: %w", err)
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("chapter %s not found", chapterID)
	}

	id := uuid.New()
	path, size, err := s.storeFile(id, file)
	if err != nil {
		return nil, err
	}

	material := &types.Material{
		ID:           id,
		ChapterID:    chapterID,
		OriginalName: file.Filename,
		MimeType:     file.Header.Get("Content-Type"),
		SizeBytes:    size,
		FilePath:     path,
		Status:       types.MaterialStatusPending,
	}
	created, err := s.materials.Create(ctx, nil, []*types.Material{material})
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("create material: %w", err)
	}

	s.log.Info("Material uploaded",
		"material_id", id,
		"chapter_id", chapterID,
		"name", file.Filename,
		"size_bytes", size,
	)
	return created[0], nil
}

func (s *materialService) storeFile(id uuid.UUID, file *multipart.FileHeader) (string, int64, error) {
	dir := filepath.Join(s.uploadDir, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(file.Filename))

	src, err := file.Open()
	if err != nil {
		return "", 0, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, src)
	if err != nil {
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return dst, n, nil
}

func (s *materialService) GetByID(ctx context.Context, id uuid.UUID) (*types.Material, error) {
	materials, err := s.materials.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(materials) == 0 {
		return nil, fmt.Errorf("%w: %s", apperr.ErrMaterialNotFound, id)
	}
	return materials[0], nil
}

func (s *materialService) GetByChapterID(ctx context.Context, chapterID uuid.UUID) ([]*types.Material, error) {
	return s.materials.GetByChapterIDs(ctx, nil, []uuid.UUID{chapterID})
}

func (s *materialService) MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return s.materials.UpdateFields(ctx, tx, id, map[string]interface{}{
		"status":           types.MaterialStatusProcessing,
		"processing_error": nil,
	})
}

// CompleteExtraction records the extracted text and the completed status in a
// single write so readers never observe one without the other.
func (s *materialService) CompleteExtraction(ctx context.Context, tx *gorm.DB, id uuid.UUID, text string, pageCount int) error {
	return s.materials.UpdateFields(ctx, tx, id, map[string]interface{}{
		"status":           types.MaterialStatusCompleted,
		"extracted_text":   text,
		"page_count":       pageCount,
		"processing_error": nil,
	})
}

func (s *materialService) FailExtraction(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) error {
	return s.materials.UpdateFields(ctx, tx, id, map[string]interface{}{
		"status":           types.MaterialStatusFailed,
		"processing_error": reason,
	})
}

// ResetForReprocess returns a material to pending so a fresh extraction run
// starts from a clean slate.
func (s *materialService) ResetForReprocess(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return s.materials.UpdateFields(ctx, tx, id, map[string]interface{}{
		"status":           types.MaterialStatusPending,
		"extracted_text":   nil,
		"page_count":       0,
		"processing_error": nil,
	})
}
