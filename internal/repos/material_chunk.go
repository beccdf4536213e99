package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/types"
)

type MaterialChunkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.MaterialChunk) ([]*types.MaterialChunk, error)
	GetByMaterialIDs(ctx context.Context, tx *gorm.DB, materialIDs []uuid.UUID) ([]*types.MaterialChunk, error)
	DeleteByMaterialIDs(ctx context.Context, tx *gorm.DB, materialIDs []uuid.UUID) error
}

type materialChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMaterialChunkRepo(db *gorm.DB, baseLog *logger.Logger) MaterialChunkRepo {
	return &materialChunkRepo{db: db, log: baseLog.With("repo", "MaterialChunkRepo")}
}

func (r *materialChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.MaterialChunk) ([]*types.MaterialChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.MaterialChunk{}, nil
	}

	// Keep batches small because Text is large.
	const batchSize = 100

	if err := transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *materialChunkRepo) GetByMaterialIDs(ctx context.Context, tx *gorm.DB, materialIDs []uuid.UUID) ([]*types.MaterialChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.MaterialChunk
	if len(materialIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("material_id IN ?", materialIDs).
		Order("material_id, index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *materialChunkRepo) DeleteByMaterialIDs(ctx context.Context, tx *gorm.DB, materialIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(materialIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("material_id IN ?", materialIDs).
		Delete(&types.MaterialChunk{}).Error
}
