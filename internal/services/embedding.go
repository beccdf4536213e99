package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/clients/openai"
	"github.com/studyowl/studyowl-backend/internal/clients/pinecone"
	"github.com/studyowl/studyowl-backend/internal/logger"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/types"
)

type EmbedOutput struct {
	ChunksAdded int `json:"chunks_added"`
}

// EmbeddingService chunks a completed material's text, embeds every chunk and
// upserts the vectors into the store namespace of the owning course.
// Reprocessing replaces: previously stored chunks for the material are
// removed before anything new is written. The caller holds the per-material
// dedupe key, so delete-then-insert never interleaves across jobs.
type EmbeddingService interface {
	EmbedMaterial(ctx context.Context, material *types.Material) (*EmbedOutput, error)
}

type EmbeddingConfig struct {
	ChunkSize    int
	ChunkOverlap int
	EmbedBatch   int
}

type embeddingService struct {
	db        *gorm.DB
	log       *logger.Logger
	chapters  repos.ChapterRepo
	chunks    repos.MaterialChunkRepo
	ai        openai.Client
	vec       pinecone.VectorStore
	chunkSize int
	overlap   int
	batch     int
}

func NewEmbeddingService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chapterRepo repos.ChapterRepo,
	chunkRepo repos.MaterialChunkRepo,
	ai openai.Client,
	vec pinecone.VectorStore,
	cfg EmbeddingConfig,
) EmbeddingService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = 64
	}
	return &embeddingService{
		db:        db,
		log:       baseLog.With("service", "EmbeddingService"),
		chapters:  chapterRepo,
		chunks:    chunkRepo,
		ai:        ai,
		vec:       vec,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.ChunkOverlap,
		batch:     cfg.EmbedBatch,
	}
}

func (s *embeddingService) EmbedMaterial(ctx context.Context, material *types.Material) (*EmbedOutput, error) {
	if material == nil || material.ID == uuid.Nil {
		return nil, fmt.Errorf("material required")
	}
	if material.ExtractedText == nil || *material.ExtractedText == "" {
		return nil, fmt.Errorf("material %s has no extracted text", material.ID)
	}

	chapters, err := s.chapters.GetByIDs(ctx, nil, []uuid.UUID{material.ChapterID})
	if err != nil {
		return nil, fmt.Errorf("load chapter: %w", err)
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("chapter %s not found", material.ChapterID)
	}
	namespace := chapters[0].CourseID.String()

	pieces := SplitIntoChunks(*material.ExtractedText, s.chunkSize, s.overlap)
	if len(pieces) == 0 {
		return &EmbedOutput{ChunksAdded: 0}, nil
	}

	// Replace, not append: clear any previous chunk set for this material in
	// both the vector store and the DB mirror before inserting.
	if err := s.vec.DeleteByMaterial(ctx, namespace, material.ID); err != nil {
		return nil, fmt.Errorf("%w: clearing material %s: %v", apperr.ErrVectorStoreWrite, material.ID, err)
	}
	if err := s.chunks.DeleteByMaterialIDs(ctx, nil, []uuid.UUID{material.ID}); err != nil {
		return nil, fmt.Errorf("delete chunk rows: %w", err)
	}

	vectors := make([]pinecone.Vector, len(pieces))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(defaultCtx(ctx))
	g.SetLimit(4)
	for start := 0; start < len(pieces); start += s.batch {
		start := start
		end := start + s.batch
		if end > len(pieces) {
			end = len(pieces)
		}
		g.Go(func() error {
			embs, err := s.ai.Embed(gctx, pieces[start:end])
			if err != nil {
				return fmt.Errorf("%w: %v", apperr.ErrEmbeddingServiceUnavailable, err)
			}
			if len(embs) != end-start {
				return fmt.Errorf("%w: got %d embeddings for %d chunks", apperr.ErrEmbeddingServiceUnavailable, len(embs), end-start)
			}
			mu.Lock()
			defer mu.Unlock()
			for i, vec := range embs {
				idx := start + i
				vectors[idx] = pinecone.Vector{
					ID:     fmt.Sprintf("%s:%d", material.ID, idx),
					Values: vec,
					Metadata: map[string]any{
						"chapter_id":  material.ChapterID.String(),
						"material_id": material.ID.String(),
						"chunk_index": idx,
						"text":        pieces[idx],
					},
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	const upsertBatch = 100
	for start := 0; start < len(vectors); start += upsertBatch {
		end := start + upsertBatch
		if end > len(vectors) {
			end = len(vectors)
		}
		if err := s.vec.Upsert(ctx, namespace, vectors[start:end]); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrVectorStoreWrite, err)
		}
	}

	now := time.Now()
	rows := make([]*types.MaterialChunk, len(pieces))
	for i, text := range pieces {
		meta, _ := json.Marshal(map[string]any{"vector_id": vectors[i].ID})
		rows[i] = &types.MaterialChunk{
			ID:         uuid.New(),
			MaterialID: material.ID,
			ChapterID:  material.ChapterID,
			Index:      i,
			Text:       text,
			Metadata:   datatypes.JSON(meta),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	if _, err := s.chunks.Create(ctx, nil, rows); err != nil {
		return nil, fmt.Errorf("persist chunk rows: %w", err)
	}

	s.log.Info("Material embedded",
		"material_id", material.ID,
		"chapter_id", material.ChapterID,
		"namespace", namespace,
		"chunks", len(pieces),
	)
	return &EmbedOutput{ChunksAdded: len(pieces)}, nil
}
