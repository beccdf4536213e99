package embed_material

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/jobs"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
	"github.com/studyowl/studyowl-backend/internal/services"
	"github.com/studyowl/studyowl-backend/internal/types"
)

// Deps wires the embedding pipeline: chunk the stored extracted text, embed
// the chunks and replace the material's vectors.
type Deps struct {
	Materials services.MaterialService
	Embedder  services.EmbeddingService
}

func NewHandler(d Deps) jobs.Handler {
	return jobs.Handler{
		Type: types.JobTypeEmbedding,
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
		if errors.Is(err, apperr.ErrMaterialNotFound) {
			return rc.FailPermanent("load", err)
		}
		_, fErr := rc.Fail("load", err)
		return fErr
	}
	if material.Status != types.MaterialStatusCompleted || material.ExtractedText == nil {
		// Either extraction failed after this job was chained or the material
		// was reset. Retrying cannot produce text.
		return rc.FailPermanent("load", errMissingText(materialID))
	}

	rc.Progress("embed", 10)
	out, err := d.Embedder.EmbedMaterial(ctx, material)
	if err != nil {
		// The material stays completed: its text is intact, only the vector
		// replacement failed and can be retried or re-triggered explicitly.
		if _, fErr := rc.Fail("embed", err); fErr != nil {
			return fErr
		}
		return nil
	}

	return rc.Succeed(map[string]any{
		"material_id":  materialID.String(),
		"chunks_added": out.ChunksAdded,
	})
}

func errMissingText(id uuid.UUID) error {
	return fmt.Errorf("material %s has no extracted text to embed", id)
}
