package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/logger"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
	"github.com/studyowl/studyowl-backend/internal/services"
)

type MaterialHandler struct {
	log       *logger.Logger
	materials services.MaterialService
	pipelines services.PipelineService
}

func NewMaterialHandler(log *logger.Logger, materialService services.MaterialService, pipelineService services.PipelineService) *MaterialHandler {
	return &MaterialHandler{
		log:       log.With("handler", "MaterialHandler"),
		materials: materialService,
		pipelines: pipelineService,
	}
}

// POST /api/chapters/:id/materials
// Multipart upload; every stored file gets an extraction job queued.
func (h *MaterialHandler) UploadMaterials(c *gin.Context) {
	chapterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chapter_id", err)
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_multipart", err)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		RespondError(c, http.StatusBadRequest, "no_files", errors.New("no files in form field 'files'"))
		return
	}

	type uploaded struct {
		Material any `json:"material"`
		Job      any `json:"job,omitempty"`
		Error    string `json:"error,omitempty"`
	}
	out := make([]uploaded, 0, len(files))
	for _, file := range files {
		material, err := h.materials.CreateFromUpload(c.Request.Context(), chapterID, file)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "upload_failed", err)
			return
		}
		entry := uploaded{Material: material}
		job, err := h.pipelines.EnqueueExtraction(c.Request.Context(), material.ID)
		if err != nil {
			// Upload stands even when the enqueue fails; the client can
			// retry via the reprocess endpoint.
			h.log.Warn("Extraction enqueue failed", "material_id", material.ID, "error", err)
			entry.Error = err.Error()
		} else {
			entry.Job = job
		}
		out = append(out, entry)
	}
	RespondAccepted(c, gin.H{"uploads": out})
}

// GET /api/materials/:id
func (h *MaterialHandler) GetMaterial(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_material_id", err)
		return
	}
	material, err := h.materials.GetByID(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusNotFound, "material_not_found", err)
		return
	}
	RespondOK(c, gin.H{"material": material})
}

// GET /api/chapters/:id/materials
func (h *MaterialHandler) ListChapterMaterials(c *gin.Context) {
	chapterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chapter_id", err)
		return
	}
	materials, err := h.materials.GetByChapterID(c.Request.Context(), chapterID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "list_materials_failed", err)
		return
	}
	RespondOK(c, gin.H{"materials": materials})
}

// POST /api/materials/:id/reprocess
// Resets the material and runs the full pipeline again.
func (h *MaterialHandler) ReprocessMaterial(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_material_id", err)
		return
	}
	if _, err := h.materials.GetByID(c.Request.Context(), id); err != nil {
		RespondError(c, http.StatusNotFound, "material_not_found", err)
		return
	}
	if err := h.materials.ResetForReprocess(c.Request.Context(), nil, id); err != nil {
		RespondError(c, http.StatusBadRequest, "reset_failed", err)
		return
	}
	job, err := h.pipelines.EnqueueExtraction(c.Request.Context(), id)
	if err != nil {
		h.respondEnqueueError(c, err)
		return
	}
	RespondAccepted(c, gin.H{"job": job})
}

// POST /api/materials/:id/reembed
// Re-runs only the embedding stage against the stored extracted text.
func (h *MaterialHandler) ReembedMaterial(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_material_id", err)
		return
	}
	job, err := h.pipelines.EnqueueEmbedding(c.Request.Context(), id)
	if err != nil {
		h.respondEnqueueError(c, err)
		return
	}
	RespondAccepted(c, gin.H{"job": job})
}

func (h *MaterialHandler) respondEnqueueError(c *gin.Context, err error) {
	if errors.Is(err, apperr.ErrDuplicateJob) {
		RespondError(c, http.StatusConflict, "duplicate_job", err)
		return
	}
	RespondError(c, http.StatusBadRequest, "enqueue_failed", err)
}
