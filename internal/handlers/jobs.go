package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/jobs"
	"github.com/studyowl/studyowl-backend/internal/types"
)

type JobsHandler struct {
	jobs jobs.Service
}

func NewJobsHandler(jobService jobs.Service) *JobsHandler {
	return &JobsHandler{jobs: jobService}
}

// GET /api/jobs/:id
func (h *JobsHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// GET /api/materials/:id/jobs
// Latest extraction and embedding runs for one material.
func (h *JobsHandler) GetMaterialJobs(c *gin.Context) {
	materialID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_material_id", err)
		return
	}
	extraction, err := h.jobs.GetLatestForEntity(c.Request.Context(), "material", materialID, types.JobTypeExtraction)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "job_lookup_failed", err)
		return
	}
	embedding, err := h.jobs.GetLatestForEntity(c.Request.Context(), "material", materialID, types.JobTypeEmbedding)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "job_lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"extraction": extraction, "embedding": embedding})
}
