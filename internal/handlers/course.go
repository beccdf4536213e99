package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/services"
)

type CourseHandler struct {
	log     *logger.Logger
	courses services.CourseService
}

func NewCourseHandler(log *logger.Logger, courseService services.CourseService) *CourseHandler {
	return &CourseHandler{
		log:     log.With("handler", "CourseHandler"),
		courses: courseService,
	}
}

type createCourseRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Chapters    []string `json:"chapters"`
}

// POST /api/courses
func (h *CourseHandler) CreateCourse(c *gin.Context) {
	userID, err := requestUserID(c)
	if err != nil {
		RespondError(c, http.StatusUnauthorized, "missing_user", err)
		return
	}
	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	course, chapters, err := h.courses.CreateCourse(c.Request.Context(), userID, req.Title, req.Description, req.Language, req.Chapters)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "create_course_failed", err)
		return
	}
	RespondCreated(c, gin.H{"course": course, "chapters": chapters})
}

// GET /api/courses/:id
func (h *CourseHandler) GetCourse(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return
	}
	course, chapters, err := h.courses.GetCourse(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusNotFound, "course_not_found", err)
		return
	}
	RespondOK(c, gin.H{"course": course, "chapters": chapters})
}

// GET /api/chapters/:id
func (h *CourseHandler) GetChapter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chapter_id", err)
		return
	}
	chapter, err := h.courses.GetChapter(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusNotFound, "chapter_not_found", err)
		return
	}
	RespondOK(c, gin.H{"chapter": chapter})
}

// POST /api/chapters/:id/complete
func (h *CourseHandler) CompleteChapter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chapter_id", err)
		return
	}
	chapter, err := h.courses.CompleteChapter(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusConflict, "complete_chapter_failed", err)
		return
	}
	RespondOK(c, gin.H{"chapter": chapter})
}
