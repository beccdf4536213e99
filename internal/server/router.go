package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/studyowl/studyowl-backend/internal/handlers"
)

type RouterConfig struct {
	CourseHandler   *handlers.CourseHandler
	MaterialHandler *handlers.MaterialHandler
	JobsHandler     *handlers.JobsHandler
	SSEHandler      *handlers.SSEHandler
	AllowOrigins    []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-User-ID"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Courses & chapters
		api.POST("/courses", cfg.CourseHandler.CreateCourse)
		api.GET("/courses/:id", cfg.CourseHandler.GetCourse)
		api.GET("/chapters/:id", cfg.CourseHandler.GetChapter)
		api.POST("/chapters/:id/complete", cfg.CourseHandler.CompleteChapter)

		// Materials & pipeline triggers
		api.POST("/chapters/:id/materials", cfg.MaterialHandler.UploadMaterials)
		api.GET("/chapters/:id/materials", cfg.MaterialHandler.ListChapterMaterials)
		api.GET("/materials/:id", cfg.MaterialHandler.GetMaterial)
		api.POST("/materials/:id/reprocess", cfg.MaterialHandler.ReprocessMaterial)
		api.POST("/materials/:id/reembed", cfg.MaterialHandler.ReembedMaterial)

		// Jobs
		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
		api.GET("/materials/:id/jobs", cfg.JobsHandler.GetMaterialJobs)

		// SSE
		api.GET("/sse/stream", cfg.SSEHandler.SSEStream)
	}

	return router
}
