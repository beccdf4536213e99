package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/studyowl/studyowl-backend/internal/clients/openai"
	"github.com/studyowl/studyowl-backend/internal/clients/pinecone"
	"github.com/studyowl/studyowl-backend/internal/db"
	"github.com/studyowl/studyowl-backend/internal/handlers"
	"github.com/studyowl/studyowl-backend/internal/jobs"
	"github.com/studyowl/studyowl-backend/internal/jobs/pipeline/embed_material"
	"github.com/studyowl/studyowl-backend/internal/jobs/pipeline/extract_material"
	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/server"
	"github.com/studyowl/studyowl-backend/internal/services"
	"github.com/studyowl/studyowl-backend/internal/sse"
	"github.com/studyowl/studyowl-backend/internal/sse/bus"
	"github.com/studyowl/studyowl-backend/internal/types"
	"github.com/studyowl/studyowl-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	dbService, err := db.New(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err = dbService.AutoMigrateAll(); err != nil {
		log.Warn("Auto migration failed", "error", err)
	}
	theDB := dbService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	courseRepo := repos.NewCourseRepo(theDB, log)
	chapterRepo := repos.NewChapterRepo(theDB, log)
	materialRepo := repos.NewMaterialRepo(theDB, log)
	materialChunkRepo := repos.NewMaterialChunkRepo(theDB, log)
	jobRunRepo := repos.NewJobRunRepo(theDB, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)
	var emitter services.SSEEmitter = &services.HubEmitter{Hub: sseHub}
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if os.Getenv("REDIS_ADDR") != "" {
		redisBus, err := bus.NewRedisBus(log)
		if err != nil {
			log.Warn("Redis SSE bus init failed, staying in-process", "error", err)
		} else {
			defer redisBus.Close()
			if err := redisBus.StartForwarder(rootCtx, sseHub.Broadcast); err != nil {
				log.Warn("Redis SSE forwarder failed to start", "error", err)
			} else {
				emitter = &services.RedisEmitter{Bus: redisBus, Log: log}
			}
		}
	}
	jobNotifier := services.NewJobNotifier(emitter)
	chapterNotifier := services.NewChapterNotifier(emitter)

	// Clients
	log.Info("Setting up clients from main...")
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	pineconeClient, err := pinecone.New(log, pinecone.Config{
		APIKey: os.Getenv("PINECONE_API_KEY"),
	})
	if err != nil {
		log.Error("Could not init Pinecone client", "error", err)
		os.Exit(1)
	}
	vectorStore, err := pinecone.NewVectorStore(log, pineconeClient)
	if err != nil {
		log.Error("Could not init Pinecone vector store", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	extractor := services.NewTextExtractor(log, utils.GetEnvAsInt("MIN_EXTRACTED_CHARS", services.DefaultMinExtractedChars, log))
	structurer := services.NewContentStructurer(log, openaiClient,
		utils.GetEnvAsInt("STRUCTURER_MAX_CHARS", 24000, log),
		time.Duration(utils.GetEnvAsInt("STRUCTURER_TIMEOUT_SECONDS", 60, log))*time.Second,
	)
	embedder := services.NewEmbeddingService(theDB, log, chapterRepo, materialChunkRepo, openaiClient, vectorStore, services.EmbeddingConfig{
		ChunkSize:    utils.GetEnvAsInt("CHUNK_SIZE", services.DefaultChunkSize, log),
		ChunkOverlap: utils.GetEnvAsInt("CHUNK_OVERLAP", services.DefaultChunkOverlap, log),
	})
	aggregator := services.NewChapterAggregator(theDB, log, chapterRepo, materialRepo, chapterNotifier)
	materialService := services.NewMaterialService(log, materialRepo, chapterRepo)
	courseService := services.NewCourseService(log, courseRepo, chapterRepo, chapterNotifier)
	jobService := jobs.NewService(log, jobRunRepo, jobNotifier)
	pipelineService := services.NewPipelineService(log, jobService, materialRepo, chapterRepo, courseRepo)

	// Job handlers
	log.Info("Registering job handlers from main...")
	registry := jobs.NewRegistry()
	mustRegister(log, registry, extract_material.NewHandler(extract_material.Deps{
		Materials:  materialService,
		Chapters:   chapterRepo,
		Courses:    courseRepo,
		Extractor:  extractor,
		Structurer: structurer,
		Aggregator: aggregator,
		Pipelines:  pipelineService,
	}))
	mustRegister(log, registry, embed_material.NewHandler(embed_material.Deps{
		Materials: materialService,
		Embedder:  embedder,
	}))

	// Worker pools, one per job type
	extractPool := mustPool(log, jobs.QueueConfig{
		JobType:       types.JobTypeExtraction,
		Workers:       utils.GetEnvAsInt("EXTRACT_WORKERS", 4, log),
		MaxAttempts:   utils.GetEnvAsInt("JOB_MAX_ATTEMPTS", 3, log),
		RetryBackoff:  time.Duration(utils.GetEnvAsInt("JOB_RETRY_BACKOFF_SECONDS", 5, log)) * time.Second,
		RatePerMinute: utils.GetEnvAsInt("EXTRACT_RATE_PER_MINUTE", 0, log),
	}, jobRunRepo, registry, jobNotifier)
	embedPool := mustPool(log, jobs.QueueConfig{
		JobType:       types.JobTypeEmbedding,
		Workers:       utils.GetEnvAsInt("EMBED_WORKERS", 2, log),
		MaxAttempts:   utils.GetEnvAsInt("JOB_MAX_ATTEMPTS", 3, log),
		RetryBackoff:  time.Duration(utils.GetEnvAsInt("JOB_RETRY_BACKOFF_SECONDS", 5, log)) * time.Second,
		RatePerMinute: utils.GetEnvAsInt("EMBED_RATE_PER_MINUTE", 120, log),
		Burst:         utils.GetEnvAsInt("EMBED_RATE_BURST", 4, log),
	}, jobRunRepo, registry, jobNotifier)
	extractPool.Start(rootCtx)
	embedPool.Start(rootCtx)
	defer extractPool.Stop()
	defer embedPool.Stop()

	// Handlers
	log.Info("Setting up handlers from main...")
	courseHandler := handlers.NewCourseHandler(log, courseService)
	materialHandler := handlers.NewMaterialHandler(log, materialService, pipelineService)
	jobsHandler := handlers.NewJobsHandler(jobService)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		CourseHandler:   courseHandler,
		MaterialHandler: materialHandler,
		JobsHandler:     jobsHandler,
		SSEHandler:      sseHandler,
		AllowOrigins:    splitOrigins(os.Getenv("CORS_ALLOW_ORIGINS")),
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}

func mustRegister(log *logger.Logger, registry *jobs.Registry, h jobs.Handler) {
	if err := registry.Register(h); err != nil {
		log.Error("Handler registration failed", "job_type", h.Type, "error", err)
		os.Exit(1)
	}
}

func mustPool(log *logger.Logger, cfg jobs.QueueConfig, runRepo repos.JobRunRepo, registry *jobs.Registry, notify jobs.Notifier) *jobs.Pool {
	pool, err := jobs.NewPool(log, cfg, runRepo, registry, notify)
	if err != nil {
		log.Error("Worker pool init failed", "job_type", cfg.JobType, "error", err)
		os.Exit(1)
	}
	return pool
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
