package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/types"
	"github.com/studyowl/studyowl-backend/internal/utils"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New connects to Postgres by default. DB_DRIVER=sqlite switches to a local
// sqlite file for development; the queue then runs without SKIP LOCKED, which
// is fine for a single process.
func New(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DBService")

	driver := strings.ToLower(utils.GetEnv("DB_DRIVER", "postgres", log))
	var (
		gdb *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		path := utils.GetEnv("SQLITE_PATH", "studyowl.db", log)
		gdb, err = gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	default:
		host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
		port := utils.GetEnv("POSTGRES_PORT", "5432", log)
		user := utils.GetEnv("POSTGRES_USER", "postgres", log)
		password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
		name := utils.GetEnv("POSTGRES_NAME", "studyowl", log)
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			TranslateError:                           true,
		})
	}
	if err != nil {
		serviceLog.Error("Failed to connect to database", "driver", driver, "error", err)
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if driver != "sqlite" {
		if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
			return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
		}
	}

	return &Service{db: gdb, log: serviceLog}, nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	err := s.db.AutoMigrate(
		&types.Course{},
		&types.Chapter{},
		&types.Material{},
		&types.MaterialChunk{},
		&types.JobRun{},
	)
	if err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}

	// The dedupe check in Enqueue is read-then-insert; this index is the
	// atomic backstop so two concurrent enqueues cannot both hold an active
	// dedupe key.
	err = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_job_run_active_dedupe
		ON job_run (dedupe_key)
		WHERE status IN ('queued', 'running') AND dedupe_key <> ''`).Error
	if err != nil {
		s.log.Error("Failed to create active dedupe key index", "error", err)
		return err
	}
	return nil
}

func (s *Service) DB() *gorm.DB {
	return s.db
}
