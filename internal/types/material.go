package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MaterialStatusPending    = "pending"
	MaterialStatusProcessing = "processing"
	MaterialStatusCompleted  = "completed"
	MaterialStatusFailed     = "failed"
)

// Material is one uploaded source file belonging to a chapter. Created on
// upload, mutated only by the pipeline, cascade-deleted with its chapter.
// ExtractedText is written in the same UPDATE that sets status=completed so a
// completed material never exposes partially written text.
type Material struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChapterID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"chapter_id"`
	Chapter         *Chapter       `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChapterID;references:ID" json:"chapter,omitempty"`
	OriginalName    string         `gorm:"column:original_name;not null" json:"original_name"`
	MimeType        string         `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes       int64          `gorm:"column:size_bytes" json:"size_bytes"`
	FilePath        string         `gorm:"column:file_path;not null" json:"file_path"`
	Status          string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
	ExtractedText   *string        `gorm:"column:extracted_text" json:"extracted_text,omitempty"`
	ProcessingError *string        `gorm:"column:processing_error" json:"processing_error,omitempty"`
	PageCount       int            `gorm:"column:page_count;not null;default:0" json:"page_count"`
	CreatedAt       time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Material) TableName() string { return "material" }
