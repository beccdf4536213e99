package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chapter statuses. Status is derived from child material statuses by the
// aggregator, except ChapterStatusCompleted which is a terminal mark set by
// an explicit user action and never overwritten by the pipeline.
const (
	ChapterStatusDraft      = "draft"
	ChapterStatusProcessing = "processing"
	ChapterStatusReady      = "ready"
	ChapterStatusCompleted  = "completed"
)

type Chapter struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Course           *Course        `gorm:"constraint:OnDelete:CASCADE;foreignKey:CourseID;references:ID" json:"course,omitempty"`
	Title            string         `gorm:"column:title;not null" json:"title"`
	Position         int            `gorm:"column:position;not null;default:0" json:"position"`
	Status           string         `gorm:"column:status;not null;default:'draft';index" json:"status"`
	ProcessedContent string         `gorm:"column:processed_content" json:"processed_content,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Chapter) TableName() string { return "chapter" }
